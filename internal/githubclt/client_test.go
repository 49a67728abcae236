package githubclt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-github/v43/github"
	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/prbuilder/internal/prerr"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	restClt := github.NewClient(srv.Client())
	baseURL, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	restClt.BaseURL = baseURL

	return &Client{
		restClt:    restClt,
		graphQLClt: githubv4.NewEnterpriseClient(srv.URL, srv.Client()),
		logger:     zap.L(),
	}
}

func TestWrapRetryableErrorsGraphql(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	// is the same then in vendor/github.com/shurcooL/graphql/graphql.go do()
	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(503)
	}))

	state, err := clt.Mergeable(context.Background(), "test", "test", 123)
	require.Error(t, err)
	assert.Equal(t, MergeableStateUnknown, state)

	var retryableErr *prerr.RetryableError
	assert.ErrorAs(t, err, &retryableErr)
}

func TestWrapRetryableErrorsGraphqlWithNonStatusErr(t *testing.T) {
	err := errors.New("error")
	wrappedErr := (&Client{}).wrapGraphQLRetryableErrors(err)
	assert.Equal(t, err, wrappedErr)
}

func TestWrapRetryableErrorsRest(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := clt.PullRequest(context.Background(), "test", "test", 1)
	require.Error(t, err)

	var retryableErr *prerr.RetryableError
	assert.ErrorAs(t, err, &retryableErr)
}

func TestMergeable(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"repository":{"pullRequest":{"mergeable":"CONFLICTING"}}}}`))
	}))

	state, err := clt.Mergeable(context.Background(), "test", "test", 1)
	require.NoError(t, err)
	assert.Equal(t, MergeableStateConflicting, state)
}

func TestCreateCommitStatus(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var reqPath string
	var reqBody map[string]any

	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqPath = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))

	err := clt.CreateCommitStatus(context.Background(), "fho", "prbuilder", "abc123", &CommitStatus{
		State:       CommitStatePending,
		Description: strings.Repeat("x", 200),
		Context:     "prbuilder",
	})
	require.NoError(t, err)

	assert.Equal(t, "/repos/fho/prbuilder/statuses/abc123", reqPath)
	assert.Equal(t, "pending", reqBody["state"])
	assert.Equal(t, "prbuilder", reqBody["context"])
	assert.NotContains(t, reqBody, "target_url")
	assert.Len(t, reqBody["description"], maxStatusDescriptionLen)
}

func TestCreateCommitStatusRejectsInvalidState(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("unexpected http request")
	}))

	err := clt.CreateCommitStatus(context.Background(), "fho", "prbuilder", "abc123", &CommitStatus{State: "running"})

	var stateErr *InvalidCommitStateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestListPullRequestsIterator(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var query url.Values
	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"number": 1}, {"number": 2}]`))
	}))

	it := clt.ListPullRequests(context.Background(), "fho", "prbuilder", "open", "created", "asc")

	var numbers []int
	for {
		pr, err := it.Next()
		require.NoError(t, err)
		if pr == nil {
			break
		}

		numbers = append(numbers, pr.GetNumber())
	}

	assert.Equal(t, []int{1, 2}, numbers)
	assert.Equal(t, "open", query.Get("state"))
	assert.Equal(t, "created", query.Get("sort"))
	assert.Equal(t, "asc", query.Get("direction"))
}

func TestHooks(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/fho/prbuilder/hooks", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id": 1, "config": {"url": "https://ci.example.com/hook"}}]`))
	}))

	hooks, err := clt.Hooks(context.Background(), "fho", "prbuilder")
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, "https://ci.example.com/hook", hooks[0].Config["url"])
}
