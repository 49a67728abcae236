package prtrigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/go-github/v43/github"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/prbuilder/internal/authz"
	"github.com/simplesurance/prbuilder/internal/build"
	"github.com/simplesurance/prbuilder/internal/githubclt"
	"github.com/simplesurance/prbuilder/internal/prtrigger/mocks"
)

const (
	repoOwner     = "fho"
	repoName      = "prbuilder"
	requestPhrase = "Can one of the admins verify this patch?"
)

var t0 = time.Date(2022, 3, 1, 10, 0, 0, 0, time.UTC)

type buildRecorder struct {
	mu   sync.Mutex
	reqs []*build.Request
	err  error
}

func (b *buildRecorder) Trigger(_ context.Context, req *build.Request) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reqs = append(b.reqs, req)
	if b.err != nil {
		return "", b.err
	}

	return "build triggered for " + req.HeadCommit, nil
}

func (b *buildRecorder) Requests() []*build.Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]*build.Request(nil), b.reqs...)
}

type memStore struct {
	mu    sync.Mutex
	saved map[string][]*Record
	saves int
}

func (s *memStore) Save(repository string, records []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saved == nil {
		s.saved = map[string][]*Record{}
	}

	s.saved[repository] = records
	s.saves++

	return nil
}

func (s *memStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saves
}

type sliceIterator struct {
	prs []*github.PullRequest
	err error
}

func (it *sliceIterator) Next() (*github.PullRequest, error) {
	if it.err != nil {
		return nil, it.err
	}

	if len(it.prs) == 0 {
		return nil, nil
	}

	pr := it.prs[0]
	it.prs = it.prs[1:]

	return pr, nil
}

func newPR(number int, author, sha string, updatedAt time.Time) *github.PullRequest {
	return &github.PullRequest{
		Number:    github.Int(number),
		State:     github.String("open"),
		User:      &github.User{Login: github.String(author)},
		Head:      &github.PullRequestBranch{SHA: github.String(sha)},
		Base:      &github.PullRequestBranch{Ref: github.String("main")},
		UpdatedAt: &updatedAt,
	}
}

func newComment(sender, body string, updatedAt time.Time) *github.IssueComment {
	return &github.IssueComment{
		ID:        github.Int64(updatedAt.Unix()),
		User:      &github.User{Login: github.String(sender)},
		Body:      github.String(body),
		UpdatedAt: &updatedAt,
	}
}

type testEnv struct {
	gh       *mocks.MockGithubClient
	builds   *buildRecorder
	store    *memStore
	policy   *authz.Policy
	cfg      *Config
	repo     *RepositorySync
	statuses *statusRecorder
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []recordedStatus
}

type recordedStatus struct {
	Commit string
	Status githubclt.CommitStatus
}

func (r *statusRecorder) record(_ context.Context, _, _, commit string, status *githubclt.CommitStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses = append(r.statuses, recordedStatus{Commit: commit, Status: *status})

	return nil
}

func (r *statusRecorder) All() []recordedStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]recordedStatus(nil), r.statuses...)
}

func newTestPolicy(t *testing.T, admins, whitelist []string) *authz.Policy {
	t.Helper()

	p, err := authz.New(&authz.Config{
		Admins:          admins,
		Whitelist:       whitelist,
		WhitelistPhrase: `.*add\W+to\W+whitelist.*`,
		OkToTestPhrase:  `.*ok\W+to\W+test.*`,
		RetestPhrase:    `.*test\W+this\W+please.*`,
	})
	require.NoError(t, err)

	return p
}

func newTestEnv(t *testing.T, cfgFn ...func(*Config)) *testEnv {
	t.Helper()

	cfg := Config{
		RequestForTestingPhrase: requestPhrase,
		StatusContext:           "prbuilder",
		WebhookURL:              "https://ci.example.com/hook",
	}
	for _, fn := range cfgFn {
		fn(&cfg)
	}

	env := testEnv{
		gh:       mocks.NewMockGithubClient(gomock.NewController(t)),
		builds:   &buildRecorder{},
		store:    &memStore{},
		policy:   newTestPolicy(t, []string{"alice"}, []string{"carol", "dave"}),
		cfg:      &cfg,
		statuses: &statusRecorder{},
	}

	env.repo = NewRepositorySync(
		repoOwner, repoName, &cfg, env.gh, env.policy, env.builds,
		WithStore(env.store),
	)

	return &env
}

func (e *testEnv) expectRepository() *gomock.Call {
	return e.gh.EXPECT().
		Repository(gomock.Any(), repoOwner, repoName).
		Return(&github.Repository{
			Owner: &github.User{Login: github.String(repoOwner)},
			Name:  github.String(repoName),
		}, nil)
}

func (e *testEnv) expectOpenPRs(prs ...*github.PullRequest) *gomock.Call {
	return e.gh.EXPECT().
		ListPullRequests(gomock.Any(), repoOwner, repoName, "open", gomock.Any(), gomock.Any()).
		Return(&sliceIterator{prs: prs})
}

func (e *testEnv) expectComments(prNumber int, since time.Time, comments ...*github.IssueComment) *gomock.Call {
	return e.gh.EXPECT().
		IssueComments(gomock.Any(), repoOwner, repoName, prNumber, since).
		Return(comments, nil)
}

func (e *testEnv) expectMergeable(prNumber int) *gomock.Call {
	return e.gh.EXPECT().
		Mergeable(gomock.Any(), repoOwner, repoName, prNumber).
		Return(githubclt.MergeableStateMergeable, nil)
}

func (e *testEnv) expectStatuses() *gomock.Call {
	return e.gh.EXPECT().
		CreateCommitStatus(gomock.Any(), repoOwner, repoName, gomock.Any(), gomock.Any()).
		DoAndReturn(e.statuses.record)
}

func (e *testEnv) expectApprovalRequest(prNumber int) *gomock.Call {
	return e.gh.EXPECT().
		CreateIssueComment(gomock.Any(), repoOwner, repoName, prNumber, requestPhrase).
		Return(nil)
}

func (e *testEnv) record(t *testing.T, number int) *Record {
	t.Helper()

	for _, rec := range e.repo.Records() {
		if rec.Number == number {
			return rec
		}
	}

	require.FailNow(t, "pull request is not tracked", "pr: %d", number)
	return nil
}

func trackedNumbers(r *RepositorySync) []int {
	var result []int
	for _, rec := range r.Records() {
		result = append(result, rec.Number)
	}

	return result
}
