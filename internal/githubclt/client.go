// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/google/go-github/v43/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/prbuilder/internal/logfields"
	"github.com/simplesurance/prbuilder/internal/prerr"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

// New returns a new github api client.
func New(oauthAPItoken string) *Client {
	httpClient := newHTTPClient(oauthAPItoken)
	return &Client{
		restClt:    github.NewClient(httpClient),
		graphQLClt: githubv4.NewClient(httpClient),
		logger:     zap.L().Named(loggerName),
	}
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// Client is an github API client.
// All methods return a prerr.RetryableError when the failure is transient.
// This can be e.g. the case when the API ratelimit is exceeded.
type Client struct {
	restClt    *github.Client
	graphQLClt *githubv4.Client
	logger     *zap.Logger
}

// Repository fetches the repository with the given owner and name.
func (clt *Client) Repository(ctx context.Context, owner, repo string) (*github.Repository, error) {
	result, _, err := clt.restClt.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	return result, nil
}

// PullRequest fetches a single pull request.
func (clt *Client) PullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	pr, _, err := clt.restClt.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	return pr, nil
}

// IssueComments returns all comments of an issue or pull request that were
// updated at or after since.
// If since is the zero time, all comments are returned.
func (clt *Client) IssueComments(ctx context.Context, owner, repo string, number int, since time.Time) ([]*github.IssueComment, error) {
	var result []*github.IssueComment

	opts := github.IssueListCommentsOptions{
		Sort:      github.String("updated"),
		Direction: github.String("asc"),
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}

	if !since.IsZero() {
		opts.Since = &since
	}

	for {
		comments, resp, err := clt.restClt.Issues.ListComments(ctx, owner, repo, number, &opts)
		if err != nil {
			return nil, clt.wrapRetryableErrors(err)
		}

		result = append(result, comments...)

		if resp.NextPage == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}

// CreateIssueComment creates a comment in a issue or pull request
func (clt *Client) CreateIssueComment(ctx context.Context, owner, repo string, issueOrPRNr int, comment string) error {
	_, _, err := clt.restClt.Issues.CreateComment(ctx, owner, repo, issueOrPRNr, &github.IssueComment{Body: &comment})
	return clt.wrapRetryableErrors(err)
}

// CreateCommitStatus sets a status for a commit.
func (clt *Client) CreateCommitStatus(ctx context.Context, owner, repo, commit string, status *CommitStatus) error {
	if commit == "" {
		return errors.New("commit is empty")
	}

	if !status.State.Valid() {
		return &InvalidCommitStateError{State: status.State}
	}

	repoStatus := github.RepoStatus{
		State: github.String(string(status.State)),
	}

	if status.TargetURL != "" {
		repoStatus.TargetURL = github.String(status.TargetURL)
	}

	if status.Description != "" {
		repoStatus.Description = github.String(truncateDescription(status.Description))
	}

	if status.Context != "" {
		repoStatus.Context = github.String(status.Context)
	}

	_, _, err := clt.restClt.Repositories.CreateStatus(ctx, owner, repo, commit, &repoStatus)
	return clt.wrapRetryableErrors(err)
}

// ClosePullRequest closes a pull request without merging it.
func (clt *Client) ClosePullRequest(ctx context.Context, owner, repo string, number int) error {
	_, _, err := clt.restClt.PullRequests.Edit(ctx, owner, repo, number, &github.PullRequest{State: github.String("closed")})
	if err != nil {
		return clt.wrapRetryableErrors(err)
	}

	clt.logger.Debug(
		"pull request closed",
		logfields.Event("github_pull_request_closed"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(number),
	)

	return nil
}

// Hooks returns all webhooks of a repository.
func (clt *Client) Hooks(ctx context.Context, owner, repo string) ([]*github.Hook, error) {
	var result []*github.Hook

	opts := github.ListOptions{PerPage: 100}

	for {
		hooks, resp, err := clt.restClt.Repositories.ListHooks(ctx, owner, repo, &opts)
		if err != nil {
			return nil, clt.wrapRetryableErrors(err)
		}

		result = append(result, hooks...)

		if resp.NextPage == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}

// CreateHook creates a webhook for a repository.
func (clt *Client) CreateHook(ctx context.Context, owner, repo string, hook *github.Hook) error {
	_, _, err := clt.restClt.Repositories.CreateHook(ctx, owner, repo, hook)
	return clt.wrapRetryableErrors(err)
}

type PRIterator interface {
	Next() (*github.PullRequest, error)
}

type PRIter struct {
	clt *Client

	ctx   context.Context
	owner string
	repo  string

	state         string
	sort          string
	sortDirection string

	unseen []*github.PullRequest

	nextPage int
	finished bool
}

// Next returns the next pullRequest.
// When the last result was returned a nil PullRequest is returned.
func (it *PRIter) Next() (*github.PullRequest, error) {
	if len(it.unseen) > 0 {
		result := it.unseen[0]
		it.unseen = it.unseen[1:]

		return result, nil
	}

	if it.finished {
		return nil, nil
	}

	prs, resp, err := it.clt.restClt.PullRequests.List(it.ctx, it.owner, it.repo, &github.PullRequestListOptions{
		State:     it.state,
		Sort:      it.sort,
		Direction: it.sortDirection,
		ListOptions: github.ListOptions{
			Page:    it.nextPage,
			PerPage: 100,
		},
	})
	if err != nil {
		return nil, it.clt.wrapRetryableErrors(err)
	}

	if resp.NextPage == 0 || len(prs) == 0 {
		it.finished = true
	} else {
		it.nextPage = resp.NextPage
	}

	it.unseen = prs

	if len(it.unseen) == 0 {
		return nil, nil
	}

	return it.Next()
}

// ListPullRequests returns an iterator for receiving all pull requests.
// The parameters state, sort, sortDirection expect the same values then their pendants in the struct github.PullRequestListOptions.
func (clt *Client) ListPullRequests(ctx context.Context, owner, repo, state, sort, sortDirection string) PRIterator { // interface is returned to make the method mockable
	return &PRIter{
		clt:           clt,
		ctx:           ctx,
		owner:         owner,
		repo:          repo,
		state:         state,
		sort:          sort,
		sortDirection: sortDirection,
		nextPage:      1,
	}
}

func (clt *Client) wrapRetryableErrors(err error) error {
	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return prerr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.ErrorResponse:
		if v.Response != nil && v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return prerr.NewRetryableAnytimeError(err)
		}
	}

	return err
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

func (clt *Client) wrapGraphQLRetryableErrors(err error) error {
	matches := graphQlHTTPStatusErrRe.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return err
	}

	errcode, atoiErr := strconv.Atoi(matches[1])
	if atoiErr != nil {
		clt.logger.Info(
			"parsing http code from error string failed",
			zap.Error(atoiErr),
			zap.String("error_string", err.Error()),
			zap.String("http_errcode", matches[1]),
		)
		return err
	}

	if errcode >= 500 && errcode < 600 {
		return prerr.NewRetryableAnytimeError(err)
	}

	return err
}
