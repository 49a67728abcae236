package prtrigger

import (
	"context"
	"time"

	"github.com/google/go-github/v43/github"
	"go.uber.org/zap"

	"github.com/simplesurance/prbuilder/internal/githubclt"
)

// DryGithubClient is a github-client that does not do any changes on github.
// All operations that could cause a change are simulated and always succeed.
// All other operations are forwarded to a wrapped GithubClient.
type DryGithubClient struct {
	clt    GithubClient
	logger *zap.Logger
}

func NewDryGithubClient(clt GithubClient, logger *zap.Logger) *DryGithubClient {
	return &DryGithubClient{
		clt:    clt,
		logger: logger.Named("dry_github_client"),
	}
}

func (c *DryGithubClient) Repository(ctx context.Context, owner, repo string) (*github.Repository, error) {
	return c.clt.Repository(ctx, owner, repo)
}

func (c *DryGithubClient) ListPullRequests(ctx context.Context, owner, repo, state, sort, sortDirection string) githubclt.PRIterator {
	return c.clt.ListPullRequests(ctx, owner, repo, state, sort, sortDirection)
}

func (c *DryGithubClient) PullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	return c.clt.PullRequest(ctx, owner, repo, number)
}

func (c *DryGithubClient) IssueComments(ctx context.Context, owner, repo string, number int, since time.Time) ([]*github.IssueComment, error) {
	return c.clt.IssueComments(ctx, owner, repo, number, since)
}

func (c *DryGithubClient) Mergeable(ctx context.Context, owner, repo string, prNumber int) (githubclt.MergeableState, error) {
	return c.clt.Mergeable(ctx, owner, repo, prNumber)
}

func (c *DryGithubClient) Hooks(ctx context.Context, owner, repo string) ([]*github.Hook, error) {
	return c.clt.Hooks(ctx, owner, repo)
}

func (c *DryGithubClient) CreateIssueComment(_ context.Context, owner, repo string, issueOrPRNr int, comment string) error {
	c.logger.Info(
		"simulated creating of github issue comment, no comment created on github",
		zap.String("repository", owner+"/"+repo),
		zap.Int("github.issue_number", issueOrPRNr),
		zap.String("comment", comment),
	)
	return nil
}

func (c *DryGithubClient) CreateCommitStatus(_ context.Context, owner, repo, commit string, status *githubclt.CommitStatus) error {
	c.logger.Info(
		"simulated setting commit status, no status created on github",
		zap.String("repository", owner+"/"+repo),
		zap.String("commit", commit),
		zap.String("commit_state", string(status.State)),
		zap.String("commit_status_message", status.Description),
	)
	return nil
}

func (c *DryGithubClient) ClosePullRequest(_ context.Context, owner, repo string, number int) error {
	c.logger.Info(
		"simulated closing pull request, pull request is still open on github",
		zap.String("repository", owner+"/"+repo),
		zap.Int("github.pull_request", number),
	)
	return nil
}

func (c *DryGithubClient) CreateHook(_ context.Context, owner, repo string, hook *github.Hook) error {
	c.logger.Info(
		"simulated creating webhook, no webhook created on github",
		zap.String("repository", owner+"/"+repo),
		zap.Any("webhook_config", hook.Config),
	)
	return nil
}
