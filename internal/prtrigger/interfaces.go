package prtrigger

import (
	"context"
	"time"

	"github.com/google/go-github/v43/github"

	"github.com/simplesurance/prbuilder/internal/build"
	"github.com/simplesurance/prbuilder/internal/githubclt"
)

//go:generate mockgen -destination mocks/mock_githubclient.go -package mocks github.com/simplesurance/prbuilder/internal/prtrigger GithubClient

type GithubClient interface {
	Repository(ctx context.Context, owner, repo string) (*github.Repository, error)
	ListPullRequests(ctx context.Context, owner, repo, state, sort, sortDirection string) githubclt.PRIterator
	PullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error)
	IssueComments(ctx context.Context, owner, repo string, number int, since time.Time) ([]*github.IssueComment, error)
	Mergeable(ctx context.Context, owner, repo string, prNumber int) (githubclt.MergeableState, error)
	CreateIssueComment(ctx context.Context, owner, repo string, issueOrPRNr int, comment string) error
	CreateCommitStatus(ctx context.Context, owner, repo, commit string, status *githubclt.CommitStatus) error
	ClosePullRequest(ctx context.Context, owner, repo string, number int) error
	Hooks(ctx context.Context, owner, repo string) ([]*github.Hook, error)
	CreateHook(ctx context.Context, owner, repo string, hook *github.Hook) error
}

// Policy decides who is allowed to approve builds and which comments are
// commands.
type Policy interface {
	IsAdmin(login string) bool
	IsWhitelisted(login string) bool
	AddToWhitelist(login string)
	MatchesWhitelistPhrase(body string) bool
	MatchesOkToTestPhrase(body string) bool
	MatchesRetestPhrase(body string) bool
}

// BuildTrigger requests a build from the build executor.
// It returns a message describing the triggered build.
type BuildTrigger interface {
	Trigger(ctx context.Context, req *build.Request) (string, error)
}

// Store persists the tracked pull requests of a repository.
type Store interface {
	Save(repository string, records []*Record) error
}
