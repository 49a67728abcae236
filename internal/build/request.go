// Package build sends build requests for pull requests to an external build
// executor.
package build

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/prbuilder/internal/logfields"
)

// Request describes the pull request state a build is requested for.
type Request struct {
	// Repository is the full name of the repository (owner/name).
	Repository        string
	PullRequestNumber int
	Author            string
	HeadCommit        string
	TargetBranch      string
	// Mergeable is "true", "false" or "unknown".
	Mergeable string
}

func (r *Request) String() string {
	return fmt.Sprintf("%s#%d@%s", r.Repository, r.PullRequestNumber, r.HeadCommit)
}

func (r *Request) LogFields() []zap.Field {
	return []zap.Field{
		logfields.RepositoryFullName(r.Repository),
		logfields.PullRequest(r.PullRequestNumber),
		logfields.Commit(r.HeadCommit),
		logfields.BaseBranch(r.TargetBranch),
	}
}
