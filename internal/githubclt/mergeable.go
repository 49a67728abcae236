package githubclt

import (
	"context"

	"github.com/shurcooL/githubv4"
)

// MergeableState describes if a pull request can be merged into its base
// branch.
type MergeableState string

const (
	MergeableStateUnknown     = MergeableState(githubv4.MergeableStateUnknown)
	MergeableStateMergeable   = MergeableState(githubv4.MergeableStateMergeable)
	MergeableStateConflicting = MergeableState(githubv4.MergeableStateConflicting)
)

// Mergeable returns if a pull request can be merged.
// Github computes the value asynchronously, MergeableStateUnknown is
// returned when the computation has not finished yet.
func (clt *Client) Mergeable(ctx context.Context, owner, repo string, prNumber int) (MergeableState, error) {
	var q struct {
		Repository struct {
			PullRequest struct {
				Mergeable githubv4.MergeableState
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	vars := map[string]any{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(repo),
		"number": githubv4.Int(prNumber),
	}

	if err := clt.graphQLClt.Query(ctx, &q, vars); err != nil {
		return MergeableStateUnknown, clt.wrapGraphQLRetryableErrors(err)
	}

	switch state := MergeableState(q.Repository.PullRequest.Mergeable); state {
	case MergeableStateMergeable, MergeableStateConflicting:
		return state, nil
	default:
		return MergeableStateUnknown, nil
	}
}
