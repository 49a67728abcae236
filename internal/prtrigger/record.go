package prtrigger

import (
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/prbuilder/internal/githubclt"
	"github.com/simplesurance/prbuilder/internal/logfields"
)

// Mergeability is the last known mergeable state of a pull request.
type Mergeability int8

const (
	MergeabilityUnknown Mergeability = iota
	MergeabilityMergeable
	MergeabilityConflicting
)

func (m Mergeability) String() string {
	switch m {
	case MergeabilityMergeable:
		return "true"
	case MergeabilityConflicting:
		return "false"
	default:
		return "unknown"
	}
}

func mergeabilityFromState(s githubclt.MergeableState) Mergeability {
	switch s {
	case githubclt.MergeableStateMergeable:
		return MergeabilityMergeable
	case githubclt.MergeableStateConflicting:
		return MergeabilityConflicting
	default:
		return MergeabilityUnknown
	}
}

// Record is the persisted state of a tracked pull request.
// It is plain data, records loaded from a Store are attached to their
// RepositorySync via RepositorySync.Rehydrate.
type Record struct {
	Number       int    `json:"id"`
	Author       string `json:"author"`
	HeadCommit   string `json:"head"`
	TargetBranch string `json:"target,omitempty"`
	// LastSeenUpdate is the update timestamp of the pull request or
	// comment that was processed last.
	LastSeenUpdate time.Time    `json:"updated"`
	Mergeable      Mergeability `json:"mergeable"`
	// Accepted is true when the pull request was approved for building.
	Accepted bool `json:"accepted"`
	// PendingBuild is true when a build must be triggered at the next
	// evaluation.
	PendingBuild bool `json:"shouldRun"`
}

func (r *Record) LogFields() []zap.Field {
	return []zap.Field{
		logfields.PullRequest(r.Number),
		logfields.Author(r.Author),
		logfields.Commit(r.HeadCommit),
	}
}

// Copy returns a copy of r.
func (r *Record) Copy() *Record {
	c := *r
	return &c
}
