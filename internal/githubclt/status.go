package githubclt

import "fmt"

// CommitState is the state of a commit status.
type CommitState string

const (
	CommitStatePending CommitState = "pending"
	CommitStateSuccess CommitState = "success"
	CommitStateError   CommitState = "error"
	CommitStateFailure CommitState = "failure"
)

// Valid returns true if s is one of the states github accepts.
func (s CommitState) Valid() bool {
	switch s {
	case CommitStatePending, CommitStateSuccess, CommitStateError, CommitStateFailure:
		return true
	default:
		return false
	}
}

// CommitStatus describes a status that is attached to a commit.
type CommitStatus struct {
	State       CommitState
	TargetURL   string
	Description string
	// Context distinguishes the status from statuses of other systems.
	Context string
}

type InvalidCommitStateError struct {
	State CommitState
}

func (e *InvalidCommitStateError) Error() string {
	return fmt.Sprintf("invalid commit state: %q", e.State)
}

// github rejects status descriptions longer than 140 characters.
const maxStatusDescriptionLen = 140

func truncateDescription(desc string) string {
	runes := []rune(desc)
	if len(runes) <= maxStatusDescriptionLen {
		return desc
	}

	return string(runes[:maxStatusDescriptionLen-3]) + "..."
}
