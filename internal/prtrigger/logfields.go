package prtrigger

import (
	"go.uber.org/zap"

	"github.com/simplesurance/prbuilder/internal/logfields"
	"github.com/simplesurance/prbuilder/internal/prerr"
)

var (
	logEventPRCreated       = logfields.Event("pull_request_tracked")
	logEventPRRemoved       = logfields.Event("pull_request_untracked")
	logEventPRUpdated       = logfields.Event("pull_request_updated")
	logEventCommentCmd      = logfields.Event("comment_command_accepted")
	logEventNewCommit       = logfields.Event("new_commit")
	logEventBuildTriggered  = logfields.Event("build_triggered")
	logEventBuildFailed     = logfields.Event("build_trigger_failed")
	logEventEventIgnored    = logfields.Event("github_event_ignored")
	logEventGithubAPIFailed = logfields.Event("github_api_call_failed")
	logEventSaveFailed      = logfields.Event("saving_state_failed")
)

func logFieldReason(reason string) zap.Field {
	return zap.String("reason", reason)
}

func logFieldAction(action string) zap.Field {
	return zap.String("github_action", action)
}

// githubErrFields returns the fields for logging a failed github API call.
func githubErrFields(err error) []zap.Field {
	return append(prerr.LogFields(err), logEventGithubAPIFailed)
}
