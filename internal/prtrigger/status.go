package prtrigger

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/prbuilder/internal/githubclt"
	"github.com/simplesurance/prbuilder/internal/logfields"
)

// statusReporter sets commit statuses on github.
// When setting the status fails and useComments is enabled, the status
// message is posted as a pull request comment instead.
type statusReporter struct {
	owner         string
	repo          string
	statusContext string
	useComments   bool
	ghClient      GithubClient
	logger        *zap.Logger
}

func (s *statusReporter) fullName() string {
	return s.owner + "/" + s.repo
}

func (s *statusReporter) report(
	ctx context.Context,
	commit string,
	state githubclt.CommitState,
	targetURL, message string,
	prNumber int,
) {
	logger := s.logger.With(
		logfields.PullRequest(prNumber),
		logfields.Commit(commit),
		zap.String("commit_state", string(state)),
		zap.String("commit_status_message", message),
	)

	err := s.ghClient.CreateCommitStatus(ctx, s.owner, s.repo, commit, &githubclt.CommitStatus{
		State:       state,
		TargetURL:   targetURL,
		Description: message,
		Context:     s.statusContext,
	})
	if err == nil {
		metrics.StatusReportsInc(s.fullName(), resultSuccess)
		logger.Info(
			"commit status set",
			logfields.Event("commit_status_set"),
		)
		return
	}

	if !s.useComments {
		metrics.StatusReportsInc(s.fullName(), resultFailure)
		logger.Error(
			"setting commit status failed",
			logfields.Event("commit_status_set_failed"),
			zap.Error(err),
		)
		return
	}

	metrics.StatusReportsInc(s.fullName(), resultFallbackComment)
	logger.Info(
		"setting commit status failed, posting status message as comment instead",
		logfields.Event("commit_status_set_degraded"),
		zap.Error(err),
	)

	err = s.ghClient.CreateIssueComment(ctx, s.owner, s.repo, prNumber, message)
	if err != nil {
		logger.Error("posting status message as comment failed", githubErrFields(err)...)
	}
}
