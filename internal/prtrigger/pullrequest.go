package prtrigger

import (
	"context"
	"sort"

	"github.com/google/go-github/v43/github"
	"go.uber.org/zap"

	"github.com/simplesurance/prbuilder/internal/build"
	"github.com/simplesurance/prbuilder/internal/githubclt"
	"github.com/simplesurance/prbuilder/internal/logfields"
)

// pullRequest is a tracked pull request that is attached to its
// RepositorySync.
// All methods must be called with the lock of the RepositorySync held.
type pullRequest struct {
	*Record

	repo   *RepositorySync
	logger *zap.Logger
}

func (r *RepositorySync) attach(rec *Record) *pullRequest {
	return &pullRequest{
		Record: rec,
		repo:   r,
		logger: r.logger.With(logfields.PullRequest(rec.Number)),
	}
}

// _newPullRequest creates the tracking state for a pull request that has not
// been seen before.
// If the author is whitelisted the pull request is accepted and a build is
// pending, otherwise a comment is posted that requests an admin to approve
// testing.
func (r *RepositorySync) _newPullRequest(ctx context.Context, pr *github.PullRequest) *pullRequest {
	p := r.attach(&Record{
		Number:         pr.GetNumber(),
		Author:         pr.GetUser().GetLogin(),
		HeadCommit:     pr.GetHead().GetSHA(),
		TargetBranch:   pr.GetBase().GetRef(),
		LastSeenUpdate: pr.GetUpdatedAt(),
	})

	if r.policy.IsWhitelisted(p.Author) {
		p.Accepted = true
		p.PendingBuild = true
	} else {
		p.logger.Info(
			"author of pull request is not whitelisted, requesting approval",
			logfields.Author(p.Author),
			logfields.Event("approval_requested"),
		)
		r._postComment(ctx, p.Number, r.cfg.RequestForTestingPhrase)
	}

	p.logger.Info(
		"pull request is now tracked",
		append(p.LogFields(),
			logEventPRCreated,
			zap.Time("github.updated_at", p.LastSeenUpdate),
			zap.Bool("accepted", p.Accepted),
		)...,
	)

	return p
}

// isUpdated returns true if the github pull request changed since it was
// evaluated last.
// The timestamp and the head commit are compared independently, the update
// timestamp of github can lag behind a push.
func (p *pullRequest) isUpdated(pr *github.PullRequest) bool {
	updatedAt := pr.GetUpdatedAt()
	timestampNewer := updatedAt.After(p.LastSeenUpdate)
	headChanged := pr.GetHead().GetSHA() != p.HeadCommit

	p.logger.Debug(
		"checked if pull request was updated",
		zap.Bool("updated_check", timestampNewer),
		zap.Time("last_seen_update", p.LastSeenUpdate),
		zap.Time("github.updated_at", updatedAt),
		zap.Bool("head_check", headChanged),
		zap.String("head", p.HeadCommit),
		zap.String("github.head", pr.GetHead().GetSHA()),
	)

	return timestampNewer || headChanged
}

// evaluate updates the state from the github pull request and triggers a
// build if one is pending.
// It returns true if a build was triggered.
func (p *pullRequest) evaluate(ctx context.Context, pr *github.PullRequest) bool {
	// records written by older versions do not contain the target branch
	if p.TargetBranch == "" {
		p.TargetBranch = pr.GetBase().GetRef()
	}

	if updatedAt := pr.GetUpdatedAt(); updatedAt.Before(p.LastSeenUpdate) {
		// out of order delivery or a snapshot fetched before a newer one
		// was evaluated, it must not roll back the head commit
		p.logger.Info(
			"ignoring outdated pull request snapshot",
			logEventEventIgnored,
			zap.Time("last_seen_update", p.LastSeenUpdate),
			zap.Time("github.updated_at", updatedAt),
			zap.String("github.head", pr.GetHead().GetSHA()),
		)
	} else if p.isUpdated(pr) {
		p.logger.Info("pull request has been updated", logEventPRUpdated)

		commentsChecked, err := p.checkComments(ctx)
		if err != nil {
			p.logger.Warn(
				"retrieving pull request comments failed, skipping comment evaluation",
				githubErrFields(err)...,
			)
		}

		newCommit := p.checkCommit(pr.GetHead().GetSHA())
		if !newCommit && commentsChecked == 0 && err == nil {
			p.logger.Info(
				"pull request was updated but has no new commit or comments, the commit status might have changed",
				logEventPRUpdated,
			)
		}

		if updatedAt := pr.GetUpdatedAt(); updatedAt.After(p.LastSeenUpdate) {
			p.LastSeenUpdate = updatedAt
		}
	}

	if !p.PendingBuild {
		return false
	}

	p.refreshMergeable(ctx)
	p.build(ctx)

	return true
}

// evaluateComment applies a single comment to the state and triggers a build
// if one is pending.
// It returns true if a build was triggered.
func (p *pullRequest) evaluateComment(ctx context.Context, comment *github.IssueComment) bool {
	p.checkComment(comment.GetUser().GetLogin(), comment.GetBody())

	if updatedAt := comment.GetUpdatedAt(); updatedAt.After(p.LastSeenUpdate) {
		p.LastSeenUpdate = updatedAt
	}

	if !p.PendingBuild {
		return false
	}

	p.build(ctx)

	return true
}

// checkComments evaluates all comments that were updated after the pull
// request was seen last, ordered by their update time.
// It returns the number of evaluated comments.
func (p *pullRequest) checkComments(ctx context.Context) (int, error) {
	comments, err := p.repo.ghClient.IssueComments(ctx, p.repo.owner, p.repo.name, p.Number, p.LastSeenUpdate)
	if err != nil {
		return 0, err
	}

	newComments := make([]*github.IssueComment, 0, len(comments))
	for _, c := range comments {
		if c.GetUpdatedAt().After(p.LastSeenUpdate) {
			newComments = append(newComments, c)
		}
	}

	sort.SliceStable(newComments, func(i, j int) bool {
		return newComments[i].GetUpdatedAt().Before(newComments[j].GetUpdatedAt())
	})

	for _, c := range newComments {
		p.checkComment(c.GetUser().GetLogin(), c.GetBody())
	}

	p.logger.Debug("checked comments", zap.Int("comments_checked", len(newComments)))

	return len(newComments), nil
}

// checkComment applies the commands contained in a comment body.
// The whitelist, ok-to-test and retest commands are evaluated independently.
func (p *pullRequest) checkComment(sender, body string) {
	policy := p.repo.policy
	logger := p.logger.With(logfields.Sender(sender))

	logger.Debug("checking comment", zap.String("comment_body", body))

	if policy.MatchesWhitelistPhrase(body) && policy.IsAdmin(sender) {
		logger.Info(
			"adding pull request author to whitelist per comment",
			logfields.Author(p.Author),
			logEventCommentCmd,
		)

		if !policy.IsWhitelisted(p.Author) {
			policy.AddToWhitelist(p.Author)
		}

		p.Accepted = true
		p.PendingBuild = true
	}

	if policy.MatchesOkToTestPhrase(body) && policy.IsAdmin(sender) {
		logger.Info("pull request accepted for testing per comment", logEventCommentCmd)

		p.Accepted = true
		p.PendingBuild = true
	}

	if policy.MatchesRetestPhrase(body) {
		if policy.IsAdmin(sender) || (p.Accepted && policy.IsWhitelisted(sender)) {
			logger.Info("retest requested per comment", logEventCommentCmd)
			p.PendingBuild = true
		} else {
			logger.Info(
				"ignoring retest request, sender is not authorized",
				logEventEventIgnored,
				zap.Bool("accepted", p.Accepted),
			)
		}
	}
}

// checkCommit updates the head commit.
// It returns false if sha is the known head commit.
func (p *pullRequest) checkCommit(sha string) bool {
	if p.HeadCommit == sha {
		return false
	}

	p.logger.Info(
		"new commit",
		logEventNewCommit,
		zap.String("old_head", p.HeadCommit),
		logfields.Commit(sha),
	)

	p.HeadCommit = sha

	if p.Accepted {
		p.PendingBuild = true
	}

	return true
}

// refreshMergeable updates the mergeable state.
// If it can not be retrieved the pull request is considered as not mergeable.
func (p *pullRequest) refreshMergeable(ctx context.Context) {
	state, err := p.repo.ghClient.Mergeable(ctx, p.repo.owner, p.repo.name, p.Number)
	if err != nil {
		p.Mergeable = MergeabilityConflicting
		p.logger.Error(
			"retrieving mergeable status failed, considering pull request as not mergeable",
			githubErrFields(err)...,
		)
		return
	}

	p.Mergeable = mergeabilityFromState(state)
}

func (p *pullRequest) buildRequest() *build.Request {
	return &build.Request{
		Repository:        p.repo.FullName(),
		PullRequestNumber: p.Number,
		Author:            p.Author,
		HeadCommit:        p.HeadCommit,
		TargetBranch:      p.TargetBranch,
		Mergeable:         p.Mergeable.String(),
	}
}

// build triggers a build of the head commit and reports the result as commit
// status.
func (p *pullRequest) build(ctx context.Context) {
	p.PendingBuild = false

	req := p.buildRequest()
	logger := p.logger.With(logfields.Commit(req.HeadCommit), logfields.BaseBranch(req.TargetBranch))

	msg, err := p.repo.builder.Trigger(ctx, req)
	if err != nil {
		metrics.BuildsInc(p.repo.FullName(), resultFailure)
		logger.Error("triggering build failed", logEventBuildFailed, zap.Error(err))

		p.repo.status.report(
			ctx, p.HeadCommit, githubclt.CommitStateError, "",
			"Triggering build failed: "+err.Error(),
			p.Number,
		)
		return
	}

	metrics.BuildsInc(p.repo.FullName(), resultSuccess)
	logger.Info(msg, logEventBuildTriggered)

	p.repo.status.report(ctx, p.HeadCommit, githubclt.CommitStatePending, "", msg, p.Number)
}
