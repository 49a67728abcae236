package prtrigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/go-github/v43/github"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/simplesurance/prbuilder/internal/githubclt"
	"github.com/simplesurance/prbuilder/internal/logfields"
)

const loggerName = "prtrigger"

// Github pull request and issue_comment webhook actions.
const (
	ActionOpened      = "opened"
	ActionReopened    = "reopened"
	ActionSynchronize = "synchronize"
	ActionClosed      = "closed"
	ActionCreated     = "created"
)

// Config configures the behaviour of a RepositorySync.
type Config struct {
	// RequestForTestingPhrase is posted as comment on pull requests
	// of authors that are not whitelisted.
	RequestForTestingPhrase string
	// StatusContext is the context of the created commit statuses.
	StatusContext string
	// UseComments enables posting the status message as comment when
	// setting a commit status fails.
	UseComments bool
	// WebhookURL is the URL that github sends webhook events to.
	WebhookURL       string
	VerifyWebhookSSL bool
}

// RepositorySync tracks the open pull requests of a github repository.
//
// The tracked state is reconciled with github periodically via Reconcile
// and when webhook events are received.
// All operations on the tracked state are serialized, operations on
// different RepositorySyncs run in parallel.
// Methods prefixed with _ must be called with the lock held.
type RepositorySync struct {
	owner string
	name  string

	cfg      *Config
	ghClient GithubClient
	policy   Policy
	builder  BuildTrigger
	store    Store
	status   *statusReporter

	lock   sync.Mutex
	remote *github.Repository
	pulls  map[int]*pullRequest

	logger *zap.Logger
}

type Option func(*RepositorySync)

// WithStore configures a store that the tracked state is written to after
// every change.
func WithStore(s Store) Option {
	return func(r *RepositorySync) {
		r.store = s
	}
}

func NewRepositorySync(
	owner, repo string,
	cfg *Config,
	ghClient GithubClient,
	policy Policy,
	builder BuildTrigger,
	opts ...Option,
) *RepositorySync {
	logger := zap.L().Named(loggerName).With(
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
	)

	r := RepositorySync{
		owner:    owner,
		name:     repo,
		cfg:      cfg,
		ghClient: ghClient,
		policy:   policy,
		builder:  builder,
		pulls:    map[int]*pullRequest{},
		logger:   logger,
		status: &statusReporter{
			owner:         owner,
			repo:          repo,
			statusContext: cfg.StatusContext,
			useComments:   cfg.UseComments,
			ghClient:      ghClient,
			logger:        logger.Named("status"),
		},
	}

	for _, opt := range opts {
		opt(&r)
	}

	return &r
}

func (r *RepositorySync) Owner() string {
	return r.owner
}

func (r *RepositorySync) Name() string {
	return r.name
}

// FullName returns the repository name in the format owner/name.
func (r *RepositorySync) FullName() string {
	return r.owner + "/" + r.name
}

func (r *RepositorySync) String() string {
	return r.FullName()
}

// Rehydrate attaches records that were loaded from a Store.
// It must be called before the RepositorySync is used.
// Records for already tracked pull requests are replaced.
func (r *RepositorySync) Rehydrate(records []*Record) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, rec := range records {
		r.pulls[rec.Number] = r.attach(rec)
	}

	metrics.TrackedPRsSet(r.FullName(), len(r.pulls))

	r.logger.Info(
		"restored tracked pull requests",
		logfields.Event("state_restored"),
		zap.Int("pull_requests", len(records)),
	)
}

// Records returns a copy of the state of all tracked pull requests, ordered
// by pull request number.
func (r *RepositorySync) Records() []*Record {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r._records()
}

func (r *RepositorySync) _records() []*Record {
	result := make([]*Record, 0, len(r.pulls))
	for _, p := range r.pulls {
		result = append(result, p.Record.Copy())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Number < result[j].Number
	})

	return result
}

func (r *RepositorySync) _save() {
	metrics.TrackedPRsSet(r.FullName(), len(r.pulls))

	if r.store == nil {
		return
	}

	if err := r.store.Save(r.FullName(), r._records()); err != nil {
		r.logger.Error("persisting tracked pull requests failed", logEventSaveFailed, zap.Error(err))
	}
}

// _resolveRemote retrieves the github repository once and caches it.
func (r *RepositorySync) _resolveRemote(ctx context.Context) error {
	if r.remote != nil {
		return nil
	}

	repo, err := r.ghClient.Repository(ctx, r.owner, r.name)
	if err != nil {
		r.logger.Error("retrieving github repository failed", githubErrFields(err)...)
		return fmt.Errorf("retrieving repository %s failed: %w", r.FullName(), err)
	}

	r.remote = repo

	return nil
}

func (r *RepositorySync) _findOrCreate(ctx context.Context, pr *github.PullRequest) (p *pullRequest, created bool) {
	if p, exists := r.pulls[pr.GetNumber()]; exists {
		return p, false
	}

	p = r._newPullRequest(ctx, pr)
	r.pulls[p.Number] = p

	return p, true
}

func (r *RepositorySync) fetchOpenPullRequests(ctx context.Context) ([]*github.PullRequest, error) {
	var result []*github.PullRequest

	it := r.ghClient.ListPullRequests(ctx, r.owner, r.name, "open", "created", "asc")
	for {
		pr, err := it.Next()
		if err != nil {
			return nil, err
		}

		if pr == nil {
			return result, nil
		}

		result = append(result, pr)
	}
}

// Reconcile synchronizes the tracked pull requests with the open pull
// requests on github.
// Untracked open pull requests are added, all open pull requests are
// evaluated and pull requests that are not open anymore are removed.
// If the open pull requests can not be retrieved, the tracked state is not
// modified and an error is returned.
func (r *RepositorySync) Reconcile(ctx context.Context, logF ...zap.Field) error {
	stats := syncStat{StartTime: time.Now()}
	logger := r.logger.With(logF...)

	r.lock.Lock()
	defer r.lock.Unlock()

	logger.Debug("starting reconciliation", logfields.Event("reconcile_started"))

	if err := r._resolveRemote(ctx); err != nil {
		metrics.ReconcileRunsInc(r.FullName(), resultFailure)
		return err
	}

	openPRs, err := r.fetchOpenPullRequests(ctx)
	if err != nil {
		metrics.ReconcileRunsInc(r.FullName(), resultFailure)
		logger.Error("retrieving open pull requests failed, skipping reconciliation", githubErrFields(err)...)
		return fmt.Errorf("retrieving open pull requests of %s failed: %w", r.FullName(), err)
	}

	openIDs := make([]int, 0, len(openPRs))
	for _, pr := range openPRs {
		stats.Seen++
		openIDs = append(openIDs, pr.GetNumber())

		p, created := r._findOrCreate(ctx, pr)
		if created {
			stats.Created++
		}

		if p.evaluate(ctx, pr) {
			stats.Builds++
		}
	}

	for _, nr := range lo.Without(lo.Keys(r.pulls), openIDs...) {
		delete(r.pulls, nr)
		stats.Removed++

		logger.Info(
			"pull request is not open anymore, removed it",
			logfields.PullRequest(nr),
			logEventPRRemoved,
			logFieldReason("pull_request_closed"),
		)
	}

	r._save()

	metrics.ReconcileRunsInc(r.FullName(), resultSuccess)
	stats.EndTime = time.Now()
	logger.Info(
		"reconciliation finished",
		append(stats.LogFields(), logfields.Event("reconcile_finished"))...,
	)

	return nil
}

// OnPullRequestNotification processes a pull_request webhook event.
// Opened, reopened and synchronized pull requests are evaluated, closed pull
// requests are removed. Other actions are ignored.
func (r *RepositorySync) OnPullRequestNotification(ctx context.Context, action string, number int, pr *github.PullRequest) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r._onPullRequestNotification(ctx, action, number, pr)
	r._save()
}

func (r *RepositorySync) _onPullRequestNotification(ctx context.Context, action string, number int, pr *github.PullRequest) {
	logger := r.logger.With(logfields.PullRequest(number), logFieldAction(action))

	switch action {
	case ActionOpened, ActionReopened, ActionSynchronize:
		if pr == nil {
			logger.Warn("pull request event has no pull request data, ignoring it", logEventEventIgnored)
			return
		}

		p, _ := r._findOrCreate(ctx, pr)
		p.evaluate(ctx, pr)

	case ActionClosed:
		if _, exists := r.pulls[number]; !exists {
			logger.Debug("closed pull request is not tracked", logEventEventIgnored)
			return
		}

		delete(r.pulls, number)
		logger.Info(
			"pull request closed, removed it",
			logEventPRRemoved,
			logFieldReason("pull_request_closed"),
		)

	default:
		logger.Debug("ignoring pull request event with unsupported action", logEventEventIgnored)
	}
}

// OnIssueCommentNotification processes an issue_comment webhook event.
// Only newly created comments on pull requests are processed.
func (r *RepositorySync) OnIssueCommentNotification(
	ctx context.Context,
	action string,
	issueNumber int,
	comment *github.IssueComment,
	isPullRequest bool,
) {
	logger := r.logger.With(logfields.PullRequest(issueNumber), logFieldAction(action))

	if action != ActionCreated {
		logger.Debug("ignoring issue comment event with unsupported action", logEventEventIgnored)
		return
	}

	if !isPullRequest {
		logger.Debug("ignoring comment on issue, issue is not a pull request", logEventEventIgnored)
		return
	}

	pr, err := r.ghClient.PullRequest(ctx, r.owner, r.name, issueNumber)

	r.lock.Lock()
	defer r.lock.Unlock()

	if err != nil {
		logger.Warn("retrieving pull request failed", githubErrFields(err)...)

		p, exists := r.pulls[issueNumber]
		if !exists || comment == nil {
			return
		}

		logger.Info(
			"evaluating only the new comment",
			logfields.Event("comment_evaluation_fallback"),
		)
		p.evaluateComment(ctx, comment)
		r._save()

		return
	}

	if pr.GetState() != "open" {
		logger.Debug(
			"ignoring comment, pull request is not open",
			logEventEventIgnored,
			zap.String("github.state", pr.GetState()),
		)
		return
	}

	r._translateCommentToSynchronize(ctx, issueNumber, pr)
	r._save()
}

// _translateCommentToSynchronize processes a new comment on an open pull
// request as a synchronize event of the pull request.
// A new comment always triggers a full re-evaluation of the pull request
// instead of only evaluating the comment, the head commit might have changed
// independently of the comment.
func (r *RepositorySync) _translateCommentToSynchronize(ctx context.Context, number int, pr *github.PullRequest) {
	r.logger.Debug(
		"processing comment as synchronize event",
		logfields.PullRequest(number),
	)

	r._onPullRequestNotification(ctx, ActionSynchronize, number, pr)
}

// CreateStatus sets a commit status, see statusReporter.
func (r *RepositorySync) CreateStatus(ctx context.Context, commit string, state githubclt.CommitState, targetURL, message string, prNumber int) {
	r.status.report(ctx, commit, state, targetURL, message, prNumber)
}

// PostComment adds a comment to a pull request.
// Failures are logged.
func (r *RepositorySync) PostComment(ctx context.Context, prNumber int, text string) {
	r._postComment(ctx, prNumber, text)
}

// _postComment does not access the tracked state, it is safe to be called
// with or without the lock.
func (r *RepositorySync) _postComment(ctx context.Context, prNumber int, text string) {
	err := r.ghClient.CreateIssueComment(ctx, r.owner, r.name, prNumber, text)
	if err != nil {
		r.logger.Error(
			"adding comment to pull request failed",
			append(githubErrFields(err),
				logfields.PullRequest(prNumber),
				zap.String("comment", text),
			)...,
		)
	}
}

// ClosePullRequest closes a pull request on github.
// Failures are logged.
func (r *RepositorySync) ClosePullRequest(ctx context.Context, prNumber int) {
	err := r.ghClient.ClosePullRequest(ctx, r.owner, r.name, prNumber)
	if err != nil {
		r.logger.Error(
			"closing pull request failed",
			append(githubErrFields(err), logfields.PullRequest(prNumber))...,
		)
		return
	}

	r.logger.Info("pull request closed", logfields.PullRequest(prNumber), logfields.Event("pull_request_closed"))
}

var webhookEvents = []string{"issue_comment", "pull_request"}

// EnsureWebhookRegistered creates a github webhook that sends issue_comment
// and pull_request events to Config.WebhookURL.
// If a webhook for the URL already exists, no webhook is created.
func (r *RepositorySync) EnsureWebhookRegistered(ctx context.Context) error {
	if r.cfg.WebhookURL == "" {
		return errors.New("webhook url is not configured")
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	logger := r.logger.With(zap.String("webhook_url", r.cfg.WebhookURL))

	if err := r._resolveRemote(ctx); err != nil {
		return err
	}

	hooks, err := r.ghClient.Hooks(ctx, r.owner, r.name)
	if err != nil {
		logger.Error("retrieving webhooks failed", githubErrFields(err)...)
		return fmt.Errorf("retrieving webhooks of %s failed: %w", r.FullName(), err)
	}

	for _, h := range hooks {
		if url, ok := h.Config["url"].(string); ok && url == r.cfg.WebhookURL {
			logger.Debug("webhook is already registered", logfields.Event("webhook_exists"))
			return nil
		}
	}

	config := map[string]interface{}{
		"url":          r.cfg.WebhookURL,
		"content_type": "form",
	}
	if !r.cfg.VerifyWebhookSSL {
		config["insecure_ssl"] = "1"
	}

	err = r.ghClient.CreateHook(ctx, r.owner, r.name, &github.Hook{
		Config: config,
		Events: webhookEvents,
		Active: github.Bool(true),
	})
	if err != nil {
		logger.Error("creating webhook failed", githubErrFields(err)...)
		return fmt.Errorf("creating webhook for %s failed: %w", r.FullName(), err)
	}

	logger.Info("webhook registered", logfields.Event("webhook_registered"))

	return nil
}
