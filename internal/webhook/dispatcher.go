// Package webhook routes github webhook events to the RepositorySync of the
// repository they belong to.
package webhook

import (
	"context"
	"errors"

	"github.com/google/go-github/v43/github"
	"go.uber.org/zap"

	"github.com/simplesurance/prbuilder/internal/logfields"
	github_prov "github.com/simplesurance/prbuilder/internal/provider/github"
	"github.com/simplesurance/prbuilder/internal/prtrigger"
)

const loggerName = "webhook"

// Github webhook event types that are processed.
const (
	EventTypeIssueComment = "issue_comment"
	EventTypePullRequest  = "pull_request"
)

// Repository processes the events of a single repository.
type Repository interface {
	OnPullRequestNotification(ctx context.Context, action string, number int, pr *github.PullRequest)
	OnIssueCommentNotification(ctx context.Context, action string, issueNumber int, comment *github.IssueComment, isPullRequest bool)
}

// RepositoryResolver returns the Repository that processes events of the
// github repository owner/repo.
type RepositoryResolver func(owner, repo string) (Repository, error)

// RepositoriesResolver returns a RepositoryResolver that looks up
// repositories in repos.
func RepositoriesResolver(repos *prtrigger.Repositories) RepositoryResolver {
	return func(owner, repo string) (Repository, error) {
		r, err := repos.Get(owner, repo)
		if err != nil {
			return nil, err
		}

		return r, nil
	}
}

// Dispatcher passes github webhook events to the Repository they belong to.
// Events of other types than pull_request and issue_comment, events for
// unknown repositories and events matching the ignore query are dropped.
type Dispatcher struct {
	resolve     RepositoryResolver
	ignoreQuery *IgnoreQuery
	logger      *zap.Logger
}

type Option func(*Dispatcher)

// WithIgnoreQuery drops events for which the query evaluates to true.
func WithIgnoreQuery(q *IgnoreQuery) Option {
	return func(d *Dispatcher) {
		d.ignoreQuery = q
	}
}

func NewDispatcher(resolver RepositoryResolver, opts ...Option) *Dispatcher {
	d := Dispatcher{
		resolve: resolver,
		logger:  zap.L().Named(loggerName),
	}

	for _, opt := range opts {
		opt(&d)
	}

	return &d
}

// HandleEvent processes the event synchronously.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev *github_prov.Event) {
	logger := d.logger.With(ev.LogFields()...)

	if d.ignoreQuery != nil {
		ignore, err := d.ignoreQuery.Match(ctx, ev.JSON)
		if err != nil {
			logger.Warn(
				"evaluating ignore query failed, processing event",
				logfields.Event("ignore_query_failed"),
				zap.Error(err),
			)
		} else if ignore {
			metrics.ProcessedEventsInc(ev.Type, resultIgnored)
			logger.Debug("event matches ignore query, dropping it", logEventIgnored)
			return
		}
	}

	switch event := ev.Event.(type) {
	case *github.PullRequestEvent:
		d.onPullRequestEvent(ctx, logger, event)

	case *github.IssueCommentEvent:
		d.onIssueCommentEvent(ctx, logger, event)

	default:
		metrics.ProcessedEventsInc(ev.Type, resultIgnored)
		logger.Info(
			"ignoring event, event type is unsupported",
			logfields.Event("github_unsupported_event_received"),
		)
	}
}

func (d *Dispatcher) repository(logger *zap.Logger, eventType string, repo *github.Repository) Repository {
	owner := repo.GetOwner().GetLogin()
	name := repo.GetName()

	r, err := d.resolve(owner, name)
	if err != nil {
		metrics.ProcessedEventsInc(eventType, resultIgnored)

		if errors.Is(err, prtrigger.ErrUnknownRepository) {
			logger.Info(
				"ignoring event, repository is not monitored",
				logEventIgnored,
				logfields.RepositoryOwner(owner),
				logfields.Repository(name),
			)
			return nil
		}

		logger.Info(
			"ignoring event, resolving repository failed",
			logEventIgnored,
			logfields.RepositoryOwner(owner),
			logfields.Repository(name),
			zap.Error(err),
		)
		return nil
	}

	return r
}

func (d *Dispatcher) onPullRequestEvent(ctx context.Context, logger *zap.Logger, ev *github.PullRequestEvent) {
	logger = logger.With(
		logfields.WebhookAction(ev.GetAction()),
		logfields.PullRequest(ev.GetNumber()),
	)

	repo := d.repository(logger, EventTypePullRequest, ev.GetRepo())
	if repo == nil {
		return
	}

	number := ev.GetNumber()
	if number == 0 {
		number = ev.GetPullRequest().GetNumber()
	}

	repo.OnPullRequestNotification(ctx, ev.GetAction(), number, ev.GetPullRequest())
	metrics.ProcessedEventsInc(EventTypePullRequest, resultProcessed)
}

func (d *Dispatcher) onIssueCommentEvent(ctx context.Context, logger *zap.Logger, ev *github.IssueCommentEvent) {
	logger = logger.With(
		logfields.WebhookAction(ev.GetAction()),
		logfields.PullRequest(ev.GetIssue().GetNumber()),
	)

	repo := d.repository(logger, EventTypeIssueComment, ev.GetRepo())
	if repo == nil {
		return
	}

	repo.OnIssueCommentNotification(
		ctx,
		ev.GetAction(),
		ev.GetIssue().GetNumber(),
		ev.GetComment(),
		ev.GetIssue().IsPullRequest(),
	)
	metrics.ProcessedEventsInc(EventTypeIssueComment, resultProcessed)
}
