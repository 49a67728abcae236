package prtrigger

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/xid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/simplesurance/prbuilder/internal/logfields"
)

const DefaultPollInterval = 5 * time.Minute

const defPollParallelism = 4

// Poller reconciles all monitored repositories periodically.
type Poller struct {
	repos       *Repositories
	interval    time.Duration
	parallelism int

	cancelFn context.CancelFunc
	wg       sync.WaitGroup

	logger *zap.Logger
}

type PollerOption func(*Poller)

// WithParallelism sets how many repositories are reconciled concurrently.
func WithParallelism(n int) PollerOption {
	return func(p *Poller) {
		p.parallelism = n
	}
}

func NewPoller(repos *Repositories, interval time.Duration, opts ...PollerOption) *Poller {
	p := Poller{
		repos:       repos,
		interval:    interval,
		parallelism: defPollParallelism,
		logger:      zap.L().Named(loggerName).Named("poller"),
	}

	for _, opt := range opts {
		opt(&p)
	}

	if p.interval <= 0 {
		p.interval = DefaultPollInterval
	}

	if p.parallelism < 1 {
		p.parallelism = 1
	}

	return &p
}

// ReconcileAll runs RepositorySync.Reconcile for all repositories.
// A failed reconciliation of one repository does not affect the others, all
// errors are returned as a multierror.
func (p *Poller) ReconcileAll(ctx context.Context) error {
	var errs *multierror.Error
	var errsLock sync.Mutex

	syncID := zap.String("sync_id", xid.New().String())
	startTime := time.Now()

	var g errgroup.Group
	g.SetLimit(p.parallelism)

	for _, repo := range p.repos.All() {
		repo := repo

		g.Go(func() error {
			if err := repo.Reconcile(ctx, syncID); err != nil {
				errsLock.Lock()
				errs = multierror.Append(errs, err)
				errsLock.Unlock()
			}

			return nil
		})
	}

	_ = g.Wait()

	err := errs.ErrorOrNil()
	if err != nil {
		p.logger.Warn(
			"reconciling repositories failed partially",
			syncID,
			logfields.Event("poll_failed"),
			zap.Error(err),
		)
	} else {
		p.logger.Debug(
			"reconciled all repositories",
			syncID,
			logfields.Event("poll_finished"),
			zap.Duration("sync_duration", time.Since(startTime)),
		)
	}

	return err
}

// Start runs ReconcileAll immediately and then every interval in a
// go-routine.
func (p *Poller) Start() {
	ctx, cancelFn := context.WithCancel(context.Background())
	p.cancelFn = cancelFn

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	p.logger.Info(
		"poller started",
		logfields.Event("poller_started"),
		zap.Duration("poll_interval", p.interval),
	)
}

func (p *Poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		_ = p.ReconcileAll(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop terminates the poller and waits until a running reconciliation
// finished.
func (p *Poller) Stop() {
	p.logger.Debug("poller terminating")

	if p.cancelFn != nil {
		p.cancelFn()
	}

	p.wg.Wait()

	p.logger.Debug("poller terminated")
}
