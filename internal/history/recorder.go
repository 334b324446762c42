package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/EnvelopeHack/video-streamer/internal/observability"
	"github.com/EnvelopeHack/video-streamer/internal/stream"
)

const recordTimeout = 5 * time.Second

// Recorder returns a stream.FinishFunc that stores every finished session.
// Storage failures are logged and never reach the session.
func Recorder(repo *Repository, logger *slog.Logger) stream.FinishFunc {
	if logger == nil {
		logger = observability.Discard()
	}
	return func(s stream.Summary) {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := repo.Create(ctx, FromSummary(s)); err != nil {
			logger.Warn("recording session", slog.String("session_id", s.ID), slog.String("error", err.Error()))
			return
		}
		logger.Debug("session recorded", slog.String("session_id", s.ID), slog.String("outcome", string(s.Outcome)))
	}
}

// Pruner deletes records older than the retention period on a cron schedule.
type Pruner struct {
	repo      *Repository
	retention time.Duration
	schedule  string
	logger    *slog.Logger
	now       func() time.Time
}

// NewPruner creates a pruner. schedule is a standard 5-field cron spec.
func NewPruner(repo *Repository, retention time.Duration, schedule string, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Pruner{
		repo:      repo,
		retention: retention,
		schedule:  schedule,
		logger:    logger,
		now:       time.Now,
	}
}

// Prune deletes expired records once.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Info("pruned session history", slog.Int64("deleted", n), slog.Time("cutoff", cutoff))
	}
	return n, nil
}

// Run prunes once, then on every schedule tick until ctx is done.
func (p *Pruner) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(p.schedule, func() {
		if _, err := p.Prune(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("pruning session history", slog.String("error", err.Error()))
		}
	}); err != nil {
		return err
	}

	if _, err := p.Prune(ctx); err != nil {
		p.logger.Warn("pruning session history", slog.String("error", err.Error()))
	}

	c.Start()
	p.logger.Debug("history pruner started", slog.String("schedule", p.schedule), slog.Duration("retention", p.retention))
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
