package service

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Prunable is anything that can drop records older than a cutoff.
type Prunable interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner periodically deletes audit events and evidence older than a
// configurable retention period.  It runs as a background goroutine and
// is safe to stop via its context or the Stop method.
//
// A retention of 0 disables pruning entirely.
type Pruner struct {
	targets   map[string]Prunable
	retention time.Duration
	interval  time.Duration
	clock     clockwork.Clock
	logger    *zap.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
}

// PrunerConfig holds the parameters for NewPruner.
type PrunerConfig struct {
	// RetentionDays is how many days of history to keep.
	// 0 means keep everything (pruner will not start).
	RetentionDays int

	// IntervalHours is how often the pruner runs.  Defaults to 6.
	IntervalHours int

	Clock clockwork.Clock
}

// NewPruner creates a pruner over the named targets but does not start
// it.  Call Start to begin the background loop.
func NewPruner(targets map[string]Prunable, cfg PrunerConfig, logger *zap.Logger) *Pruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := make(map[string]Prunable, len(targets))
	for name, p := range targets {
		if p != nil {
			t[name] = p
		}
	}

	return &Pruner{
		targets:   t,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		clock:     cfg.Clock,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start begins the background pruning loop.  It runs an immediate prune
// on startup, then repeats on the configured interval.  The loop exits
// when ctx is cancelled or Stop is called.  Later calls are no-ops.
func (p *Pruner) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		if p.retention <= 0 || len(p.targets) == 0 {
			p.logger.Info("pruner disabled", zap.Duration("retention", p.retention), zap.Int("targets", len(p.targets)))
			close(p.done)
			return
		}

		ctx, p.cancel = context.WithCancel(ctx)
		go p.loop(ctx)

		p.logger.Info("pruner started",
			zap.Int("retention_days", int(p.retention.Hours()/24)),
			zap.Duration("interval", p.interval))
	})
}

// Stop signals the pruner to exit and waits for it to finish.  Stopping a
// pruner that was never started also prevents it from starting.
func (p *Pruner) Stop() {
	p.startOnce.Do(func() { close(p.done) })
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

// RunOnce prunes every target immediately and returns the rows removed
// per target.
func (p *Pruner) RunOnce(ctx context.Context) map[string]int64 {
	cutoff := p.clock.Now().UTC().Add(-p.retention)
	out := make(map[string]int64, len(p.targets))

	for name, t := range p.targets {
		deleted, err := t.PruneOlderThan(ctx, cutoff)
		if err != nil {
			p.logger.Error("prune failed", zap.String("target", name), zap.Error(err))
			continue
		}
		out[name] = deleted
		if deleted > 0 {
			p.logger.Info("pruned",
				zap.String("target", name),
				zap.Int64("deleted", deleted),
				zap.Time("cutoff", cutoff))
		}
	}
	return out
}

func (p *Pruner) loop(ctx context.Context) {
	defer close(p.done)

	// Run immediately on startup to clean up any backlog.
	p.RunOnce(ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.RunOnce(ctx)
		}
	}
}
