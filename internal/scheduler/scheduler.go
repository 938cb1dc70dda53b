// Package scheduler runs the retention sweep on a cron schedule: finished
// instances are evicted from the projector and old status events are pruned
// from the store.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/flowgraph/internal/logging"
)

// DefaultSpec runs the sweep every five minutes.
const DefaultSpec = "*/5 * * * *"

// Evictor forgets finished instances. Satisfied by *projector.Projector.
type Evictor interface {
	EvictFinished(ctx context.Context, olderThan time.Duration) []string
}

// Pruner deletes status events received before a cutoff. Satisfied by the
// store.
type Pruner interface {
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
}

// Compactor reclaims space after rows are deleted. The sweep calls it when
// the Pruner also implements it and a prune removed events.
type Compactor interface {
	Vacuum(ctx context.Context) error
}

// Result reports what one sweep did.
type Result struct {
	Evicted []string `json:"evicted"`
	Pruned  int64    `json:"pruned"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSpec sets the five-field cron expression of the sweep.
func WithSpec(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.spec = spec
		}
	}
}

// WithInstanceTTL sets how long a finished instance stays tracked after its
// last event.
func WithInstanceTTL(d time.Duration) Option {
	return func(s *Scheduler) { s.instanceTTL = d }
}

// WithEventRetention sets how long status events are kept. Zero keeps them
// forever.
func WithEventRetention(d time.Duration) Option {
	return func(s *Scheduler) { s.eventRetention = d }
}

// WithPruner enables event pruning.
func WithPruner(p Pruner) Option {
	return func(s *Scheduler) { s.pruner = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler runs sweeps in the background.
type Scheduler struct {
	evictor        Evictor
	pruner         Pruner
	spec           string
	instanceTTL    time.Duration
	eventRetention time.Duration
	parser         cron.Parser
	now            func() time.Time
	logger         *slog.Logger

	mu       sync.Mutex
	schedule cron.Schedule
	cancel   context.CancelFunc
	done     chan struct{}

	sweepMu sync.Mutex
}

// NewScheduler creates a Scheduler. The cron spec is parsed here so a bad
// expression fails at startup.
func NewScheduler(ev Evictor, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		evictor:     ev,
		spec:        DefaultSpec,
		instanceTTL: time.Hour,
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		now:         time.Now,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	schedule, err := s.parser.Parse(s.spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", s.spec, err)
	}
	s.schedule = schedule
	return s, nil
}

// Start launches the background loop. The first sweep runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.String("spec", s.spec))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)
	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep evicts finished instances and prunes old events once. Concurrent
// calls are serialized.
func (s *Scheduler) Sweep(ctx context.Context) Result {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	var res Result
	if s.evictor != nil {
		res.Evicted = s.evictor.EvictFinished(ctx, s.instanceTTL)
	}
	if s.pruner != nil && s.eventRetention > 0 {
		n, err := s.pruner.PruneEvents(ctx, s.now().Add(-s.eventRetention))
		if err != nil {
			s.logger.Error("failed to prune status events", slog.String("error", err.Error()))
		}
		res.Pruned = n
		if c, ok := s.pruner.(Compactor); ok && n > 0 {
			if err := c.Vacuum(ctx); err != nil {
				s.logger.Warn("failed to compact store after prune", slog.String("error", err.Error()))
			}
		}
	}
	if len(res.Evicted) > 0 || res.Pruned > 0 {
		s.logger.Info("retention sweep",
			slog.Int("evicted", len(res.Evicted)),
			slog.Int64("pruned", res.Pruned))
	}
	return res
}

// NextRun returns the next sweep time after from.
func (s *Scheduler) NextRun(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
