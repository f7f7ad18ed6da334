// Package scheduler runs the idle-session reaper: conversations abandoned by
// the contact are closed out on a cron cadence so they stop holding the
// one-active-session slot.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/pkg/schema"
)

const (
	// DefaultIdleTimeout is how long a session may sit without activity
	// before the reaper ends it.
	DefaultIdleTimeout = 24 * time.Hour
	// DefaultSweepSchedule sweeps every five minutes.
	DefaultSweepSchedule = "*/5 * * * *"

	tickInterval = 30 * time.Second
)

// Config tunes the reaper.
type Config struct {
	IdleTimeout   time.Duration // default DefaultIdleTimeout
	SweepSchedule string        // cron expression, default DefaultSweepSchedule
}

// Reaper periodically ends sessions with no recent activity.
type Reaper struct {
	store  store.Store
	cfg    Config
	parser cron.Parser
	sched  cron.Schedule
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	nextRun time.Time
}

// NewReaper creates a reaper. The sweep schedule is validated up front.
func NewReaper(s store.Store, cfg Config, logger *slog.Logger) (*Reaper, error) {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(cfg.SweepSchedule)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid sweep schedule %q", cfg.SweepSchedule).WithCause(err)
	}

	return &Reaper{
		store:  s,
		cfg:    cfg,
		parser: parser,
		sched:  sched,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Start launches the background sweep loop.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return fmt.Errorf("reaper already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.nextRun = r.sched.Next(r.now())
	r.mu.Unlock()

	go r.loop(loopCtx)
	r.logger.Info("session reaper started",
		"idle_timeout", r.cfg.IdleTimeout.String(),
		"schedule", r.cfg.SweepSchedule)
	return nil
}

func (r *Reaper) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	// Run an initial sweep immediately.
	r.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := r.now()
			r.mu.Lock()
			due := !now.Before(r.nextRun)
			if due {
				r.nextRun = r.sched.Next(now)
			}
			r.mu.Unlock()
			if due {
				r.Sweep(ctx)
			}
		}
	}
}

// Sweep ends every active session idle past the timeout. Returns the number
// of sessions ended.
func (r *Reaper) Sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.cfg.IdleTimeout)
	sessions, err := r.store.ListIdleSessions(ctx, cutoff)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to list idle sessions", "error", err)
		return 0
	}

	ended := 0
	for _, sess := range sessions {
		if err := r.endSession(ctx, sess); err != nil {
			// A version conflict means the contact came back mid-sweep;
			// leave the session alone.
			r.logger.WarnContext(ctx, "failed to end idle session",
				"session_id", sess.ID, "error", err)
			continue
		}
		ended++
	}

	if ended > 0 {
		r.logger.InfoContext(ctx, "idle sessions ended", "count", ended)
	}
	return ended
}

func (r *Reaper) endSession(ctx context.Context, sess *store.Session) error {
	if err := engine.CheckSessionTransition(sess.ID, sess.Status, schema.SessionStatusEnded); err != nil {
		return err
	}
	now := r.now()
	ended := schema.SessionStatusEnded
	return r.store.UpdateSession(ctx, sess.ID, store.SessionPatch{
		Status:  &ended,
		EndedAt: &now,
	}, sess.Version)
}

// NextSweep reports when the next scheduled sweep will run.
func (r *Reaper) NextSweep() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextRun
}

// Stop gracefully shuts down the reaper.
func (r *Reaper) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return nil
	}

	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil

	r.logger.Info("session reaper stopped")
	return nil
}
