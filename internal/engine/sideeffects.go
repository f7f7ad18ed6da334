package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrRunnerShutdown is returned when work is submitted to a shut-down runner.
var ErrRunnerShutdown = errors.New("side effect runner is shut down")

// RunnerMetrics tracks side effect execution counts.
type RunnerMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// SideEffectRunner is a bounded goroutine pool for fire-and-forget external
// calls scheduled by node handlers. Failures are logged, never surfaced to
// the conversation.
type SideEffectRunner struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics RunnerMetrics
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
	logger  *slog.Logger
}

// NewSideEffectRunner creates a runner with the given max concurrency.
func NewSideEffectRunner(size int, logger *slog.Logger) *SideEffectRunner {
	if size <= 0 {
		size = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SideEffectRunner{
		sem:    make(chan struct{}, size),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Submit enqueues a side effect. It blocks for a slot (backpressure) while
// respecting context cancellation, and returns ErrRunnerShutdown after
// Shutdown.
func (r *SideEffectRunner) Submit(ctx context.Context, effect SideEffect) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRunnerShutdown
	}
	r.mu.Unlock()

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrRunnerShutdown
	}

	// Re-check closed after acquiring the slot in case Shutdown raced.
	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.sem
		return ErrRunnerShutdown
	}
	r.wg.Add(1)
	atomic.AddInt64(&r.metrics.Active, 1)
	r.mu.Unlock()

	go func() {
		defer func() {
			if p := recover(); p != nil {
				atomic.AddInt64(&r.metrics.Panics, 1)
				atomic.AddInt64(&r.metrics.Failed, 1)
				r.logger.Error("side effect panicked", "effect", effect.Name, "panic", p)
			}
			atomic.AddInt64(&r.metrics.Active, -1)
			<-r.sem
			r.wg.Done()
		}()

		// The turn's request context may be gone by the time this runs;
		// side effects get a detached context.
		if err := effect.Run(context.WithoutCancel(ctx)); err != nil {
			atomic.AddInt64(&r.metrics.Failed, 1)
			r.logger.Error("side effect failed", "effect", effect.Name, "error", err)
			return
		}
		atomic.AddInt64(&r.metrics.Completed, 1)
	}()

	return nil
}

// Wait blocks until all submitted side effects complete.
func (r *SideEffectRunner) Wait() {
	r.wg.Wait()
}

// Shutdown prevents new submissions and waits for in-flight work.
func (r *SideEffectRunner) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	r.wg.Wait()
}

// Metrics returns a snapshot of the runner metrics.
func (r *SideEffectRunner) Metrics() RunnerMetrics {
	return RunnerMetrics{
		Active:    atomic.LoadInt64(&r.metrics.Active),
		Completed: atomic.LoadInt64(&r.metrics.Completed),
		Failed:    atomic.LoadInt64(&r.metrics.Failed),
		Panics:    atomic.LoadInt64(&r.metrics.Panics),
	}
}
