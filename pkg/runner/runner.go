// Package runner drives the per-session generation loops. Each session has
// at most one loop goroutine; it reads the persistent running flag at the
// top of every round, so pause and resume take effect at round boundaries
// and an in-flight round always finishes before the loop parks.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/worldloom/loom/pkg/events"
	"github.com/worldloom/loom/pkg/masking"
	"github.com/worldloom/loom/pkg/metrics"
	"github.com/worldloom/loom/pkg/models"
	"github.com/worldloom/loom/pkg/providers"
	"github.com/worldloom/loom/pkg/store"
)

// Executor produces one round. The simulation service implements it: build
// the prompt, call the provider, persist the report, return the stored
// message.
type Executor interface {
	GenerateRound(ctx context.Context, sessionID string) (*models.Message, error)
}

// Error codes the loop publishes on its own, beyond the provider taxonomy.
const (
	// CodeBackoffExhausted signals that consecutive transient provider
	// failures used up the retry ladder and the loop parked itself.
	CodeBackoffExhausted = "ERROR_BACKOFF"
	// CodeRunnerFailed covers round failures outside the provider taxonomy.
	CodeRunnerFailed = "RUNNER_FAILED"
)

const backoffExhaustedMessage = "Provider failed repeatedly. Runner paused; resume to retry."

// backoffDelays is the retry ladder for transient provider failures.
var backoffDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// postGenDelayUnit scales post_gen_delay_sec into a sleep. Tests shrink it.
var postGenDelayUnit = time.Second

// stopFlagTimeout bounds the flag writeback when a loop stops on error.
const stopFlagTimeout = 5 * time.Second

// runner is one session's loop. It exits when the running flag clears, the
// session disappears, an error parks it, or the pool shuts down; the pool
// starts a fresh one on the next start or resume.
type runner struct {
	sessionID string
	store     *store.Store
	bus       *events.Bus
	executor  Executor

	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	generating atomic.Bool

	mu        sync.Mutex
	state     models.LoopState
	lastError string
}

func newRunner(sessionID string, st *store.Store, bus *events.Bus, executor Executor) *runner {
	return &runner{
		sessionID: sessionID,
		store:     st,
		bus:       bus,
		executor:  executor,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		state:     models.LoopIdle,
	}
}

// start launches the loop goroutine. The loop context is detached from any
// request; stop cancels it.
func (r *runner) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx)
}

// stop signals the loop to exit and cancels in-flight work. Idempotent; it
// does not wait, callers block on done.
func (r *runner) stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.cancel()
	})
}

// alive reports whether the loop goroutine is still running.
func (r *runner) alive() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *runner) run(ctx context.Context) {
	defer close(r.done)
	defer r.generating.Store(false)

	slog.Info("Runner loop started", "session_id", r.sessionID)
	r.setState(models.LoopRunning, "")
	attempt := 0

	for {
		select {
		case <-r.stopCh:
			r.setState(models.LoopStopped, "")
			return
		case <-ctx.Done():
			r.setState(models.LoopStopped, "")
			return
		default:
		}

		sess, err := r.store.GetSession(ctx, r.sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				slog.Info("Runner session gone, loop exiting", "session_id", r.sessionID)
			} else {
				slog.Error("Runner failed to read session", "session_id", r.sessionID, "error", err)
			}
			r.setState(models.LoopStopped, "")
			return
		}
		if !sess.Running {
			slog.Info("Runner observed pause, loop exiting", "session_id", r.sessionID)
			r.setState(models.LoopPaused, "")
			return
		}

		msg, err := r.generate(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				r.setState(models.LoopStopped, "")
				return
			}
			if pe, ok := providers.AsError(err); ok {
				if !pe.Retryable {
					r.stopWithError(pe.Code, pe.Message)
					return
				}
				if attempt >= len(backoffDelays) {
					r.stopWithError(CodeBackoffExhausted, backoffExhaustedMessage)
					return
				}
				delay := backoffDelays[attempt]
				attempt++
				metrics.RoundRetries.Inc()
				slog.Warn("Round failed, retrying",
					"session_id", r.sessionID, "code", pe.Code, "attempt", attempt, "delay", delay)
				r.bus.PublishError(r.sessionID, pe.Code,
					fmt.Sprintf("%s Retrying in %ds.", pe.Message, int(delay.Seconds())))
				if !r.sleep(ctx, delay) {
					r.setState(models.LoopStopped, "")
					return
				}
				continue
			}
			r.stopWithError(CodeRunnerFailed, masking.Scrub(err.Error()))
			return
		}

		attempt = 0
		r.bus.PublishMessageCreated(r.sessionID, msg.BranchID, msg)
		if !r.sleep(ctx, postGenDelay(sess)) {
			r.setState(models.LoopStopped, "")
			return
		}
	}
}

// generate runs one executor round with the generating flag raised so that
// delete-last requests can refuse to race an in-flight round. A panic in
// the round surfaces as an ordinary error instead of killing the process.
func (r *runner) generate(ctx context.Context) (msg *models.Message, err error) {
	r.generating.Store(true)
	defer r.generating.Store(false)
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("round panicked: %v", rec)
		}
	}()
	return r.executor.GenerateRound(ctx, r.sessionID)
}

// stopWithError parks the loop in the error-backoff state: clear the
// persistent flag, tell subscribers what happened, then announce the
// stopped state. Resume recovers with a fresh retry ladder. The loop
// context may already be canceled when a round fails during shutdown, so
// the flag writeback uses its own bounded context.
func (r *runner) stopWithError(code, message string) {
	r.setState(models.LoopErrorBackoff, code)
	slog.Warn("Runner stopped on error", "session_id", r.sessionID, "code", code)

	ctx, cancel := context.WithTimeout(context.Background(), stopFlagTimeout)
	defer cancel()
	if err := r.store.SetRunning(ctx, r.sessionID, false); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("Failed to clear running flag", "session_id", r.sessionID, "error", err)
	}
	r.bus.PublishError(r.sessionID, code, message)
	r.bus.PublishSessionState(r.sessionID, false)
}

// sleep waits for d unless the loop is told to stop first. Returns false
// when the wait was interrupted.
func (r *runner) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-r.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (r *runner) setState(state models.LoopState, lastError string) {
	r.mu.Lock()
	r.state = state
	r.lastError = lastError
	r.mu.Unlock()
}

func (r *runner) snapshot() (models.LoopState, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.lastError
}

func postGenDelay(sess *models.Session) time.Duration {
	if sess.PostGenDelaySec <= 0 {
		return 0
	}
	return time.Duration(sess.PostGenDelaySec) * postGenDelayUnit
}
