package runner

import (
	"log/slog"
	"sync"

	"github.com/worldloom/loom/pkg/events"
	"github.com/worldloom/loom/pkg/store"
)

// Pool owns the per-session loops. Loops exit on their own when the running
// flag clears, so Ensure is the only start-shaped command: it restarts a
// dead loop and leaves a live one alone.
type Pool struct {
	store    *store.Store
	bus      *events.Bus
	executor Executor

	mu      sync.Mutex
	runners map[string]*runner
	stopped bool
}

// NewPool builds a pool. The executor is typically the simulation service.
func NewPool(st *store.Store, bus *events.Bus, executor Executor) *Pool {
	return &Pool{
		store:    st,
		bus:      bus,
		executor: executor,
		runners:  make(map[string]*runner),
	}
}

// Ensure guarantees a live loop goroutine for the session. Idempotent: a
// session never has more than one loop.
func (p *Pool) Ensure(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		slog.Warn("Runner pool is stopped, ignoring ensure", "session_id", sessionID)
		return
	}
	if r, ok := p.runners[sessionID]; ok && r.alive() {
		return
	}
	r := newRunner(sessionID, p.store, p.bus, p.executor)
	p.runners[sessionID] = r
	r.start()
}

// Generating reports whether the session's loop is inside a round right
// now. Deletion of the last message is refused while this holds.
func (p *Pool) Generating(sessionID string) bool {
	p.mu.Lock()
	r, ok := p.runners[sessionID]
	p.mu.Unlock()
	return ok && r.generating.Load()
}

// Active counts live loop goroutines.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.runners {
		if r.alive() {
			n++
		}
	}
	return n
}

// StopAll signals every loop to exit, cancels in-flight rounds, and waits
// for the goroutines. The pool refuses new loops afterwards; it is meant
// for process shutdown.
func (p *Pool) StopAll() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	runners := make([]*runner, 0, len(p.runners))
	for _, r := range p.runners {
		runners = append(runners, r)
	}
	p.mu.Unlock()

	for _, r := range runners {
		r.stop()
	}
	for _, r := range runners {
		<-r.done
	}
	slog.Info("Runner pool stopped", "runners", len(runners))
}
