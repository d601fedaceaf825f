// Package slots bounds the number of concurrent browser sessions.
//
// A Manager hands out at most Capacity tokens. Requests beyond capacity wait
// in a FIFO queue for at most Wait; a released slot is handed directly to the
// oldest waiter instead of returning to the pool.
//
//	mgr := slots.New(slots.Config{Capacity: 3, Wait: 5 * time.Minute})
//	tok, err := mgr.Acquire(ctx)
//	if err != nil {
//	    return err // slots.ErrQueueTimeout when the wait budget ran out
//	}
//	defer mgr.Release(tok)
package slots

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueTimeout is returned by Acquire when no slot was granted within the
// configured wait budget.
var ErrQueueTimeout = errors.New("slots: queue wait budget exceeded")

// Config configures a Manager.
type Config struct {
	// Capacity is the maximum number of outstanding tokens. Default: 3.
	Capacity int
	// Wait is how long a queued request waits before failing. Default: 300s.
	Wait time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Capacity <= 0 {
		c.Capacity = 3
	}
	if c.Wait <= 0 {
		c.Wait = 300 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Token is one unit of granted capacity. It must be released exactly once.
type Token struct {
	id       uint64
	owner    *Manager
	released bool
	queued   time.Duration
}

// ID returns the token sequence number.
func (t *Token) ID() uint64 { return t.id }

// Queued returns how long the holder waited in the queue before the grant.
func (t *Token) Queued() time.Duration { return t.queued }

type waiter struct {
	ready      chan *Token // buffered(1): the grant never blocks the releaser
	enqueuedAt time.Time
	elem       *list.Element
	granted    bool
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Capacity   int           `json:"capacity"`
	Active     int           `json:"active"`
	Queued     int           `json:"queued"`
	OldestWait time.Duration `json:"oldest_wait_ns"`
	Granted    uint64        `json:"granted"`
	TimedOut   uint64        `json:"timed_out"`
}

// Manager owns the slot counter and the wait queue. All fields are guarded
// by mu; the queue is only drained with mu held so a release racing an
// acquire can never dispatch the same slot twice.
type Manager struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	active   int
	queue    *list.List // of *waiter, oldest first
	seq      uint64
	granted  uint64
	timedOut uint64
}

// New creates a Manager.
func New(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{
		cfg:   cfg,
		now:   time.Now,
		queue: list.New(),
	}
}

// Capacity returns the configured maximum.
func (m *Manager) Capacity() int { return m.cfg.Capacity }

// Acquire returns a token immediately when capacity allows, otherwise it
// queues until a slot is handed over, the wait budget elapses
// (ErrQueueTimeout) or ctx is done.
func (m *Manager) Acquire(ctx context.Context) (*Token, error) {
	m.mu.Lock()
	if m.active < m.cfg.Capacity && m.queue.Len() == 0 {
		m.active++
		tok := m.newTokenLocked(0)
		m.mu.Unlock()
		return tok, nil
	}

	w := &waiter{
		ready:      make(chan *Token, 1),
		enqueuedAt: m.now(),
	}
	w.elem = m.queue.PushBack(w)
	queued := m.queue.Len()
	m.mu.Unlock()

	m.cfg.Logger.InfoContext(ctx, "slots: request queued",
		"position", queued, "active", m.activeCount(), "capacity", m.cfg.Capacity)

	timer := time.NewTimer(m.cfg.Wait)
	defer timer.Stop()

	select {
	case tok := <-w.ready:
		return tok, nil
	case <-timer.C:
		return m.abandon(ctx, w, ErrQueueTimeout)
	case <-ctx.Done():
		return m.abandon(ctx, w, ctx.Err())
	}
}

// abandon removes w from the queue unless a grant already reached it, in
// which case the grant wins and the token is returned.
func (m *Manager) abandon(ctx context.Context, w *waiter, cause error) (*Token, error) {
	m.mu.Lock()
	if w.granted {
		m.mu.Unlock()
		return <-w.ready, nil
	}
	m.queue.Remove(w.elem)
	if errors.Is(cause, ErrQueueTimeout) {
		m.timedOut++
	}
	m.mu.Unlock()

	m.cfg.Logger.WarnContext(ctx, "slots: queued request abandoned",
		"waited", m.now().Sub(w.enqueuedAt), "error", cause)
	return nil, cause
}

// Release returns a token. Releasing nil, a foreign token or an already
// released token logs a warning and leaves the counters untouched.
func (m *Manager) Release(tok *Token) {
	if tok == nil {
		m.cfg.Logger.Warn("slots: release of nil token")
		return
	}

	m.mu.Lock()
	if tok.owner != m || tok.released {
		m.mu.Unlock()
		m.cfg.Logger.Warn("slots: release without matching acquire", "token", tok.id)
		return
	}
	tok.released = true
	m.active--
	m.drainLocked()
	m.mu.Unlock()
}

// drainLocked grants queued waiters in FIFO order while capacity allows.
// Must be called with mu held.
func (m *Manager) drainLocked() {
	for m.active < m.cfg.Capacity && m.queue.Len() > 0 {
		front := m.queue.Front()
		w := m.queue.Remove(front).(*waiter)
		m.active++
		w.granted = true
		w.ready <- m.newTokenLocked(m.now().Sub(w.enqueuedAt))
	}
}

func (m *Manager) newTokenLocked(queued time.Duration) *Token {
	m.seq++
	m.granted++
	return &Token{id: m.seq, owner: m, queued: queued}
}

func (m *Manager) activeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Capacity: m.cfg.Capacity,
		Active:   m.active,
		Queued:   m.queue.Len(),
		Granted:  m.granted,
		TimedOut: m.timedOut,
	}
	if front := m.queue.Front(); front != nil {
		s.OldestWait = m.now().Sub(front.Value.(*waiter).enqueuedAt)
	}
	return s
}
