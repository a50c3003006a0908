package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Mock is a manually advanced Clock for tests. Advance fires due callbacks
// synchronously on the calling goroutine, in deadline order.
type Mock struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	waiters []*mockWaiter
}

type mockWaiter struct {
	id       int
	at       time.Time
	interval time.Duration // zero for one-shot timers
	fn       func()
	stopped  bool
}

var mockEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func NewMock() *Mock {
	return &Mock{now: mockEpoch}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Mock) Monotonic() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now.Sub(mockEpoch)
}

func (m *Mock) After(d time.Duration, fn func()) Timer {
	return m.add(d, 0, fn)
}

func (m *Mock) Every(d time.Duration, fn func()) Ticker {
	return m.add(d, d, fn)
}

func (m *Mock) add(d, interval time.Duration, fn func()) *mockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &mockWaiter{id: m.nextID, at: m.now.Add(d), interval: interval, fn: fn}
	m.nextID++
	m.waiters = append(m.waiters, w)
	return &mockHandle{mock: m, waiter: w}
}

func (m *Mock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
	return nil
}

// Advance moves the clock forward and runs every callback whose deadline
// falls inside the window, in deadline order. Callbacks scheduled while
// advancing are honored if they are also due before the window ends.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		fn := m.popDue(target)
		if fn == nil {
			break
		}
		fn()
	}

	m.mu.Lock()
	if target.After(m.now) {
		m.now = target
	}
	m.mu.Unlock()
}

// popDue removes (or re-arms, for tickers) the earliest waiter due at or
// before target, sets the clock to its deadline, and returns its callback.
func (m *Mock) popDue(target time.Time) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.waiters[:0]
	for _, w := range m.waiters {
		if !w.stopped {
			live = append(live, w)
		}
	}
	m.waiters = live

	sort.SliceStable(m.waiters, func(i, j int) bool {
		if m.waiters[i].at.Equal(m.waiters[j].at) {
			return m.waiters[i].id < m.waiters[j].id
		}
		return m.waiters[i].at.Before(m.waiters[j].at)
	})

	if len(m.waiters) == 0 || m.waiters[0].at.After(target) {
		return nil
	}

	w := m.waiters[0]
	if w.at.After(m.now) {
		m.now = w.at
	}
	if w.interval > 0 {
		w.at = w.at.Add(w.interval)
	} else {
		m.waiters = m.waiters[1:]
	}
	return w.fn
}

type mockHandle struct {
	mock   *Mock
	waiter *mockWaiter
}

func (h *mockHandle) Cancel() { h.stop() }
func (h *mockHandle) Stop()   { h.stop() }

func (h *mockHandle) stop() {
	h.mock.mu.Lock()
	defer h.mock.mu.Unlock()
	h.waiter.stopped = true
}
