package clock

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts wall time, monotonic time and timer scheduling so the
// engine can run against a mock in tests.
type Clock interface {
	Now() time.Time
	Monotonic() time.Duration
	// After schedules fn to run once after d on its own goroutine.
	After(d time.Duration, fn func()) Timer
	// Every schedules fn to run repeatedly every d until the ticker is stopped.
	Every(d time.Duration, fn func()) Ticker
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// Timer is a handle for a one-shot callback. Cancel is idempotent.
type Timer interface {
	Cancel()
}

// Ticker is a handle for a repeating callback. Stop is idempotent.
type Ticker interface {
	Stop()
}

// Real implements Clock on top of the time package.
type Real struct {
	start time.Time
}

func NewReal() *Real {
	return &Real{start: time.Now()}
}

func (r *Real) Now() time.Time {
	return time.Now()
}

func (r *Real) Monotonic() time.Duration {
	return time.Since(r.start)
}

func (r *Real) After(d time.Duration, fn func()) Timer {
	t := &realTimer{}
	t.timer = time.AfterFunc(d, fn)
	return t
}

func (r *Real) Every(d time.Duration, fn func()) Ticker {
	t := &realTicker{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-t.ticker.C:
				fn()
			case <-t.done:
				return
			}
		}
	}()
	return t
}

func (r *Real) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type realTimer struct {
	once  sync.Once
	timer *time.Timer
}

func (t *realTimer) Cancel() {
	t.once.Do(func() {
		t.timer.Stop()
	})
}

type realTicker struct {
	once   sync.Once
	ticker *time.Ticker
	done   chan struct{}
}

func (t *realTicker) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}
