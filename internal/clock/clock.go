// Package clock abstracts wall time and timers so background schedules
// (conversation expiry, deferred delivery retries, typing delays) can run
// against virtual time in tests.
package clock

import (
	"context"
	"time"
)

// Clock is the subset of time functionality used by the pipeline.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
	// AfterFunc runs f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Every calls fn each time interval elapses on clk, until ctx is done. The
// next interval starts once fn returns, so calls never overlap.
func Every(ctx context.Context, clk Clock, interval time.Duration, fn func()) {
	tick := make(chan struct{}, 1)
	arm := func() Timer {
		return clk.AfterFunc(interval, func() {
			select {
			case tick <- struct{}{}:
			default:
			}
		})
	}

	timer := arm()
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-tick:
			fn()
			timer = arm()
		}
	}
}
