// Package clock centralizes time access so the scanner, reminder
// scheduler, and SOS coordinator can be driven by a frozen clock in
// tests instead of the wall clock. Every suspension point in those
// components reads "now" through this interface rather than calling
// time.Now directly.
package clock

import "time"

// Clock abstracts the passage of time.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker abstracts time.Ticker so it can be faked in tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the production Clock backed by the operating system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
