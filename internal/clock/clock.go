// Package clock abstracts wall-clock time so the decision path can be
// driven deterministically in tests. Production code uses System; tests
// substitute a manual clock.
package clock

import "time"

// Clock is the time source injected into every component that makes
// time-based decisions (entry windows, cooldowns, spend windows, deadlines).
type Clock interface {
	Now() time.Time
}

// System reads the real wall clock.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}
