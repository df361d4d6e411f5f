// Package system provides a real clock implementation.
package system

import "time"

// Clock implements collector.Clock using the wall clock. Times are UTC so
// the collection-window arithmetic is independent of the host timezone.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
