package engine

import "time"

// Clock supplies the current time to the engine and the components it wires.
// Implemented by SystemClock in production and testutil.FakeClock in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
