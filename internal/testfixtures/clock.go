package testfixtures

import (
	"time"

	"github.com/benbjohnson/clock"
)

// NewClock returns a mock clock set to start. When start is the zero value,
// the shared ReferenceTime is used. The mock only moves when the test calls
// Add or Set.
func NewClock(start time.Time) *clock.Mock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	c := clock.NewMock()
	c.Set(start)
	return c
}
