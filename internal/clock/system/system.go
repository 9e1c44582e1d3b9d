// Package system reads the host clock.
package system

import "time"

// Clock stamps run records and progress events. Readings are UTC so ledger
// rows and event timestamps compare without zone conversion.
type Clock struct {
	now func() time.Time
}

// New returns a Clock backed by time.Now.
func New() *Clock {
	return &Clock{now: time.Now}
}

func (c *Clock) Now() time.Time {
	if c == nil || c.now == nil {
		return time.Now().UTC()
	}
	return c.now().UTC()
}
