package dispatch

import "sync/atomic"

// Counter counts completed uploads. Safe for concurrent use.
type Counter struct {
	n atomic.Int64
}

// Inc adds one and returns the new total.
func (c *Counter) Inc() int64 {
	return c.n.Add(1)
}

// Load returns the current total.
func (c *Counter) Load() int64 {
	return c.n.Load()
}
