package rum

import (
	"context"
	"maps"
	"sync"
)

// CWV accumulates Core Web Vitals measurements for one page view. Values are
// merged in as they arrive and never replaced wholesale.
type CWV struct {
	mu     sync.Mutex
	values map[string]float64
}

// NewCWV returns an empty accumulator.
func NewCWV() *CWV {
	return &CWV{values: make(map[string]float64)}
}

// Merge adds or updates the given metrics.
func (c *CWV) Merge(values map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	maps.Copy(c.values, values)
}

// Len reports how many metrics have been recorded.
func (c *CWV) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

// Snapshot returns a copy of the recorded metrics.
func (c *CWV) Snapshot() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.values)
}

// Listener returns a cwv checkpoint listener feeding the accumulator.
// Checkpoints without measurements are ignored.
func (c *CWV) Listener() Listener {
	return func(_ context.Context, data Data) error {
		if len(data.CWV) == 0 {
			return nil
		}
		c.Merge(data.CWV)
		return nil
	}
}
