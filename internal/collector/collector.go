// Package collector enforces the result limit of a run.
package collector

import (
	"sync"

	"github.com/maltedev/search-spider/internal/models"
)

// Collector accumulates records up to a limit. Offer is the only mutator
// and is safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	limit     int
	collected []models.Record
	done      bool
	dropped   int
	stop      chan struct{}
}

// New returns a collector for limit records. A limit of zero is done from
// the start; a negative limit is treated as zero.
func New(limit int) *Collector {
	if limit < 0 {
		limit = 0
	}
	c := &Collector{
		limit: limit,
		stop:  make(chan struct{}),
	}
	if limit == 0 {
		c.finish()
	}
	return c
}

// Offer appends the record while below the limit. It returns false, and
// counts the record as dropped, once the limit has been reached.
func (c *Collector) Offer(rec models.Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		c.dropped++
		return false
	}

	c.collected = append(c.collected, rec)
	if len(c.collected) >= c.limit {
		c.finish()
	}
	return true
}

// finish must be called with mu held, or before the collector is shared.
func (c *Collector) finish() {
	if c.done {
		return
	}
	c.done = true
	close(c.stop)
}

// Stop is closed exactly once, when the limit is reached.
func (c *Collector) Stop() <-chan struct{} {
	return c.stop
}

func (c *Collector) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Collector) Limit() int {
	return c.limit
}

func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.collected)
}

func (c *Collector) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Records returns a copy of the collected records in acceptance order.
func (c *Collector) Records() []models.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Record, len(c.collected))
	copy(out, c.collected)
	return out
}
