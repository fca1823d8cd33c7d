package crdt

import (
	"sync"
	"time"
)

// Clock выдает строго возрастающие временные метки в миллисекундах.
// Это гибрид часов Лампорта и физического времени: метка не меньше
// текущего времени и всегда больше предыдущей выданной или наблюдаемой.
type Clock struct {
	now  func() time.Time // источник физического времени (подменяется в тестах)
	last int64            // последняя выданная метка, ms
	mu   sync.Mutex
}

// NewClock creates a clock backed by the wall clock.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockWithSource creates a clock with the given time source.
func NewClockWithSource(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Tick returns the next timestamp in milliseconds: max(wall, last+1).
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.now().UnixMilli()
	if wall <= c.last {
		wall = c.last + 1
	}
	c.last = wall

	return c.last
}

// Now returns Tick as a time.Time.
func (c *Clock) Now() time.Time {
	return time.UnixMilli(c.Tick())
}

// Observe folds a remote timestamp into the clock so the next local
// Tick is strictly greater than anything seen.
func (c *Clock) Observe(remote int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remote > c.last {
		c.last = remote
	}
}
