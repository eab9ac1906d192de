// Package stats tracks process-wide usage counters reported by /stats.
package stats

import (
	"sync"
	"time"
)

// Counters is safe for concurrent use. One instance is created per process
// and injected wherever it is updated.
type Counters struct {
	mu            sync.Mutex
	startedAt     time.Time
	totalMessages int64
	totalErrors   int64
	errorsByKind  map[string]int64
	knownUsers    map[int64]struct{}
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	StartedAt     time.Time
	TotalMessages int64
	TotalErrors   int64
	ErrorsByKind  map[string]int64
	KnownUsers    int
}

// Uptime returns the time elapsed between StartedAt and now, rounded down
// to whole seconds.
func (s Snapshot) Uptime(now time.Time) time.Duration {
	return now.Sub(s.StartedAt).Truncate(time.Second)
}

// New returns counters whose start time is startedAt.
func New(startedAt time.Time) *Counters {
	return &Counters{
		startedAt:    startedAt,
		errorsByKind: map[string]int64{},
		knownUsers:   map[int64]struct{}{},
	}
}

// RecordMessage counts one inbound message.
func (c *Counters) RecordMessage() {
	c.mu.Lock()
	c.totalMessages++
	c.mu.Unlock()
}

// RecordError counts one failure of the given kind.
func (c *Counters) RecordError(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	c.mu.Lock()
	c.totalErrors++
	c.errorsByKind[kind]++
	c.mu.Unlock()
}

// AddUser registers userID and reports whether it was new.
func (c *Counters) AddUser(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.knownUsers[userID]; ok {
		return false
	}
	c.knownUsers[userID] = struct{}{}
	return true
}

// Snapshot copies the current values.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	byKind := make(map[string]int64, len(c.errorsByKind))
	for k, v := range c.errorsByKind {
		byKind[k] = v
	}
	return Snapshot{
		StartedAt:     c.startedAt,
		TotalMessages: c.totalMessages,
		TotalErrors:   c.totalErrors,
		ErrorsByKind:  byKind,
		KnownUsers:    len(c.knownUsers),
	}
}
