// Package control guards the poll loop against a failing command source.
package control

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Poll failure classes. Failures are counted per class.
const (
	ClassTimeout  = "poll_timeout"
	ClassRejected = "poll_rejected"
	ClassNetwork  = "poll_network"
	ClassUnknown  = "unknown"
)

// CircuitBreaker counts consecutive failures per class and opens once any
// class reaches Threshold. It is not safe for concurrent use; the poll
// loop owns it.
type CircuitBreaker struct {
	Threshold int
	Cooldown  time.Duration

	state       CircuitState
	failures    map[string]int
	openedAt    time.Time
	openedClass string
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		state:     CircuitClosed,
		failures:  map[string]int{},
	}
}

func (c *CircuitBreaker) State() CircuitState {
	return c.state
}

// Allow reports whether a poll may run at now. An open breaker turns
// half-open once the cooldown has elapsed and lets one probe through.
func (c *CircuitBreaker) Allow(now time.Time) bool {
	if c.state != CircuitOpen {
		return true
	}
	if now.Sub(c.openedAt) >= c.Cooldown {
		c.state = CircuitHalfOpen
		return true
	}
	return false
}

// Remaining is how long an open breaker will keep refusing polls.
func (c *CircuitBreaker) Remaining(now time.Time) time.Duration {
	if c.state != CircuitOpen {
		return 0
	}
	if left := c.Cooldown - now.Sub(c.openedAt); left > 0 {
		return left
	}
	return 0
}

// RecordSuccess closes the breaker and reports whether it was not closed
// before.
func (c *CircuitBreaker) RecordSuccess() bool {
	recovered := c.state != CircuitClosed
	c.state = CircuitClosed
	c.openedClass = ""
	clear(c.failures)
	return recovered
}

// RecordFailure counts a failure of errClass and reports whether this
// failure opened the breaker. A failed half-open probe reopens it at once.
func (c *CircuitBreaker) RecordFailure(errClass string, now time.Time) bool {
	if errClass == "" {
		errClass = ClassUnknown
	}
	switch c.state {
	case CircuitOpen:
		return false
	case CircuitHalfOpen:
		c.open(errClass, now)
		return true
	}
	c.failures[errClass]++
	if c.failures[errClass] >= c.Threshold {
		c.open(errClass, now)
		return true
	}
	return false
}

func (c *CircuitBreaker) open(errClass string, now time.Time) {
	c.state = CircuitOpen
	c.openedAt = now
	c.openedClass = errClass
}

func (c *CircuitBreaker) OpenedClass() string {
	return c.openedClass
}

// ClassifyPollError buckets a GetUpdates error into a failure class.
func ClassifyPollError(err error) string {
	if err == nil {
		return ClassUnknown
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return ClassTimeout
	case strings.Contains(err.Error(), "rejected"):
		return ClassRejected
	case errors.As(err, &netErr), strings.Contains(err.Error(), "request failed"):
		return ClassNetwork
	default:
		return ClassUnknown
	}
}
