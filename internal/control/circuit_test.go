package control

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	c := NewCircuitBreaker(2, 100*time.Millisecond)
	now := time.Now()

	if c.State() != CircuitClosed {
		t.Fatalf("expected closed, got %s", c.State())
	}

	if c.RecordFailure(ClassNetwork, now) {
		t.Fatal("first failure must not open the breaker")
	}
	if c.State() != CircuitClosed {
		t.Fatalf("expected closed after first failure, got %s", c.State())
	}

	if !c.RecordFailure(ClassNetwork, now) {
		t.Fatal("expected threshold failure to report opening")
	}
	if c.State() != CircuitOpen {
		t.Fatalf("expected open after threshold failures, got %s", c.State())
	}
	if c.OpenedClass() != ClassNetwork {
		t.Fatalf("expected opened class %s, got %s", ClassNetwork, c.OpenedClass())
	}
	if got := c.Remaining(now.Add(40 * time.Millisecond)); got != 60*time.Millisecond {
		t.Fatalf("expected 60ms remaining, got %s", got)
	}

	if c.Allow(now.Add(10 * time.Millisecond)) {
		t.Fatal("expected deny while cooldown not elapsed")
	}
	if !c.Allow(now.Add(120 * time.Millisecond)) {
		t.Fatal("expected allow after cooldown")
	}
	if c.State() != CircuitHalfOpen {
		t.Fatalf("expected half_open, got %s", c.State())
	}

	if !c.RecordSuccess() {
		t.Fatal("expected probe success to report recovery")
	}
	if c.State() != CircuitClosed {
		t.Fatalf("expected closed after probe success, got %s", c.State())
	}
	if c.RecordSuccess() {
		t.Fatal("success while closed must not report recovery")
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	c := NewCircuitBreaker(1, time.Second)
	now := time.Now()

	c.RecordFailure(ClassTimeout, now)
	if !c.Allow(now.Add(2 * time.Second)) {
		t.Fatal("expected probe to be allowed")
	}
	if !c.RecordFailure(ClassRejected, now.Add(2*time.Second)) {
		t.Fatal("failed probe should reopen")
	}
	if c.State() != CircuitOpen || c.OpenedClass() != ClassRejected {
		t.Fatalf("unexpected state %s class %s", c.State(), c.OpenedClass())
	}
}

func TestCircuitBreaker_ClassesCountedSeparately(t *testing.T) {
	c := NewCircuitBreaker(2, time.Second)
	now := time.Now()

	c.RecordFailure(ClassTimeout, now)
	c.RecordFailure(ClassNetwork, now)
	if c.State() != CircuitClosed {
		t.Fatalf("mixed classes should not open, got %s", c.State())
	}
	c.RecordSuccess()
	c.RecordFailure(ClassTimeout, now)
	if c.State() != CircuitClosed {
		t.Fatal("success should reset failure counts")
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	c := NewCircuitBreaker(0, 0)
	if c.Threshold != 5 || c.Cooldown != 30*time.Second {
		t.Fatalf("unexpected defaults threshold=%d cooldown=%s", c.Threshold, c.Cooldown)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyPollError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ClassUnknown},
		{fmt.Errorf("telegram getUpdates request failed: %w", context.DeadlineExceeded), ClassTimeout},
		{fmt.Errorf("wrapped: %w", timeoutErr{}), ClassTimeout},
		{errors.New("telegram getUpdates rejected: code=401 Unauthorized"), ClassRejected},
		{errors.New("telegram getUpdates request failed: connection refused"), ClassNetwork},
		{errors.New("something odd"), ClassUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyPollError(tt.err); got != tt.want {
			t.Errorf("ClassifyPollError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
