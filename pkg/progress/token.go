// Package progress tracks completion and cooperative cancellation of one
// in-flight job.
package progress

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

const (
	barFilled = "█"
	barEmpty  = "░"
)

// State is the coarse lifecycle of a token
type State string

const (
	StateWaiting   State = "waiting"
	StateRunning   State = "running"
	StateCancelled State = "cancelled"
	StateComplete  State = "complete"
)

// Token is shared between the job that owns it and any observers. Only the
// owner mutates the counters; Cancel may be called from anywhere. Cancelled
// and complete never revert to false.
type Token struct {
	total     atomic.Int64
	completed atomic.Int64
	cancelled atomic.Bool
	complete  atomic.Bool
	started   atomic.Int64 // unix nanos, 0 until the first increment
}

// NewToken creates an empty token
func NewToken() *Token {
	return &Token{}
}

// AddTotal raises the number of expected increments
func (t *Token) AddTotal(n int) {
	if n <= 0 {
		return
	}
	t.started.CompareAndSwap(0, time.Now().UnixNano())
	t.total.Add(int64(n))
}

// Increment records one finished unit of work
func (t *Token) Increment() {
	t.started.CompareAndSwap(0, time.Now().UnixNano())
	t.completed.Add(1)
}

// Cancel requests cooperative cancellation
func (t *Token) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// Complete marks the work finished, whatever the outcome
func (t *Token) Complete() {
	t.complete.Store(true)
}

// IsComplete reports whether Complete was called
func (t *Token) IsComplete() bool {
	return t.complete.Load()
}

// State derives the lifecycle state
func (t *Token) State() State {
	switch {
	case t.complete.Load():
		return StateComplete
	case t.cancelled.Load():
		return StateCancelled
	case t.started.Load() != 0:
		return StateRunning
	default:
		return StateWaiting
	}
}

// Snapshot is a point-in-time copy of a token, safe to serialize
type Snapshot struct {
	Total     int64         `json:"total"`
	Completed int64         `json:"completed"`
	Cancelled bool          `json:"cancelled"`
	Complete  bool          `json:"complete"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Snapshot copies the current counters
func (t *Token) Snapshot() Snapshot {
	s := Snapshot{
		Total:     t.total.Load(),
		Completed: t.completed.Load(),
		Cancelled: t.cancelled.Load(),
		Complete:  t.complete.Load(),
	}
	if started := t.started.Load(); started != 0 {
		s.Elapsed = time.Since(time.Unix(0, started))
	}
	return s
}

// Fraction returns completed/total in [0, 1]. A complete token is 1.
func (s Snapshot) Fraction() float64 {
	if s.Complete {
		return 1
	}
	if s.Total <= 0 {
		return 0
	}
	f := float64(s.Completed) / float64(s.Total)
	if f > 1 {
		f = 1
	}
	return f
}

// Remaining estimates the time left from the average rate so far
func (s Snapshot) Remaining() time.Duration {
	if s.Complete || s.Completed == 0 || s.Total <= s.Completed {
		return 0
	}
	perUnit := s.Elapsed / time.Duration(s.Completed)
	return perUnit * time.Duration(s.Total-s.Completed)
}

// Bar renders a fixed-width progress bar with a counter
func (s Snapshot) Bar(width int) string {
	if width <= 0 {
		width = 20
	}
	filled := int(s.Fraction() * float64(width))
	bar := strings.Repeat(barFilled, filled) + strings.Repeat(barEmpty, width-filled)
	return fmt.Sprintf("[%s] %d/%d", bar, s.Completed, s.Total)
}
