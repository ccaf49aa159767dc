// Package traffic keeps a sliding window of forecast request outcomes.
// Health reporting and the window gauges read from it.
package traffic

import (
	"sync"
	"time"

	"github.com/kjstillabower/forecast-service/internal/models"
)

// Outcome classifies one handled request.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeFailure is an upstream-side failure (timeout, network, status, parse, merge).
	OutcomeFailure
	// OutcomeRejected is an invalid request; it does not count against error rate.
	OutcomeRejected
	// OutcomeDenied is a rate-limit denial (429).
	OutcomeDenied
)

// retention bounds how long events are kept regardless of the windows queried.
const retention = 5 * time.Minute

var defaultTracker Tracker

// Record records an outcome on the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// RecordResult records the outcome implied by a terminal Result.
func RecordResult(r models.Result) {
	defaultTracker.Record(OutcomeOf(r))
}

// RequestCount returns the number of outcomes of any kind within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.Count(OutcomeDenied, window)
}

// ErrorRate returns (failures, failures+successes) within the window.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// OutcomeOf maps a terminal Result to an Outcome.
func OutcomeOf(r models.Result) Outcome {
	if r.Err == nil {
		return OutcomeSuccess
	}
	if r.Err.Kind == models.KindInvalidRequest {
		return OutcomeRejected
	}
	return OutcomeFailure
}

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker holds time-ordered outcome events. The zero value is ready to use.
type Tracker struct {
	mu     sync.Mutex
	events []event
	now    func() time.Time
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// Record appends an outcome and prunes events older than the retention period.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// RequestCount returns the number of events within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	n := 0
	for _, e := range t.events {
		if !e.at.Before(cutoff) {
			n++
		}
	}
	return n
}

// Count returns the number of events of one outcome within the window.
func (t *Tracker) Count(o Outcome, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	n := 0
	for _, e := range t.events {
		if e.outcome == o && !e.at.Before(cutoff) {
			n++
		}
	}
	return n
}

// ErrorRate returns (failures, failures+successes) within the window.
// Rejections and denials are excluded.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	for _, e := range t.events {
		if e.at.Before(cutoff) {
			continue
		}
		switch e.outcome {
		case OutcomeFailure:
			errors++
			total++
		case OutcomeSuccess:
			total++
		}
	}
	return errors, total
}

// Reset clears all recorded events.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// pruneLocked drops events older than retention. Events are appended in time order.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
