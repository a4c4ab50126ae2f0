// Package trigger decides whether a scheduled pipeline is due to run.
package trigger

import (
	"fmt"
	"time"

	robcron "github.com/robfig/cron/v3"

	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/pipeline"
	"github.com/michaelbracke25100/DLWR-DGSA-ca-data-platform-api/pkg/runstore"
)

// DefaultWindow is how far back the most recent cron occurrence may lie.
const DefaultWindow = time.Hour

// Reason explains a decision.
type Reason string

const (
	ReasonDue            Reason = "due"
	ReasonNotSchedulable Reason = "not_schedulable"
	ReasonNoOccurrence   Reason = "no_occurrence_in_window"
	ReasonAlreadyRan     Reason = "already_ran_since_occurrence"
	ReasonInFlight       Reason = "previous_run_in_flight"
)

// Decision is the outcome of evaluating one pipeline.
type Decision struct {
	Due      bool
	Reason   Reason
	PrevTick time.Time
}

// Evaluator applies the due rules to a pipeline and its latest run.
type Evaluator struct {
	window time.Duration
	parser robcron.Parser
}

func NewEvaluator(window time.Duration) *Evaluator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Evaluator{
		window: window,
		parser: robcron.NewParser(robcron.Minute | robcron.Hour | robcron.Dom | robcron.Month | robcron.Dow | robcron.Descriptor),
	}
}

func (e *Evaluator) Window() time.Duration {
	return e.window
}

// Parse validates a five-field cron expression.
func (e *Evaluator) Parse(expr string) (robcron.Schedule, error) {
	sched, err := e.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return sched, nil
}

// Evaluate reports whether p is due at now. latest is the pipeline's most
// recent run or nil when it never ran.
//
// A pipeline is due when its latest cron occurrence before now lies within
// the window, it has not completed a run since that occurrence, and its
// previous run is not in flight.
func (e *Evaluator) Evaluate(p pipeline.Pipeline, latest *runstore.Run, now time.Time) (Decision, error) {
	if !p.Schedulable() {
		return Decision{Reason: ReasonNotSchedulable}, nil
	}

	sched, err := e.Parse(p.Cron)
	if err != nil {
		return Decision{}, err
	}

	prev, ok := PrevTick(sched, now, e.window)
	if !ok {
		return Decision{Reason: ReasonNoOccurrence}, nil
	}

	if latest != nil {
		if latest.State.InFlight() {
			return Decision{Reason: ReasonInFlight, PrevTick: prev}, nil
		}
		if latest.EndTime == nil || !prev.After(*latest.EndTime) {
			return Decision{Reason: ReasonAlreadyRan, PrevTick: prev}, nil
		}
	}

	return Decision{Due: true, Reason: ReasonDue, PrevTick: prev}, nil
}

// PrevTick returns the most recent occurrence of sched strictly before now,
// looking back at most window.
func PrevTick(sched robcron.Schedule, now time.Time, window time.Duration) (time.Time, bool) {
	var prev time.Time
	found := false

	// Next never returns its argument, so start one nanosecond early to
	// include an occurrence exactly at the window start.
	cursor := now.Add(-window).Add(-time.Nanosecond)
	for {
		next := sched.Next(cursor)
		if next.IsZero() || !next.Before(now) {
			break
		}
		prev = next
		found = true
		cursor = next
	}
	return prev, found
}
