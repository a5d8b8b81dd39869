// Package approval walks pending snapshot images and applies one decision
// to each: promote the actual image to baseline, discard it, or leave it
// pending for a later session.
package approval

import (
	"context"
	"fmt"

	"github.com/devicelab-dev/visual-runner/pkg/logger"
	"github.com/devicelab-dev/visual-runner/pkg/visual"
)

// Decision is the verdict for one pending image.
type Decision int

const (
	Approve Decision = iota // Actual replaces the baseline
	Reject                  // Actual is deleted, baseline untouched
	Defer                   // Both images untouched; stays pending
)

// String returns the string representation of Decision
func (d Decision) String() string {
	switch d {
	case Approve:
		return "approved"
	case Reject:
		return "rejected"
	case Defer:
		return "deferred"
	default:
		return "unknown"
	}
}

// ParseDecision accepts approve/reject/skip and their first letters.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "a", "approve", "approved":
		return Approve, nil
	case "r", "reject", "rejected":
		return Reject, nil
	case "s", "skip", "d", "defer", "deferred":
		return Defer, nil
	}
	return Defer, fmt.Errorf("unknown decision %q (want approve, reject or skip)", s)
}

// Decider chooses what to do with a pending image.
type Decider interface {
	Decide(p visual.Pending) (Decision, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(p visual.Pending) (Decision, error)

// Decide calls f.
func (f DeciderFunc) Decide(p visual.Pending) (Decision, error) {
	return f(p)
}

// Always returns a Decider that gives d for every image.
func Always(d Decision) Decider {
	return DeciderFunc(func(visual.Pending) (Decision, error) { return d, nil })
}

// Store is the snapshot storage the workflow mutates.
type Store interface {
	ListPending() ([]visual.Pending, error)
	Approve(name string) error
	Reject(name string) error
}

// Item is the applied outcome for one pending image.
type Item struct {
	Pending  visual.Pending
	Decision Decision
}

// Summary lists the snapshot names by decision.
type Summary struct {
	Approved []string
	Rejected []string
	Deferred []string
}

// Total returns the number of items decided.
func (s *Summary) Total() int {
	return len(s.Approved) + len(s.Rejected) + len(s.Deferred)
}

// Workflow applies decisions to pending images one at a time.
type Workflow struct {
	Store   Store
	Decider Decider
	Names   []string        // Restrict to these snapshots; empty means all
	OnApply func(item Item) // Called after each decision is persisted
}

// Run decides and applies every pending image in name order. Each decision
// is persisted before the next image is presented, so a failure part way
// leaves earlier decisions in place. The returned summary covers the items
// applied before any error.
func (w *Workflow) Run(ctx context.Context) (*Summary, error) {
	pending, err := w.Store.ListPending()
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	summary := &Summary{}
	for _, p := range w.filter(pending) {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		d, err := w.Decider.Decide(p)
		if err != nil {
			return summary, fmt.Errorf("decide %s: %w", p.Name, err)
		}
		if err := w.apply(p, d); err != nil {
			return summary, err
		}

		switch d {
		case Approve:
			summary.Approved = append(summary.Approved, p.Name)
		case Reject:
			summary.Rejected = append(summary.Rejected, p.Name)
		default:
			summary.Deferred = append(summary.Deferred, p.Name)
		}
		logger.Info("snapshot %s %s", p.Name, d)
		if w.OnApply != nil {
			w.OnApply(Item{Pending: p, Decision: d})
		}
	}
	return summary, nil
}

func (w *Workflow) apply(p visual.Pending, d Decision) error {
	switch d {
	case Approve:
		if err := w.Store.Approve(p.Name); err != nil {
			return fmt.Errorf("approve %s: %w", p.Name, err)
		}
	case Reject:
		if err := w.Store.Reject(p.Name); err != nil {
			return fmt.Errorf("reject %s: %w", p.Name, err)
		}
	case Defer:
	default:
		return fmt.Errorf("%s: invalid decision %d", p.Name, int(d))
	}
	return nil
}

func (w *Workflow) filter(pending []visual.Pending) []visual.Pending {
	if len(w.Names) == 0 {
		return pending
	}
	want := make(map[string]bool, len(w.Names))
	for _, n := range w.Names {
		want[n] = true
	}
	var out []visual.Pending
	for _, p := range pending {
		if want[p.Name] {
			out = append(out, p)
		}
	}
	return out
}
