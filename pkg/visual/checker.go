package visual

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/devicelab-dev/visual-runner/pkg/core"
	"github.com/devicelab-dev/visual-runner/pkg/logger"
)

// Outcome is the verdict of a screenshot check.
type Outcome int

const (
	OutcomeMatch         Outcome = iota // Identical within threshold
	OutcomeMismatch                     // Pixels differ; actual and diff saved
	OutcomeNewBaseline                  // No baseline existed; capture saved as baseline
	OutcomeIndeterminate                // Dimensions differ; no verdict
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeMatch:
		return "match"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeNewBaseline:
		return "new baseline"
	case OutcomeIndeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

// CheckResult describes one screenshot check.
type CheckResult struct {
	Name         string
	Outcome      Outcome
	DiffPixels   int
	BaselinePath string
	ActualPath   string
	DiffPath     string
	Reason       error // Why the outcome is indeterminate
}

// Checker applies baseline semantics to captured screenshots.
type Checker struct {
	Store   *Store
	Options Options

	locks sync.Map // snapshot name -> *sync.Mutex
}

// NewChecker creates a Checker using the default threshold.
func NewChecker(store *Store) *Checker {
	return &Checker{Store: store, Options: Options{Threshold: DefaultThreshold}}
}

// lock serializes checks for one snapshot name, since units in the same
// batch may capture the same snapshot.
func (c *Checker) lock(name string) func() {
	v, _ := c.locks.LoadOrStore(name, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Check compares a captured PNG with the baseline for name.
//
// Without a baseline the capture becomes the baseline. On mismatch the
// capture is saved as the pending actual together with a diff. On match any
// stale actual is removed. Differing dimensions give OutcomeIndeterminate
// and persist nothing. The error is reserved for I/O and decode failures.
func (c *Checker) Check(name string, data []byte) (*CheckResult, error) {
	defer c.lock(name)()

	res := &CheckResult{Name: name, BaselinePath: c.Store.BaselinePath(name)}

	candidate, err := decodePNG(data)
	if err != nil {
		return nil, err
	}

	baseline, err := c.Store.LoadBaseline(name)
	if errors.Is(err, ErrBaselineNotFound) {
		if _, err := c.Store.SaveBaseline(name, data); err != nil {
			return nil, fmt.Errorf("save baseline %q: %w", name, err)
		}
		res.Outcome = OutcomeNewBaseline
		logger.Info("snapshot %s: new baseline created", name)
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	cmp, err := Compare(baseline, candidate, c.Options)
	if err != nil {
		if errors.Is(err, core.ErrDimensionMismatch) {
			res.Outcome = OutcomeIndeterminate
			res.Reason = err
			logger.Warn("snapshot %s: %v", name, err)
			return res, nil
		}
		return nil, err
	}

	if cmp.Match() {
		res.Outcome = OutcomeMatch
		if err := c.Store.DeleteActual(name); err != nil && !errors.Is(err, ErrActualNotFound) {
			logger.Warn("snapshot %s: could not remove stale actual: %v", name, err)
		}
		return res, nil
	}

	res.Outcome = OutcomeMismatch
	res.DiffPixels = cmp.DiffPixels
	if res.ActualPath, err = c.Store.SaveActual(name, data); err != nil {
		return nil, fmt.Errorf("save actual %q: %w", name, err)
	}
	if res.DiffPath, err = c.Store.SaveDiff(name, cmp.Diff); err != nil {
		return nil, fmt.Errorf("save diff %q: %w", name, err)
	}
	logger.Info("snapshot %s: %d pixels differ (%.2f%%)", name, cmp.DiffPixels, cmp.Ratio()*100)
	return res, nil
}

// Enrich diffs a failure screenshot against the baseline for name without
// touching baselines or actuals. A nil result with no error means there
// was nothing to compare or nothing differed.
func (c *Checker) Enrich(name string, data []byte) (*CheckResult, error) {
	defer c.lock(name)()

	candidate, err := decodePNG(data)
	if err != nil {
		return nil, err
	}
	baseline, err := c.Store.LoadBaseline(name)
	if err != nil {
		return nil, err
	}
	cmp, err := Compare(baseline, candidate, c.Options)
	if err != nil {
		return nil, err
	}
	if cmp.Match() {
		return nil, nil
	}

	diffPath, err := c.Store.SaveDiff(name, cmp.Diff)
	if err != nil {
		return nil, err
	}
	return &CheckResult{
		Name:         name,
		Outcome:      OutcomeMismatch,
		DiffPixels:   cmp.DiffPixels,
		BaselinePath: c.Store.BaselinePath(name),
		DiffPath:     diffPath,
	}, nil
}

func decodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}
