package actions

import (
	"context"
	"net/http"
	"time"

	"github.com/devicelab-dev/visual-runner/pkg/core"
	"github.com/devicelab-dev/visual-runner/pkg/driver"
	"github.com/devicelab-dev/visual-runner/pkg/jsengine"
	"github.com/devicelab-dev/visual-runner/pkg/visual"
)

// Context is everything an action may touch while one run unit executes.
// A new Context is built for every attempt.
type Context struct {
	Ctx     context.Context
	Session driver.Session
	State   *State
	Visual  *visual.Checker // nil disables screenshot checks
	HTTP    *http.Client
	UnitID  string
	Timeout time.Duration // Element wait timeout
}

// NewContext creates a Context with fresh state.
func NewContext(ctx context.Context, session driver.Session) *Context {
	return &Context{
		Ctx:     ctx,
		Session: session,
		State:   NewState(),
		HTTP:    http.DefaultClient,
		Timeout: driver.DefaultTimeout,
	}
}

func (sc *Context) context() context.Context {
	if sc.Ctx == nil {
		return context.Background()
	}
	return sc.Ctx
}

// State is the mutable per-attempt interpreter state shared by steps.
type State struct {
	LastResponse *jsengine.HTTPResponse
	PerfSamples  []time.Duration
	Visual       []*visual.CheckResult
	Warnings     []string
}

// NewState creates empty state.
func NewState() *State {
	return &State{}
}

// Warn records a non-fatal note.
func (s *State) Warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// Perf summarizes the latency samples recorded so far.
func (s *State) Perf() *core.PerfStats {
	return core.ComputePerfStats(s.PerfSamples)
}

// LastVisual returns the most recent screenshot check, if any.
func (s *State) LastVisual() *visual.CheckResult {
	if len(s.Visual) == 0 {
		return nil
	}
	return s.Visual[len(s.Visual)-1]
}
