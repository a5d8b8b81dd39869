package executor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/visual-runner/pkg/actions"
	"github.com/devicelab-dev/visual-runner/pkg/config"
	"github.com/devicelab-dev/visual-runner/pkg/core"
	"github.com/devicelab-dev/visual-runner/pkg/data"
	"github.com/devicelab-dev/visual-runner/pkg/driver/mock"
	"github.com/devicelab-dev/visual-runner/pkg/flow"
	"github.com/devicelab-dev/visual-runner/pkg/visual"
)

// rowsSource serves rows from memory; unknown references fail to load.
type rowsSource map[string][]data.Row

func (s rowsSource) LoadRows(ref string) ([]data.Row, error) {
	rows, ok := s[ref]
	if !ok {
		return nil, errors.New("open " + ref + ": no such file")
	}
	return rows, nil
}

func step(action string, params ...string) flow.Step {
	return flow.Step{Action: action, Params: params}
}

func template(id string, steps ...flow.Step) *flow.Template {
	return &flow.Template{ID: id, Steps: steps}
}

func testConfig(id, templateID string) *flow.TestConfig {
	return &flow.TestConfig{ID: id, TemplateID: templateID, Params: map[string]string{}}
}

type fixture struct {
	browser *mock.Browser
	deps    Deps
	cfg     RunnerConfig
}

func newFixture(t *testing.T, mcfg mock.Config, templates ...*flow.Template) *fixture {
	t.Helper()
	b := mock.New(mcfg)
	return &fixture{
		browser: b,
		deps: Deps{
			Browser:   b,
			Templates: flow.NewMemoryStore(templates...),
			Actions:   actions.NewBuiltinRegistry(),
		},
		cfg: RunnerConfig{
			OutputDir: t.TempDir(),
			Env:       config.NewEnv(nil),
			Timeout:   time.Second,
		},
	}
}

func (f *fixture) run(t *testing.T, configs ...*flow.TestConfig) *RunResult {
	t.Helper()
	res, err := New(f.deps, f.cfg).Run(context.Background(), configs)
	require.NoError(t, err)
	return res
}

func TestScenarioA_SingleUnitPasses(t *testing.T) {
	f := newFixture(t, mock.Config{
		Pages: map[string]mock.Page{"https://shop.test/": {Visible: []string{"Welcome"}}},
	}, template("home",
		step("navigate", "https://shop.test/"),
		step("click", "#accept"),
		step("assertVisible", "Welcome"),
	))

	run := f.run(t, testConfig("home-page", "home"))

	require.Len(t, run.Results, 1)
	res := run.Results[0]
	assert.Equal(t, core.StatusPassed, res.Status)
	assert.Empty(t, res.Error)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "home-page", res.ID)
	assert.Equal(t, []string{"home"}, res.Templates)
	assert.False(t, res.Flaky)
	assert.Equal(t, core.StatusPassed, run.Status)
	assert.Equal(t, 1, run.Summary.Passed)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, 1, f.browser.Closed())
}

func TestScenarioB_RowsRetryIndependently(t *testing.T) {
	f := newFixture(t, mock.Config{
		Fail: func(c mock.Call) error {
			if c.Op == "click" && c.Arg == "#broken" {
				return errors.New("element not found")
			}
			return nil
		},
	}, template("login",
		step("navigate", "https://app.test/login"),
		step("click", "{{button}}"),
	))
	f.deps.Data = rowsSource{"users.csv": {{"button": "#broken"}, {"button": "#submit"}}}
	f.cfg.MaxRetries = 1

	cfg := testConfig("login", "login")
	cfg.Data = "users.csv"
	run := f.run(t, cfg)

	require.Len(t, run.Results, 2)
	row1, row2 := run.Results[0], run.Results[1]

	assert.Equal(t, "login#1", row1.ID)
	assert.Equal(t, core.StatusFailed, row1.Status)
	assert.Equal(t, 2, row1.Attempts)
	assert.Equal(t, 2, row1.FailedStep)
	assert.Contains(t, row1.Error, "click: element not found")
	assert.Len(t, row1.RetryErrors, 1)
	assert.FileExists(t, row1.ScreenshotPath)
	assert.Equal(t, filepath.Join(f.cfg.OutputDir, "screenshots"), filepath.Dir(row1.ScreenshotPath))

	assert.Equal(t, "login#2", row2.ID)
	assert.Equal(t, core.StatusPassed, row2.Status)
	assert.Equal(t, 1, row2.Attempts)
	assert.Equal(t, 1, row2.RowIndex)

	assert.Equal(t, core.StatusFailed, run.Status)
	assert.Equal(t, 3, f.browser.Opened())
	assert.Equal(t, 3, f.browser.Closed())
}

func TestRowValuesOverrideDefaults(t *testing.T) {
	f := newFixture(t, mock.Config{}, template("search", step("fill", "#q", "{{term}}")))
	f.deps.Data = rowsSource{"terms.json": {{"term": "boots"}, {}}}

	cfg := testConfig("search", "search")
	cfg.Params = map[string]string{"term": "default"}
	cfg.Data = "terms.json"
	f.run(t, cfg)

	sessions := f.browser.Sessions()
	require.Len(t, sessions, 2)
	values := []string{sessions[0].Value("#q"), sessions[1].Value("#q")}
	assert.ElementsMatch(t, []string{"boots", "default"}, values)
}

func TestDataRefResolvesAgainstConfigFile(t *testing.T) {
	var got string
	f := newFixture(t, mock.Config{}, template("t", step("wait", "0")))
	f.deps.Data = sourceFunc(func(ref string) ([]data.Row, error) {
		got = ref
		return []data.Row{{}}, nil
	})

	cfg := testConfig("c", "t")
	cfg.SourcePath = filepath.Join("suite", "tests", "c.yaml")
	cfg.Data = "rows.csv"
	f.run(t, cfg)
	assert.Equal(t, filepath.Join("suite", "tests", "rows.csv"), got)
}

type sourceFunc func(ref string) ([]data.Row, error)

func (f sourceFunc) LoadRows(ref string) ([]data.Row, error) { return f(ref) }

func TestAlwaysFailingUnitAttemptsAndCloses(t *testing.T) {
	for _, retries := range []int{0, 1, 3} {
		f := newFixture(t, mock.Config{FailOnStep: 1}, template("t", step("click", "#x")))
		f.cfg.MaxRetries = retries

		run := f.run(t, testConfig("c", "t"))

		require.Len(t, run.Results, 1, "retries=%d", retries)
		assert.Equal(t, retries+1, run.Results[0].Attempts)
		assert.Equal(t, retries+1, run.Results[0].MaxAttempts)
		assert.Equal(t, retries+1, f.browser.Opened())
		assert.Equal(t, retries+1, f.browser.Closed())
		assert.Len(t, run.Results[0].RetryErrors, retries)
	}
}

func TestFlakyPassOnRetry(t *testing.T) {
	f := newFixture(t, mock.Config{
		Fail: func(c mock.Call) error {
			if c.Session == 1 {
				return errors.New("detached")
			}
			return nil
		},
	}, template("t", step("click", "#x")))
	f.cfg.MaxRetries = 2

	run := f.run(t, testConfig("c", "t"))
	res := run.Results[0]
	assert.Equal(t, core.StatusPassed, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.True(t, res.Flaky)
	assert.Empty(t, res.Error)
	assert.Equal(t, 1, run.Summary.Flaky)
}

func TestConfigErrorsAreNotRetried(t *testing.T) {
	f := newFixture(t, mock.Config{}, template("t",
		step("navigate", "https://app.test/"),
		step("fill", "#key", "{{env.API_KEY}}"),
	))
	f.cfg.MaxRetries = 3

	run := f.run(t, testConfig("c", "t"))
	res := run.Results[0]
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Equal(t, core.ErrCategoryConfig, res.Category)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, res.Error, "API_KEY")
	assert.Equal(t, 1, f.browser.Closed())

	calls := f.browser.Sessions()[0].Calls()
	for _, c := range calls {
		assert.NotEqual(t, "fill", c.Op, "fill must not reach the browser")
	}
}

func TestUnknownActionFails(t *testing.T) {
	f := newFixture(t, mock.Config{}, template("t", step("hover", "#menu")))
	f.cfg.MaxRetries = 2

	run := f.run(t, testConfig("c", "t"))
	res := run.Results[0]
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Contains(t, res.Error, `unknown action "hover"`)
	assert.Equal(t, core.ErrCategoryAction, res.Category)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, res.RetryErrors, 2)
	assert.Equal(t, 3, f.browser.Opened())
	assert.Equal(t, 3, f.browser.Closed())
}

func TestSessionFailureIsRetried(t *testing.T) {
	f := newFixture(t, mock.Config{SessionError: errors.New("browser crashed")}, template("t", step("wait", "0")))
	f.cfg.MaxRetries = 1

	run := f.run(t, testConfig("c", "t"))
	res := run.Results[0]
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, core.ErrCategoryConnection, res.Category)
	assert.Empty(t, res.ScreenshotPath)
}

func TestSyntheticFailures(t *testing.T) {
	f := newFixture(t, mock.Config{}, template("t", step("wait", "0")))
	f.deps.Data = rowsSource{"ok.csv": {{}, {}, {}}}

	missingData := testConfig("missing-data", "t")
	missingData.Data = "gone.csv"
	missingTemplate := testConfig("missing-template", "nope")
	invalid := &flow.TestConfig{ID: "invalid", TemplateID: "t"} // params absent
	good := testConfig("good", "t")
	good.Data = "ok.csv"

	run := f.run(t, missingData, missingTemplate, invalid, good)

	require.Len(t, run.Results, 6)
	byID := map[string]core.Result{}
	for _, r := range run.Results {
		byID[r.ID] = r
	}

	assert.Equal(t, core.StatusFailed, byID["missing-data"].Status)
	assert.Equal(t, core.ErrCategoryConfig, byID["missing-data"].Category)
	assert.Contains(t, byID["missing-data"].Error, "gone.csv")
	assert.Equal(t, 0, byID["missing-data"].Attempts)

	assert.Contains(t, byID["missing-template"].Error, `template "nope" not found`)
	assert.Equal(t, core.StatusFailed, byID["invalid"].Status)
	assert.Equal(t, core.ErrCategoryConfig, byID["invalid"].Category)

	for _, id := range []string{"good#1", "good#2", "good#3"} {
		assert.Equal(t, core.StatusPassed, byID[id].Status, id)
	}
	assert.Equal(t, 3, f.browser.Opened(), "only the good config opens sessions")

	ids := []string{}
	for _, r := range run.Results {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"missing-data", "missing-template", "invalid", "good#1", "good#2", "good#3"}, ids)
}

func TestConcurrencyBound(t *testing.T) {
	for _, k := range []int{1, 2, 3} {
		f := newFixture(t, mock.Config{StepDelay: 5 * time.Millisecond}, template("t",
			step("navigate", "https://a.test"),
			step("click", "#b"),
		))
		f.cfg.Concurrency = k

		configs := make([]*flow.TestConfig, 7)
		for i := range configs {
			configs[i] = testConfig(string(rune('a'+i)), "t")
		}
		run := f.run(t, configs...)

		assert.Len(t, run.Results, 7)
		assert.LessOrEqual(t, f.browser.Peak(), k, "k=%d", k)
		assert.Equal(t, 7, f.browser.Closed())
	}
}

func TestBatchBarrier(t *testing.T) {
	var mu sync.Mutex
	var order []string
	f := newFixture(t, mock.Config{
		Fail: func(c mock.Call) error {
			mu.Lock()
			order = append(order, c.Arg)
			mu.Unlock()
			if c.Arg == "slow" {
				time.Sleep(30 * time.Millisecond)
			}
			return nil
		},
	}, template("t", step("click", "{{sel}}")))
	f.cfg.Concurrency = 2

	mk := func(id, sel string) *flow.TestConfig {
		c := testConfig(id, "t")
		c.Params = map[string]string{"sel": sel}
		return c
	}
	f.run(t, mk("a", "slow"), mk("b", "fast"), mk("c", "next"))

	require.Len(t, order, 3)
	assert.Equal(t, "next", order[2], "third unit must wait for the whole first batch")
}

func TestCancelledRunSkipsUnits(t *testing.T) {
	f := newFixture(t, mock.Config{}, template("t", step("wait", "0")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := New(f.deps, f.cfg).Run(ctx, []*flow.TestConfig{testConfig("a", "t"), testConfig("b", "t")})
	require.NoError(t, err)
	require.Len(t, run.Results, 2)
	for _, r := range run.Results {
		assert.Equal(t, core.StatusSkipped, r.Status)
	}
	assert.Equal(t, 0, f.browser.Opened())
	assert.Equal(t, 2, run.Summary.Skipped)
}

func TestSessionOptions(t *testing.T) {
	f := newFixture(t, mock.Config{}, template("t", step("wait", "0")))
	phone := testConfig("phone", "t")
	phone.Device = "iPhone 13"
	wide := testConfig("wide", "t")
	wide.Viewport = &flow.Viewport{Width: 1920, Height: 1080}
	f.run(t, phone, wide)

	s := f.browser.Sessions()
	require.Len(t, s, 2)
	assert.Equal(t, "iPhone 13", s[0].Options().Device)
	assert.Equal(t, "phone", s[0].Options().UnitID)
	assert.Equal(t, 1, s[0].Options().Attempt)
	assert.Equal(t, 1920, s[1].Options().Width)
	assert.Equal(t, 1080, s[1].Options().Height)
}

func TestCallbacks(t *testing.T) {
	f := newFixture(t, mock.Config{FailOnStep: 2}, template("t",
		step("navigate", "https://a.test"),
		step("click", "#b"),
	))
	f.cfg.MaxRetries = 1

	var mu sync.Mutex
	var events []string
	record := func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	}
	f.cfg.OnUnitStart = func(u *Unit, attempt int) { record("start") }
	f.cfg.OnStepComplete = func(u *Unit, idx int, desc string, r *core.CommandResult) {
		if r.Success {
			record("ok " + desc)
		} else {
			record("fail " + desc)
		}
	}
	f.cfg.OnAttemptFailed = func(u *Unit, attempt int, err string) { record("retry") }
	f.cfg.OnUnitEnd = func(res *core.Result) { record("end " + res.Status.String()) }

	f.run(t, testConfig("c", "t"))

	assert.Equal(t, []string{
		"start", `ok navigate "https://a.test"`, `fail click "#b"`, "retry",
		"start", `ok navigate "https://a.test"`, `fail click "#b"`, "retry",
		"end FAIL",
	}, events)
}

func TestMetricsTrackSessions(t *testing.T) {
	before := testutil.ToFloat64(metricAttempts)
	f := newFixture(t, mock.Config{FailOnStep: 1}, template("t", step("click", "#x")))
	f.cfg.MaxRetries = 2
	f.run(t, testConfig("c", "t"))

	assert.Equal(t, float64(3), testutil.ToFloat64(metricAttempts)-before)
	assert.Equal(t, float64(0), testutil.ToFloat64(metricSessionsOpen))
}

func TestBatches(t *testing.T) {
	units := make([]*Unit, 5)
	for i := range units {
		units[i] = &Unit{seq: i}
	}
	got := batches(units, 2)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 2)
	assert.Len(t, got[2], 1)
	assert.Len(t, batches(units, 0), 5)
	assert.Empty(t, batches(nil, 3))
}

func TestFanOutProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("N rows with R retries give N results of R+1 attempts", prop.ForAll(
		func(rows, retries, k int) bool {
			b := mock.New(mock.Config{FailOnStep: 1})
			src := rowsSource{"rows.csv": make([]data.Row, rows)}
			cfg := testConfig("c", "t")
			cfg.Data = "rows.csv"

			r := New(Deps{
				Browser:   b,
				Templates: flow.NewMemoryStore(template("t", step("click", "#x"))),
				Data:      src,
				Actions:   actions.NewBuiltinRegistry(),
			}, RunnerConfig{Concurrency: k, MaxRetries: retries, OutputDir: t.TempDir()})

			run, err := r.Run(context.Background(), []*flow.TestConfig{cfg})
			if err != nil || len(run.Results) != rows {
				return false
			}
			for _, res := range run.Results {
				if res.Attempts != retries+1 || res.Status != core.StatusFailed {
					return false
				}
			}
			return b.Closed() == rows*(retries+1) && b.Peak() <= k
		},
		gen.IntRange(1, 6),
		gen.IntRange(0, 2),
		gen.IntRange(1, 4),
	))

	properties.TestingRun(t)
}

// pngWithDiff renders a w x h white image with the first n pixels black.
func pngWithDiff(w, h, n int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{255, 255, 255, 255}
			if i < n {
				c = color.NRGBA{0, 0, 0, 255}
			}
			img.SetNRGBA(x, y, c)
			i++
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func visualFixture(t *testing.T, capture *[]byte) (*fixture, *visual.Store) {
	t.Helper()
	dir := t.TempDir()
	store := visual.NewStore(filepath.Join(dir, "baseline"), filepath.Join(dir, "actual"), filepath.Join(dir, "diff"))
	f := newFixture(t, mock.Config{
		Screenshot: func(mock.Call) ([]byte, error) { return *capture, nil },
	}, template("home",
		step("navigate", "https://shop.test/"),
		step("screenshot", "home"),
	))
	f.deps.Visual = visual.NewChecker(store)
	return f, store
}

func TestScenarioC_NewBaseline(t *testing.T) {
	capture := pngWithDiff(10, 10, 0)
	f, store := visualFixture(t, &capture)

	run := f.run(t, testConfig("home", "home"))
	res := run.Results[0]
	assert.Equal(t, core.StatusPassed, res.Status)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "new baseline")
	assert.True(t, store.HasBaseline("home"))
}

func TestScenarioDE_MismatchThenApprove(t *testing.T) {
	capture := pngWithDiff(10, 10, 0)
	f, store := visualFixture(t, &capture)
	_, err := store.SaveBaseline("home", capture)
	require.NoError(t, err)

	capture = pngWithDiff(10, 10, 50)
	run := f.run(t, testConfig("home", "home"))
	res := run.Results[0]
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Equal(t, core.ErrCategoryVisual, res.Category)
	assert.Contains(t, res.Error, "50 pixels differ")
	assert.FileExists(t, res.DiffPath)
	assert.Equal(t, store.BaselinePath("home"), res.BaselinePath)
	assert.FileExists(t, store.ActualPath("home"))

	pending, err := store.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "home", pending[0].Name)

	require.NoError(t, store.Approve("home"))

	run = f.run(t, testConfig("home", "home"))
	assert.Equal(t, core.StatusPassed, run.Results[0].Status)
	assert.Empty(t, run.Results[0].Warnings)
	pending, err = store.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRetriedMismatchKeepsOnlyFinalDiff(t *testing.T) {
	capture := pngWithDiff(10, 10, 0)
	f, store := visualFixture(t, &capture)
	_, err := store.SaveBaseline("home", capture)
	require.NoError(t, err)
	f.cfg.MaxRetries = 2

	capture = pngWithDiff(10, 10, 20)
	res := f.run(t, testConfig("home", "home")).Results[0]
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Equal(t, 3, res.Attempts)

	diffs, err := filepath.Glob(filepath.Join(store.DiffDir, "*.png"))
	require.NoError(t, err)
	assert.Equal(t, []string{res.DiffPath}, diffs)
}

func TestCancelAfterFailedAttemptKeepsScreenshot(t *testing.T) {
	f := newFixture(t, mock.Config{FailOnStep: 1}, template("t", step("click", "#pay")))
	f.cfg.MaxRetries = 2

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.cfg.OnAttemptFailed = func(*Unit, int, string) { cancel() }

	run, err := New(f.deps, f.cfg).Run(ctx, []*flow.TestConfig{testConfig("c", "t")})
	require.NoError(t, err)
	res := run.Results[0]
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, res.Error, "mock failure")
	assert.FileExists(t, res.ScreenshotPath)
}

func TestFailureEnrichment(t *testing.T) {
	capture := pngWithDiff(10, 10, 0)
	dir := t.TempDir()
	store := visual.NewStore(filepath.Join(dir, "baseline"), filepath.Join(dir, "actual"), filepath.Join(dir, "diff"))
	_, err := store.SaveBaseline("checkout", capture)
	require.NoError(t, err)

	capture = pngWithDiff(10, 10, 7)
	f := newFixture(t, mock.Config{
		Screenshot: func(mock.Call) ([]byte, error) { return capture, nil },
		Fail: func(c mock.Call) error {
			if c.Op == "click" {
				return errors.New("button disabled")
			}
			return nil
		},
	}, template("t", step("click", "#pay")))
	f.deps.Visual = visual.NewChecker(store)

	cfg := testConfig("checkout", "t")
	cfg.Snapshot = "checkout"
	res := f.run(t, cfg).Results[0]

	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Equal(t, core.ErrCategoryAction, res.Category)
	assert.FileExists(t, res.ScreenshotPath)
	assert.FileExists(t, res.DiffPath)
	assert.Equal(t, store.BaselinePath("checkout"), res.BaselinePath)

	pending, err := store.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending, "enrichment never creates a pending actual")
}

func TestFailureEnrichmentSwallowsErrors(t *testing.T) {
	dir := t.TempDir()
	store := visual.NewStore(filepath.Join(dir, "baseline"), filepath.Join(dir, "actual"), filepath.Join(dir, "diff"))
	_, err := store.SaveBaseline("checkout", pngWithDiff(4, 4, 0))
	require.NoError(t, err)

	f := newFixture(t, mock.Config{FailOnStep: 1}, template("t", step("click", "#pay")))
	f.deps.Visual = visual.NewChecker(store)

	cfg := testConfig("checkout", "t")
	cfg.Snapshot = "checkout"
	cfg.Viewport = &flow.Viewport{Width: 8, Height: 8} // failure screenshot cannot be compared
	res := f.run(t, cfg).Results[0]

	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "mock failure")
	assert.FileExists(t, res.ScreenshotPath)
	assert.Empty(t, res.DiffPath)
}
