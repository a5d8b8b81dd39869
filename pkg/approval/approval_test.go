package approval

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/visual-runner/pkg/visual"
)

func solid(c color.Color) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 6, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// mismatched creates a store where each name has a white baseline and a
// pending black actual.
func mismatched(t *testing.T, names ...string) (*visual.Store, *visual.Checker) {
	t.Helper()
	dir := t.TempDir()
	store := visual.NewStore(filepath.Join(dir, "baseline"), filepath.Join(dir, "actual"), filepath.Join(dir, "diff"))
	checker := visual.NewChecker(store)
	for _, n := range names {
		_, err := store.SaveBaseline(n, solid(color.White))
		require.NoError(t, err)
		res, err := checker.Check(n, solid(color.Black))
		require.NoError(t, err)
		require.Equal(t, visual.OutcomeMismatch, res.Outcome)
	}
	return store, checker
}

func pendingNames(t *testing.T, store *visual.Store) []string {
	t.Helper()
	pending, err := store.ListPending()
	require.NoError(t, err)
	names := []string{}
	for _, p := range pending {
		names = append(names, p.Name)
	}
	return names
}

func TestApproveThenMatch(t *testing.T) {
	store, checker := mismatched(t, "home")
	assert.Equal(t, []string{"home"}, pendingNames(t, store))

	w := &Workflow{Store: store, Decider: Always(Approve)}
	summary, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"home"}, summary.Approved)
	assert.Empty(t, pendingNames(t, store))

	res, err := checker.Check("home", solid(color.Black))
	require.NoError(t, err)
	assert.Equal(t, visual.OutcomeMatch, res.Outcome)
	assert.Equal(t, 0, res.DiffPixels)
}

func TestRejectKeepsBaseline(t *testing.T) {
	store, checker := mismatched(t, "home")

	w := &Workflow{Store: store, Decider: Always(Reject)}
	summary, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"home"}, summary.Rejected)
	assert.Empty(t, pendingNames(t, store))

	res, err := checker.Check("home", solid(color.White))
	require.NoError(t, err)
	assert.Equal(t, visual.OutcomeMatch, res.Outcome)
}

func TestDeferLeavesPending(t *testing.T) {
	store, _ := mismatched(t, "home")

	summary, err := (&Workflow{Store: store, Decider: Always(Defer)}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"home"}, summary.Deferred)
	assert.Equal(t, []string{"home"}, pendingNames(t, store))
	assert.FileExists(t, store.BaselinePath("home"))
}

func TestMixedDecisionsInNameOrder(t *testing.T) {
	store, _ := mismatched(t, "cart", "home", "about")

	decisions := map[string]Decision{"about": Approve, "cart": Reject, "home": Defer}
	var seen []string
	w := &Workflow{
		Store: store,
		Decider: DeciderFunc(func(p visual.Pending) (Decision, error) {
			seen = append(seen, p.Name)
			return decisions[p.Name], nil
		}),
	}
	var applied []Item
	w.OnApply = func(item Item) { applied = append(applied, item) }

	summary, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"about", "cart", "home"}, seen)
	assert.Equal(t, 3, summary.Total())
	assert.Len(t, applied, 3)
	assert.Equal(t, []string{"home"}, pendingNames(t, store))
}

func TestDecisionsPersistBeforeFailure(t *testing.T) {
	store, _ := mismatched(t, "a", "b")

	calls := 0
	w := &Workflow{Store: store, Decider: DeciderFunc(func(p visual.Pending) (Decision, error) {
		calls++
		if calls == 2 {
			return Defer, errors.New("terminal closed")
		}
		return Approve, nil
	})}

	summary, err := w.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, summary.Approved)
	assert.Equal(t, []string{"b"}, pendingNames(t, store))
}

func TestNamesFilter(t *testing.T) {
	store, _ := mismatched(t, "a", "b")
	summary, err := (&Workflow{Store: store, Decider: Always(Approve), Names: []string{"b"}}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, summary.Approved)
	assert.Equal(t, []string{"a"}, pendingNames(t, store))
}

func TestNamesFilterWithPathLikeNames(t *testing.T) {
	store, _ := mismatched(t, "checkout/summary", "checkout summary")
	assert.Equal(t, []string{"checkout summary", "checkout/summary"}, pendingNames(t, store))

	w := &Workflow{Store: store, Decider: Always(Approve), Names: []string{"checkout/summary"}}
	summary, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"checkout/summary"}, summary.Approved)
	assert.Equal(t, []string{"checkout summary"}, pendingNames(t, store))
}

func TestParseDecision(t *testing.T) {
	for in, want := range map[string]Decision{"a": Approve, "approve": Approve, "r": Reject, "s": Defer, "skip": Defer} {
		got, err := ParseDecision(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDecision("maybe")
	assert.Error(t, err)
}

func TestPrompt(t *testing.T) {
	store, _ := mismatched(t, "a", "b", "c")
	var out bytes.Buffer
	in := strings.NewReader("x\nA\nr\n")

	summary, err := (&Workflow{Store: store, Decider: NewPrompt(in, &out)}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, summary.Approved)
	assert.Equal(t, []string{"b"}, summary.Rejected)
	assert.Equal(t, []string{"c"}, summary.Deferred, "end of input defers")
	assert.Contains(t, out.String(), `unknown decision "x"`)
	assert.Contains(t, out.String(), "baseline:")
}
