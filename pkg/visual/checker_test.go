package visual

import (
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/visual-runner/pkg/driver/mock"
)

func TestChecker_FirstRunCreatesBaseline(t *testing.T) {
	c := NewChecker(newTestStore(t))
	png := mock.SolidPNG(4, 4, color.White)

	res, err := c.Check("home", png)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNewBaseline, res.Outcome)
	assert.True(t, c.Store.HasBaseline("home"))

	res, err = c.Check("home", png)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMatch, res.Outcome)
}

func TestChecker_MismatchSavesActualAndDiff(t *testing.T) {
	c := NewChecker(newTestStore(t))
	_, err := c.Check("home", mock.SolidPNG(4, 4, color.White))
	require.NoError(t, err)

	res, err := c.Check("home", mock.SolidPNG(4, 4, color.Black))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMismatch, res.Outcome)
	assert.Equal(t, 16, res.DiffPixels)
	assert.FileExists(t, res.ActualPath)
	assert.FileExists(t, res.DiffPath)

	// A later match clears the stale actual
	res, err = c.Check("home", mock.SolidPNG(4, 4, color.White))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMatch, res.Outcome)
	_, err = os.Stat(c.Store.ActualPath("home"))
	assert.True(t, os.IsNotExist(err))
}

func TestChecker_DimensionMismatchIsIndeterminate(t *testing.T) {
	c := NewChecker(newTestStore(t))
	_, err := c.Check("home", mock.SolidPNG(4, 4, color.White))
	require.NoError(t, err)

	res, err := c.Check("home", mock.SolidPNG(5, 4, color.White))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIndeterminate, res.Outcome)
	assert.Error(t, res.Reason)
	assert.Empty(t, res.ActualPath)
	_, err = os.Stat(c.Store.ActualPath("home"))
	assert.True(t, os.IsNotExist(err), "indeterminate checks persist nothing")
}

func TestChecker_SimilarNamesKeepSeparateBaselines(t *testing.T) {
	c := NewChecker(newTestStore(t))

	res, err := c.Check("home page", mock.SolidPNG(4, 4, color.White))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNewBaseline, res.Outcome)

	res, err = c.Check("home_page", mock.SolidPNG(4, 4, color.Black))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNewBaseline, res.Outcome)
	assert.NotEqual(t, c.Store.BaselinePath("home page"), res.BaselinePath)
}

func TestChecker_InvalidPNG(t *testing.T) {
	c := NewChecker(newTestStore(t))
	_, err := c.Check("home", []byte("not a png"))
	assert.Error(t, err)
}

func TestChecker_Enrich(t *testing.T) {
	c := NewChecker(newTestStore(t))

	_, err := c.Enrich("home", mock.SolidPNG(2, 2, color.White))
	assert.ErrorIs(t, err, ErrBaselineNotFound)

	_, err = c.Check("home", mock.SolidPNG(2, 2, color.White))
	require.NoError(t, err)

	res, err := c.Enrich("home", mock.SolidPNG(2, 2, color.White))
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = c.Enrich("home", mock.SolidPNG(2, 2, color.Black))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.FileExists(t, res.DiffPath)
	_, err = os.Stat(c.Store.ActualPath("home"))
	assert.True(t, os.IsNotExist(err), "enrichment never creates a pending actual")
}

func TestChecker_ConcurrentFirstRun(t *testing.T) {
	c := NewChecker(newTestStore(t))
	png := mock.SolidPNG(3, 3, color.White)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Check("shared", png)
			if err == nil {
				outcomes[i] = res.Outcome
			}
		}(i)
	}
	wg.Wait()

	created := 0
	for _, o := range outcomes {
		if o == OutcomeNewBaseline {
			created++
		}
	}
	assert.Equal(t, 1, created)
}

// Approving a mismatch makes the same capture match on the next check.
func TestChecker_ApproveRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("approve then recheck matches with zero diff", prop.ForAll(
		func(a, b uint8) bool {
			dir, err := os.MkdirTemp("", "visual-approve-*")
			if err != nil {
				return false
			}
			defer os.RemoveAll(dir)

			c := NewChecker(NewStore(filepath.Join(dir, "b"), filepath.Join(dir, "a"), filepath.Join(dir, "d")))
			first := mock.SolidPNG(3, 3, color.NRGBA{R: a, G: a, B: a, A: 255})
			second := mock.SolidPNG(3, 3, color.NRGBA{R: b, G: 0, B: 255 - b, A: 255})

			if _, err := c.Check("snap", first); err != nil {
				return false
			}
			res, err := c.Check("snap", second)
			if err != nil {
				return false
			}
			if res.Outcome == OutcomeMismatch {
				if err := c.Store.Approve("snap"); err != nil {
					return false
				}
			}
			again, err := c.Check("snap", second)
			return err == nil && again.Outcome == OutcomeMatch && again.DiffPixels == 0
		},
		gen.UInt8(), gen.UInt8(),
	))

	properties.TestingRun(t)
}
