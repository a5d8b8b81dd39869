// Package visual implements screenshot regression checks: a perceptual
// pixel comparator, the baseline/actual/diff image store, and the
// check semantics run units apply to captured screenshots.
package visual

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/orisano/pixelmatch"

	"github.com/devicelab-dev/visual-runner/pkg/core"
)

// DefaultThreshold is the per-pixel sensitivity on a 0..1 scale.
const DefaultThreshold = 0.1

// diffColor paints differing pixels in the diff raster.
var diffColor = color.RGBA{R: 255, A: 255}

// Options tunes Compare.
type Options struct {
	// Threshold is the per-pixel sensitivity (0..1). Zero means DefaultThreshold.
	Threshold float64
}

// Comparison is the verdict of comparing two equally sized images.
type Comparison struct {
	Width      int
	Height     int
	DiffPixels int
	// Diff shows differing pixels in red and anti-aliased ones in yellow
	// over a faded grayscale copy of the baseline. Nil when the images are
	// byte-identical.
	Diff image.Image
}

// Match reports whether no pixel differs.
func (c *Comparison) Match() bool {
	return c.DiffPixels == 0
}

// Ratio returns the fraction of differing pixels.
func (c *Comparison) Ratio() float64 {
	total := c.Width * c.Height
	if total == 0 {
		return 0
	}
	return float64(c.DiffPixels) / float64(total)
}

// Compare counts pixels whose perceptual color difference exceeds the
// threshold, ignoring anti-aliasing. Images of different sizes yield
// core.ErrDimensionMismatch and no pixel count.
func Compare(baseline, candidate image.Image, opts Options) (*Comparison, error) {
	bb, cb := baseline.Bounds(), candidate.Bounds()
	if bb.Dx() != cb.Dx() || bb.Dy() != cb.Dy() {
		return nil, core.ErrDimensionMismatch.WithMessagef(
			"image dimensions differ: baseline %dx%d, candidate %dx%d",
			bb.Dx(), bb.Dy(), cb.Dx(), cb.Dy())
	}

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var diff image.Image
	n, err := pixelmatch.MatchPixel(toNRGBA(baseline), toNRGBA(candidate),
		pixelmatch.Threshold(threshold),
		pixelmatch.DiffColor(diffColor),
		pixelmatch.WriteTo(&diff),
	)
	if err != nil {
		return nil, fmt.Errorf("compare: %w", err)
	}
	return &Comparison{Width: bb.Dx(), Height: bb.Dy(), DiffPixels: n, Diff: diff}, nil
}

// toNRGBA returns img as a zero-origin NRGBA image, converting if needed.
// pixelmatch requires equal bounds, not just equal sizes.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
