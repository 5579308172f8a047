// Package imagediff compares rendered cutscene frames against reference
// images and reports the fraction of differing pixels.
package imagediff

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// Options controls a comparison.
type Options struct {
	// Threshold is the accepted percentage of differing pixels.
	Threshold float64
	// Tolerance is the largest per-channel difference at which two
	// pixels still count as equal.
	Tolerance int
}

// DefaultOptions matches the renderer verification defaults: up to 5% of
// pixels may differ, with a per-channel tolerance of 16.
var DefaultOptions = Options{Threshold: 5.0, Tolerance: 16}

// Result reports the outcome of a comparison.
type Result struct {
	Match       bool
	DiffPercent float64
	DiffPixels  int
	TotalPixels int
	// Diff is a copy of the reference with differing pixels marked red.
	Diff *image.NRGBA
}

// Compare measures the pixel difference between a reference image and an
// output image. When the output dimensions differ it is resampled to the
// reference bounds with nearest-neighbour interpolation first. A nil
// opts uses DefaultOptions.
func Compare(ref, out image.Image, opts *Options) *Result {
	if opts == nil {
		opts = &DefaultOptions
	}

	refN := toNRGBA(ref)
	outN := toNRGBA(out)
	if !outN.Bounds().Eq(refN.Bounds()) {
		scaled := image.NewNRGBA(refN.Bounds())
		xdraw.NearestNeighbor.Scale(scaled, scaled.Bounds(), outN, outN.Bounds(), xdraw.Src, nil)
		outN = scaled
	}

	b := refN.Bounds()
	diff := image.NewNRGBA(b)
	draw.Draw(diff, b, refN, b.Min, draw.Src)

	red := color.NRGBA{R: 255, A: 255}
	tol := opts.Tolerance
	differing := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if pixelsDiffer(refN.NRGBAAt(x, y), outN.NRGBAAt(x, y), tol) {
				differing++
				diff.SetNRGBA(x, y, red)
			}
		}
	}

	total := b.Dx() * b.Dy()
	pct := 0.0
	if total > 0 {
		pct = float64(differing) / float64(total) * 100
	}
	return &Result{
		Match:       pct <= opts.Threshold,
		DiffPercent: pct,
		DiffPixels:  differing,
		TotalPixels: total,
		Diff:        diff,
	}
}

// pixelsDiffer ignores alpha: renders are compared as opaque RGB.
func pixelsDiffer(a, b color.NRGBA, tol int) bool {
	return absDiff(a.R, b.R) > tol || absDiff(a.G, b.G) > tol || absDiff(a.B, b.B) > tol
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	n := image.NewNRGBA(b)
	draw.Draw(n, b, img, b.Min, draw.Src)
	return n
}
