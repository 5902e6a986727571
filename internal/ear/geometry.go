// Package ear computes eye aspect ratios from facial landmarks and keeps the
// bounded window of recent samples the blink classifiers read from.
package ear

import (
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/blinkscan/internal/types"
)

var (
	// ErrDegenerateEye is returned when the two eye corners coincide and the ratio is undefined.
	ErrDegenerateEye = errors.New("degenerate eye: corner points coincide")
	// ErrLandmarkRange is returned when the eye offset does not fit inside the landmark set.
	ErrLandmarkRange = errors.New("eye offset out of landmark range")
)

// ScaleBox multiplies every coordinate of box by factor, rounding to the nearest pixel.
// Used to map a box found on the downscaled frame back to full resolution.
func ScaleBox(box types.Box, factor float64) types.Box {
	return types.Box{
		Left:   int(math.Round(float64(box.Left) * factor)),
		Top:    int(math.Round(float64(box.Top) * factor)),
		Right:  int(math.Round(float64(box.Right) * factor)),
		Bottom: int(math.Round(float64(box.Bottom) * factor)),
	}
}

// EyeAspectRatio computes (|p1-p5| + |p2-p4|) / (2|p0-p3|) over the 6 eye points starting at offset.
func EyeAspectRatio(lm types.Landmarks, offset int) (float64, error) {
	if offset < 0 || offset+types.EyePoints > len(lm) {
		return 0, fmt.Errorf("%w: offset %d, %d landmarks", ErrLandmarkRange, offset, len(lm))
	}
	p := lm[offset : offset+types.EyePoints]

	horizontal := dist(p[0], p[3])
	if horizontal == 0 {
		return 0, ErrDegenerateEye
	}
	return (dist(p[1], p[5]) + dist(p[2], p[4])) / (2.0 * horizontal), nil
}

// MeanEAR averages the left and right eye ratios, skipping an eye whose geometry is degenerate.
// It fails only when neither eye yields a ratio.
func MeanEAR(lm types.Landmarks) (float64, error) {
	var sum float64
	var n int
	var firstErr error
	for _, off := range []int{types.LeftEyeOffset, types.RightEyeOffset} {
		v, err := EyeAspectRatio(lm, off)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, firstErr
	}
	return sum / float64(n), nil
}

func dist(a, b types.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}
