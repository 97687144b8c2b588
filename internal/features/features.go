// Package features turns detected hand landmarks into classifier input.
package features

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/handsign/internal/detector"
)

// Normalize rescales v in place to [0, 1] using the minimum and maximum of
// the whole slice. When every value is equal the range is zero and v is
// only shifted, leaving all zeros.
func Normalize(v []float64) {
	if len(v) == 0 {
		return
	}
	lo, hi := floats.Min(v), floats.Max(v)
	floats.AddConst(-lo, v)
	if span := hi - lo; span > 0 {
		floats.Scale(1/span, v)
	}
}

// Vector returns the normalised landmarks of hand as a 1×FeatureLen batch.
func Vector(hand *detector.HandLandmarks) *mat.Dense {
	v := hand.Flatten()
	if v == nil {
		return nil
	}
	Normalize(v)
	return mat.NewDense(1, detector.FeatureLen, v)
}
