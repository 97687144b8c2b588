// Package classifier maps hand feature vectors to sign labels.
package classifier

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/handsign/internal/detector"
)

// Labels is the ordered output alphabet: the 26 letters followed by the
// delete, no-gesture and space controls.
var Labels = []string{
	"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L", "M",
	"N", "O", "P", "Q", "R", "S", "T", "U", "V", "W", "X", "Y", "Z",
	"del", "nothing", "space",
}

// NumLabels is the size of the output alphabet.
const NumLabels = 29

var (
	// ErrModelUnavailable is returned when the model file cannot be loaded.
	ErrModelUnavailable = errors.New("classifier: model unavailable")
	// ErrShape is returned for inputs or layers with the wrong dimensions.
	ErrShape = errors.New("classifier: shape mismatch")
)

// Prediction is the argmax over the label alphabet.
type Prediction struct {
	Label      string
	Index      int
	Confidence float64
}

// Classifier maps one feature batch (1×detector.FeatureLen) to a label.
// Implementations must be safe for concurrent use and free of side effects.
type Classifier interface {
	Predict(batch *mat.Dense) (Prediction, error)
}

// CheckBatch verifies batch is a single row of detector.FeatureLen values.
func CheckBatch(batch *mat.Dense) error {
	if batch == nil {
		return fmt.Errorf("%w: nil batch", ErrShape)
	}
	if r, c := batch.Dims(); r != 1 || c != detector.FeatureLen {
		return fmt.Errorf("%w: got %dx%d, want 1x%d", ErrShape, r, c, detector.FeatureLen)
	}
	return nil
}

// Argmax picks the highest score and its label. Ties go to the lowest index.
func Argmax(labels []string, scores []float64) (Prediction, error) {
	if len(scores) == 0 || len(scores) != len(labels) {
		return Prediction{}, fmt.Errorf("%w: %d scores for %d labels", ErrShape, len(scores), len(labels))
	}
	i := floats.MaxIdx(scores)
	return Prediction{Label: labels[i], Index: i, Confidence: scores[i]}, nil
}

// Static always predicts the same label. It stands in for a trained model in
// tests and demos.
type Static struct {
	Label string
}

// Predict returns the configured label after validating the batch shape.
func (s Static) Predict(batch *mat.Dense) (Prediction, error) {
	if err := CheckBatch(batch); err != nil {
		return Prediction{}, err
	}
	for i, l := range Labels {
		if l == s.Label {
			return Prediction{Label: l, Index: i, Confidence: 1}, nil
		}
	}
	return Prediction{}, fmt.Errorf("classifier: unknown label %q", s.Label)
}
