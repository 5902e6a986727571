// Package classifier holds the binary blink/non-blink model used by the windowed detector
// and the offline procedure that fits and evaluates it.
package classifier

import "errors"

// Default class symbols of the eyeblink8-derived label files.
const (
	DefaultBlinkLabel    = "C"
	DefaultNonBlinkLabel = "O"
)

var (
	// ErrNotTrained is returned by Predict and Save on a model that was never fitted or loaded.
	ErrNotTrained = errors.New("classifier is not trained")
	// ErrDimension is returned when a vector does not match the model's feature count.
	ErrDimension = errors.New("feature dimension mismatch")
)

// Classifier maps a newest-first EAR vector to a class label.
// Implementations are read-only during detection; Fit and Load replace the model wholesale.
type Classifier interface {
	Predict(vec []float64) (string, error)
	Fit(vecs [][]float64, labels []string) error
	Load(path string) error
	Save(path string) error
}
