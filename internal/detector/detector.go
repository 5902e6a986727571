// Package detector turns the EAR window into blink decisions.
//
// Two strategies exist: a falling-edge threshold check on the two newest samples, and a
// windowed classifier over the full window guarded by a refractory interval so one
// physical blink, which spans several low-EAR frames, yields a single event.
package detector

import (
	"fmt"

	"github.com/andresmejia3/blinkscan/internal/classifier"
	"github.com/andresmejia3/blinkscan/internal/ear"
)

// Strategy names accepted by the pipeline.
const (
	StrategySVM       = "svm"
	StrategyThreshold = "threshold"
	StrategyBoth      = "both"
)

// Config holds the detection constants.
type Config struct {
	EARThreshold float64 // Falling-edge level for the threshold detector
	Refractory   int64   // Minimum frame gap between two classifier blinks
	BlinkLabel   string  // Classifier label that means "blink"
}

// DefaultConfig uses a full window as the refractory interval.
func DefaultConfig() Config {
	return Config{
		EARThreshold: 0.25,
		Refractory:   ear.DefaultCapacity,
		BlinkLabel:   classifier.DefaultBlinkLabel,
	}
}

// Validate checks the constants.
func (c Config) Validate() error {
	if c.EARThreshold <= 0 || c.EARThreshold >= 1 {
		return fmt.Errorf("EAR threshold must be in (0, 1), got %v", c.EARThreshold)
	}
	if c.Refractory < 0 {
		return fmt.Errorf("refractory interval must be >= 0, got %d", c.Refractory)
	}
	if c.BlinkLabel == "" {
		return fmt.Errorf("blink label must not be empty")
	}
	return nil
}

// ValidStrategy reports whether name is a known strategy.
func ValidStrategy(name string) bool {
	switch name {
	case StrategySVM, StrategyThreshold, StrategyBoth:
		return true
	}
	return false
}

// Threshold fires when the newest sample is above threshold and the one before is below it.
// No refractory suppression is applied.
func Threshold(w *ear.Window, threshold float64) bool {
	if !w.IsThresholdReady() {
		return false
	}
	return w.At(0) > threshold && threshold > w.At(1)
}

// WindowDetector submits full windows to a classifier.
type WindowDetector struct {
	clf        classifier.Classifier
	refractory int64
	blinkLabel string
}

// NewWindowDetector wraps clf with the refractory gate from cfg.
func NewWindowDetector(clf classifier.Classifier, cfg Config) (*WindowDetector, error) {
	if clf == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &WindowDetector{clf: clf, refractory: cfg.Refractory, blinkLabel: cfg.BlinkLabel}, nil
}

// Ready reports whether the window may be classified at frame given the last accepted blink.
func (d *WindowDetector) Ready(w *ear.Window, frame, lastBlink int64) bool {
	return w.IsFull() && frame > lastBlink+d.refractory
}

// Detect classifies the window when the gate allows it. On a blink it stores frame in
// lastBlink and returns true. Labels other than the blink label count as non-blink.
func (d *WindowDetector) Detect(w *ear.Window, frame int64, lastBlink *int64) (bool, error) {
	if !d.Ready(w, frame, *lastBlink) {
		return false, nil
	}
	label, err := d.clf.Predict(w.Values())
	if err != nil {
		return false, fmt.Errorf("classify window at frame %d: %w", frame, err)
	}
	if label != d.blinkLabel {
		return false, nil
	}
	*lastBlink = frame
	return true, nil
}
