package dataset

import (
	"fmt"

	"github.com/andresmejia3/blinkscan/internal/classifier"
	"github.com/andresmejia3/blinkscan/internal/types"
)

// BuildConfig holds the window geometry and the label symbols of the dataset.
type BuildConfig struct {
	Half          int    // Samples on each side of the center frame
	BlinkLabel    string // Marks a confirmed blink apex
	NonBlinkLabel string // Marks a confirmed non-blink frame
}

// DefaultBuildConfig builds 13-sample windows with the eyeblink8 symbols.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		Half:          6,
		BlinkLabel:    classifier.DefaultBlinkLabel,
		NonBlinkLabel: classifier.DefaultNonBlinkLabel,
	}
}

// Size returns the window length.
func (c BuildConfig) Size() int { return 2*c.Half + 1 }

// Validate checks the configuration.
func (c BuildConfig) Validate() error {
	if c.Half < 1 {
		return fmt.Errorf("half window must be >= 1, got %d", c.Half)
	}
	if c.BlinkLabel == "" || c.NonBlinkLabel == "" {
		return fmt.Errorf("blink and non-blink labels are required")
	}
	if c.BlinkLabel == c.NonBlinkLabel {
		return fmt.Errorf("blink and non-blink labels must differ, both are %q", c.BlinkLabel)
	}
	return nil
}

// Build windows the EAR series around every frame that has a full neighbourhood.
// Vectors are newest first, matching the live window. Blink frames are always kept;
// non-blink frames within one window length after the latest blink are dropped;
// frames with any other label are skipped.
func Build(ears []float64, labels []string, cfg BuildConfig) ([]types.Example, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(ears) != len(labels) {
		return nil, fmt.Errorf("EAR series has %d rows but label series has %d", len(ears), len(labels))
	}

	h, size := cfg.Half, cfg.Size()
	lastBlink := 0
	var out []types.Example
	for i := h; i < len(ears)-h; i++ {
		switch labels[i] {
		case cfg.BlinkLabel:
			lastBlink = i
		case cfg.NonBlinkLabel:
			if i <= lastBlink+size {
				continue
			}
		default:
			continue
		}

		vec := make([]float64, 0, size)
		for j := i + h; j >= i-h; j-- {
			vec = append(vec, ears[j])
		}
		out = append(out, types.Example{Vec: vec, Label: labels[i]})
	}
	return out, nil
}

// LoadAndBuild reads both files and builds the training set.
func LoadAndBuild(earPath, labelPath string, column int, cfg BuildConfig) ([]types.Example, error) {
	ears, err := LoadEARFile(earPath)
	if err != nil {
		return nil, fmt.Errorf("load EAR series: %w", err)
	}
	labels, err := LoadLabelFile(labelPath, column)
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	return Build(ears, labels, cfg)
}

// Counts returns how many examples carry each label.
func Counts(examples []types.Example) map[string]int {
	m := make(map[string]int)
	for _, ex := range examples {
		m[ex.Label]++
	}
	return m
}
