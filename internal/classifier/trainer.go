package classifier

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/andresmejia3/blinkscan/internal/types"
)

// DefaultHoldOut is the fraction of examples kept back for evaluation.
const DefaultHoldOut = 0.1

// TrainConfig controls the split and the class symbol used for scoring.
type TrainConfig struct {
	HoldOut    float64
	Seed       int64
	BlinkLabel string
}

// DefaultTrainConfig returns a 10% hold-out with a fixed seed.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		HoldOut:    DefaultHoldOut,
		Seed:       1,
		BlinkLabel: DefaultBlinkLabel,
	}
}

// Confusion counts predictions against ground truth for the blink class.
type Confusion struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	TN int `json:"tn"`
	FN int `json:"fn"`
}

// Report summarizes one training run.
type Report struct {
	TrainSize int
	TestSize  int
	Confusion Confusion
	Accuracy  float64
	Precision float64
	Recall    float64
}

// String renders the confusion matrix and scores.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "train=%d test=%d\n", r.TrainSize, r.TestSize)
	fmt.Fprintf(&b, "                 pred blink   pred non-blink\n")
	fmt.Fprintf(&b, "true blink       %10d   %14d\n", r.Confusion.TP, r.Confusion.FN)
	fmt.Fprintf(&b, "true non-blink   %10d   %14d\n", r.Confusion.FP, r.Confusion.TN)
	fmt.Fprintf(&b, "accuracy=%.2f%% precision=%.2f%% recall=%.2f%%", r.Accuracy*100, r.Precision*100, r.Recall*100)
	return b.String()
}

// Split shuffles a copy of examples with seed and moves holdOut of them into the test set.
// Sets of two or more examples always keep at least one test example.
func Split(examples []types.Example, holdOut float64, seed int64) (train, test []types.Example) {
	shuffled := make([]types.Example, len(examples))
	copy(shuffled, examples)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	n := int(float64(len(shuffled)) * holdOut)
	if n == 0 && holdOut > 0 && len(shuffled) >= 2 {
		n = 1
	}
	return shuffled[n:], shuffled[:n]
}

// Evaluate scores c on the given examples.
func Evaluate(c Classifier, examples []types.Example, blinkLabel string) (Report, error) {
	var r Report
	r.TestSize = len(examples)
	for i, ex := range examples {
		got, err := c.Predict(ex.Vec)
		if err != nil {
			return r, fmt.Errorf("predict example %d: %w", i, err)
		}
		predBlink := got == blinkLabel
		trueBlink := ex.Label == blinkLabel
		switch {
		case predBlink && trueBlink:
			r.Confusion.TP++
		case predBlink && !trueBlink:
			r.Confusion.FP++
		case !predBlink && trueBlink:
			r.Confusion.FN++
		default:
			r.Confusion.TN++
		}
	}
	cm := r.Confusion
	if r.TestSize > 0 {
		r.Accuracy = float64(cm.TP+cm.TN) / float64(r.TestSize)
	}
	if cm.TP+cm.FP > 0 {
		r.Precision = float64(cm.TP) / float64(cm.TP+cm.FP)
	}
	if cm.TP+cm.FN > 0 {
		r.Recall = float64(cm.TP) / float64(cm.TP+cm.FN)
	}
	return r, nil
}

// Train splits examples, fits c on the training part and evaluates it on the held-out part.
func Train(c Classifier, examples []types.Example, cfg TrainConfig) (Report, error) {
	if cfg.HoldOut < 0 || cfg.HoldOut >= 1 {
		return Report{}, fmt.Errorf("hold-out must be in [0, 1), got %v", cfg.HoldOut)
	}
	train, test := Split(examples, cfg.HoldOut, cfg.Seed)

	vecs := make([][]float64, len(train))
	labels := make([]string, len(train))
	for i, ex := range train {
		vecs[i] = ex.Vec
		labels[i] = ex.Label
	}
	if err := c.Fit(vecs, labels); err != nil {
		return Report{}, fmt.Errorf("fit: %w", err)
	}

	r, err := Evaluate(c, test, cfg.BlinkLabel)
	if err != nil {
		return r, err
	}
	r.TrainSize = len(train)
	return r, nil
}
