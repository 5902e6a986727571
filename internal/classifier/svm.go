package classifier

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	libsvm "github.com/ewalker544/libsvm-go"
)

// Kernel names accepted by SVMConfig.
const (
	KernelLinear = "linear"
	KernelRBF    = "rbf"
)

// DefaultModelPath is where train writes and detect reads the model.
const DefaultModelPath = "models/blink.svm"

// Class values handed to libsvm.
const (
	positiveClass = 1.0
	negativeClass = -1.0
)

// SVMConfig holds the hyperparameters of the support-vector machine.
type SVMConfig struct {
	Kernel    string  // "linear" or "rbf"
	C         float64 // Regularization strength
	Gamma     float64 // RBF width; 0 means 1/dim
	Eps       float64 // Stopping tolerance
	CacheSize int     // Kernel cache in MB
	// BlinkLabel is the positive class; every other symbol in the training labels is negative.
	BlinkLabel string
}

// DefaultSVMConfig mirrors the linear C=10 machine the blink model has always been trained with.
func DefaultSVMConfig() SVMConfig {
	return SVMConfig{
		Kernel:     KernelLinear,
		C:          10,
		Eps:        1e-3,
		CacheSize:  100,
		BlinkLabel: DefaultBlinkLabel,
	}
}

// Validate checks the hyperparameters.
func (c SVMConfig) Validate() error {
	if c.Kernel != KernelLinear && c.Kernel != KernelRBF {
		return fmt.Errorf("unknown kernel %q (use %q or %q)", c.Kernel, KernelLinear, KernelRBF)
	}
	if c.C <= 0 {
		return fmt.Errorf("C must be > 0, got %v", c.C)
	}
	if c.Gamma < 0 {
		return fmt.Errorf("gamma must be >= 0, got %v", c.Gamma)
	}
	if c.BlinkLabel == "" {
		return fmt.Errorf("blink label must not be empty")
	}
	return nil
}

// modelMeta is stored next to the libsvm model file. libsvm keeps neither the feature count
// nor the class symbols.
type modelMeta struct {
	Kernel   string `json:"kernel"`
	Dim      int    `json:"dim"`
	Positive string `json:"positive_label"`
	Negative string `json:"negative_label"`
}

func (m *modelMeta) validate() error {
	if m.Dim <= 0 {
		return fmt.Errorf("%w: dim must be positive, got %d", ErrDimension, m.Dim)
	}
	if m.Positive == "" || m.Negative == "" {
		return fmt.Errorf("missing class labels")
	}
	if m.Positive == m.Negative {
		return fmt.Errorf("class labels must differ, both are %q", m.Positive)
	}
	return nil
}

// metaPath is the sidecar holding modelMeta for the model at path.
func metaPath(path string) string { return path + ".json" }

// ModelFiles lists every file Save writes for path.
func ModelFiles(path string) []string { return []string{path, metaPath(path)} }

// SVM is a two-class C-SVC backed by libsvm.
type SVM struct {
	cfg   SVMConfig
	model *libsvm.Model
	meta  *modelMeta
}

var _ Classifier = (*SVM)(nil)

// NewSVM creates an untrained machine.
func NewSVM(cfg SVMConfig) (*SVM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Eps <= 0 {
		cfg.Eps = 1e-3
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 100
	}
	return &SVM{cfg: cfg}, nil
}

// LoadSVM reads a persisted model. Missing or corrupt files are an error.
func LoadSVM(path string) (*SVM, error) {
	s := &SVM{cfg: DefaultSVMConfig()}
	if err := s.Load(path); err != nil {
		return nil, err
	}
	return s, nil
}

// Labels returns the positive and negative class symbols of the fitted model.
func (s *SVM) Labels() (positive, negative string) {
	if s.meta == nil {
		return s.cfg.BlinkLabel, ""
	}
	return s.meta.Positive, s.meta.Negative
}

// Dim returns the feature count of the fitted model, 0 when untrained.
func (s *SVM) Dim() int {
	if s.meta == nil {
		return 0
	}
	return s.meta.Dim
}

func (s *SVM) parameter(dim int) *libsvm.Parameter {
	p := libsvm.NewParameter()
	p.SvmType = libsvm.C_SVC
	p.C = s.cfg.C
	p.Eps = s.cfg.Eps
	p.CacheSize = s.cfg.CacheSize
	p.QuietMode = true
	p.KernelType = libsvm.LINEAR
	if s.cfg.Kernel == KernelRBF {
		p.KernelType = libsvm.RBF
		p.Gamma = s.cfg.Gamma
		if p.Gamma == 0 {
			p.Gamma = 1 / float64(dim)
		}
	}
	return p
}

// Fit trains the machine on vecs. Labels equal to the configured blink label are the positive
// class; the remaining symbol is the negative class. More than two symbols is an error.
func (s *SVM) Fit(vecs [][]float64, labels []string) error {
	if len(vecs) != len(labels) {
		return fmt.Errorf("%d vectors but %d labels", len(vecs), len(labels))
	}
	if len(vecs) < 2 {
		return fmt.Errorf("need at least 2 examples, got %d", len(vecs))
	}
	dim := len(vecs[0])
	if dim == 0 {
		return fmt.Errorf("%w: empty feature vector", ErrDimension)
	}

	negative := ""
	y := make([]float64, len(labels))
	var npos, nneg int
	for i, l := range labels {
		if len(vecs[i]) != dim {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrDimension, i, len(vecs[i]), dim)
		}
		if l == s.cfg.BlinkLabel {
			y[i] = positiveClass
			npos++
			continue
		}
		if negative == "" {
			negative = l
		} else if l != negative {
			return fmt.Errorf("expected two classes, found %q, %q and %q", s.cfg.BlinkLabel, negative, l)
		}
		y[i] = negativeClass
		nneg++
	}
	if npos == 0 || nneg == 0 {
		return fmt.Errorf("training set needs both classes (positive=%d, negative=%d)", npos, nneg)
	}

	// libsvm reads its problem from a file in its own sparse text format.
	f, err := os.CreateTemp("", "blinkscan-train-*.svm")
	if err != nil {
		return fmt.Errorf("create problem file: %w", err)
	}
	defer os.Remove(f.Name())
	if err := writeProblem(f, vecs, y); err != nil {
		f.Close()
		return fmt.Errorf("write problem file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write problem file: %w", err)
	}

	param := s.parameter(dim)
	problem, err := libsvm.NewProblem(f.Name(), param)
	if err != nil {
		return fmt.Errorf("read problem: %w", err)
	}
	model := libsvm.NewModel(param)
	if err := model.Train(problem); err != nil {
		return fmt.Errorf("train svm: %w", err)
	}

	s.model = model
	s.meta = &modelMeta{Kernel: s.cfg.Kernel, Dim: dim, Positive: s.cfg.BlinkLabel, Negative: negative}
	return nil
}

// writeProblem emits one "label 1:v1 2:v2 ..." line per example.
func writeProblem(f *os.File, vecs [][]float64, y []float64) error {
	w := bufio.NewWriter(f)
	for i, vec := range vecs {
		buf := strconv.AppendFloat(nil, y[i], 'g', -1, 64)
		for d, v := range vec {
			buf = append(buf, ' ')
			buf = strconv.AppendInt(buf, int64(d+1), 10)
			buf = append(buf, ':')
			buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
		}
		buf = append(buf, '\n')
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return w.Flush()
}

// features converts vec to libsvm's 1-based sparse form.
func features(vec []float64) map[int]float64 {
	x := make(map[int]float64, len(vec))
	for d, v := range vec {
		x[d+1] = v
	}
	return x
}

// Predict returns the blink label when libsvm assigns the positive class, else the negative label.
func (s *SVM) Predict(vec []float64) (string, error) {
	if s.model == nil || s.meta == nil {
		return "", ErrNotTrained
	}
	if len(vec) != s.meta.Dim {
		return "", fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vec), s.meta.Dim)
	}
	if s.model.Predict(features(vec)) == positiveClass {
		return s.meta.Positive, nil
	}
	return s.meta.Negative, nil
}

// Save writes the libsvm model to path and its metadata beside it, creating parent
// directories as needed.
func (s *SVM) Save(path string) error {
	if s.model == nil || s.meta == nil {
		return ErrNotTrained
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create model dir: %w", err)
		}
	}
	if err := s.model.Dump(path); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	data, err := json.MarshalIndent(s.meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metaPath(path), data, 0644)
}

// Load replaces the current model with the one stored at path.
func (s *SVM) Load(path string) error {
	data, err := os.ReadFile(metaPath(path))
	if err != nil {
		return fmt.Errorf("read model metadata: %w", err)
	}
	var meta modelMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("decode model metadata %s: %w", metaPath(path), err)
	}
	if err := meta.validate(); err != nil {
		return fmt.Errorf("invalid model %s: %w", path, err)
	}

	model := libsvm.NewModel(libsvm.NewParameter())
	if err := model.ReadModel(path); err != nil {
		return fmt.Errorf("read model %s: %w", path, err)
	}

	s.model = model
	s.meta = &meta
	s.cfg.Kernel = meta.Kernel
	s.cfg.BlinkLabel = meta.Positive
	return nil
}
