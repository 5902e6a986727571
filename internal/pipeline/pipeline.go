// Package pipeline turns a stream of frames into face-presence and blink notifications.
//
// Each ProcessNext call reads one frame, relocates the face every SkipFrames frames on a
// downscaled copy, estimates landmarks on the full-resolution frame, pushes the mean eye
// aspect ratio into the feature window and hands the window to the configured detector.
// The pipeline is driven by a single caller and is not safe for concurrent use.
package pipeline

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/andresmejia3/blinkscan/internal/classifier"
	"github.com/andresmejia3/blinkscan/internal/detector"
	"github.com/andresmejia3/blinkscan/internal/ear"
	"github.com/andresmejia3/blinkscan/internal/types"
)

// FrameSource yields frames. TryRead returns false when no frame is available right now.
type FrameSource interface {
	TryRead() (image.Image, bool)
}

// FaceLocator finds face boxes in a grayscale image.
type FaceLocator interface {
	Locate(img *image.Gray, upsample int) ([]types.Box, error)
}

// LandmarkEstimator predicts the 68-point landmark set for the face inside box.
type LandmarkEstimator interface {
	Predict(img *image.Gray, box types.Box) (types.Landmarks, error)
}

// Notifier receives the pipeline's two events.
type Notifier interface {
	FacePresence(present bool)
	BlinkDetected(frame int64)
}

// Visualizer displays a frame and the landmarks found on it (nil when there was no face).
type Visualizer interface {
	Show(img *image.Gray, lm types.Landmarks)
}

// Config holds the pipeline constants.
type Config struct {
	SkipFrames    int    // Relocate the face on every SkipFrames-th frame
	DownsizeRatio int    // Face localization runs on a frame shrunk by this factor
	WindowSize    int    // Feature window capacity
	Strategy      string // detector.StrategySVM, StrategyThreshold or StrategyBoth
	Detector      detector.Config
	Draw          bool
	Logger        *slog.Logger
}

// DefaultConfig returns the configuration the detector was tuned with.
func DefaultConfig() Config {
	return Config{
		SkipFrames:    2,
		DownsizeRatio: 2,
		WindowSize:    ear.DefaultCapacity,
		Strategy:      detector.StrategySVM,
		Detector:      detector.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SkipFrames < 1 {
		return fmt.Errorf("skip frames must be >= 1, got %d", c.SkipFrames)
	}
	if c.DownsizeRatio < 1 {
		return fmt.Errorf("downsize ratio must be >= 1, got %d", c.DownsizeRatio)
	}
	if c.WindowSize < 2 {
		return fmt.Errorf("window size must be >= 2, got %d", c.WindowSize)
	}
	if !detector.ValidStrategy(c.Strategy) {
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	return c.Detector.Validate()
}

// Dimensioned is implemented by classifiers that know their feature count.
type Dimensioned interface {
	Dim() int
}

// Deps are the collaborators the pipeline consumes.
type Deps struct {
	Source     FrameSource
	Locator    FaceLocator
	Landmarks  LandmarkEstimator
	Classifier classifier.Classifier // Required for the svm and both strategies
	Notifier   Notifier
	Visualizer Visualizer // Optional, used when Config.Draw is set
	Clock      func() time.Time
}

// State is everything the pipeline carries from one frame to the next.
type State struct {
	FrameCount     int64
	Faces          []types.Box // Boxes from the last localization, downscaled coordinates
	Window         *ear.Window
	LastBlinkFrame int64
	StartTime      time.Time
	FPS            float64
	// LastSample is the value pushed for the current frame; Sampled is false when the
	// frame produced no sample (landmark failure or degenerate geometry).
	LastSample float64
	Sampled    bool
}

// Pipeline processes frames one at a time.
type Pipeline struct {
	cfg       Config
	src       FrameSource
	locator   FaceLocator
	landmarks LandmarkEstimator
	notifier  Notifier
	vis       Visualizer
	window    *detector.WindowDetector
	now       func() time.Time
	logger    *slog.Logger

	state State
	buf   frameBuffers
	// faceScale maps cached boxes back to full-resolution coordinates.
	faceScale int
}

// New validates cfg and wires the pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if deps.Source == nil || deps.Locator == nil || deps.Landmarks == nil || deps.Notifier == nil {
		return nil, errors.New("frame source, face locator, landmark estimator and notifier are required")
	}

	p := &Pipeline{
		cfg:       cfg,
		src:       deps.Source,
		locator:   deps.Locator,
		landmarks: deps.Landmarks,
		notifier:  deps.Notifier,
		vis:       deps.Visualizer,
		now:       deps.Clock,
		logger:    cfg.Logger,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}

	if cfg.Strategy != detector.StrategyThreshold {
		wd, err := detector.NewWindowDetector(deps.Classifier, cfg.Detector)
		if err != nil {
			return nil, fmt.Errorf("strategy %q: %w", cfg.Strategy, err)
		}
		if d, ok := deps.Classifier.(Dimensioned); ok && d.Dim() != cfg.WindowSize {
			return nil, fmt.Errorf("%w: model expects %d features, window holds %d", classifier.ErrDimension, d.Dim(), cfg.WindowSize)
		}
		p.window = wd
	}

	p.state = State{
		Window:    ear.NewWindow(cfg.WindowSize),
		StartTime: p.now(),
	}
	return p, nil
}

// State returns the pipeline state. The window is shared, not copied.
func (p *Pipeline) State() State {
	s := p.state
	s.Faces = append([]types.Box(nil), p.state.Faces...)
	return s
}

// ProcessNext handles one frame. It returns false when the source had no frame.
// A landmark or classifier failure is returned as an error after the frame has been counted;
// the caller decides whether to keep going.
func (p *Pipeline) ProcessNext() (bool, error) {
	img, ok := p.src.TryRead()
	if !ok || img == nil {
		return false, nil
	}

	st := &p.state
	st.FrameCount++
	st.Sampled = false

	gray := p.buf.toGray(img)
	small, scale := p.buf.downscale(gray, p.cfg.DownsizeRatio)

	if st.FrameCount%int64(p.cfg.SkipFrames) == 0 || len(st.Faces) == 0 {
		boxes, err := p.locator.Locate(small, 0)
		if err != nil {
			st.Faces = nil
			p.updateFPS()
			return true, fmt.Errorf("locate face at frame %d: %w", st.FrameCount, err)
		}
		st.Faces = boxes
		p.faceScale = scale
	}

	var err error
	var lm types.Landmarks
	if len(st.Faces) > 0 {
		lm, err = p.processFace(gray)
	} else {
		p.push(ear.NoFaceSample)
		p.notifier.FacePresence(false)
	}

	p.updateFPS()
	if p.cfg.Draw && p.vis != nil {
		p.vis.Show(gray, lm)
	}
	return true, err
}

func (p *Pipeline) processFace(gray *image.Gray) (types.Landmarks, error) {
	st := &p.state
	box := ear.ScaleBox(st.Faces[0], float64(p.faceScale))
	lm, err := p.landmarks.Predict(gray, box)
	if err != nil {
		return nil, fmt.Errorf("landmarks at frame %d: %w", st.FrameCount, err)
	}

	v, err := ear.MeanEAR(lm)
	switch {
	case err == nil:
		p.push(v)
		err = p.detect()
	case errors.Is(err, ear.ErrDegenerateEye):
		p.logger.Debug("both eyes degenerate, frame not sampled", "frame", st.FrameCount)
		err = nil
	default:
		err = fmt.Errorf("eye aspect ratio at frame %d: %w", st.FrameCount, err)
	}
	p.notifier.FacePresence(true)
	return lm, err
}

// detect runs the configured strategy on the current window. With both strategies enabled,
// a classifier blink suppresses the threshold check for the same frame.
func (p *Pipeline) detect() error {
	st := &p.state
	if p.window != nil {
		fired, err := p.window.Detect(st.Window, st.FrameCount, &st.LastBlinkFrame)
		if err != nil {
			return err
		}
		if fired {
			p.logger.Debug("blink", "frame", st.FrameCount, "detector", detector.StrategySVM)
			p.notifier.BlinkDetected(st.FrameCount)
			return nil
		}
	}
	if p.cfg.Strategy == detector.StrategyThreshold || p.cfg.Strategy == detector.StrategyBoth {
		if detector.Threshold(st.Window, p.cfg.Detector.EARThreshold) {
			p.logger.Debug("blink", "frame", st.FrameCount, "detector", detector.StrategyThreshold)
			p.notifier.BlinkDetected(st.FrameCount)
		}
	}
	return nil
}

func (p *Pipeline) push(v float64) {
	p.state.Window.PushFront(v)
	p.state.LastSample = v
	p.state.Sampled = true
}

func (p *Pipeline) updateFPS() {
	elapsed := p.now().Sub(p.state.StartTime).Seconds()
	if elapsed > 0 {
		p.state.FPS = float64(p.state.FrameCount) / elapsed
	}
}
