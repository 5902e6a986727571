package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/andresmejia3/blinkscan/internal/classifier"
	"github.com/andresmejia3/blinkscan/internal/detector"
	"github.com/andresmejia3/blinkscan/internal/log"
	"github.com/andresmejia3/blinkscan/internal/notify"
	"github.com/andresmejia3/blinkscan/internal/pipeline"
	"github.com/andresmejia3/blinkscan/internal/utils"
	"github.com/andresmejia3/blinkscan/internal/vision"
	"github.com/andresmejia3/blinkscan/internal/vision/cv"
	"github.com/andresmejia3/blinkscan/internal/worker"
	"github.com/spf13/cobra"
)

// maxMissedReads is how many consecutive empty camera reads end a live session.
const maxMissedReads = 30

var detectOpts Options

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect blinks live from a camera or a video file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDetect(cmd.Context(), detectOpts)
	},
}

func init() {
	addPipelineFlags(detectCmd, &detectOpts)
	detectCmd.Flags().StringVarP(&detectOpts.ModelPath, "model", "m", classifier.DefaultModelPath, "Trained classifier model")
	detectCmd.Flags().StringVarP(&detectOpts.Strategy, "strategy", "s", detector.StrategySVM, "Detector: svm, threshold or both")
	detectCmd.Flags().Float64VarP(&detectOpts.EARThreshold, "threshold", "t", 0.25, "EAR level for the threshold detector")
	detectCmd.Flags().Int64Var(&detectOpts.Refractory, "refractory", 13, "Minimum frames between two classifier blinks")
	detectCmd.Flags().StringVar(&detectOpts.BlinkLabel, "blink-label", classifier.DefaultBlinkLabel, "Classifier label that means blink")
	detectCmd.Flags().BoolVarP(&detectOpts.Draw, "draw", "d", false, "Show the frame with landmark points")
	detectCmd.Flags().StringVar(&detectOpts.Serve, "serve", "", "Broadcast events to websocket clients on this address (e.g. :8765)")
	detectCmd.Flags().BoolVar(&detectOpts.Record, "record", false, "Record the session and its blinks in PostgreSQL")
	detectCmd.Flags().StringVar(&detectOpts.StatsInterval, "stats-interval", "10s", "How often to log FPS and face statistics (0 disables)")
	rootCmd.AddCommand(detectCmd)
}

// addPipelineFlags registers the flags shared by detect and extract.
func addPipelineFlags(c *cobra.Command, opts *Options) {
	c.Flags().StringVarP(&opts.InputPath, "input", "i", "", "Path to video (default: live camera)")
	c.Flags().StringVarP(&opts.Camera, "camera", "c", "0", "Camera index or stream URL when no --input is given")
	c.Flags().StringVar(&opts.Locator, "locator", "pigo", "Face locator: pigo or haar")
	c.Flags().StringVar(&opts.CascadePath, "cascade", "", "Face cascade file (default depends on --locator)")
	c.Flags().StringVar(&opts.PredictorPath, "predictor", worker.DefaultConfig().PredictorPath, "dlib 68-point shape predictor")
	c.Flags().StringVar(&opts.WorkerScript, "worker-script", worker.DefaultConfig().Script, "Landmark worker script")
	c.Flags().IntVarP(&opts.SkipFrames, "skip-frames", "n", 2, "Relocate the face every n frames")
}

// session bundles a wired pipeline with everything that must be released after it.
type session struct {
	pipeline *pipeline.Pipeline
	worker   *worker.PythonWorker
	video    *vision.VideoFile // nil for a camera
	closers  []io.Closer
}

func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newSession opens the frame source, the face locator and the landmark worker and wires the pipeline.
func newSession(ctx context.Context, opts Options, cfg pipeline.Config, clf classifier.Classifier, n pipeline.Notifier) (*session, error) {
	s := &session{}
	fail := func(msg string, err error, sc *utils.SafeCommand) (*session, error) {
		utils.ShowError(msg, err, sc)
		s.Close()
		return nil, err
	}

	var src pipeline.FrameSource
	if opts.InputPath != "" {
		v, err := vision.OpenVideoFile(ctx, opts.InputPath)
		if err != nil {
			return fail("Failed to open video", err, nil)
		}
		s.video = v
		s.closers = append(s.closers, v)
		src = v
		if fps, err := utils.GetVideoFPS(ctx, opts.InputPath); err == nil {
			fmt.Fprintf(os.Stderr, "📼 Reading %s (%dx%d @ %.2f fps)\n", opts.InputPath, v.Width, v.Height, fps)
		} else {
			fmt.Fprintf(os.Stderr, "📼 Reading %s (%dx%d)\n", opts.InputPath, v.Width, v.Height)
		}
	} else {
		c, err := cv.OpenCamera(opts.Camera)
		if err != nil {
			return fail("Failed to open camera", err, nil)
		}
		s.closers = append(s.closers, c)
		src = c
		fmt.Fprintf(os.Stderr, "📷 Capturing from camera %s\n", opts.Camera)
	}

	var loc pipeline.FaceLocator
	switch opts.Locator {
	case "haar":
		h, err := cv.NewHaarLocator(opts.CascadePath, 30)
		if err != nil {
			return fail("Failed to load face cascade", err, nil)
		}
		s.closers = append(s.closers, h)
		loc = h
	default:
		p, err := vision.NewPigoLocator(opts.CascadePath, vision.DefaultPigoConfig())
		if err != nil {
			return fail("Failed to load face cascade", err, nil)
		}
		loc = p
	}

	wcfg := worker.DefaultConfig()
	wcfg.Script = opts.WorkerScript
	wcfg.PredictorPath = opts.PredictorPath
	fmt.Fprintln(os.Stderr, "⚙️  Starting landmark worker...")
	w, err := worker.NewPythonWorker(ctx, 0, wcfg)
	if err != nil {
		return fail("Worker startup failed", err, nil)
	}
	s.worker = w
	s.closers = append(s.closers, w)

	deps := pipeline.Deps{
		Source:     src,
		Locator:    loc,
		Landmarks:  w,
		Classifier: clf,
		Notifier:   n,
	}
	if cfg.Draw {
		d := cv.NewDisplay("blinkscan")
		s.closers = append(s.closers, d)
		deps.Visualizer = d
	}

	p, err := pipeline.New(cfg, deps)
	if err != nil {
		return fail("Configuration Error", err, nil)
	}
	s.pipeline = p
	return s, nil
}

// step runs one frame. It returns false when the session should end. Per-frame worker
// exceptions are logged and skipped; a dead worker or a classifier failure ends the run.
func (s *session) step(missed *int) (bool, error) {
	ok, err := s.pipeline.ProcessNext()
	if err != nil {
		if errors.Is(err, worker.ErrWorker) {
			log.Warn("frame skipped", "error", err)
			return true, nil
		}
		utils.ShowError("Frame processing failed", err, s.worker.Cmd)
		return false, err
	}
	if ok {
		*missed = 0
		return true, nil
	}
	if s.video != nil {
		if err := s.video.Err(); err != nil {
			utils.ShowError("Frame decoding failed", err, s.video.Cmd)
			return false, err
		}
		return false, nil
	}
	*missed++
	if *missed >= maxMissedReads {
		err := fmt.Errorf("no frame in %d consecutive reads", *missed)
		utils.ShowError("Camera stopped delivering frames", err, nil)
		return false, err
	}
	return true, nil
}

// runDetect loads the model, wires the notifiers and drives the pipeline until the input ends
// or the context is cancelled.
func runDetect(ctx context.Context, opts Options) error {
	if err := validateDetectFlags(&opts); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	logger := log.With("cmd", "detect")

	var clf classifier.Classifier
	if opts.Strategy != detector.StrategyThreshold {
		svm, err := loadModel(opts)
		if err != nil {
			utils.ShowError("Failed to load model", err, nil)
			return err
		}
		clf = svm
		fmt.Fprintf(os.Stderr, "🧠 Loaded model %s\n", opts.ModelPath)
	}

	logNotifier := notify.NewLog(logger)
	notifiers := notify.Multi{logNotifier}

	if opts.Serve != "" {
		hub := notify.NewHub("blinks", logger)
		go hub.Run(ctx)
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		srv := &http.Server{Addr: opts.Serve, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("websocket server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		notifiers = append(notifiers, hub)
		fmt.Fprintf(os.Stderr, "📡 Broadcasting events on ws://%s/ws\n", opts.Serve)
	}

	var sessionID string
	var rec *notify.Recorder
	if opts.Record {
		db, err := openDB(ctx)
		if err != nil {
			utils.ShowError("Failed to connect to database", err, nil)
			return err
		}
		source := "camera:" + opts.Camera
		if opts.InputPath != "" {
			// Size and mtime fingerprint keeps a re-recorded file under the same name distinct
			id, err := utils.GenerateSourceID(opts.InputPath)
			if err != nil {
				utils.ShowError("Failed to fingerprint input", err, nil)
				return err
			}
			source = opts.InputPath + "#" + id[:12]
		}
		sessionID, err = db.StartSession(ctx, source, opts.Strategy)
		if err != nil {
			utils.ShowError("Failed to start session", err, nil)
			return err
		}
		rec = notify.NewRecorder(context.Background(), db, sessionID, logger)
		defer rec.Close()
		notifiers = append(notifiers, rec)
		fmt.Fprintf(os.Stderr, "🗄️  Recording session %s\n", sessionID)
	}

	cfg := detectPipelineConfig(opts)
	cfg.Logger = logger
	sess, err := newSession(ctx, opts, cfg, clf, notifiers)
	if err != nil {
		return err
	}
	defer sess.Close()

	var ticker <-chan time.Time
	if interval, _ := time.ParseDuration(opts.StatsInterval); interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		ticker = t.C
	}

	fmt.Fprintln(os.Stderr, "👁️  Watching for blinks (Ctrl+C to stop)...")
	missed := 0
	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker:
			st := sess.pipeline.State()
			logger.Info("stats", "frames", st.FrameCount, "fps", fmt.Sprintf("%.1f", st.FPS), "blinks", logNotifier.Blinks)
		default:
		}
		more, err := sess.step(&missed)
		if err != nil {
			runErr = err
			break
		}
		if !more {
			break
		}
	}

	st := sess.pipeline.State()
	if rec != nil {
		finishSession(context.Background(), rec, DB, sessionID, st.FrameCount, logger)
	}
	fmt.Fprintf(os.Stderr, "\n🏁 Detection finished. %d frames, %d blinks, %.1f fps.\n", st.FrameCount, logNotifier.Blinks, st.FPS)
	return runErr
}

// sessionEnder marks a recorded session as finished.
type sessionEnder interface {
	EndSession(ctx context.Context, id string, frames int64) error
}

// finishSession drains the recorder so every queued blink is stored before the session
// gets its end time.
func finishSession(ctx context.Context, rec *notify.Recorder, db sessionEnder, id string, frames int64, logger *slog.Logger) {
	rec.Close()
	if n := rec.Failures(); n > 0 {
		logger.Warn("some blinks were not recorded", "session", id, "failed", n)
	}
	if err := db.EndSession(ctx, id, frames); err != nil {
		logger.Warn("failed to close session", "session", id, "error", err)
	}
}

// loadModel reads the classifier and checks that it takes windows of the configured size.
func loadModel(opts Options) (*classifier.SVM, error) {
	svm, err := classifier.LoadSVM(opts.ModelPath)
	if err != nil {
		return nil, err
	}
	if want := detectPipelineConfig(opts).WindowSize; svm.Dim() != want {
		return nil, fmt.Errorf("%w: model %s expects %d features, the window holds %d",
			classifier.ErrDimension, opts.ModelPath, svm.Dim(), want)
	}
	return svm, nil
}

// detectPipelineConfig maps the command options onto the pipeline configuration.
func detectPipelineConfig(opts Options) pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.SkipFrames = opts.SkipFrames
	cfg.Strategy = opts.Strategy
	cfg.Draw = opts.Draw
	cfg.Detector.EARThreshold = opts.EARThreshold
	cfg.Detector.Refractory = opts.Refractory
	cfg.Detector.BlinkLabel = opts.BlinkLabel
	return cfg
}

func validateDetectFlags(opts *Options) error {
	if err := validateSourceFlags(opts); err != nil {
		return err
	}
	if !detector.ValidStrategy(opts.Strategy) {
		return fmt.Errorf("invalid strategy '%s'. Must be 'svm', 'threshold' or 'both'", opts.Strategy)
	}
	if opts.Strategy != detector.StrategyThreshold && opts.ModelPath == "" {
		return fmt.Errorf("strategy '%s' requires --model", opts.Strategy)
	}
	if _, err := time.ParseDuration(opts.StatsInterval); err != nil {
		return fmt.Errorf("invalid stats-interval format (use '10s', '1m'): %w", err)
	}
	return detectPipelineConfig(*opts).Validate()
}

// validateSourceFlags checks the input, locator and worker flags shared by detect and extract.
func validateSourceFlags(opts *Options) error {
	if opts.InputPath != "" {
		info, err := os.Stat(opts.InputPath)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("input file does not exist: %w", err)
			}
			return fmt.Errorf("unable to access input file: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("input path %s is a directory, expected a video file", opts.InputPath)
		}
	}

	switch opts.Locator {
	case "pigo":
		if opts.CascadePath == "" {
			opts.CascadePath = "models/facefinder"
		}
	case "haar":
		if opts.CascadePath == "" {
			opts.CascadePath = "models/haarcascade_frontalface_default.xml"
		}
	default:
		return fmt.Errorf("invalid locator '%s'. Must be 'pigo' or 'haar'", opts.Locator)
	}

	if opts.SkipFrames < 1 {
		return fmt.Errorf("skip-frames must be >= 1, got %d", opts.SkipFrames)
	}
	if opts.PredictorPath == "" {
		return fmt.Errorf("--predictor is required")
	}
	return nil
}
