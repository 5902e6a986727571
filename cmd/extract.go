package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/blinkscan/internal/dataset"
	"github.com/andresmejia3/blinkscan/internal/detector"
	"github.com/andresmejia3/blinkscan/internal/ear"
	"github.com/andresmejia3/blinkscan/internal/log"
	"github.com/andresmejia3/blinkscan/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var extractOpts Options

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Write the per-frame EAR series of a video for training",
	Long: `Runs face localization and landmark estimation over every frame of a video and writes
one "frame_index:ear" line per frame. Frames without a usable face get the neutral value 0.5.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtract(cmd.Context(), extractOpts)
	},
}

func init() {
	addPipelineFlags(extractCmd, &extractOpts)
	extractCmd.Flags().StringVarP(&extractOpts.OutputPath, "output", "o", "", "EAR output file (default: <input>.ear)")
	rootCmd.AddCommand(extractCmd)
}

// faceCounter tallies frames with a face and blinks seen by the falling-edge detector.
type faceCounter struct {
	withFace int64
	blinks   int64
}

func (f *faceCounter) FacePresence(present bool) {
	if present {
		f.withFace++
	}
}

func (f *faceCounter) BlinkDetected(int64) { f.blinks++ }

func runExtract(ctx context.Context, opts Options) error {
	if err := validateExtractFlags(&opts); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	logger := log.With("cmd", "extract")

	out, err := os.Create(opts.OutputPath)
	if err != nil {
		utils.ShowError("Failed to create output file", err, nil)
		return err
	}
	defer out.Close()
	w := dataset.NewEARWriter(out)

	counter := &faceCounter{}
	cfg := detectPipelineConfig(opts)
	cfg.Logger = logger
	sess, err := newSession(ctx, opts, cfg, nil, counter)
	if err != nil {
		return err
	}
	defer sess.Close()

	total := utils.GetTotalFrames(ctx, opts.InputPath)
	if total <= 0 {
		total = -1 // Spinner
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("👁️  Extracting EAR"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	missed := 0
	for ctx.Err() == nil {
		more, err := sess.step(&missed)
		if err != nil {
			return err
		}
		if !more {
			break
		}
		st := sess.pipeline.State()
		if st.FrameCount == 0 {
			continue
		}
		value := ear.NoFaceSample
		if st.Sampled {
			value = st.LastSample
		}
		if err := w.Write(st.FrameCount-1, value); err != nil {
			utils.ShowError("Failed to write EAR row", err, nil)
			return err
		}
		bar.Set64(st.FrameCount)
	}
	bar.Finish()

	if err := w.Flush(); err != nil {
		utils.ShowError("Failed to write EAR file", err, nil)
		return err
	}
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "\n⚠️  Extraction interrupted, the EAR file is incomplete.")
		return ctx.Err()
	}

	st := sess.pipeline.State()
	logger.Info("extraction finished", "frames", st.FrameCount, "with_face", counter.withFace, "threshold_blinks", counter.blinks)
	fmt.Fprintf(os.Stderr, "\n✅ Wrote %d EAR rows to %s (%d frames with a face).\n", st.FrameCount, opts.OutputPath, counter.withFace)
	return nil
}

func validateExtractFlags(opts *Options) error {
	if opts.InputPath == "" {
		return fmt.Errorf("--input is required")
	}
	if err := validateSourceFlags(opts); err != nil {
		return err
	}
	if opts.OutputPath == "" {
		opts.OutputPath = opts.InputPath + ".ear"
	}
	if opts.OutputPath == opts.InputPath {
		return fmt.Errorf("output path must differ from the input video")
	}
	// The threshold detector runs only to report a rough blink count.
	opts.Strategy = detector.StrategyThreshold
	if opts.EARThreshold == 0 {
		opts.EARThreshold = detector.DefaultConfig().EARThreshold
	}
	if opts.Refractory == 0 {
		opts.Refractory = detector.DefaultConfig().Refractory
	}
	if opts.BlinkLabel == "" {
		opts.BlinkLabel = detector.DefaultConfig().BlinkLabel
	}
	return nil
}
