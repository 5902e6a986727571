package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/andresmejia3/blinkscan/internal/classifier"
	"github.com/andresmejia3/blinkscan/internal/dataset"
	"github.com/andresmejia3/blinkscan/internal/log"
	"github.com/andresmejia3/blinkscan/internal/store"
	"github.com/andresmejia3/blinkscan/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// TrainOptions configures the train command.
type TrainOptions struct {
	EARPath       string
	LabelPath     string
	LabelColumn   int
	BlinkLabel    string
	NonBlinkLabel string
	Half          int
	HoldOut       float64
	Seed          int64
	Kernel        string
	C             float64
	Gamma         float64
	ModelPath     string
	Record        bool
}

var trainOpts TrainOptions

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the blink classifier from an EAR series and its labels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrain(cmd.Context(), trainOpts)
	},
}

func init() {
	def := classifier.DefaultSVMConfig()
	build := dataset.DefaultBuildConfig()
	trainCmd.Flags().StringVarP(&trainOpts.EARPath, "ear", "e", "", "EAR series file (frame:ear per line)")
	trainCmd.Flags().StringVarP(&trainOpts.LabelPath, "labels", "l", "", "Label file (colon-separated, one row per frame)")
	trainCmd.Flags().IntVar(&trainOpts.LabelColumn, "label-column", dataset.DefaultLabelColumn, "Zero-based column holding the class symbol")
	trainCmd.Flags().StringVar(&trainOpts.BlinkLabel, "blink-label", build.BlinkLabel, "Symbol of a confirmed blink")
	trainCmd.Flags().StringVar(&trainOpts.NonBlinkLabel, "nonblink-label", build.NonBlinkLabel, "Symbol of a confirmed non-blink")
	trainCmd.Flags().IntVar(&trainOpts.Half, "half-window", build.Half, "Samples on each side of the center frame")
	trainCmd.Flags().Float64Var(&trainOpts.HoldOut, "holdout", classifier.DefaultHoldOut, "Fraction of examples kept for evaluation")
	trainCmd.Flags().Int64Var(&trainOpts.Seed, "seed", 1, "Seed for the train/test split")
	trainCmd.Flags().StringVar(&trainOpts.Kernel, "kernel", def.Kernel, "SVM kernel: linear or rbf")
	trainCmd.Flags().Float64Var(&trainOpts.C, "C", def.C, "SVM regularization strength")
	trainCmd.Flags().Float64Var(&trainOpts.Gamma, "gamma", def.Gamma, "RBF width (0 = 1/window size)")
	trainCmd.Flags().StringVarP(&trainOpts.ModelPath, "model", "m", classifier.DefaultModelPath, "Where to write the trained model")
	trainCmd.Flags().BoolVar(&trainOpts.Record, "record", false, "Record the run's scores in PostgreSQL")
	rootCmd.AddCommand(trainCmd)
}

func runTrain(ctx context.Context, opts TrainOptions) error {
	if err := validateTrainFlags(&opts); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	logger := log.With("cmd", "train")

	bar := progressbar.NewOptions(4,
		progressbar.OptionSetDescription("🧠 Training"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	stage := func(desc string) {
		bar.Describe(desc)
		bar.Add(1)
	}

	bar.Describe("📂 Building training set")
	examples, err := dataset.LoadAndBuild(opts.EARPath, opts.LabelPath, opts.LabelColumn, buildConfig(opts))
	if err != nil {
		bar.Exit()
		utils.ShowError("Failed to build training set", err, nil)
		return err
	}
	stage("🧠 Fitting SVM")
	counts := dataset.Counts(examples)
	logger.Info("training set built", "examples", len(examples), "classes", formatCounts(counts))
	if counts[opts.BlinkLabel] == 0 {
		bar.Exit()
		err := fmt.Errorf("no %q examples in %s", opts.BlinkLabel, opts.LabelPath)
		utils.ShowError("Training set has no blinks", err, nil)
		return err
	}

	svm, err := classifier.NewSVM(svmConfig(opts))
	if err != nil {
		bar.Exit()
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	report, err := classifier.Train(svm, examples, classifier.TrainConfig{
		HoldOut:    opts.HoldOut,
		Seed:       opts.Seed,
		BlinkLabel: opts.BlinkLabel,
	})
	if err != nil {
		bar.Exit()
		utils.ShowError("Training failed", err, nil)
		return err
	}
	stage("💾 Saving model")

	if dir := filepath.Dir(opts.ModelPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			bar.Exit()
			utils.ShowError("Failed to create model directory", err, nil)
			return err
		}
	}
	if err := svm.Save(opts.ModelPath); err != nil {
		bar.Exit()
		utils.ShowError("Failed to save model", err, nil)
		return err
	}
	stage("🗄️  Recording run")

	if opts.Record {
		db, err := openDB(ctx)
		if err != nil {
			bar.Exit()
			utils.ShowError("Failed to connect to database", err, nil)
			return err
		}
		id, err := db.InsertTrainingRun(ctx, trainingRun(opts.ModelPath, report))
		if err != nil {
			bar.Exit()
			utils.ShowError("Failed to record training run", err, nil)
			return err
		}
		logger.Info("training run recorded", "id", id)
	}
	stage("✅ Done")
	bar.Finish()

	fmt.Fprintf(os.Stderr, "\n%s\n", report)
	fmt.Fprintf(os.Stderr, "💾 Model saved to %s\n", opts.ModelPath)
	return nil
}

func buildConfig(opts TrainOptions) dataset.BuildConfig {
	return dataset.BuildConfig{
		Half:          opts.Half,
		BlinkLabel:    opts.BlinkLabel,
		NonBlinkLabel: opts.NonBlinkLabel,
	}
}

func svmConfig(opts TrainOptions) classifier.SVMConfig {
	cfg := classifier.DefaultSVMConfig()
	cfg.Kernel = opts.Kernel
	cfg.C = opts.C
	cfg.Gamma = opts.Gamma
	cfg.BlinkLabel = opts.BlinkLabel
	return cfg
}

func trainingRun(modelPath string, r classifier.Report) store.TrainingRun {
	return store.TrainingRun{
		ModelPath: modelPath,
		TrainSize: r.TrainSize,
		TestSize:  r.TestSize,
		TP:        r.Confusion.TP,
		FP:        r.Confusion.FP,
		TN:        r.Confusion.TN,
		FN:        r.Confusion.FN,
		Accuracy:  r.Accuracy,
		Precision: r.Precision,
		Recall:    r.Recall,
	}
}

// formatCounts renders label counts in a stable order, e.g. "C=12 O=840".
func formatCounts(counts map[string]int) string {
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	s := ""
	for i, l := range labels {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%d", l, counts[l])
	}
	return s
}

func validateTrainFlags(opts *TrainOptions) error {
	for flag, path := range map[string]string{"--ear": opts.EARPath, "--labels": opts.LabelPath} {
		if path == "" {
			return fmt.Errorf("%s is required", flag)
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("unable to access %s file: %w", flag, err)
		}
	}
	if opts.LabelColumn < 0 {
		return fmt.Errorf("label-column must be >= 0, got %d", opts.LabelColumn)
	}
	if opts.HoldOut < 0 || opts.HoldOut >= 1 {
		return fmt.Errorf("holdout must be in [0, 1), got %v", opts.HoldOut)
	}
	if opts.ModelPath == "" {
		return fmt.Errorf("--model is required")
	}
	if err := buildConfig(*opts).Validate(); err != nil {
		return err
	}
	return svmConfig(*opts).Validate()
}
