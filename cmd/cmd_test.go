package cmd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/blinkscan/internal/classifier"
	"github.com/andresmejia3/blinkscan/internal/store"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// quietStderr discards stderr for the rest of the test.
func quietStderr(t *testing.T) {
	t.Helper()
	old := os.Stderr
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	os.Stderr = devNull
	t.Cleanup(func() {
		os.Stderr = old
		devNull.Close()
	})
}

func validDetectOptions(input string) Options {
	return Options{
		InputPath:     input,
		Camera:        "0",
		ModelPath:     classifier.DefaultModelPath,
		Strategy:      "svm",
		Locator:       "pigo",
		PredictorPath: "models/shape_predictor_68_face_landmarks.dat",
		SkipFrames:    2,
		EARThreshold:  0.25,
		Refractory:    13,
		BlinkLabel:    "C",
		StatsInterval: "10s",
	}
}

func TestValidateDetectFlags(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "video.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{"Valid video options", func(o *Options) {}, false},
		{"Camera when no input", func(o *Options) { o.InputPath = "" }, false},
		{"Threshold needs no model", func(o *Options) { o.Strategy = "threshold"; o.ModelPath = "" }, false},
		{"Haar locator", func(o *Options) { o.Locator = "haar" }, false},
		{"Input file does not exist", func(o *Options) { o.InputPath = "nonexistent.mp4" }, true},
		{"Input is directory", func(o *Options) { o.InputPath = tmpDir }, true},
		{"Unknown strategy", func(o *Options) { o.Strategy = "cnn" }, true},
		{"SVM without model", func(o *Options) { o.ModelPath = "" }, true},
		{"Unknown locator", func(o *Options) { o.Locator = "hog" }, true},
		{"Invalid skip frames", func(o *Options) { o.SkipFrames = 0 }, true},
		{"Threshold out of range", func(o *Options) { o.EARThreshold = 1.5 }, true},
		{"Negative refractory", func(o *Options) { o.Refractory = -1 }, true},
		{"Empty blink label", func(o *Options) { o.BlinkLabel = "" }, true},
		{"Bad stats interval", func(o *Options) { o.StatsInterval = "often" }, true},
		{"Missing predictor", func(o *Options) { o.PredictorPath = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validDetectOptions(tmpFile.Name())
			tt.mutate(&opts)
			if err := validateDetectFlags(&opts); (err != nil) != tt.wantErr {
				t.Errorf("validateDetectFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSourceFlags_DefaultCascade(t *testing.T) {
	for locator, want := range map[string]string{
		"pigo": "models/facefinder",
		"haar": "models/haarcascade_frontalface_default.xml",
	} {
		opts := validDetectOptions("")
		opts.Locator = locator
		if err := validateSourceFlags(&opts); err != nil {
			t.Fatalf("%s: %v", locator, err)
		}
		if opts.CascadePath != want {
			t.Errorf("%s cascade = %q, want %q", locator, opts.CascadePath, want)
		}
	}

	opts := validDetectOptions("")
	opts.CascadePath = "custom/cascade"
	validateSourceFlags(&opts)
	if opts.CascadePath != "custom/cascade" {
		t.Errorf("explicit cascade overwritten with %q", opts.CascadePath)
	}
}

func TestValidateExtractFlags(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "clip.avi")
	if err := os.WriteFile(video, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	opts := Options{InputPath: video, Locator: "pigo", PredictorPath: "p.dat", SkipFrames: 1}
	if err := validateExtractFlags(&opts); err != nil {
		t.Fatalf("validateExtractFlags() = %v", err)
	}
	if opts.OutputPath != video+".ear" {
		t.Errorf("default output = %q", opts.OutputPath)
	}
	if opts.EARThreshold != 0.25 || opts.Refractory != 13 || opts.BlinkLabel != "C" {
		t.Errorf("detector defaults not applied: %+v", opts)
	}
	if err := detectPipelineConfig(opts).Validate(); err != nil {
		t.Errorf("extract pipeline config invalid: %v", err)
	}

	noInput := Options{Locator: "pigo", PredictorPath: "p.dat", SkipFrames: 1}
	if err := validateExtractFlags(&noInput); err == nil {
		t.Error("expected an error without --input")
	}

	same := Options{InputPath: video, OutputPath: video, Locator: "pigo", PredictorPath: "p.dat", SkipFrames: 1}
	if err := validateExtractFlags(&same); err == nil {
		t.Error("expected an error when output overwrites the input")
	}
}

// writeTrainingFiles writes a synthetic recording: a steady open-eye EAR with a five-frame
// dip every 25 frames, its apex labelled as a blink.
func writeTrainingFiles(t *testing.T, dir string, frames int) (earPath, labelPath string) {
	t.Helper()
	var ears, labels bytes.Buffer
	for i := 0; i < frames; i++ {
		v := 0.3 + 0.01*math.Sin(float64(i))
		label := "O"
		switch d := (i % 25) - 12; {
		case d == 0:
			v, label = 0.05, "C"
		case d == -1 || d == 1:
			v = 0.12
		case d == -2 || d == 2:
			v = 0.2
		}
		fmt.Fprintf(&ears, "%d:%v\n", i, v)
		fmt.Fprintf(&labels, "%d:0:0:%s\n", i, label)
	}
	earPath = filepath.Join(dir, "clip.ear")
	labelPath = filepath.Join(dir, "clip.tag")
	if err := os.WriteFile(earPath, ears.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(labelPath, labels.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return earPath, labelPath
}

func validTrainOptions(earPath, labelPath, modelPath string) TrainOptions {
	return TrainOptions{
		EARPath:       earPath,
		LabelPath:     labelPath,
		LabelColumn:   3,
		BlinkLabel:    "C",
		NonBlinkLabel: "O",
		Half:          6,
		HoldOut:       0.1,
		Seed:          1,
		Kernel:        "linear",
		C:             10,
		ModelPath:     modelPath,
	}
}

func TestValidateTrainFlags(t *testing.T) {
	dir := t.TempDir()
	earPath, labelPath := writeTrainingFiles(t, dir, 50)
	model := filepath.Join(dir, "model.svm")

	tests := []struct {
		name    string
		mutate  func(o *TrainOptions)
		wantErr bool
	}{
		{"Valid", func(o *TrainOptions) {}, false},
		{"RBF kernel", func(o *TrainOptions) { o.Kernel = "rbf"; o.Gamma = 0.5 }, false},
		{"Missing EAR file flag", func(o *TrainOptions) { o.EARPath = "" }, true},
		{"EAR file does not exist", func(o *TrainOptions) { o.EARPath = filepath.Join(dir, "missing.ear") }, true},
		{"Missing labels", func(o *TrainOptions) { o.LabelPath = "" }, true},
		{"Negative label column", func(o *TrainOptions) { o.LabelColumn = -1 }, true},
		{"Hold-out of one", func(o *TrainOptions) { o.HoldOut = 1 }, true},
		{"Same labels", func(o *TrainOptions) { o.NonBlinkLabel = "C" }, true},
		{"Zero half window", func(o *TrainOptions) { o.Half = 0 }, true},
		{"Unknown kernel", func(o *TrainOptions) { o.Kernel = "poly" }, true},
		{"Non-positive C", func(o *TrainOptions) { o.C = 0 }, true},
		{"Missing model path", func(o *TrainOptions) { o.ModelPath = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validTrainOptions(earPath, labelPath, model)
			tt.mutate(&opts)
			if err := validateTrainFlags(&opts); (err != nil) != tt.wantErr {
				t.Errorf("validateTrainFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunTrain(t *testing.T) {
	quietStderr(t)
	dir := t.TempDir()
	earPath, labelPath := writeTrainingFiles(t, dir, 300)
	model := filepath.Join(dir, "models", "blink.svm")

	if err := runTrain(context.Background(), validTrainOptions(earPath, labelPath, model)); err != nil {
		t.Fatalf("runTrain() = %v", err)
	}

	svm, err := classifier.LoadSVM(model)
	if err != nil {
		t.Fatalf("trained model not loadable: %v", err)
	}
	// A window whose center is a deep dip is a blink; a flat open-eye window is not.
	dip := []float64{0.3, 0.3, 0.3, 0.3, 0.2, 0.12, 0.05, 0.12, 0.2, 0.3, 0.3, 0.3, 0.3}
	flat := []float64{0.3, 0.3, 0.3, 0.3, 0.3, 0.3, 0.3, 0.3, 0.3, 0.3, 0.3, 0.3, 0.3}
	if got, _ := svm.Predict(dip); got != "C" {
		t.Errorf("Predict(dip) = %q, want C", got)
	}
	if got, _ := svm.Predict(flat); got != "O" {
		t.Errorf("Predict(flat) = %q, want O", got)
	}
}

func TestRunTrain_NoBlinks(t *testing.T) {
	quietStderr(t)
	dir := t.TempDir()
	earPath, labelPath := writeTrainingFiles(t, dir, 60)
	opts := validTrainOptions(earPath, labelPath, filepath.Join(dir, "m.svm"))
	opts.BlinkLabel = "X"
	if err := runTrain(context.Background(), opts); err == nil {
		t.Fatal("expected an error when no example carries the blink label")
	}
}

func TestResolveDBURL(t *testing.T) {
	old := dbURL
	t.Cleanup(func() { dbURL = old })

	dbURL = ""
	t.Setenv("POSTGRES_HOST", "")
	if got := resolveDBURL(); got != "postgres://localhost:5432/blinkscan" {
		t.Errorf("default URL = %q", got)
	}

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "blinks")
	t.Setenv("POSTGRES_PORT", "")
	if got := resolveDBURL(); got != "postgres://u:p@db:5432/blinks" {
		t.Errorf("env URL = %q", got)
	}

	dbURL = "postgres://flag/db"
	if got := resolveDBURL(); got != "postgres://flag/db" {
		t.Errorf("flag URL = %q", got)
	}
}

func TestFmtDuration(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90*time.Second + 400*time.Millisecond)
	if got := fmtDuration(start, &end); got != "1m30s" {
		t.Errorf("fmtDuration() = %q, want 1m30s", got)
	}
	if got := fmtDuration(start, nil); got != "running" {
		t.Errorf("fmtDuration(open) = %q, want running", got)
	}
}

func TestFormatCounts(t *testing.T) {
	if got := formatCounts(map[string]int{"O": 840, "C": 12}); got != "C=12 O=840" {
		t.Errorf("formatCounts() = %q", got)
	}
	if got := formatCounts(nil); got != "" {
		t.Errorf("formatCounts(nil) = %q", got)
	}
}

func TestWriteSessions(t *testing.T) {
	start := time.Now()
	var buf bytes.Buffer
	writeSessions(&buf, []store.Session{
		{ID: "abc", Source: "clip.avi", Strategy: "svm", StartedAt: start, Frames: 300, BlinkCount: 4},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header, rule and one row:\n%s", len(lines), buf.String())
	}
	for _, want := range []string{"abc", "clip.avi", "svm", "300", "4", "running"} {
		if !strings.Contains(lines[2], want) {
			t.Errorf("row %q missing %q", lines[2], want)
		}
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		r := bufio.NewReader(strings.NewReader(tt.input))
		if got := confirm(r, &bytes.Buffer{}, "sure?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

// TestTrainRecording runs train with --record against a real database and checks that the
// run shows up in the runs listing.
func TestTrainRecording(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	quietStderr(t)

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("blinkscan_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer pgContainer.Terminate(ctx)

	connStr, _ := pgContainer.ConnectionString(ctx, "sslmode=disable")
	oldURL := dbURL
	dbURL = connStr
	t.Cleanup(func() {
		dbURL = oldURL
		if DB != nil {
			DB.Close(context.Background())
			DB = nil
		}
	})

	dir := t.TempDir()
	earPath, labelPath := writeTrainingFiles(t, dir, 300)
	opts := validTrainOptions(earPath, labelPath, filepath.Join(dir, "model.svm"))
	opts.Record = true
	if err := runTrain(ctx, opts); err != nil {
		t.Fatalf("runTrain() = %v", err)
	}

	runs, err := DB.ListTrainingRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d training runs, want 1", len(runs))
	}
	if runs[0].ModelPath != opts.ModelPath || runs[0].TrainSize == 0 || runs[0].TestSize == 0 {
		t.Errorf("recorded run = %+v", runs[0])
	}

	var buf bytes.Buffer
	writeRuns(&buf, runs)
	if !strings.Contains(buf.String(), opts.ModelPath) {
		t.Errorf("runs listing missing the model path:\n%s", buf.String())
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
