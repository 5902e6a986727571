package cmd

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/blinkscan/internal/classifier"
	"github.com/andresmejia3/blinkscan/internal/log"
	"github.com/andresmejia3/blinkscan/internal/notify"
)

// orderedStore records blink inserts and the session end in the order they reach it.
type orderedStore struct {
	mu     sync.Mutex
	events []string
}

func (s *orderedStore) InsertBlink(_ context.Context, _ string, _ int64) error {
	time.Sleep(5 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "blink")
	return nil
}

func (s *orderedStore) EndSession(_ context.Context, _ string, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "end")
	return nil
}

func TestFinishSession_DrainsBlinksFirst(t *testing.T) {
	db := &orderedStore{}
	rec := notify.NewRecorder(context.Background(), db, "session-1", log.Discard())
	for _, f := range []int64{14, 40, 71, 98} {
		rec.BlinkDetected(f)
	}

	finishSession(context.Background(), rec, db, "session-1", 120, log.Discard())
	// The deferred Close in runDetect runs afterwards and must be harmless.
	rec.Close()

	want := []string{"blink", "blink", "blink", "blink", "end"}
	if len(db.events) != len(want) {
		t.Fatalf("events = %v, want %v", db.events, want)
	}
	for i := range want {
		if db.events[i] != want[i] {
			t.Fatalf("events = %v, want %v", db.events, want)
		}
	}
}

func TestLoadModel_DimensionMismatch(t *testing.T) {
	quietStderr(t)
	dir := t.TempDir()
	earPath, labelPath := writeTrainingFiles(t, dir, 300)

	narrow := validTrainOptions(earPath, labelPath, filepath.Join(dir, "narrow.svm"))
	narrow.Half = 4
	if err := runTrain(context.Background(), narrow); err != nil {
		t.Fatalf("runTrain(half=4) = %v", err)
	}
	opts := validDetectOptions("")
	opts.ModelPath = narrow.ModelPath
	if _, err := loadModel(opts); !errors.Is(err, classifier.ErrDimension) {
		t.Errorf("9-feature model: got %v, want ErrDimension", err)
	}

	full := validTrainOptions(earPath, labelPath, filepath.Join(dir, "full.svm"))
	if err := runTrain(context.Background(), full); err != nil {
		t.Fatalf("runTrain(half=6) = %v", err)
	}
	opts.ModelPath = full.ModelPath
	svm, err := loadModel(opts)
	if err != nil {
		t.Fatalf("13-feature model rejected: %v", err)
	}
	if svm.Dim() != 13 {
		t.Errorf("Dim() = %d, want 13", svm.Dim())
	}
}
