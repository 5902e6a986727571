package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

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
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	// Get Connection String
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	// Sessions and blinks
	id, err := s.StartSession(ctx, "camera:0", "svm")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("Session ID %q is not a UUID: %v", id, err)
	}
	for _, frame := range []int64{40, 17, 90} {
		if err := s.InsertBlink(ctx, id, frame); err != nil {
			t.Fatalf("InsertBlink failed: %v", err)
		}
	}
	if err := s.EndSession(ctx, id, 120); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if err := s.EndSession(ctx, uuid.NewString(), 1); err == nil {
		t.Error("Expected error when ending an unknown session")
	}

	// A second session with no blinks must still be listed
	idle, err := s.StartSession(ctx, "video.mp4", "threshold")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	byID := map[string]Session{}
	for _, ss := range sessions {
		byID[ss.ID] = ss
	}
	if got := byID[id]; got.BlinkCount != 3 || got.Frames != 120 || got.EndedAt == nil {
		t.Errorf("Unexpected finished session %+v", got)
	}
	if got := byID[idle]; got.BlinkCount != 0 || got.EndedAt != nil {
		t.Errorf("Unexpected open session %+v", got)
	}

	blinks, err := s.SessionBlinks(ctx, id)
	if err != nil {
		t.Fatalf("SessionBlinks failed: %v", err)
	}
	if len(blinks) != 3 || blinks[0] != 17 || blinks[2] != 90 {
		t.Errorf("Expected ordered blinks [17 40 90], got %v", blinks)
	}

	// Training runs
	run := TrainingRun{
		ModelPath: "/tmp/blink.svm", TrainSize: 90, TestSize: 10,
		TP: 4, FP: 1, TN: 5, FN: 0, Accuracy: 0.9, Precision: 0.8, Recall: 1,
	}
	runID, err := s.InsertTrainingRun(ctx, run)
	if err != nil {
		t.Fatalf("InsertTrainingRun failed: %v", err)
	}
	runs, err := s.ListTrainingRuns(ctx)
	if err != nil {
		t.Fatalf("ListTrainingRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != runID || runs[0].Precision != 0.8 || runs[0].TestSize != 10 {
		t.Errorf("Unexpected training runs %+v", runs)
	}

	// Reset drops everything; a fresh store recreates the schema
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	s2, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Reconnect after reset failed: %v", err)
	}
	defer s2.Close(ctx)
	if sessions, err := s2.ListSessions(ctx); err != nil || len(sessions) != 0 {
		t.Errorf("Expected empty sessions after reset, got %v (err %v)", sessions, err)
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
