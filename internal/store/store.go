package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection holding detection sessions and training runs.
type Store struct {
	conn *pgx.Conn
}

// Session is one detection run over a camera or video.
type Session struct {
	ID         string
	Source     string
	Strategy   string
	StartedAt  time.Time
	EndedAt    *time.Time
	Frames     int64
	BlinkCount int
}

// TrainingRun is the evaluation record of one trained model.
type TrainingRun struct {
	ID        int
	ModelPath string
	TrainSize int
	TestSize  int
	TP        int
	FP        int
	TN        int
	FN        int
	Accuracy  float64
	Precision float64
	Recall    float64
	CreatedAt time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS detection_sessions (
			id UUID PRIMARY KEY,
			source TEXT NOT NULL,
			strategy TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ,
			frames BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS blink_events (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES detection_sessions(id) ON DELETE CASCADE,
			frame BIGINT NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS training_runs (
			id SERIAL PRIMARY KEY,
			model_path TEXT NOT NULL,
			train_size INT NOT NULL,
			test_size INT NOT NULL,
			tp INT NOT NULL,
			fp INT NOT NULL,
			tn INT NOT NULL,
			fn INT NOT NULL,
			accuracy DOUBLE PRECISION NOT NULL,
			precision_score DOUBLE PRECISION NOT NULL,
			recall DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS blink_events_session_id_idx ON blink_events (session_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// StartSession registers a new detection session and returns its ID.
func (s *Store) StartSession(ctx context.Context, source, strategy string) (string, error) {
	id := uuid.NewString()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO detection_sessions (id, source, strategy, started_at)
		VALUES ($1, $2, $3, NOW())
	`, id, source, strategy)
	if err != nil {
		return "", err
	}
	return id, nil
}

// EndSession stamps the end time and the number of processed frames.
func (s *Store) EndSession(ctx context.Context, id string, frames int64) error {
	tag, err := s.conn.Exec(ctx, "UPDATE detection_sessions SET ended_at = NOW(), frames = $2 WHERE id = $1", id, frames)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// InsertBlink records a blink at frame for the session.
func (s *Store) InsertBlink(ctx context.Context, sessionID string, frame int64) error {
	_, err := s.conn.Exec(ctx, "INSERT INTO blink_events (session_id, frame) VALUES ($1, $2)", sessionID, frame)
	return err
}

// ListSessions returns every session with its blink count, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT s.id::text, s.source, s.strategy, s.started_at, s.ended_at, s.frames, COUNT(b.id)
		FROM detection_sessions s
		LEFT JOIN blink_events b ON b.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var ss Session
		if err := rows.Scan(&ss.ID, &ss.Source, &ss.Strategy, &ss.StartedAt, &ss.EndedAt, &ss.Frames, &ss.BlinkCount); err != nil {
			return nil, err
		}
		sessions = append(sessions, ss)
	}
	return sessions, rows.Err()
}

// SessionBlinks returns the blink frames of a session in order.
func (s *Store) SessionBlinks(ctx context.Context, sessionID string) ([]int64, error) {
	rows, err := s.conn.Query(ctx, "SELECT frame FROM blink_events WHERE session_id = $1 ORDER BY frame", sessionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// InsertTrainingRun saves the evaluation of a trained model and returns its ID.
func (s *Store) InsertTrainingRun(ctx context.Context, run TrainingRun) (int, error) {
	var id int
	err := s.conn.QueryRow(ctx, `
		INSERT INTO training_runs (model_path, train_size, test_size, tp, fp, tn, fn, accuracy, precision_score, recall)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, run.ModelPath, run.TrainSize, run.TestSize, run.TP, run.FP, run.TN, run.FN, run.Accuracy, run.Precision, run.Recall).Scan(&id)
	return id, err
}

// ListTrainingRuns returns every training run, newest first.
func (s *Store) ListTrainingRuns(ctx context.Context) ([]TrainingRun, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, model_path, train_size, test_size, tp, fp, tn, fn, accuracy, precision_score, recall, created_at
		FROM training_runs
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []TrainingRun
	for rows.Next() {
		var r TrainingRun
		if err := rows.Scan(&r.ID, &r.ModelPath, &r.TrainSize, &r.TestSize, &r.TP, &r.FP, &r.TN, &r.FN,
			&r.Accuracy, &r.Precision, &r.Recall, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS blink_events CASCADE;
		DROP TABLE IF EXISTS detection_sessions CASCADE;
		DROP TABLE IF EXISTS training_runs CASCADE;
	`)
	return err
}
