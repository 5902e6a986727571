// Package notify delivers the pipeline's face-presence and blink events to their consumers:
// the log, websocket clients such as the scanning keyboard, and the session database.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Notifier receives pipeline events. Implementations must not block the caller for long.
type Notifier interface {
	FacePresence(present bool)
	BlinkDetected(frame int64)
}

// Multi fans every event out to each notifier in order.
type Multi []Notifier

// FacePresence forwards to every notifier.
func (m Multi) FacePresence(present bool) {
	for _, n := range m {
		n.FacePresence(present)
	}
}

// BlinkDetected forwards to every notifier.
func (m Multi) BlinkDetected(frame int64) {
	for _, n := range m {
		n.BlinkDetected(frame)
	}
}

// Log writes blinks and presence changes to a structured logger.
type Log struct {
	logger  *slog.Logger
	present bool
	seen    bool
	Blinks  int
}

// NewLog logs through logger.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

// FacePresence logs only when presence changes.
func (l *Log) FacePresence(present bool) {
	if l.seen && present == l.present {
		return
	}
	l.seen, l.present = true, present
	if present {
		l.logger.Info("face found")
	} else {
		l.logger.Info("face lost")
	}
}

// BlinkDetected logs the blink.
func (l *Log) BlinkDetected(frame int64) {
	l.Blinks++
	l.logger.Info("blink detected", "frame", frame, "total", l.Blinks)
}

// BlinkStore persists blink events.
type BlinkStore interface {
	InsertBlink(ctx context.Context, sessionID string, frame int64) error
}

// Recorder writes blinks to a BlinkStore from its own goroutine so database latency never
// stalls frame processing.
type Recorder struct {
	store     BlinkStore
	sessionID string
	logger    *slog.Logger
	events    chan int64
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu       sync.Mutex
	failures int
}

// NewRecorder starts the writer goroutine. Call Close to flush pending events.
func NewRecorder(ctx context.Context, store BlinkStore, sessionID string, logger *slog.Logger) *Recorder {
	r := &Recorder{
		store:     store,
		sessionID: sessionID,
		logger:    logger,
		events:    make(chan int64, 64),
	}
	r.wg.Add(1)
	go r.run(ctx)
	return r
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()
	for frame := range r.events {
		if err := r.store.InsertBlink(ctx, r.sessionID, frame); err != nil {
			r.mu.Lock()
			r.failures++
			r.mu.Unlock()
			r.logger.Warn("failed to record blink", "frame", frame, "session", r.sessionID, "error", err)
		}
	}
}

// FacePresence is not recorded.
func (r *Recorder) FacePresence(bool) {}

// BlinkDetected queues the blink. When the queue is full the event is dropped and logged.
func (r *Recorder) BlinkDetected(frame int64) {
	select {
	case r.events <- frame:
	default:
		r.mu.Lock()
		r.failures++
		r.mu.Unlock()
		r.logger.Warn("blink queue full, dropping event", "frame", frame)
	}
}

// Close flushes queued blinks and stops the writer. Later calls are no-ops.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.events)
		r.wg.Wait()
	})
}

// Failures returns how many blinks could not be recorded.
func (r *Recorder) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}
