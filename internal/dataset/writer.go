package dataset

import (
	"bufio"
	"io"
	"strconv"
)

// EARWriter emits "frame_index:ear_value" lines.
type EARWriter struct {
	w *bufio.Writer
}

// NewEARWriter buffers writes to w. Call Flush when done.
func NewEARWriter(w io.Writer) *EARWriter {
	return &EARWriter{w: bufio.NewWriter(w)}
}

// Write appends one row.
func (e *EARWriter) Write(frame int64, value float64) error {
	buf := strconv.AppendInt(nil, frame, 10)
	buf = append(buf, ':')
	buf = strconv.AppendFloat(buf, value, 'f', -1, 64)
	buf = append(buf, '\n')
	_, err := e.w.Write(buf)
	return err
}

// Flush writes any buffered rows.
func (e *EARWriter) Flush() error {
	return e.w.Flush()
}
