package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/andresmejia3/blinkscan/internal/types"
	"github.com/andresmejia3/blinkscan/internal/utils" // Using the SafeCommand wrapper
)

// ErrWorker marks a failure reported by the Python side of the pipe.
var ErrWorker = errors.New("python worker error")

// Config locates the landmark script and its shape-predictor model.
type Config struct {
	Python        string // Interpreter, default python3
	Script        string // Default python/landmark_worker.py
	PredictorPath string // dlib 68-point shape predictor (.dat)
}

// DefaultConfig points at the bundled worker script.
func DefaultConfig() Config {
	return Config{
		Python:        "python3",
		Script:        "python/landmark_worker.py",
		PredictorPath: "models/shape_predictor_68_face_landmarks.dat",
	}
}

// PythonWorker runs the landmark predictor in a child process.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// NewPythonWorker starts the worker process. Requests go over stdin, responses come back on FD 3.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script, "--predictor", cfg.PredictorPath)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// maxResponseSize bounds a reply; a landmark set is 549 bytes and error messages are short.
const maxResponseSize = 1 << 20

// Communicate sends one length-prefixed message and reads one length-prefixed reply.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	// Read Result
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponseSize {
		return nil, fmt.Errorf("response of %d bytes exceeds %d", respLen, maxResponseSize)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Predict sends the frame and face box and returns the landmark set.
func (w *PythonWorker) Predict(img *image.Gray, box types.Box) (types.Landmarks, error) {
	resp, err := w.Communicate(encodeRequest(img, box))
	if err != nil {
		return nil, err
	}
	return decodeLandmarks(resp)
}

// encodeRequest lays out [Box: 4 x int32] [Width] [Height] [Pixels: width*height bytes].
func encodeRequest(img *image.Gray, box types.Box) []byte {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	buf := bytes.NewBuffer(make([]byte, 0, 24+width*height))
	binary.Write(buf, binary.BigEndian, [4]int32{int32(box.Left), int32(box.Top), int32(box.Right), int32(box.Bottom)})
	binary.Write(buf, binary.BigEndian, [2]uint32{uint32(width), uint32(height)})
	for y := 0; y < height; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		buf.Write(img.Pix[off : off+width])
	}
	return buf.Bytes()
}

// decodeLandmarks parses [Status:0] [Count] [Count x (int32 X, int32 Y)]
// or [Status:1] [MsgLen] [Msg].
func decodeLandmarks(resp []byte) (types.Landmarks, error) {
	reader := bytes.NewReader(resp)
	status, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty response: %w", err)
	}

	if status != 0 {
		var msgLen uint32
		if err := binary.Read(reader, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("%w: status %d", ErrWorker, status)
		}
		if int64(msgLen) > int64(reader.Len()) {
			return nil, fmt.Errorf("%w: status %d, message claims %d bytes but %d remain", ErrWorker, status, msgLen, reader.Len())
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(reader, msg); err != nil {
			return nil, fmt.Errorf("%w: status %d, truncated message", ErrWorker, status)
		}
		return nil, fmt.Errorf("%w: %s", ErrWorker, msg)
	}

	var count uint32
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("read landmark count: %w", err)
	}
	if count != types.NumLandmarks {
		return nil, fmt.Errorf("expected %d landmarks, got %d", types.NumLandmarks, count)
	}

	raw := make([]int32, 2*count)
	if err := binary.Read(reader, binary.BigEndian, raw); err != nil {
		return nil, fmt.Errorf("read landmarks: %w", err)
	}
	lm := make(types.Landmarks, count)
	for i := range lm {
		lm[i] = types.Point{X: int(raw[2*i]), Y: int(raw[2*i+1])}
	}
	return lm, nil
}

// Close ends the worker. Closing stdin makes the script exit its read loop.
func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
