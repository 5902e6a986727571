// Package vision holds the pure-Go frame sources and face locators the pipeline runs on.
// OpenCV-backed implementations live in vision/cv.
package vision

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/andresmejia3/blinkscan/internal/utils"
)

// RawGraySource reads back-to-back 8-bit grayscale frames of a fixed size from r.
type RawGraySource struct {
	r      io.Reader
	width  int
	height int
	err    error
}

// NewRawGraySource reads width*height bytes per frame.
func NewRawGraySource(r io.Reader, width, height int) *RawGraySource {
	return &RawGraySource{r: r, width: width, height: height}
}

// TryRead returns the next frame, or false at end of stream. A short trailing frame is dropped.
func (s *RawGraySource) TryRead() (image.Image, bool) {
	if s.err != nil {
		return nil, false
	}
	img := image.NewGray(image.Rect(0, 0, s.width, s.height))
	if _, err := io.ReadFull(s.r, img.Pix); err != nil {
		if err != io.EOF && err != io.ErrUnexpectedEOF {
			s.err = err
		} else {
			s.err = io.EOF
		}
		return nil, false
	}
	return img, true
}

// Err returns the read error that ended the stream, nil on a clean end.
func (s *RawGraySource) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

// VideoFile decodes a video through ffmpeg and serves its frames in grayscale.
type VideoFile struct {
	*RawGraySource
	Cmd    *utils.SafeCommand
	Width  int
	Height int
	stdout io.ReadCloser
}

// OpenVideoFile probes the dimensions of path and starts the decoder.
func OpenVideoFile(ctx context.Context, path string) (*VideoFile, error) {
	width, height, err := utils.GetVideoDimensions(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to determine video dimensions: %w", err)
	}

	cmd := utils.NewFFmpegRawDecoder(ctx, path)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}

	return &VideoFile{
		RawGraySource: NewRawGraySource(stdout, width, height),
		Cmd:           cmd,
		Width:         width,
		Height:        height,
		stdout:        stdout,
	}, nil
}

// Close stops reading and waits for the decoder to exit. A decoder failure is reported only
// when the stream was read to the end; stopping early kills the decoder on purpose.
func (v *VideoFile) Close() error {
	v.stdout.Close()
	err := v.Cmd.Wait()
	if v.err == io.EOF && err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	return nil
}
