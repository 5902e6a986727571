// Package cv adapts OpenCV (gocv) to the pipeline: camera capture, the Haar face cascade
// and the landmark preview window.
package cv

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/blinkscan/internal/types"
	"github.com/andresmejia3/blinkscan/internal/vision"
)

// Camera reads frames from a capture device or stream URL.
type Camera struct {
	capture *gocv.VideoCapture
	frame   gocv.Mat
	gray    gocv.Mat
}

// OpenCamera opens device, which is a camera index ("0") or a URL.
func OpenCamera(device string) (*Camera, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open video capture: %w", err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video capture %q is not opened", device)
	}
	return &Camera{capture: capture, frame: gocv.NewMat(), gray: gocv.NewMat()}, nil
}

// TryRead blocks until the device delivers a frame and returns it in grayscale.
// It returns false when the read fails or the frame is empty.
func (c *Camera) TryRead() (image.Image, bool) {
	if ok := c.capture.Read(&c.frame); !ok || c.frame.Empty() {
		return nil, false
	}
	gocv.CvtColor(c.frame, &c.gray, gocv.ColorBGRToGray)
	img, err := c.gray.ToImage()
	if err != nil {
		return nil, false
	}
	return img, true
}

// Close releases the device and the frame buffers.
func (c *Camera) Close() error {
	c.frame.Close()
	c.gray.Close()
	return c.capture.Close()
}

// HaarLocator finds faces with an OpenCV cascade classifier.
type HaarLocator struct {
	cascade      gocv.CascadeClassifier
	scaleFactor  float64
	minNeighbors int
	minSize      image.Point
}

// NewHaarLocator loads the cascade XML at path.
func NewHaarLocator(path string, minSize int) (*HaarLocator, error) {
	cascade := gocv.NewCascadeClassifier()
	if !cascade.Load(path) {
		cascade.Close()
		return nil, fmt.Errorf("failed to load cascade %s", path)
	}
	return &HaarLocator{
		cascade:      cascade,
		scaleFactor:  1.1,
		minNeighbors: 5,
		minSize:      image.Pt(minSize, minSize),
	}, nil
}

// Locate returns the faces in img, largest first. Each upsample step doubles the image
// before detection and the boxes are mapped back.
func (l *HaarLocator) Locate(img *image.Gray, upsample int) ([]types.Box, error) {
	mat, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	src := mat
	factor := 1 << max(upsample, 0)
	if factor > 1 {
		up := gocv.NewMat()
		defer up.Close()
		gocv.Resize(mat, &up, image.Point{}, float64(factor), float64(factor), gocv.InterpolationLinear)
		src = up
	}

	rects := l.cascade.DetectMultiScaleWithParams(src, l.scaleFactor, l.minNeighbors, 0, l.minSize, image.Point{})
	if factor > 1 {
		for i := range rects {
			rects[i] = image.Rectangle{Min: rects[i].Min.Div(factor), Max: rects[i].Max.Div(factor)}
		}
	}
	return vision.RectsToBoxes(rects), nil
}

// Close releases the cascade.
func (l *HaarLocator) Close() error {
	return l.cascade.Close()
}

// Display shows each frame with its landmark points in a window.
type Display struct {
	window *gocv.Window
	canvas gocv.Mat
}

var landmarkColor = color.RGBA{G: 255, A: 255}

// NewDisplay opens a window titled name.
func NewDisplay(name string) *Display {
	return &Display{window: gocv.NewWindow(name), canvas: gocv.NewMat()}
}

// Show draws lm over img and refreshes the window.
func (d *Display) Show(img *image.Gray, lm types.Landmarks) {
	mat, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return
	}
	defer mat.Close()
	gocv.CvtColor(mat, &d.canvas, gocv.ColorGrayToBGR)
	for _, p := range lm {
		gocv.Circle(&d.canvas, image.Pt(p.X, p.Y), 1, landmarkColor, -1)
	}
	d.window.IMShow(d.canvas)
	d.window.WaitKey(1)
}

// Close closes the window.
func (d *Display) Close() error {
	d.canvas.Close()
	return d.window.Close()
}
