package vision

import (
	"fmt"
	"image"
	"os"
	"sort"

	pigo "github.com/esimov/pigo/core"

	"github.com/andresmejia3/blinkscan/internal/types"
)

// PigoConfig holds the cascade scan parameters.
type PigoConfig struct {
	MinSize      int     // Minimum face size (pixels)
	MaxSize      int     // Maximum face size (pixels)
	ShiftFactor  float64 // Shift factor for detection window
	ScaleFactor  float64 // Scale factor for image pyramid
	IoUThreshold float64 // IoU threshold for clustering
	MinQuality   float32 // Detections below this score are dropped
}

// DefaultPigoConfig is tuned for a webcam frame downscaled by two.
func DefaultPigoConfig() PigoConfig {
	return PigoConfig{
		MinSize:      40,
		MaxSize:      600,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		IoUThreshold: 0.2,
		MinQuality:   5.0,
	}
}

// PigoLocator finds faces with a pigo pixel-intensity cascade. Pure Go, no OpenCV needed.
type PigoLocator struct {
	cfg        PigoConfig
	classifier *pigo.Pigo
}

// NewPigoLocator unpacks the cascade file at cascadePath (usually "facefinder").
func NewPigoLocator(cascadePath string, cfg PigoConfig) (*PigoLocator, error) {
	data, err := os.ReadFile(cascadePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read cascade file: %w", err)
	}
	p := pigo.NewPigo()
	classifier, err := p.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}
	return &PigoLocator{cfg: cfg, classifier: classifier}, nil
}

// Locate returns the faces in img, most confident first. pigo scans its own image pyramid,
// so upsample is not used.
func (l *PigoLocator) Locate(img *image.Gray, upsample int) ([]types.Box, error) {
	b := img.Bounds()
	params := pigo.CascadeParams{
		MinSize:     l.cfg.MinSize,
		MaxSize:     l.cfg.MaxSize,
		ShiftFactor: l.cfg.ShiftFactor,
		ScaleFactor: l.cfg.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: img.Pix,
			Rows:   b.Dy(),
			Cols:   b.Dx(),
			Dim:    img.Stride,
		},
	}
	dets := l.classifier.RunCascade(params, 0.0)
	dets = l.classifier.ClusterDetections(dets, l.cfg.IoUThreshold)
	return detectionsToBoxes(dets, l.cfg.MinQuality), nil
}

// detectionsToBoxes keeps detections at or above minQuality and orders them by quality.
// pigo reports a square by its center and side length.
func detectionsToBoxes(dets []pigo.Detection, minQuality float32) []types.Box {
	kept := make([]pigo.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Q >= minQuality {
			kept = append(kept, d)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Q > kept[j].Q })

	boxes := make([]types.Box, 0, len(kept))
	for _, d := range kept {
		half := d.Scale / 2
		boxes = append(boxes, types.Box{
			Left:   d.Col - half,
			Top:    d.Row - half,
			Right:  d.Col + half,
			Bottom: d.Row + half,
		})
	}
	return boxes
}

// RectsToBoxes converts rectangles to boxes, largest area first.
func RectsToBoxes(rects []image.Rectangle) []types.Box {
	sorted := append([]image.Rectangle(nil), rects...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Dx()*sorted[i].Dy() > sorted[j].Dx()*sorted[j].Dy()
	})
	boxes := make([]types.Box, len(sorted))
	for i, r := range sorted {
		boxes[i] = types.Box{Left: r.Min.X, Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y}
	}
	return boxes
}
