package types

// NumLandmarks is the size of the landmark set produced by the 68-point shape predictor.
const NumLandmarks = 68

// Eye regions inside a Landmarks set (6 points each).
const (
	LeftEyeOffset  = 36
	RightEyeOffset = 42
	EyePoints      = 6
)

// Point is a single landmark position in pixel coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Box is an axis-aligned face rectangle.
type Box struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Width returns the horizontal extent of the box.
func (b Box) Width() int { return b.Right - b.Left }

// Height returns the vertical extent of the box.
func (b Box) Height() int { return b.Bottom - b.Top }

// Landmarks is the ordered landmark set for one face in one frame.
type Landmarks []Point

// Example is one labeled training row: a newest-first EAR window and its class label.
type Example struct {
	Vec   []float64
	Label string
}
