package ear

// DefaultCapacity is the number of samples the windowed classifier consumes.
const DefaultCapacity = 13

// NoFaceSample is pushed when no face is found so the window stays populated with a neutral value.
const NoFaceSample = 0.5

// Window is a bounded most-recent-first buffer of EAR samples.
type Window struct {
	values   []float64
	capacity int
}

// NewWindow creates an empty window. A non-positive capacity falls back to DefaultCapacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		values:   make([]float64, 0, capacity+1),
		capacity: capacity,
	}
}

// PushFront inserts v as the newest sample and evicts the oldest one past capacity.
func (w *Window) PushFront(v float64) {
	w.values = append(w.values, 0)
	copy(w.values[1:], w.values)
	w.values[0] = v
	if len(w.values) > w.capacity {
		w.values = w.values[:w.capacity]
	}
}

// Len returns the number of samples held.
func (w *Window) Len() int { return len(w.values) }

// Cap returns the window capacity.
func (w *Window) Cap() int { return w.capacity }

// At returns the sample at position i, 0 being the newest.
func (w *Window) At(i int) float64 { return w.values[i] }

// IsFull reports whether the window holds exactly capacity samples.
func (w *Window) IsFull() bool { return len(w.values) == w.capacity }

// IsThresholdReady reports whether the two newest samples exist.
func (w *Window) IsThresholdReady() bool { return len(w.values) >= 2 }

// Values returns a newest-first copy of the samples.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}

// Reset drops every sample.
func (w *Window) Reset() { w.values = w.values[:0] }
