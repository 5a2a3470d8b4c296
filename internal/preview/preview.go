// Package preview keeps the on-screen zoom of the card. The scale only sizes
// the preview container; the canonical 1280x720 layout never depends on it.
package preview

import (
	"math"
	"sync"

	"timetable/internal/model"
)

const (
	// MinScale is the smallest preview zoom.
	MinScale = 0.3
	// MaxScale is the largest preview zoom.
	MaxScale = 2.0
	// ScaleStep is the slider increment; Clamp snaps to it.
	ScaleStep = 0.1
	// DefaultScale is the zoom a new session starts with.
	DefaultScale = 0.5

	stepsPerUnit = 10 // 1 / ScaleStep
)

// Clamp limits v to [MinScale, MaxScale] and snaps it to ScaleStep.
// NaN yields DefaultScale.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultScale
	}
	v = math.Max(MinScale, math.Min(MaxScale, v))
	// Divide instead of multiplying by ScaleStep: 3*0.1 != 0.3.
	return math.Round(v*stepsPerUnit) / stepsPerUnit
}

// Size returns the preview container size for scale s.
func Size(s float64) (width, height int) {
	return int(math.Round(model.CanvasWidth * s)), int(math.Round(model.CanvasHeight * s))
}

// Scaler holds the preview scale of one editing session.
type Scaler struct {
	mu    sync.RWMutex
	scale float64
}

// NewScaler returns a Scaler at DefaultScale.
func NewScaler() *Scaler {
	return &Scaler{scale: DefaultScale}
}

// Scale returns the current factor.
func (s *Scaler) Scale() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scale
}

// SetScale stores Clamp(v) and returns it.
func (s *Scaler) SetScale(v float64) float64 {
	c := Clamp(v)
	s.mu.Lock()
	s.scale = c
	s.mu.Unlock()
	return c
}

// Size returns the preview container size at the current scale.
func (s *Scaler) Size() (width, height int) {
	return Size(s.Scale())
}
