// Package detector provides hand detection interfaces and landmark types.
package detector

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21

	// FeatureLen is the length of a flattened landmark set (x, y, z per point).
	FeatureLen = NumLandmarks * 3
)

// Point3D is a landmark position. X and Y are normalised to the image
// width and height; Z is relative depth with the wrist near zero.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// HandLandmarks represents the 21 hand landmarks detected by MediaPipe.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`
}

// Flatten returns the landmarks as x0, y0, z0, x1, y1, z1, ...
func (h *HandLandmarks) Flatten() []float64 {
	if h == nil {
		return nil
	}
	out := make([]float64, 0, FeatureLen)
	for _, p := range h.Points {
		out = append(out, p.X, p.Y, p.Z)
	}
	return out
}

// Bounds is an axis-aligned box in normalised image coordinates.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Bounds returns the smallest box containing every landmark's x and y.
func (h *HandLandmarks) Bounds() Bounds {
	b := Bounds{
		MinX: h.Points[0].X, MaxX: h.Points[0].X,
		MinY: h.Points[0].Y, MaxY: h.Points[0].Y,
	}
	for _, p := range h.Points[1:] {
		b.MinX = min(b.MinX, p.X)
		b.MaxX = max(b.MaxX, p.X)
		b.MinY = min(b.MinY, p.Y)
		b.MaxY = max(b.MaxY, p.Y)
	}
	return b
}
