package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

const (
	// GaussianBlurSize is the blur kernel applied before differencing.
	GaussianBlurSize = 21
	// DiffThreshold is the per-pixel intensity change that counts as motion.
	DiffThreshold = 25
)

// MotionDetector compares each frame with the previous one. Frames are
// grayscaled and blurred first so sensor noise does not register.
type MotionDetector struct {
	mu          sync.Mutex
	threshold   float64
	prevGray    gocv.Mat
	initialized bool
}

// NewMotionDetector returns a detector that reports motion when more than
// threshold percent of pixels change.
func NewMotionDetector(threshold float64) *MotionDetector {
	return &MotionDetector{threshold: threshold, prevGray: gocv.NewMat()}
}

// Detect reports whether frame moved relative to the previous frame and the
// percentage of changed pixels. The first frame only sets the baseline.
func (m *MotionDetector) Detect(frame *gocv.Mat) (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame == nil || frame.Empty() {
		return false, 0
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(GaussianBlurSize, GaussianBlurSize), 0, 0, gocv.BorderDefault)

	if !m.initialized {
		blurred.CopyTo(&m.prevGray)
		m.initialized = true
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, DiffThreshold, 255, gocv.ThresholdBinary)

	blurred.CopyTo(&m.prevGray)

	total := thresh.Rows() * thresh.Cols()
	if total == 0 {
		return false, 0
	}
	changed := float64(gocv.CountNonZero(thresh)) / float64(total) * 100
	return changed > m.threshold, changed
}

// Reset drops the baseline so the next frame starts fresh.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clear()
}

// Close releases the baseline Mat. The detector stays usable.
func (m *MotionDetector) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clear()
}

func (m *MotionDetector) clear() {
	if !m.prevGray.Empty() {
		m.prevGray.Close()
		m.prevGray = gocv.NewMat()
	}
	m.initialized = false
}

// SetThreshold changes the motion threshold. Values <= 0 are ignored.
func (m *MotionDetector) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = threshold
}
