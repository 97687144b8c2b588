// Package enhance magnifies detected hand regions inside a frame.
package enhance

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/ayusman/handsign/internal/detector"
)

// Scale is the magnification applied to a hand region.
const Scale = 2

// ErrEmptyFrame is returned when there is no pixel data to work on.
var ErrEmptyFrame = errors.New("enhance: empty frame")

// Box converts normalised landmark bounds into a pixel rectangle clamped to
// a w×h image. ok is false when the clamped rectangle has no area.
func Box(b detector.Bounds, w, h int) (r image.Rectangle, ok bool) {
	r = image.Rectangle{
		Min: image.Point{X: max(0, int(b.MinX*float64(w))), Y: max(0, int(b.MinY*float64(h)))},
		Max: image.Point{X: min(w, int(b.MaxX*float64(w))), Y: min(h, int(b.MaxY*float64(h)))},
	}
	return r, !r.Empty()
}

// Placement returns where a region of size zoomed, anchored at box.Min, lands
// inside a w×h image. The anchor slides up and left when the region would
// overflow the bottom or right edge, and the result is cut to the image.
func Placement(box image.Rectangle, zoomed image.Point, w, h int) image.Rectangle {
	maxY := min(box.Min.Y+zoomed.Y, h)
	minY := max(0, maxY-zoomed.Y)
	maxX := min(box.Min.X+zoomed.X, w)
	minX := max(0, maxX-zoomed.X)
	return image.Rect(minX, minY, maxX, maxY)
}

// Enhancer writes a bilinear Scale× copy of each hand region back into the
// frame it was detected in.
type Enhancer struct{}

// New returns an Enhancer.
func New() *Enhancer {
	return &Enhancer{}
}

// Enhance magnifies the region covered by hand in place. A hand whose box
// has no area leaves the frame untouched and reports skipped.
func (e *Enhancer) Enhance(frame *gocv.Mat, hand *detector.HandLandmarks) (skipped bool, err error) {
	if frame == nil || frame.Empty() {
		return false, ErrEmptyFrame
	}
	w, h := frame.Cols(), frame.Rows()

	box, ok := Box(hand.Bounds(), w, h)
	if !ok {
		return true, nil
	}

	roi := frame.Region(box)
	defer roi.Close()

	zoomed := gocv.NewMat()
	defer zoomed.Close()
	gocv.Resize(roi, &zoomed, image.Point{}, Scale, Scale, gocv.InterpolationLinear)
	if zoomed.Empty() {
		return false, fmt.Errorf("enhance: resize produced empty region for %v", box)
	}

	dst := Placement(box, image.Pt(zoomed.Cols(), zoomed.Rows()), w, h)

	crop := zoomed.Region(image.Rect(0, 0, dst.Dx(), dst.Dy()))
	defer crop.Close()

	target := frame.Region(dst)
	defer target.Close()

	crop.CopyTo(&target)
	return false, nil
}

// EnhanceAll applies Enhance to every hand and returns how many regions were
// written. It stops at the first error.
func (e *Enhancer) EnhanceAll(frame *gocv.Mat, hands []detector.HandLandmarks) (int, error) {
	n := 0
	for i := range hands {
		skipped, err := e.Enhance(frame, &hands[i])
		if err != nil {
			return n, err
		}
		if !skipped {
			n++
		}
	}
	return n, nil
}
