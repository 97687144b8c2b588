// Package recognition runs one frame through detection, region
// enhancement, feature extraction and classification.
package recognition

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"gocv.io/x/gocv"

	"github.com/ayusman/handsign/internal/classifier"
	"github.com/ayusman/handsign/internal/detector"
	"github.com/ayusman/handsign/internal/enhance"
	"github.com/ayusman/handsign/internal/features"
)

// NoHandLabel is reported to clients when no hand was found.
const NoHandLabel = "No hand detected"

// ErrDecode is returned for payloads that are not a decodable image.
var ErrDecode = errors.New("recognition: undecodable image")

// Kind tells a labelled outcome from a frame without a hand.
type Kind int

const (
	Label Kind = iota
	NoHand
)

// Outcome is the result of recognising one frame. NoHand is a normal
// result, not an error.
type Outcome struct {
	Kind       Kind
	Label      string
	Confidence float64
	Hands      int
}

// Text returns the label, or NoHandLabel when there was no hand.
func (o Outcome) Text() string {
	if o.Kind == NoHand {
		return NoHandLabel
	}
	return o.Label
}

// DecodeFrame decodes a base64 image into a BGR Mat owned by the caller.
// A data URL prefix such as "data:image/jpeg;base64," is accepted.
func DecodeFrame(b64 string) (gocv.Mat, error) {
	if i := strings.Index(b64, ","); i >= 0 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	if b64 == "" {
		return gocv.Mat{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Empty() {
		img.Close()
		return gocv.Mat{}, fmt.Errorf("%w: not an image", ErrDecode)
	}
	return img, nil
}

// Recognizer composes the shared detector and classifier. It holds no
// per-connection state and is safe for concurrent use as long as its
// detector is.
type Recognizer struct {
	detector   detector.Detector
	classifier classifier.Classifier
	enhancer   *enhance.Enhancer

	// OnEnhanceError, when set, observes enhancement failures. They never
	// stop recognition.
	OnEnhanceError func(error)
}

// New returns a Recognizer. A nil enhancer disables region enhancement.
func New(d detector.Detector, c classifier.Classifier, e *enhance.Enhancer) *Recognizer {
	return &Recognizer{detector: d, classifier: c, enhancer: e}
}

// Recognize detects hands in frame, magnifies them in place, and classifies
// the first hand.
func (r *Recognizer) Recognize(frame *gocv.Mat) (Outcome, error) {
	hands, err := r.detector.Detect(frame)
	if err != nil {
		return Outcome{}, fmt.Errorf("detect: %w", err)
	}
	if len(hands) == 0 {
		return Outcome{Kind: NoHand}, nil
	}

	r.enhance(frame, hands)

	batch := features.Vector(&hands[0])
	p, err := r.classifier.Predict(batch)
	if err != nil {
		return Outcome{}, fmt.Errorf("classify: %w", err)
	}

	return Outcome{Kind: Label, Label: p.Label, Confidence: p.Confidence, Hands: len(hands)}, nil
}

func (r *Recognizer) enhance(frame *gocv.Mat, hands []detector.HandLandmarks) {
	if r.enhancer == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil && r.OnEnhanceError != nil {
			r.OnEnhanceError(fmt.Errorf("enhance panic: %v", p))
		}
	}()
	if _, err := r.enhancer.EnhanceAll(frame, hands); err != nil && r.OnEnhanceError != nil {
		r.OnEnhanceError(err)
	}
}
