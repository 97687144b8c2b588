package app

import (
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/handsign/internal/recognition"
)

// runPipeline reads frames at IdleFPS until motion appears, then at
// ActiveFPS until IdleTimeout passes without motion.
func (a *App) runPipeline(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second / IdleFPS)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		if !a.IsEnabled() {
			continue
		}

		frame, err := a.camera.ReadFrame()
		if err != nil {
			a.log.Debug("error reading frame", "error", err)
			continue
		}

		wasActive := a.active
		a.Process(frame, time.Now())
		frame.Close()

		if a.active != wasActive {
			fps := IdleFPS
			if a.active {
				fps = ActiveFPS
			}
			a.camera.SetFPS(fps)
			ticker.Reset(time.Second / time.Duration(fps))
			a.log.Debug("frame rate changed", "fps", fps)
		}
	}
}

// Process runs one frame through motion gating and recognition. It reports
// the letter when the frame settled one. Process is not safe for concurrent
// use; the pipeline goroutine is its only caller once Start has run.
func (a *App) Process(frame *gocv.Mat, now time.Time) (Letter, bool) {
	moved, _ := a.motion.Detect(frame)
	switch {
	case moved:
		a.lastMotion = now
		a.active = true
	case a.active && now.Sub(a.lastMotion) > IdleTimeout:
		a.active = false
		a.stable.Reset()
	}

	if !a.active {
		a.keep(frame)
		return Letter{}, false
	}

	outcome, err := a.recognizer.Recognize(frame)
	a.keep(frame)
	if err != nil {
		a.log.Warn("recognition failed", "error", err)
		return Letter{}, false
	}

	label, ok := a.stable.Observe(outcome)
	if !ok {
		return Letter{}, false
	}
	l := Letter{Label: label, Confidence: outcome.Confidence, At: now}
	a.emit(l)
	return l, true
}

// Stabilizer settles per-frame predictions into letters. A label is emitted
// once it wins n consecutive frames, and not again until a different label
// or an empty frame intervenes. The "nothing" class counts as empty.
type Stabilizer struct {
	n             int
	minConfidence float64

	candidate string
	run       int
	last      string
}

// NewStabilizer returns a Stabilizer requiring n agreeing frames at or above
// minConfidence.
func NewStabilizer(n int, minConfidence float64) *Stabilizer {
	return &Stabilizer{n: max(1, n), minConfidence: minConfidence}
}

// Observe feeds one outcome and returns the label when it settles.
func (s *Stabilizer) Observe(o recognition.Outcome) (string, bool) {
	if o.Kind == recognition.NoHand || o.Label == "nothing" {
		s.Reset()
		return "", false
	}
	if o.Confidence < s.minConfidence {
		s.candidate, s.run = "", 0
		return "", false
	}

	if o.Label == s.candidate {
		s.run++
	} else {
		s.candidate, s.run = o.Label, 1
	}

	if s.run < s.n || s.candidate == s.last {
		return "", false
	}
	s.last = s.candidate
	return s.candidate, true
}

// Reset forgets the current run and the last emitted label.
func (s *Stabilizer) Reset() {
	s.candidate, s.run, s.last = "", 0, ""
}

// Transcript accumulates letters into text. "space" appends a blank, "del"
// removes the last character and "nothing" is ignored.
type Transcript struct {
	buf []rune
}

// Apply adds one emitted label.
func (t *Transcript) Apply(label string) {
	switch label {
	case "nothing", "":
	case "space":
		t.buf = append(t.buf, ' ')
	case "del":
		if len(t.buf) > 0 {
			t.buf = t.buf[:len(t.buf)-1]
		}
	default:
		t.buf = append(t.buf, []rune(label)...)
	}
}

func (t *Transcript) String() string { return string(t.buf) }
