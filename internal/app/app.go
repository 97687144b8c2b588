// Package app runs the local sign interpreter: webcam frames are gated on
// motion, recognised, and settled into letters that build a transcript.
package app

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/handsign/internal/capture"
	"github.com/ayusman/handsign/internal/logger"
	"github.com/ayusman/handsign/internal/recognition"
)

// Pipeline timing.
const (
	// IdleFPS is the frame rate when nothing moves.
	IdleFPS = 5
	// ActiveFPS is the frame rate while a hand is moving.
	ActiveFPS = 15
	// IdleTimeout is how long without motion before dropping to IdleFPS.
	IdleTimeout = 2 * time.Second
	// DefaultStableFrames is how many consecutive frames must agree on a
	// label before it is emitted.
	DefaultStableFrames = 3
	// DefaultMotionThreshold is the percentage of changed pixels that counts
	// as motion.
	DefaultMotionThreshold = 1.0
)

// ErrNoFrame is returned by ReadFrame before the first frame was processed.
var ErrNoFrame = errors.New("no frame processed yet")

// Recognizer classifies one frame.
type Recognizer interface {
	Recognize(frame *gocv.Mat) (recognition.Outcome, error)
}

// Config holds the interpreter options.
type Config struct {
	MotionThresh  float64
	StableFrames  int
	MinConfidence float64
	Logger        *slog.Logger
}

// Letter is a settled prediction.
type Letter struct {
	Label      string
	Confidence float64
	At         time.Time
}

// App drives a camera through the recognizer. It never consults a quota.
type App struct {
	config     Config
	camera     capture.Camera
	motion     *capture.MotionDetector
	recognizer Recognizer
	log        *slog.Logger

	mu         sync.RWMutex
	enabled    bool
	stopCh     chan struct{}
	done       chan struct{}
	callbacks  []func(Letter)
	stable     *Stabilizer
	transcript Transcript

	// pipeline state, owned by the pipeline goroutine or Process callers
	active     bool
	lastMotion time.Time

	frameMu sync.Mutex
	latest  *gocv.Mat
}

// New creates an App reading from camera.
func New(config Config, camera capture.Camera, r Recognizer) *App {
	if config.MotionThresh <= 0 {
		config.MotionThresh = DefaultMotionThreshold
	}
	if config.StableFrames <= 0 {
		config.StableFrames = DefaultStableFrames
	}
	log := config.Logger
	if log == nil {
		log = logger.Default()
	}

	return &App{
		config:     config,
		camera:     camera,
		motion:     capture.NewMotionDetector(config.MotionThresh),
		recognizer: r,
		log:        log,
		enabled:    true,
		stable:     NewStabilizer(config.StableFrames, config.MinConfidence),
	}
}

// SetEnabled pauses or resumes recognition without closing the camera.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// IsEnabled reports whether recognition is running.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// OnLetter registers fn to run for every emitted letter, on the pipeline
// goroutine.
func (a *App) OnLetter(fn func(Letter)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks = append(a.callbacks, fn)
}

// Transcript returns the text built so far.
func (a *App) Transcript() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.transcript.String()
}

// Start opens the camera and runs the pipeline until Stop.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil {
		return nil
	}
	if err := a.camera.Open(); err != nil {
		return err
	}
	a.camera.SetFPS(IdleFPS)

	a.stopCh = make(chan struct{})
	a.done = make(chan struct{})
	go a.runPipeline(a.stopCh, a.done)

	a.log.Info("interpreter started")
	return nil
}

// Stop halts the pipeline and releases the camera.
func (a *App) Stop() {
	a.mu.Lock()
	stopCh, done := a.stopCh, a.done
	a.stopCh, a.done = nil, nil
	a.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-done

	if err := a.camera.Close(); err != nil {
		a.log.Warn("error closing camera", "error", err)
	}
	a.motion.Close()

	a.frameMu.Lock()
	if a.latest != nil {
		a.latest.Close()
		a.latest = nil
	}
	a.frameMu.Unlock()

	a.log.Info("interpreter stopped")
}

// ReadFrame returns a copy of the last processed frame, enhancement
// included. The caller closes it.
func (a *App) ReadFrame() (*gocv.Mat, error) {
	a.frameMu.Lock()
	defer a.frameMu.Unlock()

	if a.latest == nil {
		return nil, ErrNoFrame
	}
	clone := a.latest.Clone()
	return &clone, nil
}

func (a *App) keep(frame *gocv.Mat) {
	clone := frame.Clone()

	a.frameMu.Lock()
	defer a.frameMu.Unlock()
	if a.latest != nil {
		a.latest.Close()
	}
	a.latest = &clone
}

func (a *App) emit(l Letter) {
	a.mu.Lock()
	a.transcript.Apply(l.Label)
	text := a.transcript.String()
	callbacks := append([]func(Letter){}, a.callbacks...)
	a.mu.Unlock()

	a.log.Info("letter", "label", l.Label, "confidence", l.Confidence, "transcript", text)
	for _, fn := range callbacks {
		fn(l)
	}
}
