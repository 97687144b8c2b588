// Package capture reads webcam frames and gates processing on motion for
// the local interpreter.
package capture

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings.
const (
	DefaultFPS    = 5
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when reading from a closed camera.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrReadFailed is returned when the device yields no usable frame.
	ErrReadFailed = errors.New("failed to read frame from camera")
)

// Camera is a frame source. ReadFrame hands ownership of the Mat to the
// caller.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// Options configures a device camera.
type Options struct {
	Width, Height int
	// Mirror flips frames horizontally so the preview behaves like a mirror.
	Mirror bool
}

type deviceCamera struct {
	deviceID int
	opts     Options

	mu      sync.Mutex
	capture *gocv.VideoCapture
	fps     int
}

// NewCamera returns a camera for deviceID at 640x480 and DefaultFPS.
func NewCamera(deviceID int) Camera {
	return NewCameraWithOptions(deviceID, Options{Width: DefaultWidth, Height: DefaultHeight})
}

// NewCameraWithOptions returns a camera for deviceID. Zero sizes fall back
// to the defaults.
func NewCameraWithOptions(deviceID int, opts Options) Camera {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = DefaultWidth, DefaultHeight
	}
	return &deviceCamera{deviceID: deviceID, opts: opts, fps: DefaultFPS}
}

// Open starts capturing. Opening an open camera is a no-op.
func (c *deviceCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		return nil
	}

	vc, err := gocv.OpenVideoCapture(c.deviceID)
	if err != nil {
		return err
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.opts.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.opts.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(c.fps))

	c.capture = vc
	return nil
}

// Close releases the device. Closing a closed camera returns nil.
func (c *deviceCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil
	}
	err := c.capture.Close()
	c.capture = nil
	return err
}

func (c *deviceCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, ErrReadFailed
	}
	if c.opts.Mirror {
		gocv.Flip(mat, &mat, 1)
	}
	return &mat, nil
}

// SetFPS changes the capture rate. Values <= 0 are ignored.
func (c *deviceCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps
	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

func (c *deviceCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *deviceCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil
}
