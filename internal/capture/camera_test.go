package capture

import (
	"errors"
	"testing"
)

func TestNewCamera(t *testing.T) {
	for _, id := range []int{0, 1, 2} {
		cam := NewCamera(id)

		if got := cam.FPS(); got != DefaultFPS {
			t.Errorf("device %d: FPS() = %d, want %d", id, got, DefaultFPS)
		}
		if cam.IsOpen() {
			t.Errorf("device %d: camera should not be open initially", id)
		}
	}
}

func TestNewCameraWithOptions_Defaults(t *testing.T) {
	cam := NewCameraWithOptions(0, Options{Mirror: true}).(*deviceCamera)

	if cam.opts.Width != DefaultWidth || cam.opts.Height != DefaultHeight {
		t.Errorf("size = %dx%d, want %dx%d", cam.opts.Width, cam.opts.Height, DefaultWidth, DefaultHeight)
	}
	if !cam.opts.Mirror {
		t.Error("Mirror option was dropped")
	}
}

func TestCamera_SetFPS(t *testing.T) {
	cam := NewCamera(0)

	tests := []struct {
		name    string
		fps     int
		wantFPS int
	}{
		{"set to 10", 10, 10},
		{"set to 1", 1, 1},
		{"zero keeps previous", 0, 1},
		{"negative keeps previous", -5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam.SetFPS(tt.fps)

			if got := cam.FPS(); got != tt.wantFPS {
				t.Errorf("FPS() = %d, want %d", got, tt.wantFPS)
			}
		})
	}
}

func TestCamera_OpenClose_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cam := NewCamera(0)
	if err := cam.Open(); err != nil {
		t.Skipf("skipping test - camera not available: %v", err)
	}
	if !cam.IsOpen() {
		t.Error("IsOpen() should return true after Open()")
	}

	mat, err := cam.ReadFrame()
	if err != nil {
		t.Errorf("ReadFrame() failed: %v", err)
	} else {
		if mat.Empty() {
			t.Error("ReadFrame() returned empty mat")
		}
		mat.Close()
	}

	if err := cam.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if cam.IsOpen() {
		t.Error("IsOpen() should return false after Close()")
	}
}

func TestCamera_NotOpened(t *testing.T) {
	cam := NewCamera(0)

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("ReadFrame() error = %v, want ErrCameraNotOpen", err)
	}
	if err := cam.Close(); err != nil {
		t.Errorf("Close() on unopened camera = %v, want nil", err)
	}
}
