package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"gocv.io/x/gocv"
)

// previewInterval paces the preview at roughly 15 FPS.
const previewInterval = 66 * time.Millisecond

// ErrNoFrame is returned by a FrameSource that has nothing to show yet.
var ErrNoFrame = errors.New("no frame available")

// FrameSource supplies preview frames. The caller closes the returned Mat.
type FrameSource interface {
	ReadFrame() (*gocv.Mat, error)
}

// StreamHandler serves MJPEG frames from a FrameSource.
type StreamHandler struct {
	source FrameSource
}

// NewStreamHandler creates a new StreamHandler reading from source.
func NewStreamHandler(source FrameSource) *StreamHandler {
	return &StreamHandler{source: source}
}

// ServeHTTP streams MJPEG frames until the client disconnects.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(previewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		frame, err := h.source.ReadFrame()
		if err != nil {
			continue
		}
		buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
		frame.Close()
		if err != nil {
			continue
		}

		_, err = fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", buf.Len())
		if err == nil {
			_, err = w.Write(buf.GetBytes())
		}
		if err == nil {
			_, err = fmt.Fprint(w, "\r\n")
		}
		buf.Close()
		if err != nil {
			return
		}

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
