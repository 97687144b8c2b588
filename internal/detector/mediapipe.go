package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ScriptName is the helper that hosts MediaPipe Hands.
const ScriptName = "mediapipe_service.py"

// idleShutdown stops the helper process after this long without frames.
const idleShutdown = 5 * time.Minute

// ErrScriptNotFound is returned when the MediaPipe helper script is missing.
var ErrScriptNotFound = errors.New(ScriptName + " not found")

// MediaPipeDetector implements Detector on top of a Python helper process.
//
// Frames go to the helper as a 4-byte big-endian length followed by JPEG
// bytes; each answer is one JSON line. Calls are serialised by mu because
// the helper keeps tracking state between frames.
type MediaPipeDetector struct {
	config Config
	script string

	mu   sync.Mutex
	proc *helper
	idle *time.Timer
}

// NewMediaPipeDetector locates the helper script. The Python process is
// started lazily on the first Detect.
func NewMediaPipeDetector(config Config) (*MediaPipeDetector, error) {
	script := findMediaPipeScript()
	if script == "" {
		return nil, ErrScriptNotFound
	}
	return &MediaPipeDetector{config: config, script: script}, nil
}

// Detect sends frame to the helper and returns the hands it reports, at
// most MaxHands and none below MinConfidence.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	if frame == nil || frame.Empty() {
		return nil, nil
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.proc == nil {
		p, err := startHelper(d.script, d.config)
		if err != nil {
			return nil, err
		}
		d.proc = p
	}

	r, err := d.proc.exchange(buf.GetBytes())
	if err != nil {
		// a broken pipe leaves the helper unusable; the next call restarts it
		d.proc.kill()
		d.proc = nil
		return nil, err
	}
	d.touch()

	if r.Error != "" {
		return nil, fmt.Errorf("mediapipe: %s", r.Error)
	}
	return d.config.filter(r.Hands), nil
}

// Close stops the helper process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stop()
}

// touch re-arms the idle timer. Callers hold mu.
func (d *MediaPipeDetector) touch() {
	if d.idle != nil {
		d.idle.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(idleShutdown, func() { d.expire(t) })
	d.idle = t
}

// expire stops the helper if t is still the armed idle timer. A timer that
// fired while Detect held mu has since been replaced and must not stop the
// helper a fresh frame just used.
func (d *MediaPipeDetector) expire(t *time.Timer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idle != t {
		return
	}
	d.stop()
}

// stop closes the helper. Callers hold mu.
func (d *MediaPipeDetector) stop() error {
	if d.idle != nil {
		d.idle.Stop()
		d.idle = nil
	}
	if d.proc == nil {
		return nil
	}
	err := d.proc.close()
	d.proc = nil
	return err
}

// filter applies MinConfidence and MaxHands to the helper's answer.
func (c Config) filter(hands []jsonHand) []HandLandmarks {
	out := make([]HandLandmarks, 0, len(hands))
	for _, h := range hands {
		if h.Score < c.MinConfidence {
			continue
		}
		out = append(out, h.toHandLandmarks())
		if c.MaxHands > 0 && len(out) == c.MaxHands {
			break
		}
	}
	return out
}

// args are the helper's command line flags.
func (c Config) args() []string {
	return []string{
		"--max-hands", strconv.Itoa(c.MaxHands),
		"--min-detection-confidence", strconv.FormatFloat(c.MinConfidence, 'f', -1, 64),
		"--min-tracking-confidence", strconv.FormatFloat(c.MinTrackingConf, 'f', -1, 64),
	}
}

// helper is one running Python process.
type helper struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	out *bufio.Reader
}

func startHelper(script string, cfg Config) (*helper, error) {
	python := findVenvPython()
	if python == "" {
		python = "python3"
	}

	cmd := exec.Command(python, append([]string{script}, cfg.args()...)...)
	cmd.Stderr = os.Stderr
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start mediapipe service: %w", err)
	}
	return &helper{cmd: cmd, in: in, out: bufio.NewReader(out)}, nil
}

func (h *helper) exchange(jpeg []byte) (reply, error) {
	if err := writeFrame(h.in, jpeg); err != nil {
		return reply{}, err
	}
	return readReply(h.out)
}

func (h *helper) kill() {
	if h.cmd.Process != nil {
		h.cmd.Process.Kill()
	}
	h.close()
}

func (h *helper) close() error {
	h.in.Close()
	return h.cmd.Wait()
}

// writeFrame writes one length-prefixed frame.
func writeFrame(w io.Writer, jpeg []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(jpeg)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(jpeg); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

// reply is one JSON line from the helper.
type reply struct {
	Hands []jsonHand `json:"hands"`
	Error string     `json:"error"`
}

func readReply(r *bufio.Reader) (reply, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return reply{}, fmt.Errorf("read response: %w", err)
	}
	var rep reply
	if err := json.Unmarshal(line, &rep); err != nil {
		return reply{}, fmt.Errorf("parse response: %w", err)
	}
	return rep, nil
}

// findMediaPipeScript honours HANDSIGN_MEDIAPIPE_SCRIPT, then looks next to
// the working directory, the executable and ~/.handsign.
func findMediaPipeScript() string {
	if p := os.Getenv("HANDSIGN_MEDIAPIPE_SCRIPT"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return firstExisting(searchPaths(filepath.Join("scripts", ScriptName)))
}

// findVenvPython prefers a virtualenv interpreter that has mediapipe installed.
func findVenvPython() string {
	return firstExisting(searchPaths(filepath.Join("venv", "bin", "python")))
}

func searchPaths(rel string) []string {
	paths := []string{rel, filepath.Join("..", rel)}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), rel))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".handsign", rel))
	}
	return paths
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return p
	}
	return ""
}

// jsonHand is one hand as reported by the helper.
type jsonHand struct {
	Points     []jsonPoint `json:"points"`
	Handedness string      `json:"handedness"`
	Score      float64     `json:"score"`
}

type jsonPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// toHandLandmarks copies up to NumLandmarks points; missing points stay zero.
func (h jsonHand) toHandLandmarks() HandLandmarks {
	lm := HandLandmarks{Handedness: h.Handedness, Score: h.Score}
	for i := 0; i < NumLandmarks && i < len(h.Points); i++ {
		p := h.Points[i]
		lm.Points[i] = Point3D{X: p.X, Y: p.Y, Z: p.Z}
	}
	return lm
}
