// Command keyboard is a handsign plugin that types each recognised letter
// into the focused window. It uses AppleScript on macOS and xdotool
// elsewhere.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Request is the document handsign writes to stdin.
type Request struct {
	Event  string `json:"event"`
	Letter string `json:"letter"`
}

// Response is written to stdout.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		respond(fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Event != "letter" {
		respond(nil)
		return
	}
	respond(typeLetter(req.Letter))
}

// typeLetter maps the classifier's control labels onto keys. "nothing"
// types nothing.
func typeLetter(letter string) error {
	switch strings.ToLower(letter) {
	case "", "nothing":
		return nil
	case "space":
		return press("space", " ")
	case "del":
		return press("BackSpace", "")
	}
	if len(letter) != 1 {
		return fmt.Errorf("unsupported label %q", letter)
	}
	return press(strings.ToLower(letter), strings.ToLower(letter))
}

// press sends key with xdotool, or text via AppleScript on macOS. An empty
// text on macOS means backspace.
func press(key, text string) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "darwin" {
		script := `tell application "System Events" to key code 51`
		if text != "" {
			script = fmt.Sprintf(`tell application "System Events" to keystroke %q`, text)
		}
		cmd = exec.Command("osascript", "-e", script)
	} else {
		cmd = exec.Command("xdotool", "key", "--clearmodifiers", key)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func respond(err error) {
	resp := Response{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}
