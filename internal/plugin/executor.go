package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DefaultTimeout bounds one plugin run.
const DefaultTimeout = 2 * time.Second

// Executor runs plugins with a timeout.
type Executor struct {
	timeout time.Duration
}

// NewExecutor creates an Executor. A non-positive timeout uses DefaultTimeout.
func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{timeout: timeout}
}

// Execute writes req to the plugin's stdin and parses its stdout. A plugin
// that answers success=false yields an error carrying its message.
func (e *Executor) Execute(ctx context.Context, p *Plugin, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if req.Config == nil {
		req.Config = p.Manifest.Config
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.Executable)
	cmd.Dir = p.Path
	cmd.Stdin = bytes.NewReader(body)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("plugin %s timed out after %s", p.Manifest.Name, e.timeout)
	}
	if err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("plugin %s failed: %w, stderr: %s", p.Manifest.Name, err, stderr.String())
		}
		return nil, fmt.Errorf("plugin %s failed: %w", p.Manifest.Name, err)
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("parse plugin response: %w, stdout: %s", err, stdout.String())
	}
	if !resp.Success {
		return &resp, fmt.Errorf("plugin %s: %s", p.Manifest.Name, resp.Error)
	}
	return &resp, nil
}
