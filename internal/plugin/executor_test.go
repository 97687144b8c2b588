package plugin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func scriptPlugin(t *testing.T, name, script string) *Plugin {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skipping shell plugin test on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, name+".sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return &Plugin{
		Manifest:   Manifest{Name: name, Executable: name + ".sh", Config: json.RawMessage(`{"layout":"us"}`)},
		Path:       dir,
		Executable: path,
	}
}

func TestExecutor_Execute(t *testing.T) {
	// echo the request back as data
	p := scriptPlugin(t, "echo", `printf '{"success":true,"data":%s}' "$(cat)"`+"\n")

	resp, err := NewExecutor(5*time.Second).Execute(context.Background(), p, &Request{
		Event:      EventLetter,
		Letter:     "A",
		Confidence: 0.9,
		Transcript: "HA",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var got Request
	if err := json.Unmarshal(resp.Data, &got); err != nil {
		t.Fatalf("failed to decode echoed request: %v", err)
	}
	if got.Letter != "A" || got.Transcript != "HA" || got.Event != EventLetter {
		t.Errorf("unexpected request on stdin: %+v", got)
	}
	if string(got.Config) != `{"layout":"us"}` {
		t.Errorf("expected manifest config to be passed, got %s", got.Config)
	}
}

func TestExecutor_Errors(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		timeout time.Duration
		wantErr string
	}{
		{"error response", `echo '{"success":false,"error":"no display"}'`, time.Second, "no display"},
		{"invalid json", `echo 'not json'`, time.Second, "parse plugin response"},
		{"non-zero exit", "echo boom >&2\nexit 3", time.Second, "boom"},
		{"timeout", "sleep 5", 100 * time.Millisecond, "timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := scriptPlugin(t, "p", tt.script+"\n")
			_, err := NewExecutor(tt.timeout).Execute(context.Background(), p, &Request{Event: EventLetter})
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewExecutor(t *testing.T) {
	if e := NewExecutor(0); e.timeout != DefaultTimeout {
		t.Errorf("expected default timeout, got %s", e.timeout)
	}
}

func TestDispatcher(t *testing.T) {
	out := filepath.Join(t.TempDir(), "letters")
	// append each letter to a file in arrival order
	p := scriptPlugin(t, "log", `sed -n 's/.*"letter":"\([^"]*\)".*/\1/p' >> `+out+`
echo '{"success":true}'
`)
	skipped := scriptPlugin(t, "other", "exit 1\n")
	skipped.Manifest.Events = []string{"other"}

	d := NewDispatcher(NewExecutor(5*time.Second), []*Plugin{p, skipped}, nil)
	for _, l := range []string{"H", "E", "Y"} {
		if !d.Send(Request{Event: EventLetter, Letter: l}) {
			t.Fatalf("Send(%s) was dropped", l)
		}
	}
	d.Close()
	d.Close()

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read plugin output: %v", err)
	}
	if got := strings.Fields(string(data)); strings.Join(got, "") != "HEY" {
		t.Errorf("expected letters in order, got %q", got)
	}
}
