// Package plugin runs external programs for each letter the local
// interpreter settles on, such as typing it into the focused window.
package plugin

import "encoding/json"

// EventLetter is the only event sent today.
const EventLetter = "letter"

// Manifest is the plugin.json found in each plugin directory.
type Manifest struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Executable  string          `json:"executable"`
	Events      []string        `json:"events"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// Handles reports whether the plugin asked for event. An empty list means
// every event.
func (m Manifest) Handles(event string) bool {
	if len(m.Events) == 0 {
		return true
	}
	for _, e := range m.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Request is written to the plugin's stdin as one JSON document.
type Request struct {
	Event      string          `json:"event"`
	Letter     string          `json:"letter"`
	Confidence float64         `json:"confidence"`
	Transcript string          `json:"transcript"`
	Config     json.RawMessage `json:"config,omitempty"`
}

// Response is read from the plugin's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin is a discovered plugin.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
