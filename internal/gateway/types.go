// Package gateway serves recognition sessions over a websocket.
package gateway

import (
	"encoding/json"
	"time"

	"github.com/ayusman/handsign/internal/apierr"
)

// event names carried in the envelope
const (
	// is sent by clients with one encoded frame
	EventImage = "image"

	// is sent with the label for a frame
	EventPrediction = "prediction"

	// is sent instead of processing when the daily allowance is used up
	EventLimitReached = "limit_reached"

	// is sent after each counted recognition
	EventUsage = "usage"

	// is sent when a frame could not be handled
	EventError = "error"
)

// connection constants
const (
	// time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// maximum message size allowed from peer; frames are base64 JPEGs
	maxMessageSize = 4 * 1024 * 1024

	// outbound messages buffered per connection
	sendBuffer = 32
)

// Envelope is the wire format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ImagePayload is the data of an image event.
type ImagePayload struct {
	Image string `json:"image"`
}

// PredictionPayload is the data of a prediction event.
type PredictionPayload struct {
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence,omitempty"`
}

// LimitPayload is the data of a limit_reached event.
type LimitPayload struct {
	Message string    `json:"message"`
	Used    int       `json:"used"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"reset_at,omitzero"`
}

// UsagePayload is the data of a usage event. Limit and Remaining are -1
// for unlimited tiers.
type UsagePayload struct {
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
	Unlimited bool `json:"unlimited"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload = apierr.Response

func newEnvelope(event string, data any) Envelope {
	if data == nil {
		return Envelope{Event: event}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		// payload types above always marshal
		raw = nil
	}
	return Envelope{Event: event, Data: raw}
}

func errorEnvelope(code, message string) Envelope {
	return newEnvelope(EventError, ErrorPayload{Error: code, Message: message})
}
