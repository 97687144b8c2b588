package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"

	"gocv.io/x/gocv"
	"golang.org/x/time/rate"

	"github.com/ayusman/handsign/internal/apierr"
	"github.com/ayusman/handsign/internal/identity"
	"github.com/ayusman/handsign/internal/quota"
	"github.com/ayusman/handsign/internal/recognition"
)

// State is a connection's position in its lifecycle.
type State int32

const (
	Connected State = iota
	AwaitingFrame
	Processing
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connected:
		return "CONNECTED"
	case AwaitingFrame:
		return "AWAITING_FRAME"
	case Processing:
		return "PROCESSING"
	default:
		return "DISCONNECTED"
	}
}

// Recognizer runs one decoded frame through the recognition pipeline.
type Recognizer interface {
	Recognize(frame *gocv.Mat) (recognition.Outcome, error)
}

// Tracker is the quota surface the gateway needs.
type Tracker interface {
	Check(ctx context.Context, id identity.Identity) (quota.Decision, error)
	Record(ctx context.Context, id identity.Identity) (quota.Decision, error)
}

// Session handles the frames of one connection, one at a time.
type Session struct {
	id         identity.Identity
	recognizer Recognizer
	tracker    Tracker
	limiter    *rate.Limiter
	log        *slog.Logger
	state      atomic.Int32
}

// NewSession returns a session for id in the Connected state. framesPerSec
// caps the frame rate; zero or less disables the cap.
func NewSession(id identity.Identity, r Recognizer, t Tracker, framesPerSec float64, log *slog.Logger) *Session {
	s := &Session{
		id:         id,
		recognizer: r,
		tracker:    t,
		log:        log.With("identity", id.String()),
	}
	if framesPerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(framesPerSec), max(1, int(framesPerSec)))
	}
	s.state.Store(int32(Connected))
	return s
}

// Identity returns who the session belongs to.
func (s *Session) Identity() identity.Identity { return s.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		s.log.Debug("session state", "from", prev.String(), "to", next.String())
	}
}

// Ready moves a fresh or finished session to AwaitingFrame.
func (s *Session) Ready() {
	if s.State() != Disconnected {
		s.setState(AwaitingFrame)
	}
}

// Close marks the session Disconnected. Shared detector and classifier
// handles are not touched.
func (s *Session) Close() {
	s.setState(Disconnected)
}

// Handle processes one raw inbound message and returns the replies. It never
// panics on bad input; every failure becomes an error event.
func (s *Session) Handle(ctx context.Context, raw []byte) []Envelope {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return []Envelope{errorEnvelope(apierr.CodeBadRequest, "invalid message format")}
	}

	switch env.Event {
	case EventImage:
		var p ImagePayload
		if len(env.Data) == 0 || json.Unmarshal(env.Data, &p) != nil {
			return []Envelope{errorEnvelope(apierr.CodeBadRequest, "image event needs {\"image\": <base64>}")}
		}
		return s.HandleFrame(ctx, p)
	default:
		return []Envelope{errorEnvelope(apierr.CodeBadRequest, "unknown event "+quoteEvent(env.Event))}
	}
}

func quoteEvent(e string) string {
	if len(e) > 32 {
		e = e[:32]
	}
	b, _ := json.Marshal(e)
	return string(b)
}

// HandleFrame runs one frame: quota check, decode, recognise, count.
func (s *Session) HandleFrame(ctx context.Context, p ImagePayload) []Envelope {
	if s.State() == Disconnected {
		return nil
	}
	s.setState(Processing)
	defer s.Ready()

	if s.limiter != nil && !s.limiter.Allow() {
		return []Envelope{errorEnvelope(apierr.CodeTooManyRequests, "frames are arriving too fast")}
	}

	decision, err := s.tracker.Check(ctx, s.id)
	if err != nil {
		s.log.Error("quota check failed", "error", err)
		return []Envelope{errorEnvelope(apierr.CodeServiceUnavailable, "recognition is temporarily unavailable")}
	}
	if !decision.Allowed() {
		s.log.Info("quota denied", "used", decision.Used, "limit", decision.Limit)
		return []Envelope{newEnvelope(EventLimitReached, LimitPayload{
			Message: "daily recognition limit reached",
			Used:    decision.Used,
			Limit:   decision.Limit,
			ResetAt: decision.ResetAt,
		})}
	}

	frame, err := recognition.DecodeFrame(p.Image)
	if err != nil {
		s.log.Debug("frame decode failed", "error", err)
		return []Envelope{errorEnvelope(apierr.CodeDecodeError, "could not decode image")}
	}
	defer frame.Close()

	outcome, err := s.recognizer.Recognize(&frame)
	if err != nil {
		s.log.Error("recognition failed", "error", err)
		return []Envelope{errorEnvelope(apierr.CodeServerError, "recognition failed")}
	}

	out := []Envelope{newEnvelope(EventPrediction, PredictionPayload{
		Prediction: outcome.Text(),
		Confidence: outcome.Confidence,
	})}
	if outcome.Kind == recognition.NoHand {
		return out
	}

	after, err := s.tracker.Record(ctx, s.id)
	if err != nil {
		s.log.Error("quota record failed", "error", err, "label", outcome.Label)
		if errors.Is(err, quota.ErrStoreUnavailable) || errors.Is(err, quota.ErrUnknownIdentity) {
			return append(out, errorEnvelope(apierr.CodeServiceUnavailable, "usage could not be saved"))
		}
		return append(out, errorEnvelope(apierr.CodeServerError, "usage could not be saved"))
	}

	return append(out, newEnvelope(EventUsage, usagePayload(after)))
}

func usagePayload(d quota.Decision) UsagePayload {
	if d.Unlimited {
		return UsagePayload{Used: d.Used, Limit: -1, Remaining: -1, Unlimited: true}
	}
	return UsagePayload{Used: d.Used, Limit: d.Limit, Remaining: d.Remaining()}
}
