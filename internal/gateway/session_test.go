package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/handsign/internal/apierr"
	"github.com/ayusman/handsign/internal/classifier"
	"github.com/ayusman/handsign/internal/detector"
	"github.com/ayusman/handsign/internal/enhance"
	"github.com/ayusman/handsign/internal/identity"
	"github.com/ayusman/handsign/internal/quota"
	"github.com/ayusman/handsign/internal/recognition"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeTracker counts like quota.Tracker with a fixed limit.
type fakeTracker struct {
	mu        sync.Mutex
	used      int
	limit     int
	unlimited bool
	checkErr  error
	recordErr error
	checks    int
}

func (f *fakeTracker) decision() quota.Decision {
	d := quota.Decision{Used: f.used, Limit: f.limit, Unlimited: f.unlimited}
	if !f.unlimited && f.used >= f.limit {
		d.State = quota.AtLimit
	}
	return d
}

func (f *fakeTracker) Check(context.Context, identity.Identity) (quota.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.checkErr != nil {
		return quota.Decision{}, f.checkErr
	}
	return f.decision(), nil
}

func (f *fakeTracker) Record(context.Context, identity.Identity) (quota.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return quota.Decision{}, f.recordErr
	}
	f.used++
	return f.decision(), nil
}

func blankFrame(t *testing.T) string {
	t.Helper()
	img := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	defer img.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	require.NoError(t, err)
	defer buf.Close()
	return base64.StdEncoding.EncodeToString(buf.GetBytes())
}

func imageMessage(t *testing.T, b64 string) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{"event": EventImage, "data": ImagePayload{Image: b64}})
	require.NoError(t, err)
	return data
}

func newTestSession(hands []detector.HandLandmarks, tr Tracker) (*Session, *detector.MockDetector) {
	mock := detector.NewMockDetector()
	mock.SetHands(hands)
	r := recognition.New(mock, classifier.Static{Label: "L"}, enhance.New())
	s := NewSession(identity.Identity{Kind: identity.Registered, ID: "alice"}, r, tr, 0, discard)
	s.Ready()
	return s, mock
}

func decode[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestSession_HandleFrame(t *testing.T) {
	ctx := context.Background()
	frame := blankFrame(t)
	hand := []detector.HandLandmarks{detector.OpenPalmLandmarks()}

	t.Run("prediction is counted", func(t *testing.T) {
		tr := &fakeTracker{used: 24, limit: 25}
		s, _ := newTestSession(hand, tr)

		out := s.Handle(ctx, imageMessage(t, frame))
		require.Len(t, out, 2)
		assert.Equal(t, EventPrediction, out[0].Event)
		assert.Equal(t, "L", decode[PredictionPayload](t, out[0]).Prediction)
		assert.Equal(t, EventUsage, out[1].Event)
		assert.Equal(t, UsagePayload{Used: 25, Limit: 25, Remaining: 0}, decode[UsagePayload](t, out[1]))
		assert.Equal(t, 25, tr.used)
		assert.Equal(t, AwaitingFrame, s.State())
	})

	t.Run("limit reached skips all work", func(t *testing.T) {
		tr := &fakeTracker{used: 25, limit: 25}
		s, mock := newTestSession(hand, tr)

		out := s.Handle(ctx, imageMessage(t, frame))
		require.Len(t, out, 1)
		assert.Equal(t, EventLimitReached, out[0].Event)
		assert.Equal(t, 25, decode[LimitPayload](t, out[0]).Used)
		assert.Zero(t, mock.Calls())
		assert.Equal(t, 25, tr.used)
	})

	t.Run("no hand is free", func(t *testing.T) {
		tr := &fakeTracker{used: 3, limit: 10}
		s, _ := newTestSession(nil, tr)

		out := s.Handle(ctx, imageMessage(t, frame))
		require.Len(t, out, 1)
		assert.Equal(t, recognition.NoHandLabel, decode[PredictionPayload](t, out[0]).Prediction)
		assert.Equal(t, 3, tr.used)
	})

	t.Run("unlimited never reaches limit", func(t *testing.T) {
		tr := &fakeTracker{unlimited: true}
		s, _ := newTestSession(hand, tr)

		for i := 0; i < 40; i++ {
			out := s.Handle(ctx, imageMessage(t, frame))
			require.Equal(t, EventPrediction, out[0].Event)
		}
		assert.Equal(t, 40, tr.used)
	})

	t.Run("malformed base64 keeps session usable", func(t *testing.T) {
		tr := &fakeTracker{limit: 10}
		s, _ := newTestSession(hand, tr)

		out := s.Handle(ctx, imageMessage(t, "%%%not base64%%%"))
		require.Len(t, out, 1)
		assert.Equal(t, EventError, out[0].Event)
		assert.Equal(t, apierr.CodeDecodeError, decode[ErrorPayload](t, out[0]).Error)
		assert.Equal(t, 0, tr.used)
		assert.Equal(t, AwaitingFrame, s.State())

		out = s.Handle(ctx, imageMessage(t, frame))
		assert.Equal(t, EventPrediction, out[0].Event)
	})

	t.Run("store failure fails closed", func(t *testing.T) {
		tr := &fakeTracker{limit: 10, checkErr: quota.ErrStoreUnavailable}
		s, mock := newTestSession(hand, tr)

		out := s.Handle(ctx, imageMessage(t, frame))
		require.Len(t, out, 1)
		assert.Equal(t, apierr.CodeServiceUnavailable, decode[ErrorPayload](t, out[0]).Error)
		assert.Zero(t, mock.Calls())
	})

	t.Run("record failure is reported after the prediction", func(t *testing.T) {
		tr := &fakeTracker{limit: 10, recordErr: quota.ErrStoreUnavailable}
		s, _ := newTestSession(hand, tr)

		out := s.Handle(ctx, imageMessage(t, frame))
		require.Len(t, out, 2)
		assert.Equal(t, EventPrediction, out[0].Event)
		assert.Equal(t, apierr.CodeServiceUnavailable, decode[ErrorPayload](t, out[1]).Error)
	})

	t.Run("detector failure", func(t *testing.T) {
		tr := &fakeTracker{limit: 10}
		s, mock := newTestSession(hand, tr)
		mock.SetError(errors.New("helper exited"))

		out := s.Handle(ctx, imageMessage(t, frame))
		require.Len(t, out, 1)
		assert.Equal(t, apierr.CodeServerError, decode[ErrorPayload](t, out[0]).Error)
		assert.Equal(t, 0, tr.used)
	})

	t.Run("rate limited", func(t *testing.T) {
		tr := &fakeTracker{unlimited: true}
		mock := detector.NewMockDetector()
		r := recognition.New(mock, classifier.Static{Label: "L"}, nil)
		s := NewSession(identity.Identity{Kind: identity.Guest, ID: "g"}, r, tr, 1, discard)

		first := s.Handle(ctx, imageMessage(t, frame))
		second := s.Handle(ctx, imageMessage(t, frame))
		assert.Equal(t, EventPrediction, first[0].Event)
		assert.Equal(t, apierr.CodeTooManyRequests, decode[ErrorPayload](t, second[0]).Error)
		assert.Equal(t, 1, tr.checks)
	})

	t.Run("closed session ignores frames", func(t *testing.T) {
		tr := &fakeTracker{limit: 10}
		s, _ := newTestSession(hand, tr)
		s.Close()

		assert.Empty(t, s.Handle(ctx, imageMessage(t, frame)))
		assert.Equal(t, Disconnected, s.State())
	})
}

func TestSession_Handle_BadMessages(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(nil, &fakeTracker{limit: 10})

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "hello"},
		{"unknown event", `{"event": "dance"}`},
		{"image without data", `{"event": "image"}`},
		{"image with wrong data", `{"event": "image", "data": [1, 2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := s.Handle(ctx, []byte(tt.raw))
			require.Len(t, out, 1)
			assert.Equal(t, EventError, out[0].Event)
			assert.Equal(t, apierr.CodeBadRequest, decode[ErrorPayload](t, out[0]).Error)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CONNECTED", Connected.String())
	assert.Equal(t, "AWAITING_FRAME", AwaitingFrame.String())
	assert.Equal(t, "PROCESSING", Processing.String())
	assert.Equal(t, "DISCONNECTED", Disconnected.String())
}
