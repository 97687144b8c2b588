package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/handsign/internal/classifier"
	"github.com/ayusman/handsign/internal/detector"
	"github.com/ayusman/handsign/internal/identity"
	"github.com/ayusman/handsign/internal/recognition"
)

func newTestGateway(tr Tracker, hands []detector.HandLandmarks) (*Gateway, *httptest.Server) {
	mock := detector.NewMockDetector()
	mock.SetHands(hands)
	g := New(Config{
		Recognizer: recognition.New(mock, classifier.Static{Label: "Y"}, nil),
		Tracker:    tr,
		Resolver:   identity.NewResolver(identity.NewCookieStore([]byte("0123456789abcdef0123456789abcdef"), false)),
		Logger:     discard,
	})
	return g, httptest.NewServer(g)
}

func dial(t *testing.T, srv *httptest.Server) (*websocket.Conn, *http.Response) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, resp
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestGateway_ServeHTTP(t *testing.T) {
	tr := &fakeTracker{limit: 2}
	g, srv := newTestGateway(tr, []detector.HandLandmarks{detector.FistLandmarks()})
	defer srv.Close()

	conn, resp := dial(t, srv)

	t.Run("guest cookie is set on upgrade", func(t *testing.T) {
		found := false
		for _, c := range resp.Cookies() {
			if c.Name == identity.SessionName {
				found = true
			}
		}
		assert.True(t, found, "expected %s cookie in upgrade response", identity.SessionName)
	})

	frame := blankFrame(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, imageMessage(t, frame)))
	assert.Equal(t, EventPrediction, readEnvelope(t, conn).Event)
	assert.Equal(t, EventUsage, readEnvelope(t, conn).Event)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	assert.Equal(t, EventError, readEnvelope(t, conn).Event)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, imageMessage(t, frame)))
	assert.Equal(t, EventPrediction, readEnvelope(t, conn).Event)
	assert.Equal(t, EventUsage, readEnvelope(t, conn).Event)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, imageMessage(t, frame)))
	assert.Equal(t, EventLimitReached, readEnvelope(t, conn).Event)

	assert.Equal(t, int64(1), g.Active())

	t.Run("disconnect releases the session", func(t *testing.T) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		assert.Eventually(t, func() bool { return g.Active() == 0 }, 5*time.Second, 10*time.Millisecond)
	})
}

func TestGateway_CheckOrigin(t *testing.T) {
	g := New(Config{Production: true, AllowedOrigins: []string{"https://handsign.example"}, Logger: discard})

	tests := []struct {
		origin string
		want   bool
	}{
		{"https://handsign.example", true},
		{"https://evil.example", false},
		{"", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, g.checkOrigin(r), "origin %q", tt.origin)
	}

	dev := New(Config{Logger: discard})
	assert.True(t, dev.checkOrigin(httptest.NewRequest(http.MethodGet, "/ws", nil)))
}
