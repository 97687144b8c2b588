package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ayusman/handsign/internal/identity"
	"github.com/ayusman/handsign/internal/logger"
)

// Config wires the shared collaborators into a Gateway.
type Config struct {
	Recognizer Recognizer
	Tracker    Tracker
	Resolver   *identity.Resolver

	// FrameRateLimit is the per-connection frame cap in frames per second.
	FrameRateLimit float64

	// AllowedOrigins restricts browser origins in production. Empty allows
	// every origin outside production.
	AllowedOrigins []string
	Production     bool

	Logger *slog.Logger
}

// Gateway upgrades requests to websocket sessions.
type Gateway struct {
	cfg      Config
	upgrader websocket.Upgrader
	log      *slog.Logger
	active   atomic.Int64
}

// New returns a Gateway. The recognizer and tracker are process-wide and
// shared by every session.
func New(cfg Config) *Gateway {
	g := &Gateway{cfg: cfg, log: cfg.Logger}
	if g.log == nil {
		g.log = logger.Default()
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 4 * 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// Active returns the number of open sessions.
func (g *Gateway) Active() int64 {
	return g.active.Load()
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if !g.cfg.Production {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		g.log.Warn("websocket connection with no origin header")
		return false
	}
	if slices.Contains(g.cfg.AllowedOrigins, origin) {
		return true
	}

	g.log.Warn("websocket origin rejected", "origin", origin)
	return false
}

// Handler returns the gin handler for the websocket endpoint.
func (g *Gateway) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		g.ServeHTTP(c.Writer, c.Request)
	}
}

// ServeHTTP resolves the caller's identity, upgrades the connection and
// serves frames until the client goes away.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, header, err := g.cfg.Resolver.ResolveForUpgrade(r)
	if err != nil {
		g.log.Error("identity resolution failed", "error", err)
		http.Error(w, "session unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, header)
	if err != nil {
		// the upgrader has already replied
		g.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := NewSession(id, g.cfg.Recognizer, g.cfg.Tracker, g.cfg.FrameRateLimit, g.log)
	g.serve(r.Context(), conn, s)
}

// client couples a connection with its outbound queue.
type client struct {
	conn    *websocket.Conn
	session *Session
	send    chan Envelope
	done    chan struct{}
	once    sync.Once
	log     *slog.Logger
}

func (g *Gateway) serve(ctx context.Context, conn *websocket.Conn, s *Session) {
	g.active.Add(1)
	defer g.active.Add(-1)

	c := &client{
		conn:    conn,
		session: s,
		send:    make(chan Envelope, sendBuffer),
		done:    make(chan struct{}),
		log:     g.log.With("identity", s.Identity().String()),
	}
	c.log.Info("session connected", "remote", conn.RemoteAddr().String())

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump()
	}()

	s.Ready()
	c.readPump(ctx)

	s.Close()
	c.stop()
	wg.Wait()
	c.log.Info("session disconnected")
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// enqueue hands replies to the write pump. A full queue means the client
// stopped reading, so the connection is dropped.
func (c *client) enqueue(msgs []Envelope) bool {
	for _, m := range msgs {
		select {
		case c.send <- m:
		case <-c.done:
			return false
		default:
			c.log.Warn("send buffer full, closing connection")
			c.stop()
			return false
		}
	}
	return true
}

// readPump processes inbound messages in order until the connection fails.
func (c *client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("websocket error", "error", err)
			}
			return
		}

		if !c.enqueue(c.session.Handle(ctx, raw)) {
			return
		}
	}
}

// writePump writes queued replies and keeps the connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(msg)
			if err != nil {
				c.log.Error("failed to marshal message", "error", err, "event", msg.Event)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.stop()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}

		case <-c.done:
			c.drain()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drain flushes replies queued before shutdown.
func (c *client) drain() {
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if c.conn.WriteMessage(websocket.TextMessage, data) != nil {
				return
			}
		default:
			return
		}
	}
}
