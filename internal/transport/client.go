package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pigeon-im/pigeon/internal/bus"
	"go.uber.org/zap"
)

// Tuning parameters for the socket connection.
var (
	writeWait      = 10 * time.Second    // time allowed to write a frame to the peer
	pongWait       = 30 * time.Second    // time allowed to read the next pong
	pingInterval   = (pongWait * 9) / 10 // send pings with this period
	maxMessageSize = int64(512 * 1024)   // max inbound frame size (attachments are inline-encoded)
	egressBufSize  = 64                  // outbound frame buffer
)

// ErrNotConnected is returned by Emit when no connection is established.
var ErrNotConnected = errors.New("transport: not connected")

// ErrEgressFull is returned by Emit when the outbound buffer is saturated.
var ErrEgressFull = errors.New("transport: egress buffer full")

// Handler processes one decoded inbound payload.
type Handler func(payload any)

// TokenSource supplies the current bearer token and can invalidate it. The
// session credentials store satisfies this.
type TokenSource interface {
	Token() string
	Clear() error
}

// Client owns one persistent websocket connection to the chat server. It is
// constructed once and injected wherever the connection is needed; there is
// no package-level socket instance. Reconnection is never automatic: after a
// disconnect the controlling layer decides whether to call Connect again.
type Client struct {
	url    string
	tokens TokenSource
	bus    *bus.Bus
	logger *zap.Logger

	hmu      sync.RWMutex
	handlers map[string]Handler

	mu        sync.Mutex
	conn      *websocket.Conn
	egress    chan *Frame
	done      chan struct{}
	closeOnce *sync.Once
}

// NewClient creates a transport client for the given websocket URL.
func NewClient(url string, tokens TokenSource, b *bus.Bus, logger *zap.Logger) *Client {
	return &Client{
		url:      url,
		tokens:   tokens,
		bus:      b,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Connect establishes the socket with an authenticated handshake. Without a
// token this is a logged no-op, per the session contract: callers must not
// proceed to emit events unless a prior Connect succeeded.
func (c *Client) Connect(ctx context.Context) error {
	token := c.tokens.Token()
	if token == "" {
		c.logger.Info("no auth token, skipping connect")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return errors.New("transport: already connected")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return err
	}

	c.conn = conn
	c.egress = make(chan *Frame, egressBufSize)
	c.done = make(chan struct{})
	c.closeOnce = &sync.Once{}

	go c.readPump(conn, c.done, c.closeOnce)
	go c.writePump(conn, c.egress, c.done)

	c.logger.Info("transport connected", zap.String("url", c.url))
	c.bus.Emit(bus.KindTransportConnected, nil)
	return nil
}

// Disconnect tears the connection down cleanly. Safe to call when not
// connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn, done, once := c.conn, c.done, c.closeOnce
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.teardown(conn, done, once)
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Emit enqueues a frame for sending. Fire-and-forget: a nil return means the
// frame was accepted for delivery, not that the server processed it. Any
// acknowledgement arrives as a separately subscribed response event.
func (c *Client) Emit(event string, payload any) error {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	egress, done := c.egress, c.done
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	select {
	case egress <- frame:
		return nil
	case <-done:
		return ErrNotConnected
	default:
		return ErrEgressFull
	}
}

// On registers the handler for a named event, replacing any previous handler
// for that event. Re-registering the same logical handler therefore never
// causes duplicate deliveries.
func (c *Client) On(event string, h Handler) {
	c.hmu.Lock()
	c.handlers[event] = h
	c.hmu.Unlock()
}

// Off deregisters the handler for a named event.
func (c *Client) Off(event string) {
	c.hmu.Lock()
	delete(c.handlers, event)
	c.hmu.Unlock()
}

func (c *Client) readPump(conn *websocket.Conn, done chan struct{}, once *sync.Once) {
	defer c.teardown(conn, done, once)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				// Server-initiated rejection: the token is no longer valid.
				c.expireSession()
				return
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("transport read error", zap.Error(err))
			}
			return
		}

		if frame.Event == EventForcedDisconnect {
			c.expireSession()
			return
		}

		payload, err := Decode(&frame)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", zap.String("event", frame.Event), zap.Error(err))
			continue
		}

		c.hmu.RLock()
		h := c.handlers[frame.Event]
		c.hmu.RUnlock()
		if h == nil {
			continue
		}
		h(payload)
	}
}

func (c *Client) writePump(conn *websocket.Conn, egress chan *Frame, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case frame := <-egress:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				c.logger.Warn("transport write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// expireSession handles a remote-initiated disconnect: the cached token must
// be treated as revoked and the controlling layer sent back to the auth
// entry point.
func (c *Client) expireSession() {
	c.logger.Warn("server forced disconnect, clearing credentials")
	if err := c.tokens.Clear(); err != nil {
		c.logger.Error("failed to clear credentials", zap.Error(err))
	}
	c.bus.Emit(bus.KindSessionExpired, nil)
}

func (c *Client) teardown(conn *websocket.Conn, done chan struct{}, once *sync.Once) {
	once.Do(func() {
		close(done)
		_ = conn.Close()

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()

		c.logger.Info("transport disconnected")
		c.bus.Emit(bus.KindTransportDisconnected, nil)
	})
}
