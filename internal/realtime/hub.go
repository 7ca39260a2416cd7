package realtime

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"agriconnect/internal/presence"
	"agriconnect/internal/signaling"
	"agriconnect/pkg/auth"
	"agriconnect/pkg/config"
	apperrors "agriconnect/pkg/errors"
	httputil "agriconnect/pkg/http"
	"agriconnect/pkg/logger"
	"agriconnect/pkg/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// EventHandler consumes decoded inbound events. The signaling relay is the
// production handler.
type EventHandler interface {
	Handle(ctx context.Context, src signaling.Source, ev realtime.Event)
}

type Options struct {
	SendBuffer     int
	MaxMessageSize int64
	PongWait       time.Duration
	WriteTimeout   time.Duration
	SignalRate     rate.Limit
	SignalBurst    int
	AllowedOrigins []string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SendBuffer:     cfg.WSSendBuffer,
		MaxMessageSize: int64(cfg.WSMaxMessageSize),
		PongWait:       cfg.WSPongWait,
		WriteTimeout:   cfg.WSWriteTimeout,
		SignalRate:     rate.Limit(cfg.SignalRateLimit),
		SignalBurst:    cfg.SignalBurst,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}
}

// Hub owns every live websocket connection. It registers authenticated
// users in the presence registry, feeds inbound frames to the event
// handler and implements signaling.Sender for outbound frames.
type Hub struct {
	opts     Options
	verifier *auth.Verifier
	presence *presence.Registry
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	conns   map[string]*conn
	handler EventHandler
	closed  bool
}

func NewHub(opts Options, verifier *auth.Verifier, registry *presence.Registry, log *logger.Logger) *Hub {
	h := &Hub{
		opts:     opts,
		verifier: verifier,
		presence: registry,
		log:      log,
		conns:    make(map[string]*conn),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// SetHandler installs the consumer of inbound events. It must be called
// before the hub starts serving.
func (h *Hub) SetHandler(handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(h.opts.AllowedOrigins, origin)
}

// ServeHTTP authenticates the caller and upgrades to a websocket. It blocks
// until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(auth.TokenFromRequest(r, true))
	if err != nil {
		h.log.Warn("websocket authentication failed", "remote_addr", r.RemoteAddr, "error", err)
		appErr := apperrors.Unauthorized("Invalid token")
		if errors.Is(err, auth.ErrMissingToken) {
			appErr = apperrors.Forbidden("Access denied")
		}
		if writeErr := httputil.WriteError(w, appErr); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Hub", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.log.Warn("websocket upgrade failed", "user_id", identity.UserID, "error", err)
		return
	}

	c := newConn(uuid.New().String(), identity, ws, h.opts)
	if !h.add(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.opts.WriteTimeout))
		_ = ws.Close()
		return
	}
	h.presence.Register(identity.UserID, c.id)

	h.log.Info("websocket connected", "conn_id", c.id, "user_id", identity.UserID, "role", identity.Role)

	go c.writePump(h.log)
	h.readPump(r.Context(), c)
	h.remove(c)
}

func (h *Hub) add(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	return true
}

func (h *Hub) remove(c *conn) {
	c.close()

	h.mu.Lock()
	delete(h.conns, c.id)
	handler := h.handler
	h.mu.Unlock()

	h.presence.Unregister(c.id)
	if handler != nil {
		handler.Handle(context.Background(), c.source(), realtime.Disconnect{})
	}

	h.log.Info("websocket disconnected", "conn_id", c.id, "user_id", c.identity.UserID)
}

func (h *Hub) readPump(ctx context.Context, c *conn) {
	c.ws.SetReadLimit(h.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		msgType, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			h.log.Warn("non-text frame dropped", "conn_id", c.id, "message_type", msgType)
			continue
		}
		if !c.limiter.Allow() {
			h.log.Warn("signaling rate limit exceeded, frame dropped", "conn_id", c.id, "user_id", c.identity.UserID)
			continue
		}

		ev, err := realtime.Decode(frame)
		if err != nil {
			h.log.Warn("malformed frame dropped", "conn_id", c.id, "error", err)
			continue
		}

		h.mu.RLock()
		handler := h.handler
		h.mu.RUnlock()
		if handler != nil {
			handler.Handle(ctx, c.source(), ev)
		}
	}
}

// Send enqueues frame on connID's send queue without blocking. It reports
// false when the connection is unknown or its queue is full.
func (h *Hub) Send(connID string, frame []byte) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if !c.enqueue(frame) {
		h.log.Warn("send queue full, frame dropped", "conn_id", connID, "user_id", c.identity.UserID)
		return false
	}
	return true
}

// SendToUser delivers frame to the user's current connection, if online.
func (h *Hub) SendToUser(userID string, frame []byte) bool {
	connID, ok := h.presence.Lookup(userID)
	if !ok {
		return false
	}
	return h.Send(connID, frame)
}

// Connections reports the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown closes every connection and refuses new ones. Hijacked
// connections are not covered by http.Server.Shutdown.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	for {
		if h.Connections() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
