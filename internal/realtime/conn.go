package realtime

import (
	"sync"
	"time"

	"agriconnect/internal/signaling"
	"agriconnect/pkg/auth"
	"agriconnect/pkg/logger"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// conn is one websocket client. Frames leave through a single writer
// goroutine draining send, so frames queued in order are written in order.
type conn struct {
	id       string
	identity *auth.Identity
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	limiter  *rate.Limiter
	opts     Options
}

func newConn(id string, identity *auth.Identity, ws *websocket.Conn, opts Options) *conn {
	return &conn{
		id:       id,
		identity: identity,
		ws:       ws,
		send:     make(chan []byte, opts.SendBuffer),
		done:     make(chan struct{}),
		limiter:  rate.NewLimiter(opts.SignalRate, opts.SignalBurst),
		opts:     opts,
	}
}

func (c *conn) source() signaling.Source {
	return signaling.Source{ConnID: c.id, UserID: c.identity.UserID}
}

func (c *conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close stops the writer and the socket. The reader sees the closed socket
// and returns.
func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *conn) writePump(log *logger.Logger) {
	pingPeriod := c.opts.PongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return

		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Warn("websocket write failed", "conn_id", c.id, "error", err)
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				log.Warn("websocket ping failed", "conn_id", c.id, "error", err)
				return
			}
		}
	}
}
