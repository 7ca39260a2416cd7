package callclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agriconnect/pkg/logger"
	"agriconnect/pkg/realtime"
)

const (
	signalWriteTimeout = 10 * time.Second
	signalFrameBuffer  = 64
)

var ErrSignalerClosed = errors.New("signaler closed")

// WebSocketSignaler speaks the realtime frame protocol over /ws.
type WebSocketSignaler struct {
	ws     *websocket.Conn
	log    *logger.Logger
	frames chan []byte
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// WebSocketURL turns an http(s) server address into its /ws endpoint.
func WebSocketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// DialSignaler connects to wsURL with a bearer token and starts reading.
func DialSignaler(ctx context.Context, wsURL, token string, log *logger.Logger) (*WebSocketSignaler, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	s := &WebSocketSignaler{
		ws:     ws,
		log:    log,
		frames: make(chan []byte, signalFrameBuffer),
		done:   make(chan struct{}),
	}
	go s.readPump()
	return s, nil
}

func (s *WebSocketSignaler) readPump() {
	defer s.Close()
	for {
		_, frame, err := s.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("signaling read failed", "error", err)
			}
			return
		}
		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

func (s *WebSocketSignaler) Send(frameType string, payload any) error {
	frame, err := realtime.Encode(frameType, payload)
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return ErrSignalerClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(signalWriteTimeout))
	return s.ws.WriteMessage(websocket.TextMessage, frame)
}

func (s *WebSocketSignaler) Frames() <-chan []byte {
	return s.frames
}

func (s *WebSocketSignaler) Done() <-chan struct{} {
	return s.done
}

func (s *WebSocketSignaler) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.ws.Close()
	})
	return err
}
