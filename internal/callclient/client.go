// Package callclient drives one side of an appointment call: it acquires
// local media, joins the call over the realtime channel, negotiates a peer
// connection through the relay and tears everything down on hangup.
package callclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"agriconnect/pkg/logger"
	"agriconnect/pkg/model"
	"agriconnect/pkg/realtime"
)

type State string

const (
	StateIdle              State = "idle"
	StateCapturingMedia    State = "capturing-media"
	StateJoinedWaitingPeer State = "joined-waiting-peer"
	StateOfferSent         State = "offer-sent"
	StateAnswerSent        State = "answer-sent"
	StateConnected         State = "connected"
	StateEnded             State = "ended"
)

const (
	DefaultNegotiationTimeout = 45 * time.Second
	DefaultOfferRetryInterval = 3 * time.Second
)

var (
	ErrNegotiationTimeout = errors.New("call negotiation timed out")
	ErrSignalingLost      = errors.New("signaling connection lost")
	ErrPeerFailed         = errors.New("peer connection failed")
	ErrAlreadyRunning     = errors.New("call client already running")
)

// PeerState is the subset of connection states the client reacts to.
type PeerState int

const (
	PeerConnecting PeerState = iota
	PeerConnected
	PeerFailed
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerConnected:
		return "connected"
	case PeerFailed:
		return "failed"
	case PeerClosed:
		return "closed"
	default:
		return "connecting"
	}
}

// LocalMedia is a captured media source. Release stops it.
type LocalMedia interface {
	Release()
}

type MediaSource interface {
	Acquire(ctx context.Context) (LocalMedia, error)
}

// Peer is one end of the media session. Descriptions and candidates are
// opaque JSON so they travel through the relay unchanged.
type Peer interface {
	CreateOffer() (json.RawMessage, error)
	CreateAnswer(offer json.RawMessage) (json.RawMessage, error)
	SetAnswer(answer json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	LocalDescription() json.RawMessage
	Close() error
}

// PeerEvents are invoked from the peer's own goroutines.
type PeerEvents struct {
	OnCandidate func(candidate json.RawMessage)
	OnState     func(state PeerState)
}

type PeerFactory interface {
	NewPeer(media LocalMedia, events PeerEvents) (Peer, error)
}

// Signaler is the realtime channel to the server.
type Signaler interface {
	Send(frameType string, payload any) error
	Frames() <-chan []byte
	Done() <-chan struct{}
}

type Config struct {
	AppointmentID      string
	Role               model.Role
	NegotiationTimeout time.Duration
	OfferRetryInterval time.Duration
}

type Option func(*Client)

// WithStateObserver registers fn to be called on every state change from
// the event loop goroutine.
func WithStateObserver(fn func(State)) Option {
	return func(c *Client) {
		c.observer = fn
	}
}

type inputKind int

const (
	inputMedia inputKind = iota
	inputLocalCandidate
	inputPeerState
)

type input struct {
	kind      inputKind
	media     LocalMedia
	err       error
	candidate json.RawMessage
	peerState PeerState
}

// Client runs the call state machine. All state is owned by the Run
// goroutine; other goroutines reach it through the inputs channel.
type Client struct {
	cfg      Config
	signaler Signaler
	media    MediaSource
	peers    PeerFactory
	log      *logger.Logger
	observer func(State)

	inputs   chan input
	hangup   chan struct{}
	hangOnce sync.Once
	done     chan struct{}

	mu      sync.RWMutex
	state   State
	running bool

	// event loop only
	localMedia  LocalMedia
	peer        Peer
	remoteSet   bool
	pending     []json.RawMessage
	lastOffer   json.RawMessage
	cachedReply json.RawMessage
	retry       *time.Ticker
}

func New(cfg Config, signaler Signaler, media MediaSource, peers PeerFactory, log *logger.Logger, opts ...Option) (*Client, error) {
	if cfg.AppointmentID == "" {
		return nil, errors.New("appointment id is required")
	}
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", cfg.Role)
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if cfg.OfferRetryInterval <= 0 {
		cfg.OfferRetryInterval = DefaultOfferRetryInterval
	}

	c := &Client{
		cfg:      cfg,
		signaler: signaler,
		media:    media,
		peers:    peers,
		log:      log.With("appointment_id", cfg.AppointmentID, "role", cfg.Role),
		inputs:   make(chan input, 32),
		hangup:   make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Hangup ends the call. It is safe to call from any goroutine, any number
// of times.
func (c *Client) Hangup() {
	c.hangOnce.Do(func() { close(c.hangup) })
}

func (c *Client) offerer() bool {
	return c.cfg.Role == model.RoleFarmer
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.log.Info("call state changed", "from", prev, "to", s)
		if c.observer != nil {
			c.observer(s)
		}
	}
}

func (c *Client) post(in input) {
	select {
	case c.inputs <- in:
	case <-c.done:
	}
}

// Run drives the call until it ends. It returns nil after a hangup,
// ErrNegotiationTimeout when no connection was established in time, and
// ErrSignalingLost or ErrPeerFailed when the call broke.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()

	c.setState(StateCapturingMedia)
	mediaCtx, cancelMedia := context.WithCancel(ctx)
	mediaDone := make(chan struct{})
	go func() {
		defer close(mediaDone)
		m, err := c.media.Acquire(mediaCtx)
		c.post(input{kind: inputMedia, media: m, err: err})
	}()

	err := c.loop(ctx)

	close(c.done)
	cancelMedia()
	<-mediaDone
	c.releaseStranded()
	return err
}

// releaseStranded frees media that was acquired after the loop exited.
func (c *Client) releaseStranded() {
	for {
		select {
		case in := <-c.inputs:
			if in.kind == inputMedia && in.media != nil {
				in.media.Release()
			}
		default:
			return
		}
	}
}

func (c *Client) loop(ctx context.Context) error {
	negotiation := time.NewTimer(c.cfg.NegotiationTimeout)
	defer negotiation.Stop()
	defer c.stopRetry()

	for {
		var retryC <-chan time.Time
		if c.retry != nil {
			retryC = c.retry.C
		}

		select {
		case <-ctx.Done():
			return c.end(true, nil)

		case <-c.hangup:
			return c.end(true, nil)

		case <-c.signaler.Done():
			return c.end(false, ErrSignalingLost)

		case <-negotiation.C:
			if c.State() == StateConnected {
				continue
			}
			c.log.Warn("call negotiation timed out", "timeout", c.cfg.NegotiationTimeout)
			c.teardown(true)
			c.setState(StateIdle)
			return ErrNegotiationTimeout

		case <-retryC:
			c.resendOffer()

		case frame, ok := <-c.signaler.Frames():
			if !ok {
				return c.end(false, ErrSignalingLost)
			}
			c.handleFrame(frame)

		case in := <-c.inputs:
			switch in.kind {
			case inputMedia:
				if in.err != nil {
					c.log.Error("failed to acquire media", "error", in.err)
					c.setState(StateEnded)
					return fmt.Errorf("acquire media: %w", in.err)
				}
				if err := c.join(in.media); err != nil {
					c.log.Error("failed to join call", "error", err)
					return c.end(false, err)
				}

			case inputLocalCandidate:
				c.send(realtime.TypeIceCandidate, realtime.IceCandidate{
					AppointmentID: c.cfg.AppointmentID,
					Candidate:     in.candidate,
				})

			case inputPeerState:
				switch in.peerState {
				case PeerConnected:
					c.stopRetry()
					negotiation.Stop()
					c.setState(StateConnected)
				case PeerFailed, PeerClosed:
					c.log.Warn("peer connection lost", "state", in.peerState)
					return c.end(true, ErrPeerFailed)
				}
			}
		}
	}
}

func (c *Client) join(media LocalMedia) error {
	c.localMedia = media
	peer, err := c.peers.NewPeer(media, PeerEvents{
		OnCandidate: func(candidate json.RawMessage) {
			c.post(input{kind: inputLocalCandidate, candidate: candidate})
		},
		OnState: func(state PeerState) {
			c.post(input{kind: inputPeerState, peerState: state})
		},
	})
	if err != nil {
		return fmt.Errorf("create peer: %w", err)
	}
	c.peer = peer

	if err := c.signaler.Send(realtime.TypeJoinCall, realtime.JoinCall{
		AppointmentID: c.cfg.AppointmentID,
		Role:          c.cfg.Role,
	}); err != nil {
		return fmt.Errorf("send join_call: %w", err)
	}
	c.setState(StateJoinedWaitingPeer)

	if !c.offerer() {
		return nil
	}

	sdp, err := peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	c.send(realtime.TypeOffer, realtime.Offer{AppointmentID: c.cfg.AppointmentID, SDP: sdp})
	c.setState(StateOfferSent)
	c.retry = time.NewTicker(c.cfg.OfferRetryInterval)
	return nil
}

// resendOffer covers the case where the answerer joined after the first
// offer and the relay dropped it.
func (c *Client) resendOffer() {
	if c.remoteSet || c.peer == nil {
		c.stopRetry()
		return
	}
	sdp := c.peer.LocalDescription()
	if sdp == nil {
		return
	}
	c.log.Debug("re-sending offer")
	c.send(realtime.TypeOffer, realtime.Offer{AppointmentID: c.cfg.AppointmentID, SDP: sdp})
}

func (c *Client) stopRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) handleFrame(frame []byte) {
	env, err := realtime.DecodeEnvelope(frame)
	if err != nil {
		c.log.Warn("dropping malformed frame", "error", err)
		return
	}
	if c.peer == nil {
		c.log.Debug("frame before join, ignoring", "type", env.Type)
		return
	}

	switch env.Type {
	case realtime.TypeOffer:
		var offer realtime.Offer
		if err := json.Unmarshal(env.Data, &offer); err != nil || offer.AppointmentID != c.cfg.AppointmentID {
			return
		}
		c.handleOffer(offer.SDP)

	case realtime.TypeAnswer:
		var answer realtime.Answer
		if err := json.Unmarshal(env.Data, &answer); err != nil || answer.AppointmentID != c.cfg.AppointmentID {
			return
		}
		c.handleAnswer(answer.SDP)

	case realtime.TypeIceCandidate:
		var cand realtime.IceCandidate
		if err := json.Unmarshal(env.Data, &cand); err != nil || cand.AppointmentID != c.cfg.AppointmentID {
			return
		}
		c.handleCandidate(cand.Candidate)

	default:
		c.log.Debug("ignoring frame", "type", env.Type)
	}
}

func (c *Client) handleOffer(sdp json.RawMessage) {
	if c.offerer() {
		c.log.Warn("offerer received an offer, ignoring")
		return
	}
	if c.cachedReply != nil && bytes.Equal(sdp, c.lastOffer) {
		c.log.Debug("duplicate offer, re-sending answer")
		c.send(realtime.TypeAnswer, realtime.Answer{AppointmentID: c.cfg.AppointmentID, SDP: c.cachedReply})
		return
	}

	answer, err := c.peer.CreateAnswer(sdp)
	if err != nil {
		c.log.Error("failed to answer offer", "error", err)
		return
	}
	c.lastOffer = sdp
	c.cachedReply = answer
	c.remoteSet = true
	c.flushCandidates()
	c.send(realtime.TypeAnswer, realtime.Answer{AppointmentID: c.cfg.AppointmentID, SDP: answer})
	if c.State() != StateConnected {
		c.setState(StateAnswerSent)
	}
}

func (c *Client) handleAnswer(sdp json.RawMessage) {
	if !c.offerer() {
		c.log.Warn("answerer received an answer, ignoring")
		return
	}
	if c.remoteSet {
		c.log.Debug("answer already applied, ignoring")
		return
	}
	if err := c.peer.SetAnswer(sdp); err != nil {
		c.log.Error("failed to apply answer", "error", err)
		return
	}
	c.remoteSet = true
	c.stopRetry()
	c.flushCandidates()
}

func (c *Client) handleCandidate(candidate json.RawMessage) {
	if !c.remoteSet {
		c.pending = append(c.pending, candidate)
		return
	}
	if err := c.peer.AddCandidate(candidate); err != nil {
		c.log.Warn("failed to add remote candidate", "error", err)
	}
}

func (c *Client) flushCandidates() {
	for _, candidate := range c.pending {
		if err := c.peer.AddCandidate(candidate); err != nil {
			c.log.Warn("failed to add queued candidate", "error", err)
		}
	}
	c.pending = nil
}

func (c *Client) send(frameType string, payload any) {
	if err := c.signaler.Send(frameType, payload); err != nil {
		c.log.Warn("failed to send frame", "type", frameType, "error", err)
	}
}

// teardown releases media and closes the peer. When notify is set and a
// join was sent, the server is told the call is over.
func (c *Client) teardown(notify bool) {
	c.stopRetry()
	joined := c.peer != nil
	if c.peer != nil {
		if err := c.peer.Close(); err != nil {
			c.log.Warn("failed to close peer", "error", err)
		}
		c.peer = nil
	}
	if c.localMedia != nil {
		c.localMedia.Release()
		c.localMedia = nil
	}
	if notify && joined {
		c.send(realtime.TypeDisconnectCall, realtime.DisconnectCall{
			AppointmentID: c.cfg.AppointmentID,
			Role:          c.cfg.Role,
		})
	}
}

func (c *Client) end(notify bool, err error) error {
	c.teardown(notify)
	c.setState(StateEnded)
	return err
}
