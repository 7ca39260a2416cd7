package signaling

import (
	"context"
	"errors"
	"sync"

	"agriconnect/pkg/logger"
	"agriconnect/pkg/model"
	"agriconnect/pkg/realtime"
)

// Sender delivers an encoded frame to a live connection. It reports false
// when the connection is gone or its queue is full.
type Sender interface {
	Send(connID string, frame []byte) bool
}

// JoinAuthorizer decides whether userID may take role in appointmentID's call.
type JoinAuthorizer interface {
	AuthorizeJoin(ctx context.Context, userID, appointmentID string, role model.Role) error
}

var ErrJoinDenied = errors.New("join denied")

// Source identifies the connection a frame arrived on.
type Source struct {
	ConnID string
	UserID string
}

type sessionKey struct {
	appointmentID string
	role          model.Role
}

// Relay routes call setup frames between the two parties of an appointment.
// Payloads are forwarded untouched; the relay only adds the sender's role.
type Relay struct {
	mu       sync.RWMutex
	sessions map[sessionKey]string
	byConn   map[string]map[sessionKey]struct{}

	sender     Sender
	authorizer JoinAuthorizer
	log        *logger.Logger
}

type Option func(*Relay)

// WithJoinAuthorizer makes join_call consult authorizer before recording the
// connection. Without one every join is accepted.
func WithJoinAuthorizer(authorizer JoinAuthorizer) Option {
	return func(r *Relay) {
		r.authorizer = authorizer
	}
}

func NewRelay(sender Sender, log *logger.Logger, opts ...Option) *Relay {
	r := &Relay{
		sessions: make(map[sessionKey]string),
		byConn:   make(map[string]map[sessionKey]struct{}),
		sender:   sender,
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle applies one event from src. Frames that cannot be routed are
// dropped; nothing is reported back to the sender.
func (r *Relay) Handle(ctx context.Context, src Source, ev realtime.Event) {
	switch e := ev.(type) {
	case realtime.JoinCall:
		r.join(ctx, src, e)
	case realtime.DisconnectCall:
		r.leave(src.ConnID, sessionKey{e.AppointmentID, e.Role})
	case realtime.Offer:
		r.forward(src, e.AppointmentID, func(from model.Role) (string, any) {
			e.From = from
			return realtime.TypeOffer, e
		})
	case realtime.Answer:
		r.forward(src, e.AppointmentID, func(from model.Role) (string, any) {
			e.From = from
			return realtime.TypeAnswer, e
		})
	case realtime.IceCandidate:
		r.forward(src, e.AppointmentID, func(from model.Role) (string, any) {
			e.From = from
			return realtime.TypeIceCandidate, e
		})
	case realtime.Disconnect:
		r.drop(src.ConnID)
	default:
		r.log.Warn("unhandled signaling event", "conn_id", src.ConnID, "event", ev)
	}
}

func (r *Relay) join(ctx context.Context, src Source, e realtime.JoinCall) {
	if r.authorizer != nil {
		if err := r.authorizer.AuthorizeJoin(ctx, src.UserID, e.AppointmentID, e.Role); err != nil {
			r.log.Warn("join_call rejected",
				"conn_id", src.ConnID,
				"user_id", src.UserID,
				"appointment_id", e.AppointmentID,
				"role", e.Role,
				"error", err,
			)
			return
		}
	}

	key := sessionKey{e.AppointmentID, e.Role}

	r.mu.Lock()
	defer r.mu.Unlock()

	// One role per connection per appointment.
	if other := (sessionKey{e.AppointmentID, e.Role.Counterpart()}); r.sessions[other] == src.ConnID {
		r.removeLocked(src.ConnID, other)
	}
	if prev, ok := r.sessions[key]; ok && prev != src.ConnID {
		r.removeLocked(prev, key)
	}

	r.sessions[key] = src.ConnID
	keys, ok := r.byConn[src.ConnID]
	if !ok {
		keys = make(map[sessionKey]struct{})
		r.byConn[src.ConnID] = keys
	}
	keys[key] = struct{}{}

	r.log.Debug("joined call", "conn_id", src.ConnID, "appointment_id", e.AppointmentID, "role", e.Role)
}

func (r *Relay) leave(connID string, key sessionKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[key] != connID {
		return
	}
	r.removeLocked(connID, key)
}

func (r *Relay) drop(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.byConn[connID] {
		if r.sessions[key] == connID {
			delete(r.sessions, key)
		}
	}
	delete(r.byConn, connID)
}

func (r *Relay) removeLocked(connID string, key sessionKey) {
	if r.sessions[key] == connID {
		delete(r.sessions, key)
	}
	if keys, ok := r.byConn[connID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// forward resolves the sender's role in appointmentID and hands the frame
// built by build to the counter-party.
func (r *Relay) forward(src Source, appointmentID string, build func(from model.Role) (string, any)) {
	from, target, ok := r.route(src.ConnID, appointmentID)
	if !ok {
		r.log.Debug("signal dropped", "conn_id", src.ConnID, "appointment_id", appointmentID, "from", from)
		return
	}

	frameType, payload := build(from)
	frame, err := realtime.Encode(frameType, payload)
	if err != nil {
		r.log.Error("failed to encode signal", "type", frameType, "appointment_id", appointmentID, "error", err)
		return
	}

	if !r.sender.Send(target, frame) {
		r.log.Warn("signal not delivered",
			"type", frameType,
			"appointment_id", appointmentID,
			"from", from,
			"target_conn_id", target,
		)
	}
}

func (r *Relay) route(connID, appointmentID string) (model.Role, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, role := range []model.Role{model.RoleFarmer, model.RoleExpert} {
		if r.sessions[sessionKey{appointmentID, role}] != connID {
			continue
		}
		target, ok := r.sessions[sessionKey{appointmentID, role.Counterpart()}]
		return role, target, ok
	}
	return "", "", false
}

// Participant returns the connection currently joined as role, if any.
func (r *Relay) Participant(appointmentID string, role model.Role) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.sessions[sessionKey{appointmentID, role}]
	return connID, ok
}

// Sessions reports the number of joined (appointment, role) entries.
func (r *Relay) Sessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
