package realtime

import (
	"github.com/goccy/go-json"

	"agriconnect/pkg/model"
)

// Frame types. Server-originated notifications first, then the signaling
// frames that flow in both directions.
const (
	TypeAppointmentRequested = "appointment_requested"
	TypeAppointmentAccepted  = "appointment_accepted"
	TypeAppointmentDeclined  = "appointment_declined"

	TypeJoinCall       = "join_call"
	TypeDisconnectCall = "disconnect_call"
	TypeOffer          = "offer"
	TypeAnswer         = "answer"
	TypeIceCandidate   = "ice_candidate"
)

// Envelope is the frame shape on the wire: {"type": "...", "data": {...}}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type AppointmentRequested struct {
	AppointmentID string `json:"appointmentId"`
	FarmerID      string `json:"farmerId"`
}

// AppointmentUpdate is the payload of appointment_accepted and appointment_declined.
type AppointmentUpdate struct {
	AppointmentID string `json:"appointmentId"`
}

// Event is an inbound frame after decoding, or the synthetic Disconnect the
// hub emits when a connection goes away.
type Event interface {
	event()
}

type JoinCall struct {
	AppointmentID string     `json:"appointmentId"`
	Role          model.Role `json:"role"`
}

type DisconnectCall struct {
	AppointmentID string     `json:"appointmentId"`
	Role          model.Role `json:"role"`
}

// Offer carries an opaque session description. The relay re-encodes it, so
// the peer receives equal JSON, not necessarily the same bytes.
type Offer struct {
	AppointmentID string          `json:"appointmentId"`
	SDP           json.RawMessage `json:"sdp"`
	From          model.Role      `json:"from,omitempty"`
}

type Answer struct {
	AppointmentID string          `json:"appointmentId"`
	SDP           json.RawMessage `json:"sdp"`
	From          model.Role      `json:"from,omitempty"`
}

type IceCandidate struct {
	AppointmentID string          `json:"appointmentId"`
	Candidate     json.RawMessage `json:"candidate"`
	From          model.Role      `json:"from,omitempty"`
}

// Disconnect is never on the wire. The hub hands it to the relay when a
// connection closes.
type Disconnect struct{}

func (JoinCall) event()       {}
func (DisconnectCall) event() {}
func (Offer) event()          {}
func (Answer) event()         {}
func (IceCandidate) event()   {}
func (Disconnect) event()     {}
