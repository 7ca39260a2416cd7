package realtime

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown frame type")
)

// Encode wraps payload in an envelope of the given type.
func Encode(frameType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", frameType, err)
	}
	return json.Marshal(Envelope{Type: frameType, Data: data})
}

// DecodeEnvelope parses the outer frame without interpreting the payload.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return env, nil
}

// Decode parses a client frame into its typed event. Server-only types and
// unknown types yield ErrUnknownType; missing fields yield ErrMalformedFrame.
func Decode(frame []byte) (Event, error) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeJoinCall:
		var e JoinCall
		if err := unmarshalData(env, &e); err != nil {
			return nil, err
		}
		if e.AppointmentID == "" || !e.Role.Valid() {
			return nil, fmt.Errorf("%w: join_call needs appointmentId and a valid role", ErrMalformedFrame)
		}
		return e, nil

	case TypeDisconnectCall:
		var e DisconnectCall
		if err := unmarshalData(env, &e); err != nil {
			return nil, err
		}
		if e.AppointmentID == "" || !e.Role.Valid() {
			return nil, fmt.Errorf("%w: disconnect_call needs appointmentId and a valid role", ErrMalformedFrame)
		}
		return e, nil

	case TypeOffer:
		var e Offer
		if err := unmarshalData(env, &e); err != nil {
			return nil, err
		}
		if e.AppointmentID == "" || isEmptyJSON(e.SDP) {
			return nil, fmt.Errorf("%w: offer needs appointmentId and sdp", ErrMalformedFrame)
		}
		e.From = ""
		return e, nil

	case TypeAnswer:
		var e Answer
		if err := unmarshalData(env, &e); err != nil {
			return nil, err
		}
		if e.AppointmentID == "" || isEmptyJSON(e.SDP) {
			return nil, fmt.Errorf("%w: answer needs appointmentId and sdp", ErrMalformedFrame)
		}
		e.From = ""
		return e, nil

	case TypeIceCandidate:
		var e IceCandidate
		if err := unmarshalData(env, &e); err != nil {
			return nil, err
		}
		if e.AppointmentID == "" || isEmptyJSON(e.Candidate) {
			return nil, fmt.Errorf("%w: ice_candidate needs appointmentId and candidate", ErrMalformedFrame)
		}
		e.From = ""
		return e, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

func unmarshalData(env Envelope, v any) error {
	if isEmptyJSON(env.Data) {
		return fmt.Errorf("%w: %s without data", ErrMalformedFrame, env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedFrame, env.Type, err)
	}
	return nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
