package errors

import "errors"

var (
	ErrNotFound = errors.New("appointment not found")

	ErrInvalidID = errors.New("invalid appointment ID format")

	// ErrForbidden means the actor is not the expert named on the appointment.
	ErrForbidden = errors.New("actor is not the appointment's expert")

	// ErrInvalidTransition means the appointment already left pending.
	ErrInvalidTransition = errors.New("appointment is no longer pending")

	ErrExpertNotFound = errors.New("expert not found")
)
