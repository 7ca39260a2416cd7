package model

import "time"

type AppointmentStatus string

const (
	StatusPending  AppointmentStatus = "pending"
	StatusAccepted AppointmentStatus = "accepted"
	StatusDeclined AppointmentStatus = "declined"
)

func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusAccepted || s == StatusDeclined
}

// CanTransitionTo reports whether s may move to target.
// The only legal moves are pending -> accepted and pending -> declined.
func (s AppointmentStatus) CanTransitionTo(target AppointmentStatus) bool {
	return s == StatusPending && target.IsTerminal()
}

type Appointment struct {
	ID          string            `json:"id,omitempty" bson:"_id,omitempty" validate:"omitempty,mongodb"`
	FarmerID    string            `json:"farmerId" bson:"farmer_id" validate:"required,mongodb,nefield=ExpertID"`
	ExpertID    string            `json:"expertId" bson:"expert_id" validate:"required,mongodb"`
	Status      AppointmentStatus `json:"status" bson:"status" validate:"required,appointment_status"`
	RequestedAt time.Time         `json:"requestedAt" bson:"requested_at"`
	UpdatedAt   time.Time         `json:"updatedAt" bson:"updated_at"`
	RespondedAt *time.Time        `json:"respondedAt,omitempty" bson:"responded_at,omitempty"`
}

// PartyFor returns the participant id holding role on this appointment.
func (a *Appointment) PartyFor(role Role) string {
	switch role {
	case RoleFarmer:
		return a.FarmerID
	case RoleExpert:
		return a.ExpertID
	default:
		return ""
	}
}

type Counterparty struct {
	ID   string `json:"id" bson:"_id"`
	Name string `json:"name" bson:"name"`
}

// AppointmentView is an appointment joined with the other participant's display name.
type AppointmentView struct {
	Appointment  `bson:",inline"`
	Counterparty *Counterparty `json:"counterparty,omitempty" bson:"counterparty,omitempty"`
}

type AppointmentRequest struct {
	ExpertID string `json:"expertId" validate:"required,mongodb"`
}
