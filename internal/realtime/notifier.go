package realtime

import (
	"agriconnect/pkg/logger"
	"agriconnect/pkg/model"
	"agriconnect/pkg/realtime"
)

// UserSender reaches a user's live connection.
type UserSender interface {
	SendToUser(userID string, frame []byte) bool
}

// Notifier pushes appointment notifications to online users. Offline users
// miss the push and see the change on their next list fetch.
type Notifier struct {
	sender UserSender
	log    *logger.Logger
}

func NewNotifier(sender UserSender, log *logger.Logger) *Notifier {
	return &Notifier{sender: sender, log: log}
}

func (n *Notifier) AppointmentRequested(expertID, appointmentID, farmerID string) {
	n.push(expertID, realtime.TypeAppointmentRequested, realtime.AppointmentRequested{
		AppointmentID: appointmentID,
		FarmerID:      farmerID,
	})
}

func (n *Notifier) AppointmentResponded(farmerID, appointmentID string, status model.AppointmentStatus) {
	frameType := realtime.TypeAppointmentDeclined
	if status == model.StatusAccepted {
		frameType = realtime.TypeAppointmentAccepted
	}
	n.push(farmerID, frameType, realtime.AppointmentUpdate{AppointmentID: appointmentID})
}

func (n *Notifier) push(userID, frameType string, payload any) {
	frame, err := realtime.Encode(frameType, payload)
	if err != nil {
		n.log.Error("failed to encode notification", "type", frameType, "user_id", userID, "error", err)
		return
	}
	if !n.sender.SendToUser(userID, frame) {
		n.log.Info("notification not delivered, user offline or busy", "type", frameType, "user_id", userID)
		return
	}
	n.log.Debug("notification delivered", "type", frameType, "user_id", userID)
}
