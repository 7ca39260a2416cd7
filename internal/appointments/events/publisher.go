package events

import (
	"context"
	"sync"
	"time"

	"agriconnect/pkg/kafka"
	"agriconnect/pkg/logger"
	"agriconnect/pkg/middleware"
	"agriconnect/pkg/model"
)

const (
	EventRequested = "appointment.requested"
	EventAccepted  = "appointment.accepted"
	EventDeclined  = "appointment.declined"
	EventExpired   = "appointment.expired"

	SchemaVersion = "1"
	Source        = "appointments"
)

// AppointmentEvent is the value of every record on the appointments topic.
type AppointmentEvent struct {
	Type          string                  `json:"type"`
	AppointmentID string                  `json:"appointmentId"`
	FarmerID      string                  `json:"farmerId"`
	ExpertID      string                  `json:"expertId"`
	Status        model.AppointmentStatus `json:"status"`
	RequestedAt   time.Time               `json:"requestedAt"`
	RespondedAt   *time.Time              `json:"respondedAt,omitempty"`
	OccurredAt    time.Time               `json:"occurredAt"`
}

// Publisher emits appointment lifecycle events. Publish never blocks the
// caller and never fails it.
type Publisher interface {
	Publish(ctx context.Context, eventType string, appointment *model.Appointment)
	Close() error
}

// MessagePublisher is the part of kafka.Producer the publisher uses.
type MessagePublisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	producer MessagePublisher
	timeout  time.Duration
	log      *logger.Logger
	wg       sync.WaitGroup
}

func NewKafkaPublisher(producer MessagePublisher, timeout time.Duration, log *logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		timeout:  timeout,
		log:      log,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, appointment *model.Appointment) {
	event := AppointmentEvent{
		Type:          eventType,
		AppointmentID: appointment.ID,
		FarmerID:      appointment.FarmerID,
		ExpertID:      appointment.ExpertID,
		Status:        appointment.Status,
		RequestedAt:   appointment.RequestedAt,
		RespondedAt:   appointment.RespondedAt,
		OccurredAt:    time.Now().UTC(),
	}
	msg := kafka.NewMessage().
		WithKey(appointment.ID).
		WithValue(event).
		WithEventType(eventType).
		WithSchemaVersion(SchemaVersion).
		WithSource(Source).
		WithCorrelationID(middleware.RequestIDFrom(ctx)).
		Build()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		pubCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.producer.Publish(pubCtx, msg); err != nil {
			p.log.Error("Failed to publish appointment event",
				"event_type", eventType,
				"appointment_id", appointment.ID,
				"event_id", msg.GetEventID(),
				"error", err,
			)
		}
	}()
}

// Close waits for in-flight publishes and closes the producer.
func (p *KafkaPublisher) Close() error {
	p.wg.Wait()
	return p.producer.Close()
}

// NoopPublisher is used when EVENTS_ENABLED is false.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, *model.Appointment) {}

func (NoopPublisher) Close() error { return nil }

// EventForStatus maps a response decision to its event type.
func EventForStatus(status model.AppointmentStatus) string {
	if status == model.StatusAccepted {
		return EventAccepted
	}
	return EventDeclined
}
