package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	appointmentserrors "agriconnect/internal/appointments/errors"
	"agriconnect/internal/appointments/events"
	"agriconnect/internal/appointments/repository"
	"agriconnect/internal/appointments/validator"
	"agriconnect/pkg/config"
	apperrors "agriconnect/pkg/errors"
	"agriconnect/pkg/model"
	"agriconnect/pkg/sanitizer"
)

// Notifier pushes appointment changes to the affected user when online.
// Implementations must not block.
type Notifier interface {
	AppointmentRequested(expertID, appointmentID, farmerID string)
	AppointmentResponded(farmerID, appointmentID string, status model.AppointmentStatus)
}

type AppointmentService interface {
	RequestAppointment(ctx context.Context, farmerID string, req *model.AppointmentRequest) (*model.Appointment, error)
	RespondToAppointment(ctx context.Context, expertID, appointmentID string, decision model.AppointmentStatus) (*model.Appointment, error)
	ListForExpert(ctx context.Context, expertID string) ([]*model.AppointmentView, error)
	ListForFarmer(ctx context.Context, farmerID string) ([]*model.AppointmentView, error)
	ExpireStale(ctx context.Context, ttl time.Duration) (int, error)
	AuthorizeJoin(ctx context.Context, userID, appointmentID string, role model.Role) error
}

const expireBatchSize = 100

type noopNotifier struct{}

func (noopNotifier) AppointmentRequested(string, string, string) {}

func (noopNotifier) AppointmentResponded(string, string, model.AppointmentStatus) {}

type appointmentService struct {
	repo      repository.AppointmentRepository
	validator *validator.AppointmentValidator
	notifier  Notifier
	publisher events.Publisher
	cfg       *config.Config
}

func NewAppointmentService(
	repo repository.AppointmentRepository,
	validator *validator.AppointmentValidator,
	notifier Notifier,
	publisher events.Publisher,
	cfg *config.Config,
) AppointmentService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &appointmentService{
		repo:      repo,
		validator: validator,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
	}
}

func (s *appointmentService) RequestAppointment(ctx context.Context, farmerID string, req *model.AppointmentRequest) (*model.Appointment, error) {
	if req == nil {
		return nil, apperrors.InvalidInput("Request body is required")
	}
	req.ExpertID = sanitizer.NormalizeID(req.ExpertID)
	if err := s.validator.ValidateRequest(req); err != nil {
		return nil, s.validationError(err)
	}

	appointment := &model.Appointment{
		FarmerID: sanitizer.NormalizeID(farmerID),
		ExpertID: req.ExpertID,
		Status:   model.StatusPending,
	}
	if err := s.validator.ValidateAppointment(appointment); err != nil {
		return nil, s.validationError(err)
	}

	expert, err := s.repo.FindUser(ctx, appointment.ExpertID)
	if err != nil {
		if errors.Is(err, appointmentserrors.ErrExpertNotFound) {
			return nil, apperrors.NotFoundWithID("Expert", appointment.ExpertID)
		}
		s.cfg.Log.Error("Failed to look up expert", "expert_id", appointment.ExpertID, "error", err)
		return nil, apperrors.Internal("Failed to create appointment", err)
	}
	if expert.Role != model.RoleExpert {
		return nil, apperrors.Validation("Requested user is not an expert", map[string]any{
			"expertId": appointment.ExpertID,
		})
	}

	if err := s.repo.Create(ctx, appointment); err != nil {
		s.cfg.Log.Error("Failed to create appointment", "farmer_id", appointment.FarmerID, "expert_id", appointment.ExpertID, "error", err)
		return nil, apperrors.Internal("Failed to create appointment", err)
	}

	s.cfg.Log.Info("Appointment requested",
		"id", appointment.ID,
		"farmer_id", appointment.FarmerID,
		"expert_id", appointment.ExpertID,
	)

	s.notifier.AppointmentRequested(appointment.ExpertID, appointment.ID, appointment.FarmerID)
	s.publisher.Publish(ctx, events.EventRequested, appointment)

	return appointment, nil
}

func (s *appointmentService) RespondToAppointment(ctx context.Context, expertID, appointmentID string, decision model.AppointmentStatus) (*model.Appointment, error) {
	if appointmentID == "" {
		return nil, apperrors.InvalidInput("Appointment ID cannot be empty")
	}
	if !decision.IsTerminal() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unsupported decision %q", decision))
	}

	appointment, err := s.repo.Transition(ctx, sanitizer.NormalizeID(appointmentID), sanitizer.NormalizeID(expertID), decision)
	if err != nil {
		switch {
		case errors.Is(err, appointmentserrors.ErrInvalidID):
			return nil, apperrors.InvalidInput("Invalid appointment ID format")
		case errors.Is(err, appointmentserrors.ErrNotFound):
			return nil, apperrors.NotFoundWithID("Appointment", appointmentID)
		case errors.Is(err, appointmentserrors.ErrForbidden):
			s.cfg.Log.Warn("Appointment response by non-owner rejected", "id", appointmentID, "actor_id", expertID)
			return nil, apperrors.Forbidden("Only the requested expert can respond to this appointment")
		case errors.Is(err, appointmentserrors.ErrInvalidTransition):
			current := "unknown"
			if appointment != nil {
				current = string(appointment.Status)
			}
			return nil, apperrors.InvalidTransition(current, string(decision))
		}
		s.cfg.Log.Error("Failed to update appointment", "id", appointmentID, "decision", decision, "error", err)
		return nil, apperrors.Internal("Failed to update appointment", err)
	}

	s.cfg.Log.Info("Appointment answered",
		"id", appointment.ID,
		"status", appointment.Status,
		"expert_id", appointment.ExpertID,
	)

	s.notifier.AppointmentResponded(appointment.FarmerID, appointment.ID, appointment.Status)
	s.publisher.Publish(ctx, events.EventForStatus(appointment.Status), appointment)

	return appointment, nil
}

func (s *appointmentService) ListForExpert(ctx context.Context, expertID string) ([]*model.AppointmentView, error) {
	return s.list(ctx, expertID, model.RoleExpert)
}

func (s *appointmentService) ListForFarmer(ctx context.Context, farmerID string) ([]*model.AppointmentView, error) {
	return s.list(ctx, farmerID, model.RoleFarmer)
}

func (s *appointmentService) list(ctx context.Context, userID string, role model.Role) ([]*model.AppointmentView, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("User ID cannot be empty")
	}

	views, err := s.repo.ListForUser(ctx, sanitizer.NormalizeID(userID), role)
	if err != nil {
		s.cfg.Log.Error("Failed to list appointments", "user_id", userID, "role", role, "error", err)
		return nil, apperrors.Internal("Failed to retrieve appointments", err)
	}
	for _, v := range views {
		if v.Counterparty != nil {
			v.Counterparty.Name = sanitizer.NormalizeName(v.Counterparty.Name)
		}
	}
	return views, nil
}

// ExpireStale declines pending appointments requested more than ttl ago.
// Each expiry goes through the same conditional write as an expert's
// decline, so an expert answering concurrently wins or loses cleanly.
func (s *appointmentService) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-ttl)

	stale, err := s.repo.FindPendingBefore(ctx, cutoff, expireBatchSize)
	if err != nil {
		return 0, apperrors.Internal("Failed to find stale appointments", err)
	}

	expired := 0
	for _, candidate := range stale {
		appointment, err := s.repo.Expire(ctx, candidate.ID, cutoff)
		if err != nil {
			if errors.Is(err, appointmentserrors.ErrInvalidTransition) {
				continue
			}
			s.cfg.Log.Error("Failed to expire appointment", "id", candidate.ID, "error", err)
			continue
		}
		expired++

		s.cfg.Log.Info("Appointment expired", "id", appointment.ID, "requested_at", appointment.RequestedAt)
		s.notifier.AppointmentResponded(appointment.FarmerID, appointment.ID, appointment.Status)
		s.publisher.Publish(ctx, events.EventExpired, appointment)
	}
	return expired, nil
}

// AuthorizeJoin admits userID to the call of an accepted appointment under
// the role it holds on that appointment.
func (s *appointmentService) AuthorizeJoin(ctx context.Context, userID, appointmentID string, role model.Role) error {
	appointment, err := s.repo.FindByID(ctx, sanitizer.NormalizeID(appointmentID))
	if err != nil {
		if errors.Is(err, appointmentserrors.ErrNotFound) || errors.Is(err, appointmentserrors.ErrInvalidID) {
			return apperrors.NotFoundWithID("Appointment", appointmentID)
		}
		return apperrors.Internal("Failed to authorize call", err)
	}
	if appointment.Status != model.StatusAccepted {
		return apperrors.Forbidden(fmt.Sprintf("appointment is %s, not accepted", appointment.Status))
	}
	if appointment.PartyFor(role) != sanitizer.NormalizeID(userID) {
		return apperrors.Forbidden("user is not the " + string(role) + " of this appointment")
	}
	return nil
}

func (s *appointmentService) validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return apperrors.Validation("Invalid appointment request", verrs.Details())
	}
	return apperrors.Internal("Failed to validate appointment", err)
}
