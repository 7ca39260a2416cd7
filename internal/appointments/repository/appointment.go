package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	appointmentserrors "agriconnect/internal/appointments/errors"
	"agriconnect/pkg/config"
	"agriconnect/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName      = "Appointments"
	UsersCollectionName = "users"
)

type AppointmentRepository interface {
	Create(ctx context.Context, appointment *model.Appointment) error
	FindByID(ctx context.Context, id string) (*model.Appointment, error)
	// Transition moves a pending appointment owned by actorID to target in a
	// single conditional write.
	Transition(ctx context.Context, id, actorID string, target model.AppointmentStatus) (*model.Appointment, error)
	ListForUser(ctx context.Context, userID string, role model.Role) ([]*model.AppointmentView, error)
	FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.Appointment, error)
	// Expire declines id if it is still pending and was requested before cutoff.
	Expire(ctx context.Context, id string, cutoff time.Time) (*model.Appointment, error)
	FindUser(ctx context.Context, id string) (*model.User, error)
}

type mongoAppointmentRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
	users      *mongo.Collection
}

func NewMongoAppointmentRepository(cfg *config.Config) AppointmentRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoAppointmentRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
		users:      db.Collection(UsersCollectionName),
	}
}

// withTimeout caps ctx at timeout while keeping a tighter caller deadline.
func (r *mongoAppointmentRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		return context.WithDeadline(ctx, deadline)
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *mongoAppointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	appointment.ID = ""
	appointment.Status = model.StatusPending
	appointment.RequestedAt = now
	appointment.UpdatedAt = now
	appointment.RespondedAt = nil

	result, err := r.collection.InsertOne(ctx, appointment)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		appointment.ID = oid.Hex()
	}
	return nil
}

func (r *mongoAppointmentRepository) FindByID(ctx context.Context, id string) (*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", appointmentserrors.ErrInvalidID, id)
	}

	var appointment model.Appointment
	if err := r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&appointment); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, appointmentserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find appointment: %w", err)
	}

	return &appointment, nil
}

func (r *mongoAppointmentRepository) Transition(ctx context.Context, id, actorID string, target model.AppointmentStatus) (*model.Appointment, error) {
	if !model.StatusPending.CanTransitionTo(target) {
		return nil, fmt.Errorf("%w: target %s", appointmentserrors.ErrInvalidTransition, target)
	}

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", appointmentserrors.ErrInvalidID, id)
	}

	filter := bson.M{
		"_id":       objectID,
		"status":    model.StatusPending,
		"expert_id": actorID,
	}
	updated, err := r.conditionalUpdate(ctx, filter, target)
	if err != nil {
		return nil, err
	}
	if updated != nil {
		return updated, nil
	}

	// No match: find out which guard failed.
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.ExpertID != actorID {
		return nil, appointmentserrors.ErrForbidden
	}
	return current, fmt.Errorf("%w: status is %s", appointmentserrors.ErrInvalidTransition, current.Status)
}

func (r *mongoAppointmentRepository) Expire(ctx context.Context, id string, cutoff time.Time) (*model.Appointment, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", appointmentserrors.ErrInvalidID, id)
	}

	filter := bson.M{
		"_id":          objectID,
		"status":       model.StatusPending,
		"requested_at": bson.M{"$lt": cutoff},
	}
	updated, err := r.conditionalUpdate(ctx, filter, model.StatusDeclined)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, appointmentserrors.ErrInvalidTransition
	}
	return updated, nil
}

// conditionalUpdate applies target to the single document matching filter
// and returns it, or nil when nothing matched.
func (r *mongoAppointmentRepository) conditionalUpdate(ctx context.Context, filter bson.M, target model.AppointmentStatus) (*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	update := bson.M{
		"$set": bson.M{
			"status":       target,
			"updated_at":   now,
			"responded_at": now,
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var appointment model.Appointment
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&appointment)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update appointment status: %w", err)
	}
	return &appointment, nil
}

func (r *mongoAppointmentRepository) ListForUser(ctx context.Context, userID string, role model.Role) ([]*model.AppointmentView, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var ownField, otherField string
	switch role {
	case model.RoleFarmer:
		ownField, otherField = "farmer_id", "expert_id"
	case model.RoleExpert:
		ownField, otherField = "expert_id", "farmer_id"
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{ownField: userID}}},
		{{Key: "$sort", Value: bson.D{{Key: "requested_at", Value: -1}}}},
		{{Key: "$lookup", Value: bson.M{
			"from": UsersCollectionName,
			"let":  bson.M{"other": "$" + otherField},
			"pipeline": mongo.Pipeline{
				{{Key: "$match", Value: bson.M{"$expr": bson.M{
					"$eq": bson.A{"$_id", bson.M{"$convert": bson.M{
						"input":   "$$other",
						"to":      "objectId",
						"onError": "$$other",
						"onNull":  nil,
					}}},
				}}}},
				{{Key: "$project", Value: bson.M{"_id": 1, "name": 1}}},
			},
			"as": "counterparty",
		}}},
		{{Key: "$unwind", Value: bson.M{"path": "$counterparty", "preserveNullAndEmptyArrays": true}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	defer cursor.Close(ctx)

	views := make([]*model.AppointmentView, 0)
	if err := cursor.All(ctx, &views); err != nil {
		return nil, fmt.Errorf("failed to decode appointments: %w", err)
	}
	return views, nil
}

func (r *mongoAppointmentRepository) FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "requested_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{
		"status":       model.StatusPending,
		"requested_at": bson.M{"$lt": cutoff},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale appointments: %w", err)
	}
	defer cursor.Close(ctx)

	var appointments []*model.Appointment
	if err := cursor.All(ctx, &appointments); err != nil {
		return nil, fmt.Errorf("failed to decode stale appointments: %w", err)
	}
	return appointments, nil
}

// FindUser reads a user from the account service's collection. Ids that are
// not ObjectIDs are matched as plain strings.
func (r *mongoAppointmentRepository) FindUser(ctx context.Context, id string) (*model.User, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var key any = id
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		key = oid
	}

	var user model.User
	if err := r.users.FindOne(ctx, bson.M{"_id": key}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, appointmentserrors.ErrExpertNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}
