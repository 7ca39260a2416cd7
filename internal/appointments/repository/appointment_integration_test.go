//go:build integration

package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	appointmentserrors "agriconnect/internal/appointments/errors"
	"agriconnect/internal/appointments/repository"
	mongoMigration "agriconnect/internal/migrations/mongo"
	"agriconnect/pkg/client"
	"agriconnect/pkg/config"
	"agriconnect/pkg/logger"
	"agriconnect/pkg/model"
)

// Run with: MONGO_URI=mongodb://localhost:27017 go test -tags integration ./internal/appointments/repository/

func setupRepository(t *testing.T) (repository.AppointmentRepository, *mongo.Database) {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("failed to connect to MongoDB: %v", err)
	}
	if err := mongoClient.Ping(ctx, nil); err != nil {
		t.Fatalf("failed to ping MongoDB: %v", err)
	}

	dbName := fmt.Sprintf("agriconnect_test_%d", time.Now().UnixNano())
	db := mongoClient.Database(dbName)
	if err := mongoMigration.RunMigration(ctx, db, logger.Discard()); err != nil {
		t.Fatalf("RunMigration() error = %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = mongoClient.Disconnect(ctx)
	})

	cfg := &config.Config{
		MongoDatabaseName: dbName,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		Client:            &client.Client{Mongo: mongoClient},
	}
	return repository.NewMongoAppointmentRepository(cfg), db
}

func seedUser(t *testing.T, db *mongo.Database, name string, role model.Role) string {
	t.Helper()
	id := primitive.NewObjectID()
	_, err := db.Collection(repository.UsersCollectionName).InsertOne(context.Background(), bson.M{
		"_id":  id,
		"name": name,
		"role": role,
	})
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return id.Hex()
}

func TestMongoRepository_CreateAndFind(t *testing.T) {
	repo, db := setupRepository(t)
	ctx := context.Background()
	farmer := seedUser(t, db, "Asha", model.RoleFarmer)
	expert := seedUser(t, db, "Dr. Okoro", model.RoleExpert)

	appointment := &model.Appointment{FarmerID: farmer, ExpertID: expert}
	if err := repo.Create(ctx, appointment); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if appointment.ID == "" || appointment.Status != model.StatusPending {
		t.Fatalf("Create() left appointment = %+v", appointment)
	}

	found, err := repo.FindByID(ctx, appointment.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if found.FarmerID != farmer || found.ExpertID != expert {
		t.Errorf("FindByID() = %+v", found)
	}

	if _, err := repo.FindByID(ctx, primitive.NewObjectID().Hex()); !errors.Is(err, appointmentserrors.ErrNotFound) {
		t.Errorf("FindByID(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := repo.FindByID(ctx, "not-an-id"); !errors.Is(err, appointmentserrors.ErrInvalidID) {
		t.Errorf("FindByID(bad id) error = %v, want ErrInvalidID", err)
	}

	user, err := repo.FindUser(ctx, expert)
	if err != nil || user.Name != "Dr. Okoro" {
		t.Errorf("FindUser() = %+v, %v", user, err)
	}
	if _, err := repo.FindUser(ctx, primitive.NewObjectID().Hex()); !errors.Is(err, appointmentserrors.ErrExpertNotFound) {
		t.Errorf("FindUser(missing) error = %v", err)
	}
}

func TestMongoRepository_TransitionIsSingleWinner(t *testing.T) {
	repo, db := setupRepository(t)
	ctx := context.Background()
	farmer := seedUser(t, db, "Asha", model.RoleFarmer)
	expert := seedUser(t, db, "Dr. Okoro", model.RoleExpert)

	appointment := &model.Appointment{FarmerID: farmer, ExpertID: expert}
	if err := repo.Create(ctx, appointment); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	targets := []model.AppointmentStatus{model.StatusAccepted, model.StatusDeclined}
	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = repo.Transition(ctx, appointment.ID, expert, targets[i%2])
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, appointmentserrors.ErrInvalidTransition):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("%d transitions succeeded, want exactly 1", winners)
	}

	found, _ := repo.FindByID(ctx, appointment.ID)
	if !found.Status.IsTerminal() || found.RespondedAt == nil {
		t.Errorf("final appointment = %+v", found)
	}
}

func TestMongoRepository_TransitionByOtherExpertIsForbidden(t *testing.T) {
	repo, db := setupRepository(t)
	ctx := context.Background()
	farmer := seedUser(t, db, "Asha", model.RoleFarmer)
	expert := seedUser(t, db, "Dr. Okoro", model.RoleExpert)
	intruder := seedUser(t, db, "Someone", model.RoleExpert)

	appointment := &model.Appointment{FarmerID: farmer, ExpertID: expert}
	if err := repo.Create(ctx, appointment); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := repo.Transition(ctx, appointment.ID, intruder, model.StatusAccepted); !errors.Is(err, appointmentserrors.ErrForbidden) {
		t.Errorf("Transition() error = %v, want ErrForbidden", err)
	}
}

func TestMongoRepository_ListForUserJoinsCounterparty(t *testing.T) {
	repo, db := setupRepository(t)
	ctx := context.Background()
	farmer := seedUser(t, db, "Asha", model.RoleFarmer)
	expert := seedUser(t, db, "Dr. Okoro", model.RoleExpert)

	first := &model.Appointment{FarmerID: farmer, ExpertID: expert}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second := &model.Appointment{FarmerID: farmer, ExpertID: expert}
	if err := repo.Create(ctx, second); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	views, err := repo.ListForUser(ctx, expert, model.RoleExpert)
	if err != nil {
		t.Fatalf("ListForUser() error = %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d views, want 2", len(views))
	}
	if views[0].ID != second.ID {
		t.Errorf("newest appointment not first")
	}
	if views[0].Counterparty == nil || views[0].Counterparty.Name != "Asha" {
		t.Errorf("counterparty = %+v, want Asha", views[0].Counterparty)
	}

	empty, err := repo.ListForUser(ctx, primitive.NewObjectID().Hex(), model.RoleFarmer)
	if err != nil || len(empty) != 0 {
		t.Errorf("ListForUser(nobody) = %v, %v", empty, err)
	}
}

func TestMongoRepository_ExpireOnlyStalePending(t *testing.T) {
	repo, db := setupRepository(t)
	ctx := context.Background()
	farmer := seedUser(t, db, "Asha", model.RoleFarmer)
	expert := seedUser(t, db, "Dr. Okoro", model.RoleExpert)

	appointment := &model.Appointment{FarmerID: farmer, ExpertID: expert}
	if err := repo.Create(ctx, appointment); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	past := appointment.RequestedAt.Add(-time.Minute)
	if stale, err := repo.FindPendingBefore(ctx, past, 10); err != nil || len(stale) != 0 {
		t.Fatalf("FindPendingBefore(past) = %v, %v", stale, err)
	}
	if _, err := repo.Expire(ctx, appointment.ID, past); !errors.Is(err, appointmentserrors.ErrInvalidTransition) {
		t.Errorf("Expire(fresh) error = %v, want ErrInvalidTransition", err)
	}

	future := time.Now().Add(time.Minute)
	stale, err := repo.FindPendingBefore(ctx, future, 10)
	if err != nil || len(stale) != 1 {
		t.Fatalf("FindPendingBefore(future) = %v, %v", stale, err)
	}
	expired, err := repo.Expire(ctx, appointment.ID, future)
	if err != nil {
		t.Fatalf("Expire() error = %v", err)
	}
	if expired.Status != model.StatusDeclined {
		t.Errorf("status = %s, want declined", expired.Status)
	}
}
