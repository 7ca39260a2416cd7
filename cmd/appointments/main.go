package main

import (
	"agriconnect/internal/appointments/events"
	"agriconnect/internal/appointments/handler"
	"agriconnect/internal/appointments/repository"
	"agriconnect/internal/appointments/service"
	"agriconnect/internal/appointments/validator"
	"agriconnect/internal/presence"
	"agriconnect/internal/realtime"
	"agriconnect/internal/signaling"
	"agriconnect/pkg/app"
	"agriconnect/pkg/auth"
	"agriconnect/pkg/config"
	"agriconnect/pkg/kafka"
	kafka_config "agriconnect/pkg/kafka/config"
	kafka_middleware "agriconnect/pkg/kafka/middleware"
)

const ServiceName = "appointments"

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	cfg.SetRedis()
	defer cfg.GracefulShutdown()

	cfg.Log.Info("Starting Appointments service")

	verifier := auth.NewVerifier(cfg.JWTSecret)
	registry := presence.NewRegistry()
	hub := realtime.NewHub(realtime.OptionsFromConfig(cfg), verifier, registry, cfg.Log)

	publisher := initPublisher(cfg)
	appointmentService := initServices(cfg, realtime.NewNotifier(hub, cfg.Log), publisher)

	relay := signaling.NewRelay(hub, cfg.Log, signaling.WithJoinAuthorizer(appointmentService))
	hub.SetHandler(relay)

	serverApp := app.NewApplication(cfg)
	serverApp.SetApp(verifier, app.Components{
		Handler:   handler.NewAppointmentHandler(appointmentService, cfg.Log),
		WebSocket: hub,
		Workers: []app.BackgroundWorker{
			service.NewSweeper(appointmentService, cfg.AppointmentPendingTTL, cfg.AppointmentSweepInterval, cfg.Log),
		},
		Events: publisher,
	})
	serverApp.Run()
}

func initServices(cfg *config.Config, notifier service.Notifier, publisher events.Publisher) service.AppointmentService {
	appointmentValidator := validator.NewAppointmentValidator(cfg.Log)
	appointmentRepo := repository.NewMongoAppointmentRepository(cfg)
	appointmentService := service.NewAppointmentService(
		appointmentRepo,
		appointmentValidator,
		notifier,
		publisher,
		cfg,
	)

	cfg.Log.Info("Appointments service initialized", "database", cfg.MongoDatabaseName)
	return appointmentService
}

func initPublisher(cfg *config.Config) events.Publisher {
	if !cfg.EventsEnabled {
		cfg.Log.Info("Appointment events disabled")
		return events.NoopPublisher{}
	}

	kafkaCfg, err := kafka_config.Load()
	if err != nil {
		cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
	}
	kafkaCfg.LogConfiguration(cfg.Log)

	producer, err := kafka.NewProducer(kafkaCfg, cfg.EventsTopic, cfg.EventsDLQ, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to create Kafka producer", "error", err)
	}
	if kafkaCfg.EnableMiddleware {
		producer.Use(kafka_middleware.LoggingProducerMiddleware(cfg.Log))
	}

	cfg.Log.Info("Appointment events enabled", "topic", cfg.EventsTopic, "dlq", cfg.EventsDLQ)
	return events.NewKafkaPublisher(producer, kafkaCfg.PublishTimeout, cfg.Log)
}
