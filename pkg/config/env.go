package config

const (
	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"

	EnvRedisURL = "REDIS_URL"

	EnvPort     = "PORT"
	EnvLogLevel = "LOG_LEVEL"

	EnvJWTSecret          = "JWT_SECRET"
	EnvCORSAllowedOrigins = "CORS_ALLOWED_ORIGINS"

	EnvRateLimitRequests = "RATE_LIMIT_REQUESTS"
	EnvRateLimitWindow   = "RATE_LIMIT_WINDOW"

	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvIdempotencyTTL = "IDEMPOTENCY_TTL"
	EnvMaxRequestSize = "MAX_REQUEST_SIZE"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"

	EnvWSSendBuffer     = "WS_SEND_BUFFER"
	EnvWSMaxMessageSize = "WS_MAX_MESSAGE_SIZE"
	EnvWSPongWait       = "WS_PONG_WAIT"
	EnvWSWriteTimeout   = "WS_WRITE_TIMEOUT"

	EnvSignalRateLimit = "SIGNAL_RATE_LIMIT"
	EnvSignalBurst     = "SIGNAL_BURST"

	EnvAppointmentPendingTTL    = "APPOINTMENT_PENDING_TTL"
	EnvAppointmentSweepInterval = "APPOINTMENT_SWEEP_INTERVAL"

	EnvEventsEnabled = "EVENTS_ENABLED"
	EnvEventsTopic   = "EVENTS_TOPIC"
	EnvEventsDLQ     = "EVENTS_DLQ_TOPIC"
)
