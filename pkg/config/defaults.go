package config

import "time"

const (
	DefaultMongoURI          = "mongodb://localhost:27017"
	DefaultMongoDatabaseName = "agriconnect"
	DefaultMongoConnTimeout  = 10 * time.Second

	DefaultPort     = "8080"
	DefaultLogLevel = "info"

	DefaultCORSAllowedOrigins = "http://localhost:5173"

	DefaultRateLimitRequests = 30
	DefaultRateLimitWindow   = 1 * time.Minute

	DefaultRequestTimeout = 30 * time.Second
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultMaxRequestSize = 64 * 1024 // 64KB

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultWSSendBuffer     = 64
	DefaultWSMaxMessageSize = 64 * 1024 // SDP blobs stay well below this
	DefaultWSPongWait       = 60 * time.Second
	DefaultWSWriteTimeout   = 10 * time.Second

	DefaultSignalRateLimit = 50
	DefaultSignalBurst     = 100

	DefaultAppointmentPendingTTL    = 0 // disabled
	DefaultAppointmentSweepInterval = 5 * time.Minute

	DefaultEventsEnabled = false
	DefaultEventsTopic   = "appointments.events"
	DefaultEventsDLQ     = "dlq-appointments"
)
