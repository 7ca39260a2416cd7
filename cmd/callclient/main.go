package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"agriconnect/internal/callclient"
	"agriconnect/pkg/client"
	"agriconnect/pkg/logger"
	"agriconnect/pkg/model"
)

type options struct {
	server             string
	token              string
	appointmentID      string
	role               string
	iceServers         []string
	negotiationTimeout time.Duration
	offerRetry         time.Duration
	logLevel           string
}

func parseFlags() options {
	var opts options
	pflag.StringVar(&opts.server, "server", "http://localhost:8080", "appointments service base URL")
	pflag.StringVar(&opts.token, "token", os.Getenv("AGRICONNECT_TOKEN"), "bearer token (defaults to $AGRICONNECT_TOKEN)")
	pflag.StringVar(&opts.appointmentID, "appointment", "", "accepted appointment to join")
	pflag.StringVar(&opts.role, "role", "", "call role: farmer or expert")
	pflag.StringSliceVar(&opts.iceServers, "ice-server", nil, "STUN/TURN URL (repeatable)")
	pflag.DurationVar(&opts.negotiationTimeout, "negotiation-timeout", callclient.DefaultNegotiationTimeout, "give up when no connection is up by then")
	pflag.DurationVar(&opts.offerRetry, "offer-retry", callclient.DefaultOfferRetryInterval, "how often the farmer re-sends an unanswered offer")
	pflag.StringVar(&opts.logLevel, "log-level", logger.INFO, "debug, info, warn or error")
	pflag.Parse()
	return opts
}

func main() {
	opts := parseFlags()
	log := logger.New(logger.Config{
		Level:   opts.logLevel,
		Format:  logger.TEXT,
		Service: "callclient",
	})

	role := model.Role(opts.role)
	if opts.appointmentID == "" || !role.Valid() || opts.token == "" {
		pflag.Usage()
		log.Fatal("--appointment, --token and --role (farmer|expert) are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewAPIClient(opts.server, opts.token)
	if err := api.WaitForHealthy(ctx, 10*time.Second); err != nil {
		log.Fatal("Service unavailable", "server", opts.server, "error", err)
	}

	appointment, err := api.FindAppointment(ctx, role, opts.appointmentID)
	if err != nil {
		log.Fatal("Failed to load appointment", "appointment_id", opts.appointmentID, "error", err)
	}
	if appointment.Status != model.StatusAccepted {
		log.Fatal("Appointment is not accepted", "appointment_id", opts.appointmentID, "status", appointment.Status)
	}

	wsURL, err := callclient.WebSocketURL(opts.server)
	if err != nil {
		log.Fatal("Invalid server URL", "error", err)
	}
	signaler, err := callclient.DialSignaler(ctx, wsURL, opts.token, log)
	if err != nil {
		log.Fatal("Failed to connect realtime channel", "error", err)
	}
	defer signaler.Close()

	call, err := callclient.New(
		callclient.Config{
			AppointmentID:      opts.appointmentID,
			Role:               role,
			NegotiationTimeout: opts.negotiationTimeout,
			OfferRetryInterval: opts.offerRetry,
		},
		signaler,
		callclient.SilentSource{},
		&callclient.PionPeers{ICEServers: opts.iceServers, Log: log},
		log,
	)
	if err != nil {
		log.Fatal("Invalid call configuration", "error", err)
	}

	log.Info("Joining call", "appointment_id", opts.appointmentID, "role", role)
	if err := call.Run(ctx); err != nil {
		if errors.Is(err, callclient.ErrNegotiationTimeout) {
			log.Warn("Peer never connected", "timeout", opts.negotiationTimeout)
		}
		_ = signaler.Close()
		log.Fatal("Call ended with error", "error", err)
	}
	log.Info("Call ended")
}
