package service

import (
	"context"
	"sync"
	"time"

	"agriconnect/pkg/logger"
)

// Sweeper periodically declines appointments left pending longer than ttl.
type Sweeper struct {
	svc      AppointmentService
	ttl      time.Duration
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}
}

func NewSweeper(svc AppointmentService, ttl, interval time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		svc:      svc,
		ttl:      ttl,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop in the background. A zero ttl disables it.
func (s *Sweeper) Start() {
	if s.ttl <= 0 {
		s.log.Info("Pending appointment expiry disabled")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	s.log.Info("Pending appointment expiry enabled", "ttl", s.ttl, "interval", s.interval)
	go s.run()
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	n, err := s.svc.ExpireStale(ctx, s.ttl)
	if err != nil {
		s.log.Error("Appointment sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("Expired stale appointments", "count", n)
	}
}

// Stop ends the loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	close(s.stopCh)
	s.mu.Unlock()

	if started {
		<-s.done
	}
}
