package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"agriconnect/pkg/logger"
	"agriconnect/pkg/model"
)

type mockService struct {
	AppointmentService
	expireCalls atomic.Int32
	ttl         atomic.Int64
}

func (m *mockService) ExpireStale(_ context.Context, ttl time.Duration) (int, error) {
	m.expireCalls.Add(1)
	m.ttl.Store(int64(ttl))
	return 0, nil
}

func (m *mockService) AuthorizeJoin(context.Context, string, string, model.Role) error {
	return nil
}

func TestSweeper_Runs(t *testing.T) {
	svc := &mockService{}
	s := NewSweeper(svc, time.Minute, 5*time.Millisecond, logger.Discard())
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for svc.expireCalls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	s.Stop()

	if svc.expireCalls.Load() < 2 {
		t.Fatalf("ExpireStale called %d times, want at least 2", svc.expireCalls.Load())
	}
	if time.Duration(svc.ttl.Load()) != time.Minute {
		t.Errorf("ttl = %s, want 1m", time.Duration(svc.ttl.Load()))
	}

	calls := svc.expireCalls.Load()
	time.Sleep(20 * time.Millisecond)
	if svc.expireCalls.Load() != calls {
		t.Errorf("sweeper kept running after Stop")
	}
}

func TestSweeper_DisabledByZeroTTL(t *testing.T) {
	svc := &mockService{}
	s := NewSweeper(svc, 0, time.Millisecond, logger.Discard())
	s.Start()
	time.Sleep(10 * time.Millisecond)
	s.Stop()

	if svc.expireCalls.Load() != 0 {
		t.Errorf("disabled sweeper called ExpireStale %d times", svc.expireCalls.Load())
	}
}
