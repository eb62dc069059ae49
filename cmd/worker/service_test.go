package main

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/intlshop-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubConsumer struct {
	err     error
	started chan struct{}
}

func (s *stubConsumer) Run(ctx context.Context) error {
	if s.started != nil {
		close(s.started)
	}
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func newWorker(t *testing.T, db pinger, consumers ...consumer) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:    logger.New(logger.Options{ServiceName: "worker-test"}),
		DB:        db,
		Redis:     stubPinger{},
		PubSub:    stubPinger{},
		Consumers: consumers,
	})
	require.NoError(t, err)
	return svc
}

func TestRunFailsWhenDependencyIsDown(t *testing.T) {
	c := &stubConsumer{started: make(chan struct{})}
	svc := newWorker(t, stubPinger{err: errors.New("db down")}, c)

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database ping failed")
	select {
	case <-c.started:
		t.Fatal("consumer started despite failed readiness")
	default:
	}
}

func TestRunStopsAllConsumersWhenOneFails(t *testing.T) {
	healthy := &stubConsumer{}
	broken := &stubConsumer{err: errors.New("subscription deleted")}
	svc := newWorker(t, stubPinger{}, healthy, broken)

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscription deleted")
}

func TestRunReturnsCanceledOnShutdown(t *testing.T) {
	svc := newWorker(t, stubPinger{}, &stubConsumer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, svc.Run(ctx), context.Canceled)
}

func TestNewServiceRequiresConsumers(t *testing.T) {
	_, err := NewService(ServiceParams{
		Logger: logger.New(logger.Options{ServiceName: "worker-test"}),
		DB:     stubPinger{},
		Redis:  stubPinger{},
		PubSub: stubPinger{},
	})
	assert.Error(t, err)
}
