package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-ledger/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubConsumer struct {
	run func(ctx context.Context) error
}

func (s stubConsumer) Run(ctx context.Context) error { return s.run(ctx) }

type stubOps struct {
	once     sync.Once
	stopped  chan struct{}
	shutdown bool
	mu       sync.Mutex
}

func newStubOps() *stubOps { return &stubOps{stopped: make(chan struct{})} }

func (s *stubOps) ListenAndServe() error {
	<-s.stopped
	return http.ErrServerClosed
}

func (s *stubOps) Shutdown(context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func (s *stubOps) wasShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func newTestService(t *testing.T, db pinger, consumer consumerRunner, ops opsServer) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "settlement-worker-test", Output: io.Discard}),
		DB:       db,
		Redis:    stubPinger{},
		PubSub:   stubPinger{},
		Consumer: consumer,
		Ops:      ops,
	})
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestRunFailsWhenDependencyUnavailable(t *testing.T) {
	called := false
	consumer := stubConsumer{run: func(context.Context) error {
		called = true
		return nil
	}}
	svc := newTestService(t, stubPinger{err: errors.New("db down")}, consumer, newStubOps())

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database ping failed")
	assert.False(t, called)
}

func TestRunStopsOnCancel(t *testing.T) {
	consumer := stubConsumer{run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	ops := newStubOps()
	svc := newTestService(t, stubPinger{}, consumer, ops)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.True(t, ops.wasShutdown())
}

func TestRunSurfacesConsumerFailure(t *testing.T) {
	boom := errors.New("subscription deleted")
	consumer := stubConsumer{run: func(context.Context) error { return boom }}
	ops := newStubOps()
	svc := newTestService(t, stubPinger{}, consumer, ops)

	err := svc.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, ops.wasShutdown())
}
