package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travel-auth/internal/bucketing"
	"travel-auth/internal/config"
	"travel-auth/internal/models"
)

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []models.AuthEvent
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, e *models.AuthEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return s.err
}

func testBuckets() *bucketing.Manager {
	return bucketing.NewManager(&config.Config{Bucketing: config.BucketingConfig{UserBuckets: 16, EventBuckets: 32}})
}

func TestEmitStampsAndFansOut(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	d := NewDispatcher(testBuckets(), a, b).WithClock(func() time.Time { return at })

	d.Emit(context.Background(), &models.AuthEvent{
		Type:   models.EventOTPSent,
		UserID: "user-1",
		Phone:  "+919876543210",
	})

	for _, s := range []*recordingSink{a, b} {
		require.Len(t, s.events, 1)
		e := s.events[0]
		assert.NotEmpty(t, e.EventID)
		assert.Equal(t, at, e.OccurredAt)
		assert.Equal(t, "2026-03-14", e.EventDate)
		assert.Equal(t, "+91******3210", e.Phone)
		assert.GreaterOrEqual(t, e.EventBucket, 0)
		assert.Less(t, e.EventBucket, 32)
	}
	assert.Equal(t, []string{"a", "b"}, d.Sinks())
}

func TestEmitIgnoresSinkFailures(t *testing.T) {
	bad := &recordingSink{name: "bad", err: errors.New("broker down")}
	good := &recordingSink{name: "good"}
	d := NewDispatcher(nil, bad, good)

	assert.NotPanics(t, func() {
		d.Emit(context.Background(), &models.AuthEvent{Type: models.EventSessionIssued})
	})
	assert.Len(t, good.events, 1)
	assert.Len(t, bad.events, 1)
}

func TestEmitSurvivesCancelledRequest(t *testing.T) {
	s := &recordingSink{name: "s"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewDispatcher(nil, s).Emit(ctx, &models.AuthEvent{Type: models.EventOTPFailed})
	assert.Len(t, s.events, 1)
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	assert.NotPanics(t, func() {
		d.Emit(context.Background(), &models.AuthEvent{Type: models.EventOTPSent})
	})
}
