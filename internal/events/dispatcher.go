// Package events publishes auth state transitions to the configured sinks.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"travel-auth/internal/bucketing"
	"travel-auth/internal/models"
	"travel-auth/internal/util"
)

const sinkTimeout = 3 * time.Second

type Sink interface {
	Name() string
	Write(ctx context.Context, e *models.AuthEvent) error
}

// Dispatcher fans each event out to every sink concurrently. A failing sink
// is logged and never surfaces to the caller.
type Dispatcher struct {
	sinks   []Sink
	buckets *bucketing.Manager
	now     func() time.Time
}

func NewDispatcher(buckets *bucketing.Manager, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, buckets: buckets, now: time.Now}
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

func (d *Dispatcher) Emit(ctx context.Context, e *models.AuthEvent) {
	if d == nil || len(d.sinks) == 0 {
		return
	}
	d.stamp(e)

	// the request may finish before slow sinks do
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	var g errgroup.Group
	for _, s := range d.sinks {
		s := s
		g.Go(func() error {
			if err := s.Write(ctx, e); err != nil {
				util.Warn("Auth event sink failed",
					util.String("sink", s.Name()),
					util.String("event_type", string(e.Type)),
					util.ErrorField(err),
				)
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) stamp(e *models.AuthEvent) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = d.now().UTC()
	}
	e.Phone = util.MaskPhone(e.Phone)
	if d.buckets != nil {
		key := e.UserID
		if key == "" {
			key = e.EventID
		}
		e.EventBucket = d.buckets.EventBucket(key)
		e.EventDate = d.buckets.DateBucket(e.OccurredAt)
	} else {
		e.EventDate = e.OccurredAt.Format("2006-01-02")
	}
}
