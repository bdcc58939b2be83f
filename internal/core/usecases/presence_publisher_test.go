package usecases_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/usecases"
)

type writeLog struct {
	mu    sync.Mutex
	calls []string
	last  domain.Position
}

func (l *writeLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *writeLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func fastPublisherConfig() usecases.PublisherConfig {
	return usecases.PublisherConfig{Interval: time.Millisecond, WriteTimeout: time.Second}
}

func TestPresencePublisher_WritesAreSequential(t *testing.T) {
	var inflight, maxInflight atomic.Int32
	log := &writeLog{}
	store := &mockPresenceStore{
		updatePositionFn: func(ctx context.Context, userID string, pos domain.Position, at time.Time) (*domain.PresenceRecord, error) {
			n := inflight.Add(1)
			for {
				m := maxInflight.Load()
				if n <= m || maxInflight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inflight.Add(-1)
			log.mu.Lock()
			log.last = pos
			log.mu.Unlock()
			return &domain.PresenceRecord{ID: userID}, nil
		},
	}
	p := usecases.NewPresencePublisher("u1", store, nil, fastPublisherConfig())
	defer p.Close()

	for i := 0; i < 20; i++ {
		p.Publish(domain.Position{Latitude: 40 + float64(i)*0.01, Longitude: -3})
	}

	require.Eventually(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return log.last.Latitude > 40.189
	}, time.Second, 5*time.Millisecond, "newest sample must be written last")
	assert.Equal(t, int32(1), maxInflight.Load())
}

func TestPresencePublisher_FlagKeepsQueueOrder(t *testing.T) {
	log := &writeLog{}
	store := &mockPresenceStore{
		updatePositionFn: func(ctx context.Context, userID string, pos domain.Position, at time.Time) (*domain.PresenceRecord, error) {
			log.add("position")
			return nil, nil
		},
		setActiveFn: func(ctx context.Context, userID string, active bool, at time.Time) (*domain.PresenceRecord, error) {
			if active {
				log.add("active")
			} else {
				log.add("inactive")
			}
			return nil, nil
		},
	}
	p := usecases.NewPresencePublisher("u1", store, nil, fastPublisherConfig())

	p.SetActive(true)
	p.Publish(domain.Position{Latitude: 40, Longitude: -3})
	p.SetActive(false)

	require.Eventually(t, func() bool { return len(log.snapshot()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"active", "position", "inactive"}, log.snapshot())
	p.Close()
}

func TestPresencePublisher_TransientFailureIsSwallowed(t *testing.T) {
	var calls atomic.Int32
	store := &mockPresenceStore{
		updatePositionFn: func(ctx context.Context, userID string, pos domain.Position, at time.Time) (*domain.PresenceRecord, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("connection reset")
			}
			return &domain.PresenceRecord{ID: userID, Latitude: ptr(pos.Latitude), Longitude: ptr(pos.Longitude)}, nil
		},
	}
	events := &mockEventPublisher{}
	p := usecases.NewPresencePublisher("u1", store, events, fastPublisherConfig())
	defer p.Close()

	p.Publish(domain.Position{Latitude: 40, Longitude: -3})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	p.Publish(domain.Position{Latitude: 41, Longitude: -3})
	require.Eventually(t, func() bool { return len(events.published()) == 1 }, time.Second, time.Millisecond)

	evt := events.published()[0]
	assert.Equal(t, domain.PresenceUpdated, evt.Type)
	assert.Equal(t, "u1", evt.UserID)
	assert.Equal(t, 41.0, *evt.Record.Latitude)
}

func TestPresencePublisher_MinDistance(t *testing.T) {
	var calls atomic.Int32
	store := &mockPresenceStore{
		updatePositionFn: func(ctx context.Context, userID string, pos domain.Position, at time.Time) (*domain.PresenceRecord, error) {
			calls.Add(1)
			return nil, nil
		},
	}
	cfg := fastPublisherConfig()
	cfg.MinDistance = 5
	p := usecases.NewPresencePublisher("u1", store, nil, cfg)
	defer p.Close()

	p.Publish(domain.Position{Latitude: 40.4168, Longitude: -3.7038})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	// ~1 m north
	p.Publish(domain.Position{Latitude: 40.41681, Longitude: -3.7038})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	// ~110 m north
	p.Publish(domain.Position{Latitude: 40.4178, Longitude: -3.7038})
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
}

func TestPresencePublisher_DropsInvalid(t *testing.T) {
	var calls atomic.Int32
	store := &mockPresenceStore{
		updatePositionFn: func(ctx context.Context, userID string, pos domain.Position, at time.Time) (*domain.PresenceRecord, error) {
			calls.Add(1)
			return nil, nil
		},
	}
	p := usecases.NewPresencePublisher("u1", store, nil, fastPublisherConfig())
	p.Publish(domain.Position{Latitude: 91, Longitude: 0})
	p.Close()
	assert.Zero(t, calls.Load())
}

func TestPresencePublisher_CloseFlushesFlags(t *testing.T) {
	var flags []bool
	var mu sync.Mutex
	store := &mockPresenceStore{
		setActiveFn: func(ctx context.Context, userID string, active bool, at time.Time) (*domain.PresenceRecord, error) {
			mu.Lock()
			flags = append(flags, active)
			mu.Unlock()
			return nil, nil
		},
	}
	p := usecases.NewPresencePublisher("u1", store, nil, usecases.PublisherConfig{Interval: time.Hour})

	p.SetActive(false)
	p.Close()
	p.Close()
	p.SetActive(true)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false}, flags)
}
