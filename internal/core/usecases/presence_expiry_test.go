package usecases_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/usecases"
)

func TestPresenceExpiry_Sweep(t *testing.T) {
	var cutoff time.Time
	var deactivated []string
	store := &mockPresenceStore{
		listStaleFn: func(ctx context.Context, before time.Time, limit int) ([]string, error) {
			cutoff = before
			assert.Equal(t, 100, limit)
			return []string{"a", "b", "c"}, nil
		},
		setActiveFn: func(ctx context.Context, userID string, active bool, at time.Time) (*domain.PresenceRecord, error) {
			assert.False(t, active)
			if userID == "b" {
				return nil, errors.New("row locked")
			}
			deactivated = append(deactivated, userID)
			return &domain.PresenceRecord{ID: userID, IsActive: ptr(false)}, nil
		},
	}
	events := &mockEventPublisher{}
	svc := usecases.NewPresenceExpiryService(store, events, 10*time.Minute, 100)

	n, err := svc.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "c"}, deactivated)
	assert.WithinDuration(t, time.Now().Add(-10*time.Minute), cutoff, 5*time.Second)

	published := events.published()
	require.Len(t, published, 2)
	assert.Equal(t, domain.PresenceUpdated, published[0].Type)
	assert.False(t, published[0].Record.Active())
}

func TestPresenceExpiry_ListError(t *testing.T) {
	store := &mockPresenceStore{
		listStaleFn: func(ctx context.Context, before time.Time, limit int) ([]string, error) {
			return nil, errors.New("db down")
		},
	}
	svc := usecases.NewPresenceExpiryService(store, nil, 0, 0)
	n, err := svc.Sweep(context.Background())
	require.Error(t, err)
	assert.Zero(t, n)
}

func TestPresenceExpiry_StationarySharerSurvivesSweep(t *testing.T) {
	store := newMemPresenceStore()
	p := usecases.NewPresencePublisher("still", store, nil, usecases.PublisherConfig{
		Interval:    time.Millisecond,
		MinDistance: 5,
		Heartbeat:   40 * time.Millisecond,
	})
	defer p.Close()
	svc := usecases.NewPresenceExpiryService(store, nil, 150*time.Millisecond, 100)

	here := domain.Position{Latitude: 43.263, Longitude: -2.935}
	p.SetActive(true)
	for i := 0; i < 30; i++ {
		p.Publish(here)
		time.Sleep(10 * time.Millisecond)
	}

	n, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, store.active("still"))
	assert.Greater(t, store.writeCount(), 3)
}

func TestPresenceExpiry_IdleSharerKeptAliveByHeartbeat(t *testing.T) {
	store := newMemPresenceStore()
	p := usecases.NewPresencePublisher("idle", store, nil, usecases.PublisherConfig{
		Interval:  time.Millisecond,
		Heartbeat: 30 * time.Millisecond,
	})
	defer p.Close()
	svc := usecases.NewPresenceExpiryService(store, nil, 120*time.Millisecond, 100)

	p.SetActive(true)
	p.Publish(domain.Position{Latitude: 43.263, Longitude: -2.935})
	time.Sleep(300 * time.Millisecond)

	n, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, store.active("idle"))
}

func TestPresenceExpiry_HeartbeatStopsWithSharing(t *testing.T) {
	store := newMemPresenceStore()
	p := usecases.NewPresencePublisher("gone", store, nil, usecases.PublisherConfig{
		Interval:  time.Millisecond,
		Heartbeat: 20 * time.Millisecond,
	})
	defer p.Close()

	p.SetActive(true)
	p.Publish(domain.Position{Latitude: 43.263, Longitude: -2.935})
	p.SetActive(false)
	require.Eventually(t, func() bool { return store.writeCount() == 3 }, time.Second, time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, store.writeCount())
	assert.False(t, store.active("gone"))
}
