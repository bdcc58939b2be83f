package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/ports"
	"github.com/samirrijal/livemap/internal/pkg/metrics"
	"github.com/samirrijal/livemap/internal/pkg/telemetry"
)

// PresenceExpiryService deactivates users whose sharing session went silent
// without an explicit stop (closed tab, lost connectivity).
type PresenceExpiryService struct {
	store      ports.PresenceStore
	events     ports.EventPublisher
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
}

// NewPresenceExpiryService creates a new PresenceExpiryService. events may be nil.
func NewPresenceExpiryService(store ports.PresenceStore, events ports.EventPublisher, staleAfter time.Duration, batchSize int) *PresenceExpiryService {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &PresenceExpiryService{store: store, events: events, staleAfter: staleAfter, batchSize: batchSize, now: time.Now}
}

// FindStale returns active users with no update within the stale window.
func (s *PresenceExpiryService) FindStale(ctx context.Context) ([]string, error) {
	ids, err := s.store.ListStale(ctx, s.now().Add(-s.staleAfter), s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list stale presences: %w", err)
	}
	return ids, nil
}

// Expire marks one user inactive and announces the change.
func (s *PresenceExpiryService) Expire(ctx context.Context, userID string) error {
	at := s.now().UTC()
	rec, err := s.store.SetActive(ctx, userID, false, at)
	if err != nil {
		return fmt.Errorf("expire presence %s: %w", userID, err)
	}
	metrics.PresenceExpired.Inc()

	if s.events != nil && rec != nil {
		evt := &domain.PresenceEvent{Type: domain.PresenceUpdated, UserID: userID, Record: rec, ReceivedAt: at}
		if err := s.events.PublishPresence(ctx, evt); err != nil {
			slog.WarnContext(ctx, "publish expiry event", "user_id", userID, "error", err)
		}
	}
	return nil
}

// Sweep expires one batch of stale presences and returns how many were
// deactivated. Individual failures do not stop the batch.
func (s *PresenceExpiryService) Sweep(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer(telemetry.TracerPresence).Start(ctx, telemetry.SpanSweep)
	defer span.End()

	ids, err := s.FindStale(ctx)
	if err != nil {
		return 0, err
	}

	var (
		expired int
		errs    []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.Expire(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		expired++
	}
	span.SetAttributes(attribute.Int("presence.stale", len(ids)), attribute.Int("presence.expired", expired))
	return expired, errors.Join(errs...)
}
