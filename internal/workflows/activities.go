package workflows

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samirrijal/livemap/internal/core/usecases"
)

// ExpiryActivities holds the activity implementations for the presence
// expiry workflow.
type ExpiryActivities struct {
	Expiry *usecases.PresenceExpiryService
}

// FindStalePresences returns the active users whose last update fell out of
// the stale window.
func (a *ExpiryActivities) FindStalePresences(ctx context.Context) ([]string, error) {
	ids, err := a.Expiry.FindStale(ctx)
	if err != nil {
		return nil, fmt.Errorf("find stale presences: %w", err)
	}
	return ids, nil
}

// ExpirePresence marks one user inactive and announces it on the feed.
func (a *ExpiryActivities) ExpirePresence(ctx context.Context, userID string) error {
	if err := a.Expiry.Expire(ctx, userID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "presence expired", "user_id", userID)
	return nil
}
