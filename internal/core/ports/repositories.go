package ports

import (
	"context"
	"time"

	"github.com/samirrijal/livemap/internal/core/domain"
)

// PresenceStore persists user presence in the backend record store.
type PresenceStore interface {
	// UpdatePosition is the point-write "update my record with position".
	UpdatePosition(ctx context.Context, userID string, pos domain.Position, at time.Time) (*domain.PresenceRecord, error)
	// SetActive flips the discoverability flag.
	SetActive(ctx context.Context, userID string, active bool, at time.Time) (*domain.PresenceRecord, error)
	// List is the bulk fetch of all records matching filter.
	List(ctx context.Context, filter domain.PresenceFilter) ([]domain.PresenceRecord, error)
	Get(ctx context.Context, userID string) (*domain.PresenceRecord, error)
	// ListStale returns active users whose last update is older than before.
	ListStale(ctx context.Context, before time.Time, limit int) ([]string, error)
}

// ProductRepository searches catalog listings.
type ProductRepository interface {
	Search(ctx context.Context, query string, limit int) ([]domain.Product, error)
}

// OrganizationRepository searches and resolves organizations.
type OrganizationRepository interface {
	Search(ctx context.Context, query string, limit int) ([]domain.Organization, error)
	GetByID(ctx context.Context, id string) (*domain.Organization, error)
}

// UserRepository searches public user profiles.
type UserRepository interface {
	Search(ctx context.Context, query string, limit int) ([]domain.UserProfile, error)
	GetByID(ctx context.Context, id string) (*domain.UserProfile, error)
}
