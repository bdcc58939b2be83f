package http

import (
	"context"
	"time"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/ports"
	"github.com/samirrijal/livemap/internal/core/usecases"
)

// Pinger is a backend that can report its connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FeedStatus reports whether the change-feed connection is up.
type FeedStatus interface {
	IsConnected() bool
}

// SessionConfig tunes the per-connection map view session.
type SessionConfig struct {
	Scene          usecases.SceneConfig
	SceneOptions   domain.SceneOptions
	Publisher      usecases.PublisherConfig
	FixTimeout     time.Duration
	StopPolicy     domain.StopPolicy
	SearchDebounce time.Duration
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Presence      ports.PresenceStore
	Events        ports.EventPublisher
	Feed          ports.ChangeFeed
	Search        *usecases.SearchService
	Routing       ports.RoutingProvider
	Organizations ports.OrganizationRepository
	Auth          *Authenticator
	Session       SessionConfig
	RateLimit     int

	DB    Pinger
	Cache Pinger
	NATS  FeedStatus
}
