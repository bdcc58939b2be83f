package ports

import (
	"context"
	"errors"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/livemap/internal/core/domain"
)

// EventPublisher publishes presence changes to the message broker.
type EventPublisher interface {
	PublishPresence(ctx context.Context, event *domain.PresenceEvent) error
}

// Subscription is a live change-feed registration owned by exactly one caller.
type Subscription interface {
	// Unsubscribe releases the registration. Safe to call more than once.
	Unsubscribe() error
}

// ChangeFeed streams presence create/update/delete events. Events of one
// subscription are delivered sequentially in arrival order.
type ChangeFeed interface {
	Subscribe(ctx context.Context, handler func(domain.PresenceEvent)) (Subscription, error)
}

// ErrCacheMiss is returned by CacheService.Get for absent keys.
var ErrCacheMiss = errors.New("cache miss")

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// WatchID identifies a provider-level position watch.
type WatchID string

// GeolocationProvider is the platform geolocation API.
type GeolocationProvider interface {
	Supported() bool
	// WatchPosition samples continuously until ClearWatch. onError receives
	// the raw platform code and message.
	WatchPosition(opts domain.WatchOptions, onSample func(domain.Sample), onError func(code int, message string)) (WatchID, error)
	ClearWatch(id WatchID)
	CurrentPosition(ctx context.Context, opts domain.WatchOptions) (domain.Sample, error)
}

// SceneEvents are the lifecycle callbacks a rendering engine reports.
type SceneEvents struct {
	OnLoad      func()
	OnStyleLoad func()
	OnError     func(message string)
	OnClick     func(layerID, featureID string)
}

// RenderEngine constructs rendering-engine instances bound to a display surface.
type RenderEngine interface {
	CreateScene(ctx context.Context, opts domain.SceneOptions, events SceneEvents) (SceneHandle, error)
}

// SceneHandle is the native handle of one live engine instance. Point
// features use x = longitude and y = latitude.
type SceneHandle interface {
	SetPointLayer(id string, features *geojson.FeatureCollection, style domain.LayerStyle) error
	SetLineLayer(id string, features *geojson.FeatureCollection, style domain.LayerStyle) error
	RemoveLayer(id string) error
	OpenPopup(id string, at domain.Position, html string) error
	ClosePopup(id string) error
	SetCenter(at domain.Position) error
	SetZoom(level float64) error
	FlyTo(at domain.Position, zoom float64) error
	FitBounds(bound orb.Bound, padding float64) error
	AddExtrusionLayer() error
	Destroy() error
}

// RoutingProvider computes routes between two positions.
type RoutingProvider interface {
	Route(ctx context.Context, origin, destination domain.Position) (*domain.Route, error)
}
