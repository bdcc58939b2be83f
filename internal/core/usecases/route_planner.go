package usecases

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/ports"
	"github.com/samirrijal/livemap/internal/pkg/metrics"
	"github.com/samirrijal/livemap/internal/pkg/telemetry"
)

// RouteState is the lifecycle state of a RoutePlanner.
type RouteState string

const (
	RouteIdle    RouteState = "idle"
	RouteLoading RouteState = "loading"
	RouteReady   RouteState = "ready"
	RouteFailed  RouteState = "failed"
)

// RouteSnapshot is the observable state of a RoutePlanner.
type RouteSnapshot struct {
	State       RouteState      `json:"state"`
	Route       *domain.Route   `json:"route,omitempty"`
	Origin      domain.Position `json:"origin"`
	Destination domain.Position `json:"destination"`
	Err         error           `json:"-"`
}

// RoutePlanner requests routes for one view. A new request clears the
// previous route when it starts and supersedes any request still in flight.
type RoutePlanner struct {
	provider ports.RoutingProvider

	mu       sync.Mutex
	seq      uint64
	cancel   context.CancelFunc
	snap     RouteSnapshot
	onChange func(RouteSnapshot)
}

// NewRoutePlanner creates an idle planner.
func NewRoutePlanner(provider ports.RoutingProvider) *RoutePlanner {
	return &RoutePlanner{provider: provider, snap: RouteSnapshot{State: RouteIdle}}
}

// OnChange registers a callback for state changes.
func (p *RoutePlanner) OnChange(fn func(RouteSnapshot)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Plan computes a route and blocks until it settles. A superseded or
// cleared request returns an error matching domain.ErrCancelled and leaves
// the planner state to the newer request.
func (p *RoutePlanner) Plan(ctx context.Context, origin, destination domain.Position) (*domain.Route, error) {
	if !origin.Valid() || !destination.Valid() {
		return nil, fmt.Errorf("plan route: invalid coordinates: %w", domain.ErrNotFound)
	}

	ctx, span := otel.Tracer(telemetry.TracerRouting).Start(ctx, telemetry.SpanRoutePlan)
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.seq++
	seq := p.seq
	p.cancel = cancel
	p.snap = RouteSnapshot{State: RouteLoading, Origin: origin, Destination: destination}
	p.mu.Unlock()
	p.notify(seq)

	route, err := p.provider.Route(ctx, origin, destination)

	p.mu.Lock()
	if p.seq != seq {
		p.mu.Unlock()
		metrics.RouteRequests.WithLabelValues("superseded").Inc()
		return nil, fmt.Errorf("plan route: %w", domain.ErrCancelled)
	}
	p.cancel = nil
	if err != nil && domain.IsCancellation(err) {
		// The owner lost interest; nothing is surfaced.
		p.snap = RouteSnapshot{State: RouteIdle}
		p.mu.Unlock()
		metrics.RouteRequests.WithLabelValues("cancelled").Inc()
		return nil, fmt.Errorf("plan route: %w", domain.ErrCancelled)
	}
	switch {
	case err == nil && route == nil:
		err = fmt.Errorf("plan route: %w", domain.ErrNotFound)
		fallthrough
	case err != nil:
		p.snap = RouteSnapshot{State: RouteFailed, Origin: origin, Destination: destination, Err: err}
		metrics.RouteRequests.WithLabelValues("error").Inc()
		span.RecordError(err)
	default:
		p.snap = RouteSnapshot{State: RouteReady, Route: route, Origin: origin, Destination: destination}
		metrics.RouteRequests.WithLabelValues("ok").Inc()
	}
	p.mu.Unlock()
	p.notify(seq)

	if err != nil {
		return nil, err
	}
	return route, nil
}

// Clear discards the route and any in-flight request and returns to idle.
func (p *RoutePlanner) Clear() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.seq++
	seq := p.seq
	p.snap = RouteSnapshot{State: RouteIdle}
	p.mu.Unlock()
	p.notify(seq)
}

// Snapshot returns the current state.
func (p *RoutePlanner) Snapshot() RouteSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Formatted returns the ready route with display strings, or nil.
func (p *RoutePlanner) Formatted() *domain.FormattedRoute {
	snap := p.Snapshot()
	if snap.State != RouteReady {
		return nil
	}
	return FormatRoute(snap.Route)
}

func (p *RoutePlanner) notify(seq uint64) {
	p.mu.Lock()
	fn := p.onChange
	snap := p.snap
	current := p.seq == seq
	p.mu.Unlock()
	if fn == nil || !current {
		return
	}
	fn(snap)
}
