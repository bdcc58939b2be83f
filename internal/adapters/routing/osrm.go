package routing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/pkg/metrics"
	"github.com/samirrijal/livemap/internal/pkg/telemetry"
)

// Config tunes the OSRM client.
type Config struct {
	BaseURL          string
	Profile          string
	Timeout          time.Duration
	RatePerSecond    float64
	Burst            int
	BreakerFailures  uint32
	BreakerOpenDelay time.Duration
}

// OSRMClient implements ports.RoutingProvider against the OSRM HTTP API.
type OSRMClient struct {
	baseURL string
	profile string
	http    *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[*domain.Route]
}

// NewOSRMClient creates a client. Zero values fall back to sane defaults.
func NewOSRMClient(cfg Config) *OSRMClient {
	if cfg.Profile == "" {
		cfg.Profile = "driving"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenDelay <= 0 {
		cfg.BreakerOpenDelay = 30 * time.Second
	}

	metrics.RoutingBreakerState.Set(0)
	failures := cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker[*domain.Route](gobreaker.Settings{
		Name:        "osrm",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerOpenDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Missing routes and cancelled callers say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound) || domain.IsCancellation(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("routing circuit breaker", "name", name, "from", from.String(), "to", to.String())
			metrics.RoutingBreakerState.Set(stateValue(to))
		},
	})

	return &OSRMClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		profile: cfg.Profile,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cb:      cb,
	}
}

// ErrUnavailable is returned while the circuit is open.
var ErrUnavailable = errors.New("routing provider unavailable")

// Route returns the fastest route, or domain.ErrNotFound when none exists.
func (c *OSRMClient) Route(ctx context.Context, origin, destination domain.Position) (*domain.Route, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("routing rate limit: %w", err)
	}

	route, err := c.cb.Execute(func() (*domain.Route, error) {
		return c.fetch(ctx, origin, destination)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return route, err
}

func (c *OSRMClient) fetch(ctx context.Context, origin, destination domain.Position) (*domain.Route, error) {
	url := fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson&steps=true",
		c.baseURL, c.profile,
		origin.Longitude, origin.Latitude,
		destination.Longitude, destination.Latitude)

	ctx, span := otel.Tracer(telemetry.TracerRouting).Start(ctx, "OSRM.Route", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("osrm.profile", c.profile))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("osrm request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("osrm read: %w", err)
	}

	var out osrmResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("osrm decode (status %d): %w", resp.StatusCode, err)
	}

	switch out.Code {
	case "Ok":
	case "NoRoute", "NoSegment":
		return nil, fmt.Errorf("osrm %s: %w", out.Code, domain.ErrNotFound)
	default:
		return nil, fmt.Errorf("osrm status %d: %s %s", resp.StatusCode, out.Code, out.Message)
	}
	if len(out.Routes) == 0 {
		return nil, fmt.Errorf("osrm: empty route list: %w", domain.ErrNotFound)
	}
	return out.Routes[0].toDomain(), nil
}

type osrmResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Routes  []osrmRoute `json:"routes"`
}

type osrmRoute struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Geometry struct {
		Coordinates [][2]float64 `json:"coordinates"`
	} `json:"geometry"`
	Legs []struct {
		Steps []osrmStep `json:"steps"`
	} `json:"legs"`
}

type osrmStep struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Name     string  `json:"name"`
	Maneuver struct {
		Type     string `json:"type"`
		Modifier string `json:"modifier"`
	} `json:"maneuver"`
}

func (r osrmRoute) toDomain() *domain.Route {
	route := &domain.Route{
		Distance: r.Distance,
		Duration: r.Duration,
		Steps:    []domain.RouteStep{},
	}
	for _, c := range r.Geometry.Coordinates {
		route.Geometry = append(route.Geometry, domain.Position{Latitude: c[1], Longitude: c[0]})
	}
	for _, leg := range r.Legs {
		for _, s := range leg.Steps {
			route.Steps = append(route.Steps, domain.RouteStep{
				Instruction: instruction(s),
				Distance:    s.Distance,
				Duration:    s.Duration,
			})
		}
	}
	return route
}

// instruction renders an OSRM maneuver as a short English sentence.
func instruction(s osrmStep) string {
	road := ""
	if s.Name != "" {
		road = " onto " + s.Name
	}
	mod := s.Maneuver.Modifier

	switch s.Maneuver.Type {
	case "depart":
		if s.Name != "" {
			return "Head out on " + s.Name
		}
		return "Head out"
	case "arrive":
		return "Arrive at destination"
	case "turn", "end of road", "fork", "on ramp", "off ramp":
		if mod == "" {
			return "Continue" + road
		}
		if mod == "straight" {
			return "Continue straight" + road
		}
		if strings.HasPrefix(mod, "uturn") {
			return "Make a U-turn" + road
		}
		return "Turn " + mod + road
	case "roundabout", "rotary", "roundabout turn":
		return "Take the roundabout" + road
	case "merge":
		return "Merge" + road
	case "new name", "continue", "notification":
		return "Continue" + road
	default:
		if mod != "" {
			return "Go " + mod + road
		}
		return "Continue" + road
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
