package usecases

import (
	"fmt"
	"math"

	"github.com/samirrijal/livemap/internal/core/domain"
)

// FormatDistance renders meters as whole meters below 1 km and as
// kilometers with one decimal from 1 km up.
func FormatDistance(meters float64) string {
	if m := math.Round(meters); m < 1000 {
		return fmt.Sprintf("%.0f m", m)
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

// FormatDuration renders seconds as whole seconds below a minute, whole
// minutes below an hour, and hours plus remaining minutes otherwise.
// Partial units are truncated.
func FormatDuration(seconds float64) string {
	s := int(math.Floor(seconds))
	if s < 0 {
		s = 0
	}
	switch {
	case s < 60:
		return fmt.Sprintf("%d sec", s)
	case s < 3600:
		return fmt.Sprintf("%d min", s/60)
	default:
		return fmt.Sprintf("%d hr %d min", s/3600, (s%3600)/60)
	}
}

// FormatRoute attaches display strings to a route and its steps.
func FormatRoute(r *domain.Route) *domain.FormattedRoute {
	if r == nil {
		return nil
	}
	steps := make([]domain.FormattedStep, len(r.Steps))
	for i, st := range r.Steps {
		steps[i] = domain.FormattedStep{
			RouteStep:    st,
			DistanceText: FormatDistance(st.Distance),
			DurationText: FormatDuration(st.Duration),
		}
	}
	return &domain.FormattedRoute{
		Distance:     r.Distance,
		Duration:     r.Duration,
		DistanceText: FormatDistance(r.Distance),
		DurationText: FormatDuration(r.Duration),
		Steps:        steps,
		Geometry:     r.Geometry,
	}
}
