package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy shared by every component. Callers match with errors.Is.
var (
	// ErrPermissionDenied: the user refused location access. Recoverable by re-prompting.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrPositionUnavailable: no fix could be obtained. Retryable.
	ErrPositionUnavailable = errors.New("position unavailable")
	// ErrTimeout: a fix or the map initialisation exceeded its bound. Retryable.
	ErrTimeout = errors.New("timed out")
	// ErrUnknownGeo: the geolocation provider reported an unrecognised failure.
	ErrUnknownGeo = errors.New("unknown geolocation error")
	// ErrUnsupported: the platform has no geolocation support.
	ErrUnsupported = errors.New("geolocation not supported")
	// ErrInitialization: the rendering engine could not be constructed.
	ErrInitialization = errors.New("map initialization failed")
	// ErrCancelled: the request was superseded or its owner was torn down.
	ErrCancelled = errors.New("cancelled")
	// ErrNotFound: a routing or search target does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTransientWrite: a presence write failed; the watch loop keeps running.
	ErrTransientWrite = errors.New("transient presence write failure")
)

// W3C GeolocationPositionError codes.
const (
	GeoCodePermissionDenied    = 1
	GeoCodePositionUnavailable = 2
	GeoCodeTimeout             = 3
)

// NormalizeGeoError maps a platform geolocation error code onto the taxonomy.
func NormalizeGeoError(code int, message string) error {
	var base error
	switch code {
	case GeoCodePermissionDenied:
		base = ErrPermissionDenied
	case GeoCodePositionUnavailable:
		base = ErrPositionUnavailable
	case GeoCodeTimeout:
		base = ErrTimeout
	default:
		base = ErrUnknownGeo
	}
	if message == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, message)
}

// IsCancellation reports whether err only signals lost interest in a result.
// Such errors are swallowed and never surfaced to users.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Retryable reports whether the same operation may succeed if attempted again.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrPositionUnavailable) ||
		errors.Is(err, ErrTransientWrite) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Guidance returns actionable text for a user-visible error.
func Guidance(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Location access was denied. Allow location access for this site in your browser settings and try again."
	case errors.Is(err, ErrUnsupported):
		return "This browser does not support location sharing."
	case errors.Is(err, ErrPositionUnavailable):
		return "Your position could not be determined. Move to an area with better signal and retry."
	case errors.Is(err, ErrInitialization):
		return "The map could not be created. Reload the page to try again."
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "The request took too long. Check your connection and retry."
	case errors.Is(err, ErrNotFound):
		return "The selected destination could not be found."
	default:
		return "Something went wrong. Please retry."
	}
}
