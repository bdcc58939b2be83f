package http

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/pkg/metrics"
)

// Client to server message types.
const (
	msgSceneLoaded      = "scene.loaded"
	msgSceneStyleLoaded = "scene.style_loaded"
	msgSceneError       = "scene.error"
	msgSceneClick       = "scene.click"
	msgSceneRetry       = "scene.retry"
	msgGeoSample        = "geo.sample"
	msgGeoError         = "geo.error"
	msgGeoUnsupported   = "geo.unsupported"
	msgSharingStart     = "sharing.start"
	msgSharingStop      = "sharing.stop"
	msgSearch           = "search"
	msgSearchSubmit     = "search.submit"
	msgSearchSelect     = "search.select"
	msgRoutePlan        = "route.plan"
	msgRouteClear       = "route.clear"
	msgCameraCenter     = "camera.center"
)

// Server to client message types.
const (
	outSceneCreate     = "scene.create"
	outSceneDestroy    = "scene.destroy"
	outSceneExtrusion  = "scene.extrusion"
	outSceneState      = "scene.state"
	outLayerSet        = "layer.set"
	outLayerRemove     = "layer.remove"
	outPopupOpen       = "popup.open"
	outPopupClose      = "popup.close"
	outCameraCenter    = "camera.center"
	outCameraZoom      = "camera.zoom"
	outCameraFlyTo     = "camera.fly_to"
	outCameraFitBounds = "camera.fit_bounds"
	outGeoWatch        = "geo.watch"
	outGeoClearWatch   = "geo.clear_watch"
	outGeoCurrent      = "geo.current"
	outSharingState    = "sharing.state"
	outSearchResults   = "search.results"
	outRouteState      = "route.state"
	outPresenceSel     = "presence.selected"
	outPresences       = "presence.snapshot"
	outError           = "error"
)

var outboundTypes = []string{
	outSceneCreate, outSceneDestroy, outSceneExtrusion, outSceneState,
	outLayerSet, outLayerRemove, outPopupOpen, outPopupClose,
	outCameraCenter, outCameraZoom, outCameraFlyTo, outCameraFitBounds,
	outGeoWatch, outGeoClearWatch, outGeoCurrent,
	outSharingState, outSearchResults, outRouteState, outPresenceSel, outPresences, outError,
}

var knownInbound = map[string]bool{
	msgSceneLoaded: true, msgSceneStyleLoaded: true, msgSceneError: true, msgSceneClick: true, msgSceneRetry: true,
	msgGeoSample: true, msgGeoError: true, msgGeoUnsupported: true,
	msgSharingStart: true, msgSharingStop: true,
	msgSearch: true, msgSearchSubmit: true, msgSearchSelect: true,
	msgRoutePlan: true, msgRouteClear: true, msgCameraCenter: true,
}

// inboundLabel bounds the metric label set to the protocol's message types.
func inboundLabel(t string) string {
	if knownInbound[t] {
		return t
	}
	return "unknown"
}

// inbound is the flat client message. Only the fields relevant to Type are set.
type inbound struct {
	Type      string `json:"type"`
	SceneID   string `json:"scene_id,omitempty"`
	WatchID   string `json:"watch_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Message   string `json:"message,omitempty"`
	Layer     string `json:"layer,omitempty"`
	FeatureID string `json:"feature_id,omitempty"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"` // epoch milliseconds
	Code      int     `json:"code,omitempty"`
	Zoom      float64 `json:"zoom,omitempty"`

	Query             string            `json:"query,omitempty"`
	ResultType        domain.ResultType `json:"result_type,omitempty"`
	ID                string            `json:"id,omitempty"`
	DestinationUserID string            `json:"destination_user_id,omitempty"`
	Destination       *domain.Position  `json:"destination,omitempty"`
}

func (m inbound) sample() domain.Sample {
	ts := time.Now()
	if m.Timestamp > 0 {
		ts = time.UnixMilli(m.Timestamp)
	}
	return domain.Sample{
		Position:  domain.Position{Latitude: m.Latitude, Longitude: m.Longitude},
		Accuracy:  m.Accuracy,
		Timestamp: ts,
	}
}

// envelope is every server message: {"type": ..., "data": {...}}.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// outbox sends one server message to the client.
type outbox interface {
	send(typ string, data any) error
}

// wsOutbox serialises writes to one socket.
type wsOutbox struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (o *wsOutbox) send(typ string, data any) error {
	b, err := json.Marshal(envelope{Type: typ, Data: data})
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := o.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return err
	}
	metrics.WSMessages.WithLabelValues("out", typ).Inc()
	return nil
}

func (o *wsOutbox) ping() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn.WriteMessage(websocket.PingMessage, nil)
}
