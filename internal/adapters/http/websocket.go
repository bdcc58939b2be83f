package http

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/samirrijal/livemap/internal/core/domain"
	"github.com/samirrijal/livemap/internal/core/ports"
	"github.com/samirrijal/livemap/internal/core/usecases"
	"github.com/samirrijal/livemap/internal/pkg/metrics"
)

var routeLineStyle = domain.LayerStyle{Color: "#7c3aed", Radius: 5}

const (
	routeFitPadding = 60
	selectZoom      = 15
)

// mapSession is one live map view. The browser hosts the rendering engine
// and the geolocation API; everything else runs here.
type mapSession struct {
	id     string
	self   string
	out    outbox
	logger *slog.Logger
	orgs   ports.OrganizationRepository

	ctx    context.Context
	cancel context.CancelFunc

	geo      *remoteGeolocation
	renderer *remoteRenderer

	watcher    *usecases.GeoWatcher
	publisher  *usecases.PresencePublisher
	sharing    *usecases.SharingController
	subscriber *usecases.PresenceSubscriber
	scene      *usecases.MapScene
	markers    *usecases.MarkerReconciler
	search     *usecases.SearchBox
	planner    *usecases.RoutePlanner
	opts       domain.SceneOptions

	renderMu sync.Mutex

	resultsMu sync.Mutex
	results   []domain.SearchResult

	closeOnce sync.Once
}

func newMapSession(parent context.Context, deps *Dependencies, id *Identity, out outbox) *mapSession {
	ctx, cancel := context.WithCancel(parent)
	cfg := deps.Session
	s := &mapSession{
		id:       uuid.NewString(),
		self:     id.UserID,
		out:      out,
		orgs:     deps.Organizations,
		ctx:      ctx,
		cancel:   cancel,
		geo:      newRemoteGeolocation(out),
		renderer: newRemoteRenderer(out),
		opts:     cfg.SceneOptions,
	}
	s.logger = slog.Default().With("session_id", s.id, "user_id", s.self)

	self := domain.UserPresence{UserID: id.UserID, DisplayName: id.DisplayName, AvatarURL: id.AvatarURL, IsSelf: true}
	if rec, err := deps.Presence.Get(ctx, id.UserID); err == nil && rec != nil {
		self = rec.ToPresence(id.UserID)
		if self.DisplayName == "" {
			self.DisplayName = id.DisplayName
		}
		// A fresh connection never resumes sharing on its own.
		self.IsActive = false
	}

	s.watcher = usecases.NewGeoWatcher(s.geo, cfg.FixTimeout)
	s.publisher = usecases.NewPresencePublisher(id.UserID, deps.Presence, deps.Events, cfg.Publisher)
	s.sharing = usecases.NewSharingController(self, s.watcher, s.publisher)
	s.subscriber = usecases.NewPresenceSubscriber(id.UserID, deps.Presence, deps.Feed, cfg.StopPolicy)
	s.scene = usecases.NewMapScene(s.renderer, cfg.Scene)
	s.markers = usecases.NewMarkerReconciler(s.scene, s.onSelect)
	s.search = usecases.NewSearchBox(ctx, deps.Search, cfg.SearchDebounce, s.onSearch)
	s.planner = usecases.NewRoutePlanner(deps.Routing)

	s.sharing.OnChange(s.onSharing)
	s.subscriber.OnChange(s.onPresences)
	s.scene.OnStateChange(s.onScene)
	s.scene.OnClick(s.onClick)
	s.planner.OnChange(s.onRoute)
	return s
}

// start creates the map and attaches the presence feed.
func (s *mapSession) start() {
	if err := s.scene.Init(s.ctx, s.opts); err != nil {
		s.logger.Warn("map init failed", "error", err)
	}
	s.onSharing(s.sharing.State())

	go func() {
		_, err := s.subscriber.Start(s.ctx, domain.PresenceFilter{ActiveOnly: true})
		if err != nil && !domain.IsCancellation(err) {
			s.logger.Warn("presence subscribe failed", "error", err)
			s.sendError(err)
		}
	}()
}

// handle dispatches one client message.
func (s *mapSession) handle(m inbound) {
	switch m.Type {
	case msgSceneLoaded, msgSceneStyleLoaded, msgSceneError, msgSceneClick:
		s.renderer.dispatch(m)
	case msgSceneRetry:
		s.retryScene()
	case msgGeoSample:
		s.geo.handleSample(m)
	case msgGeoError:
		s.geo.handleError(m)
	case msgGeoUnsupported:
		s.geo.markUnsupported()
	case msgSharingStart:
		if err := s.sharing.Start(); err != nil {
			s.logger.Info("sharing start failed", "error", err)
		}
	case msgSharingStop:
		s.sharing.Stop()
	case msgSearch:
		s.search.Type(m.Query)
	case msgSearchSubmit:
		s.search.Submit(m.Query)
	case msgSearchSelect:
		go s.selectResult(m.ResultType, m.ID)
	case msgRoutePlan:
		go s.planRoute(m)
	case msgRouteClear:
		s.planner.Clear()
	case msgCameraCenter:
		at := domain.Position{Latitude: m.Latitude, Longitude: m.Longitude}
		if !at.Valid() {
			s.sendError(errors.New("invalid camera position"))
			return
		}
		_ = s.scene.SetCenter(at)
		if m.Zoom > 0 {
			_ = s.scene.SetZoom(m.Zoom)
		}
	default:
		_ = s.out.send(outError, errorMsg{Message: "unknown message type: " + m.Type})
	}
}

// close tears every component down. Idempotent.
func (s *mapSession) close() {
	s.closeOnce.Do(func() {
		s.search.Close()
		s.planner.Clear()
		s.sharing.Close()
		s.publisher.Close()
		s.subscriber.Stop()
		s.watcher.StopAll()
		s.scene.Destroy()
		s.cancel()
	})
}

// retryScene rebuilds the map after a failed or timed-out initialisation.
func (s *mapSession) retryScene() {
	switch st := s.scene.Status().State; st {
	case usecases.SceneError, usecases.SceneTimedOut:
	default:
		s.logger.Debug("scene retry ignored", "state", st)
		return
	}
	if err := s.scene.Init(s.ctx, s.opts); err != nil {
		s.logger.Warn("map re-init failed", "error", err)
	}
}

type errorMsg struct {
	Message  string `json:"message"`
	Guidance string `json:"guidance,omitempty"`
}

func (s *mapSession) sendError(err error) {
	_ = s.out.send(outError, errorMsg{Message: err.Error(), Guidance: domain.Guidance(err)})
}

// render reconciles markers with the current self and registry state.
func (s *mapSession) render() {
	if s.scene.Status().State != usecases.SceneReady {
		return
	}
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	self := s.sharing.Self()
	if err := s.markers.Apply(&self, s.subscriber.Snapshot(), s.sharing.State().Sharing); err != nil {
		s.logger.Warn("apply markers", "error", err)
	}
}

type sharingMsg struct {
	Sharing  bool                `json:"sharing"`
	Self     domain.UserPresence `json:"self"`
	Error    string              `json:"error,omitempty"`
	Guidance string              `json:"guidance,omitempty"`
}

func (s *mapSession) onSharing(st usecases.SharingState) {
	msg := sharingMsg{Sharing: st.Sharing, Self: st.Self, Guidance: st.Guidance}
	if st.Err != nil {
		msg.Error = st.Err.Error()
	}
	_ = s.out.send(outSharingState, msg)
	s.render()
}

func (s *mapSession) onPresences(users []domain.UserPresence) {
	_ = s.out.send(outPresences, users)
	s.render()
}

func (s *mapSession) onScene(st usecases.SceneStatus) {
	_ = s.out.send(outSceneState, st)
	if st.State != usecases.SceneReady {
		return
	}
	s.render()
	if snap := s.planner.Snapshot(); snap.State == usecases.RouteReady {
		s.drawRoute(snap)
	}
}

func (s *mapSession) onClick(kind domain.LayerKind, featureID string) {
	if _, err := s.markers.HandleClick(kind, featureID); err != nil {
		s.logger.Warn("open popup", "error", err)
	}
}

func (s *mapSession) onSelect(p domain.UserPresence) {
	_ = s.out.send(outPresenceSel, p)
}

type searchMsg struct {
	*domain.SearchResponse
	Error    string `json:"error,omitempty"`
	Guidance string `json:"guidance,omitempty"`
}

func (s *mapSession) onSearch(resp *domain.SearchResponse, err error) {
	if err != nil {
		_ = s.out.send(outSearchResults, searchMsg{Error: err.Error(), Guidance: domain.Guidance(err)})
		return
	}
	s.resultsMu.Lock()
	s.results = resp.Results
	s.resultsMu.Unlock()
	_ = s.out.send(outSearchResults, searchMsg{SearchResponse: resp})
}

// selectResult centres the map on a search hit. Users on the map get their
// popup; products resolve to their organization's location.
func (s *mapSession) selectResult(t domain.ResultType, id string) {
	var hit *domain.SearchResult
	s.resultsMu.Lock()
	for i := range s.results {
		if s.results[i].Type == t && s.results[i].ID == id {
			r := s.results[i]
			hit = &r
			break
		}
	}
	s.resultsMu.Unlock()
	if hit == nil {
		s.sendError(errors.New("search result is no longer available"))
		return
	}

	loc := hit.Location()
	switch d := hit.Data.(type) {
	case domain.UserData:
		if p, ok := s.subscriber.Get(id); ok && p.HasValidPosition() {
			loc = p.Position
			defer func() { _, _ = s.markers.HandleClick(domain.LayerOthers, id) }()
		}
	case domain.ProductData:
		if d.OrganizationID != "" && s.orgs != nil {
			org, err := s.orgs.GetByID(s.ctx, d.OrganizationID)
			if err == nil && org != nil {
				loc = org.Location
			}
		}
	}
	if loc == nil || !loc.Valid() {
		s.sendError(errors.New("this result has no location on the map"))
		return
	}
	if err := s.scene.FlyTo(*loc, selectZoom); err != nil {
		s.logger.Warn("fly to result", "error", err)
	}
}

func (s *mapSession) planRoute(m inbound) {
	dest, err := s.destination(m)
	if err != nil {
		s.sendRouteError(err)
		return
	}

	self := s.sharing.Self()
	if !self.HasValidPosition() {
		if err := s.sharing.Locate(s.ctx); err != nil {
			s.sendRouteError(err)
			return
		}
		self = s.sharing.Self()
	}
	if !self.HasValidPosition() {
		s.sendRouteError(domain.ErrPositionUnavailable)
		return
	}

	if _, err := s.planner.Plan(s.ctx, *self.Position, dest); err != nil && !domain.IsCancellation(err) {
		s.logger.Info("route planning failed", "error", err)
	}
}

func (s *mapSession) destination(m inbound) (domain.Position, error) {
	if m.DestinationUserID != "" {
		p, ok := s.subscriber.Get(m.DestinationUserID)
		if !ok || !p.HasValidPosition() {
			return domain.Position{}, domain.ErrNotFound
		}
		return *p.Position, nil
	}
	if m.Destination == nil || !m.Destination.Valid() {
		return domain.Position{}, domain.ErrNotFound
	}
	return *m.Destination, nil
}

type routeMsg struct {
	State    usecases.RouteState    `json:"state"`
	Route    *domain.FormattedRoute `json:"route,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Guidance string                 `json:"guidance,omitempty"`
}

func (s *mapSession) sendRouteError(err error) {
	_ = s.out.send(outRouteState, routeMsg{State: usecases.RouteFailed, Error: err.Error(), Guidance: domain.Guidance(err)})
}

func (s *mapSession) onRoute(snap usecases.RouteSnapshot) {
	msg := routeMsg{State: snap.State}
	if snap.State == usecases.RouteReady {
		msg.Route = usecases.FormatRoute(snap.Route)
	}
	if snap.Err != nil {
		msg.Error = snap.Err.Error()
		msg.Guidance = domain.Guidance(snap.Err)
	}
	_ = s.out.send(outRouteState, msg)

	if snap.State == usecases.RouteReady {
		s.drawRoute(snap)
		return
	}
	if err := s.scene.RemoveLayer(domain.LayerRoute); err != nil {
		s.logger.Warn("remove route layer", "error", err)
	}
}

func (s *mapSession) drawRoute(snap usecases.RouteSnapshot) {
	if snap.Route == nil || len(snap.Route.Geometry) < 2 {
		return
	}
	if err := s.scene.SetLine(domain.LayerRoute, snap.Route.Geometry, routeLineStyle); err != nil {
		s.logger.Warn("draw route", "error", err)
		return
	}
	_ = s.scene.FitBounds(snap.Route.Geometry, routeFitPadding)
}

// MapSessionHandler serves /ws/map. The caller identity is set by
// AuthMiddleware before the upgrade.
func MapSessionHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		id, _ := c.Locals(identityKey).(*Identity)
		if id == nil {
			return
		}

		out := &wsOutbox{conn: c}
		sess := newMapSession(context.Background(), deps, id, out)
		metrics.ActiveWebSockets.Inc()
		sess.logger.Info("map session opened", "remote_addr", c.RemoteAddr().String())
		defer func() {
			sess.close()
			metrics.ActiveWebSockets.Dec()
			sess.logger.Info("map session closed")
		}()

		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := out.ping(); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		sess.start()

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			var m inbound
			if err := json.Unmarshal(raw, &m); err != nil {
				_ = out.send(outError, errorMsg{Message: "invalid JSON"})
				continue
			}
			metrics.WSMessages.WithLabelValues("in", inboundLabel(m.Type)).Inc()
			sess.handle(m)
		}
	}
}
