package usecases

import (
	"fmt"
	"html"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/samirrijal/livemap/internal/core/domain"
)

// LayerOpKind is the kind of a scene layer operation.
type LayerOpKind string

const (
	OpSetLayer    LayerOpKind = "set"
	OpRemoveLayer LayerOpKind = "remove"
)

// LayerOp is one operation the reconciler asks the scene to perform.
type LayerOp struct {
	Op      LayerOpKind
	Kind    domain.LayerKind
	Points  []domain.ScenePoint
	Style   domain.LayerStyle
	members []domain.UserPresence
}

// Marker styles.
var (
	SelfSharingStyle = domain.LayerStyle{Color: "#2563eb", Radius: 10, StrokeColor: "#ffffff", StrokeWidth: 3, Pulse: true}
	SelfIdleStyle    = domain.LayerStyle{Color: "#64748b", Radius: 8, StrokeColor: "#ffffff", StrokeWidth: 2}
	OthersStyle      = domain.LayerStyle{Color: "#16a34a", Radius: 8, StrokeColor: "#ffffff", StrokeWidth: 2}
)

// Reconcile derives the self and others layer operations from presence
// state. It is pure: identical input yields identical output.
func Reconcile(self *domain.UserPresence, others []domain.UserPresence, sharing bool) []LayerOp {
	ops := make([]LayerOp, 0, 2)

	if self == nil || !self.HasValidPosition() {
		ops = append(ops, LayerOp{Op: OpRemoveLayer, Kind: domain.LayerSelf})
	} else {
		style := SelfIdleStyle
		if sharing {
			style = SelfSharingStyle
		}
		me := *self
		me.IsSelf = true
		ops = append(ops, LayerOp{
			Op:      OpSetLayer,
			Kind:    domain.LayerSelf,
			Points:  []domain.ScenePoint{presencePoint(me, sharing)},
			Style:   style,
			members: []domain.UserPresence{me},
		})
	}

	visible := make([]domain.UserPresence, 0, len(others))
	for _, p := range others {
		if p.UserID == "" || p.IsSelf || !p.HasValidPosition() {
			continue
		}
		if self != nil && p.UserID == self.UserID {
			continue
		}
		visible = append(visible, p)
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].UserID < visible[j].UserID })

	if len(visible) == 0 {
		ops = append(ops, LayerOp{Op: OpRemoveLayer, Kind: domain.LayerOthers})
		return ops
	}
	points := make([]domain.ScenePoint, len(visible))
	for i, p := range visible {
		points[i] = presencePoint(p, p.IsActive)
	}
	ops = append(ops, LayerOp{
		Op:      OpSetLayer,
		Kind:    domain.LayerOthers,
		Points:  points,
		Style:   OthersStyle,
		members: visible,
	})
	return ops
}

func presencePoint(p domain.UserPresence, active bool) domain.ScenePoint {
	props := map[string]any{
		"name":   p.DisplayName,
		"active": active,
		"self":   p.IsSelf,
	}
	if p.AvatarURL != "" {
		props["avatar"] = p.AvatarURL
	}
	if !p.LastUpdated.IsZero() {
		props["last_updated"] = p.LastUpdated.UTC().Format(time.RFC3339)
	}
	return domain.ScenePoint{ID: p.UserID, Position: *p.Position, Properties: props}
}

// LayerScene is the subset of MapScene the reconciler drives.
type LayerScene interface {
	SetLayer(kind domain.LayerKind, points []domain.ScenePoint, style domain.LayerStyle) error
	RemoveLayer(kind domain.LayerKind) error
	HasLayer(kind domain.LayerKind) bool
	ShowPopup(at domain.Position, html string) error
}

// MarkerReconciler applies Reconcile output to a scene and resolves marker
// clicks back to presence records.
type MarkerReconciler struct {
	scene    LayerScene
	onSelect func(domain.UserPresence)
	now      func() time.Time

	mu      sync.Mutex
	index   map[domain.LayerKind]map[string]domain.UserPresence
	applied map[domain.LayerKind]LayerOp
}

// NewMarkerReconciler creates a reconciler for scene. onSelect may be nil.
func NewMarkerReconciler(scene LayerScene, onSelect func(domain.UserPresence)) *MarkerReconciler {
	return &MarkerReconciler{
		scene:    scene,
		onSelect: onSelect,
		now:      time.Now,
		index:    make(map[domain.LayerKind]map[string]domain.UserPresence),
		applied:  make(map[domain.LayerKind]LayerOp),
	}
}

// Apply reconciles and executes the resulting operations. A set whose points
// and style match what the scene already shows is skipped.
func (r *MarkerReconciler) Apply(self *domain.UserPresence, others []domain.UserPresence, sharing bool) error {
	ops := Reconcile(self, others, sharing)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range ops {
		switch op.Op {
		case OpRemoveLayer:
			delete(r.index, op.Kind)
			delete(r.applied, op.Kind)
			if err := r.scene.RemoveLayer(op.Kind); err != nil {
				return err
			}
		case OpSetLayer:
			idx := make(map[string]domain.UserPresence, len(op.members))
			for _, p := range op.members {
				idx[p.UserID] = p
			}
			r.index[op.Kind] = idx
			if prev, ok := r.applied[op.Kind]; ok && r.scene.HasLayer(op.Kind) &&
				prev.Style == op.Style && reflect.DeepEqual(prev.Points, op.Points) {
				continue
			}
			delete(r.applied, op.Kind)
			if err := r.scene.SetLayer(op.Kind, op.Points, op.Style); err != nil {
				return err
			}
			r.applied[op.Kind] = op
		}
	}
	return nil
}

// Lookup resolves a rendered feature to its presence.
func (r *MarkerReconciler) Lookup(kind domain.LayerKind, featureID string) (domain.UserPresence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.index[kind][featureID]
	return p, ok
}

// HandleClick resolves a clicked marker, notifies the selection callback and
// opens its popup. It reports whether the feature was known.
func (r *MarkerReconciler) HandleClick(kind domain.LayerKind, featureID string) (bool, error) {
	p, ok := r.Lookup(kind, featureID)
	if !ok || p.Position == nil {
		return false, nil
	}
	if r.onSelect != nil {
		r.onSelect(p)
	}
	return true, r.scene.ShowPopup(*p.Position, PopupHTML(p, r.now()))
}

// PopupHTML renders the marker popup body with every user-supplied value escaped.
func PopupHTML(p domain.UserPresence, now time.Time) string {
	name := p.DisplayName
	if name == "" {
		name = "Unknown user"
	}
	if p.IsSelf {
		name += " (you)"
	}
	status := "Sharing location"
	if !p.IsActive {
		status = "Not sharing"
	}
	body := fmt.Sprintf("<strong>%s</strong><br><span>%s</span>", html.EscapeString(name), status)
	if !p.LastUpdated.IsZero() {
		body += fmt.Sprintf("<br><small>Last seen %s</small>", html.EscapeString(lastSeen(now.Sub(p.LastUpdated))))
	}
	return body
}

func lastSeen(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d min ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hr ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}
