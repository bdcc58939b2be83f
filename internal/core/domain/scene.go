package domain

// LayerKind names a logical map layer. At most one engine layer exists per kind.
type LayerKind string

const (
	LayerSelf   LayerKind = "self"
	LayerOthers LayerKind = "others"
	LayerRoute  LayerKind = "route"
)

// ScenePoint is a point feature handed to the rendering engine.
type ScenePoint struct {
	ID         string         `json:"id"`
	Position   Position       `json:"position"`
	Properties map[string]any `json:"properties,omitempty"`
}

// LayerStyle is the visual style shared by every feature of a layer.
type LayerStyle struct {
	Color       string  `json:"color"`
	Radius      float64 `json:"radius"`
	StrokeColor string  `json:"stroke_color,omitempty"`
	StrokeWidth float64 `json:"stroke_width,omitempty"`
	Pulse       bool    `json:"pulse,omitempty"`
}

// SceneOptions configures a new rendering-engine instance.
type SceneOptions struct {
	Container   string   `json:"container"`
	StyleURL    string   `json:"style"`
	Center      Position `json:"center"`
	Zoom        float64  `json:"zoom"`
	Pitch       float64  `json:"pitch"`
	AccessToken string   `json:"access_token,omitempty"`
}
