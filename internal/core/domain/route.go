package domain

// RouteStep is one turn-by-turn instruction.
type RouteStep struct {
	Instruction string  `json:"instruction"`
	Distance    float64 `json:"distance"` // meters
	Duration    float64 `json:"duration"` // seconds
}

// Route is a navigable path returned by the routing provider.
type Route struct {
	Distance float64     `json:"distance"` // meters
	Duration float64     `json:"duration"` // seconds
	Steps    []RouteStep `json:"steps"`
	Geometry []Position  `json:"geometry,omitempty"`
}

// FormattedStep is a RouteStep with display strings.
type FormattedStep struct {
	RouteStep
	DistanceText string `json:"distance_text"`
	DurationText string `json:"duration_text"`
}

// FormattedRoute is a Route ready for display.
type FormattedRoute struct {
	Distance     float64         `json:"distance"`
	Duration     float64         `json:"duration"`
	DistanceText string          `json:"distance_text"`
	DurationText string          `json:"duration_text"`
	Steps        []FormattedStep `json:"steps"`
	Geometry     []Position      `json:"geometry,omitempty"`
}
