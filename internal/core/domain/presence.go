package domain

import "time"

// PresenceRecord is the shape of a presence row as stored in the backend and
// carried on the change feed. Coordinates and the active flag are optional:
// the store is eventually consistent and partial records do occur.
type PresenceRecord struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	IsActive    *bool     `json:"is_active,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Position returns the record position, or nil when either coordinate is missing.
func (r PresenceRecord) Position() *Position {
	if r.Latitude == nil || r.Longitude == nil {
		return nil
	}
	return &Position{Latitude: *r.Latitude, Longitude: *r.Longitude}
}

// Active reports the active flag, treating a missing flag as inactive.
func (r PresenceRecord) Active() bool {
	return r.IsActive != nil && *r.IsActive
}

// ToPresence converts a record into the client-side presence value.
func (r PresenceRecord) ToPresence(selfID string) UserPresence {
	return UserPresence{
		UserID:      r.ID,
		DisplayName: r.DisplayName,
		AvatarURL:   r.AvatarURL,
		Position:    r.Position(),
		IsActive:    r.Active(),
		IsSelf:      r.ID != "" && r.ID == selfID,
		LastUpdated: r.UpdatedAt,
	}
}

// UserPresence is the live (position, active) state of one user as known to a client.
type UserPresence struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Position    *Position `json:"position"`
	IsActive    bool      `json:"is_active"`
	IsSelf      bool      `json:"is_self"`
	LastUpdated time.Time `json:"last_updated"`
}

// HasValidPosition reports whether the presence carries a renderable position.
func (p UserPresence) HasValidPosition() bool {
	return p.Position != nil && p.Position.Valid()
}

// PresenceEventType is the kind of change carried by the change feed.
type PresenceEventType string

const (
	PresenceCreated PresenceEventType = "created"
	PresenceUpdated PresenceEventType = "updated"
	PresenceDeleted PresenceEventType = "deleted"
)

// PresenceEvent is a single create/update/delete notification.
type PresenceEvent struct {
	Type       PresenceEventType `json:"type"`
	UserID     string            `json:"user_id"`
	Record     *PresenceRecord   `json:"record,omitempty"`
	ReceivedAt time.Time         `json:"-"`
}

// PresenceFilter selects candidate records for the bulk fetch.
type PresenceFilter struct {
	ActiveOnly    bool   `json:"active_only"`
	ExcludeUserID string `json:"exclude_user_id,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	Offset        int    `json:"offset,omitempty"`
}

// Match reports whether a record satisfies the filter.
func (f PresenceFilter) Match(r PresenceRecord) bool {
	if r.ID == "" {
		return false
	}
	if f.ExcludeUserID != "" && r.ID == f.ExcludeUserID {
		return false
	}
	if f.ActiveOnly && !r.Active() {
		return false
	}
	return true
}

// StopPolicy decides what happens to a user's entry once they stop sharing.
type StopPolicy string

const (
	// StopPolicyFreeze keeps the last-known position, marked inactive.
	StopPolicyFreeze StopPolicy = "freeze"
	// StopPolicyRemove drops the entry from the registry.
	StopPolicyRemove StopPolicy = "remove"
)
