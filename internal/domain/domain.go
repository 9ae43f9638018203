package domain

import (
	"context"
	"time"
)

// --- View model ---

// ViewType identifies the content kind of a view. Unknown values are allowed
// and treated as custom views: they are distributed as-is, without enrichment.
type ViewType string

const (
	ViewTypeText     ViewType = "text"
	ViewTypeImage    ViewType = "image"
	ViewTypeWeather  ViewType = "weather"
	ViewTypeCalendar ViewType = "calendar"
	ViewTypeWebcam   ViewType = "webcam"
	ViewTypeGallery  ViewType = "gallery"
)

// HourRange is a time-of-day window in "HH:MM" form. A range with From > To
// wraps past midnight.
type HourRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ScheduleRule restricts when a view is eligible for display.
// An absent rule means always eligible. Days and Hours, when both present,
// must independently hold.
type ScheduleRule struct {
	Days  []string    `json:"days,omitempty"`
	Hours []HourRange `json:"hours,omitempty"`
}

// ViewMetadata carries rotation and scheduling rules plus the enrichment
// source key (gallery name, weather location, calendar feed, webcam id).
type ViewMetadata struct {
	Type        ViewType      `json:"type"`
	RotateAfter int64         `json:"rotate_after,omitempty"` // milliseconds
	RotateAt    string        `json:"rotate_at,omitempty"`    // "HH:MM", "+30s", "5m", "1h"
	Schedule    *ScheduleRule `json:"schedule,omitempty"`
	Source      string        `json:"source,omitempty"`
}

// View is a unit of displayable content. Immutable except via explicit update;
// ID is unique across the system.
type View struct {
	ID        string         `json:"id"`
	Metadata  ViewMetadata   `json:"metadata"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Clone returns a copy of the view with its own Data map, so enrichment can
// mutate the copy without touching stored state.
func (v *View) Clone() *View {
	if v == nil {
		return nil
	}
	c := *v
	c.Data = make(map[string]any, len(v.Data)+2)
	for k, val := range v.Data {
		c.Data[k] = val
	}
	if v.Metadata.Schedule != nil {
		s := *v.Metadata.Schedule
		c.Metadata.Schedule = &s
	}
	return &c
}

// --- Channel configuration ---

// Quadrant targets with special meaning: instead of naming a view, a tap zone
// may step the rotation.
const (
	QuadrantNext     = "NEXT"
	QuadrantPrevious = "PREVIOUS"
)

// RotationConfig controls automatic rotation for a channel. Delay is the
// fallback rotation delay in milliseconds for views that declare neither
// rotate_after nor rotate_at.
type RotationConfig struct {
	Enabled bool  `json:"enabled"`
	Delay   int64 `json:"delay"`
}

// ChannelConfig is the persisted configuration of one logical channel:
// an ordered list of member view IDs, rotation settings, and optional
// tap-zone mappings.
type ChannelConfig struct {
	Views     []string          `json:"views"`
	Rotation  RotationConfig    `json:"rotation"`
	Quadrants map[string]string `json:"quadrants,omitempty"`
}

// HasView reports whether the given view ID is a channel member.
func (c *ChannelConfig) HasView(viewID string) bool {
	for _, id := range c.Views {
		if id == viewID {
			return true
		}
	}
	return false
}

// --- Push events ---

// EventType is the kind of a push event delivered to sinks.
type EventType string

const (
	EventInitialView EventType = "initial_view"
	EventViewChange  EventType = "view_change"
)

// PushEvent is the wire shape of a view-change notification. View is nil when
// a channel has no displayable view.
type PushEvent struct {
	Type EventType `json:"type"`
	View *View     `json:"view"`
}

// --- Collaborator interfaces ---

// Subscription is an active bus subscription. Close unsubscribes; closing
// twice is a no-op.
type Subscription interface {
	Close()
}

// Bus is the publish/subscribe transport between scheduler and hubs.
// Delivery is at-least-once and ordered per topic per publisher connection.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler func(payload []byte)) (Subscription, error)
}

// Sink abstracts one live delivery connection to a subscriber. Write must not
// block indefinitely; a failed write marks the sink dead. Done is closed when
// the underlying connection goes away, whatever the cause.
type Sink interface {
	Write(data []byte) error
	Close(reason string)
	Done() <-chan struct{}
}

// ViewRepository persists views.
type ViewRepository interface {
	Get(ctx context.Context, id string) (*View, error)
	List(ctx context.Context) ([]View, error)
	Put(ctx context.Context, v *View) error
	Delete(ctx context.Context, id string) error
}

// ChannelRepository persists channel configurations.
type ChannelRepository interface {
	Get(ctx context.Context, name string) (*ChannelConfig, error)
	List(ctx context.Context) (map[string]ChannelConfig, error)
	Put(ctx context.Context, name string, cfg *ChannelConfig) error
	Delete(ctx context.Context, name string) error
}

// GalleryStore holds the ordered image lists backing gallery views.
type GalleryStore interface {
	Images(ctx context.Context, gallery string) ([]string, error)
	Append(ctx context.Context, gallery string, urls ...string) error
	Remove(ctx context.Context, gallery string, url string) error
}

// Injector enriches a view's data in place before it is published, so the
// payload is self-contained and sinks need no follow-up request.
type Injector interface {
	Enrich(ctx context.Context, v *View) error
}
