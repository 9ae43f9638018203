package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/redisplay/server/internal/domain"
	"github.com/redisplay/server/internal/enrich"
	apperrors "github.com/redisplay/server/internal/errors"
	"github.com/redisplay/server/internal/schedule"
	"github.com/redisplay/server/internal/scheduler"
)

// Rotator is the scheduler surface the service depends on.
type Rotator interface {
	GetCurrentView(ctx context.Context, channel string) (*domain.View, error)
	Activate(ctx context.Context, channel string) (*domain.View, error)
	SetCurrentView(ctx context.Context, channel, viewID string, manual bool) error
	NextView(ctx context.Context, channel string) error
	PreviousView(ctx context.Context, channel string) error
}

// Broadcaster is the hub surface the service depends on.
type Broadcaster interface {
	Subscribe(channel, origin string, s domain.Sink) error
	Unsubscribe(channel string, s domain.Sink)
	SendToChannel(ctx context.Context, channel string, message []byte) error
	SendToSink(s domain.Sink, payload []byte) error
}

// BlobWriter is the write side of the enrichment blob cache.
type BlobWriter interface {
	Put(ctx context.Context, kind, source string, blob map[string]any) error
	Get(ctx context.Context, kind, source string) (map[string]any, error)
	Delete(ctx context.Context, kind, source string) error
}

// Service is the application layer. It orchestrates all use cases and is
// the only component that references multiple collaborators.
type Service struct {
	views     domain.ViewRepository
	channels  domain.ChannelRepository
	rotator   Rotator
	hub       Broadcaster
	galleries domain.GalleryStore
	blobs     BlobWriter
}

func NewService(
	views domain.ViewRepository,
	channels domain.ChannelRepository,
	rotator Rotator,
	hub Broadcaster,
	galleries domain.GalleryStore,
	blobs BlobWriter,
) *Service {
	return &Service{
		views:     views,
		channels:  channels,
		rotator:   rotator,
		hub:       hub,
		galleries: galleries,
		blobs:     blobs,
	}
}

// --- view CRUD ---

// CreateView validates and stores a new view. An empty ID gets a generated
// UUID; an existing ID is a conflict.
func (s *Service) CreateView(ctx context.Context, v *domain.View) (*domain.View, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if err := validateView(v); err != nil {
		return nil, err
	}

	_, err := s.views.Get(ctx, v.ID)
	if err == nil {
		return nil, apperrors.ConflictError("view already exists").WithContext("view_id", v.ID)
	}
	if !errors.Is(err, domain.ErrViewNotFound) {
		return nil, apperrors.InternalError("failed to check view", err)
	}

	if err := s.views.Put(ctx, v); err != nil {
		return nil, apperrors.InternalError("failed to save view", err)
	}
	return v, nil
}

// UpdateView validates and replaces an existing view.
func (s *Service) UpdateView(ctx context.Context, v *domain.View) (*domain.View, error) {
	if err := validateView(v); err != nil {
		return nil, err
	}

	if _, err := s.views.Get(ctx, v.ID); err != nil {
		if errors.Is(err, domain.ErrViewNotFound) {
			return nil, apperrors.NotFoundError("view not found").WithContext("view_id", v.ID)
		}
		return nil, apperrors.InternalError("failed to check view", err)
	}

	if err := s.views.Put(ctx, v); err != nil {
		return nil, apperrors.InternalError("failed to save view", err)
	}
	return v, nil
}

func (s *Service) GetView(ctx context.Context, id string) (*domain.View, error) {
	v, err := s.views.Get(ctx, id)
	if errors.Is(err, domain.ErrViewNotFound) {
		return nil, apperrors.NotFoundError("view not found").WithContext("view_id", id)
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load view", err)
	}
	return v, nil
}

func (s *Service) ListViews(ctx context.Context) ([]domain.View, error) {
	views, err := s.views.List(ctx)
	if err != nil {
		return nil, apperrors.InternalError("failed to list views", err)
	}
	return views, nil
}

func (s *Service) DeleteView(ctx context.Context, id string) error {
	err := s.views.Delete(ctx, id)
	if errors.Is(err, domain.ErrViewNotFound) {
		return apperrors.NotFoundError("view not found").WithContext("view_id", id)
	}
	if err != nil {
		return apperrors.InternalError("failed to delete view", err)
	}
	return nil
}

func validateView(v *domain.View) error {
	if v.Metadata.RotateAfter < 0 {
		return apperrors.ValidationError("rotate_after must not be negative")
	}
	if v.Metadata.RotateAt != "" {
		if _, err := scheduler.ParseRotateAt(v.Metadata.RotateAt, time.Now()); err != nil {
			return apperrors.ValidationError(err.Error())
		}
	}
	if err := schedule.ValidateRule(v.Metadata.Schedule); err != nil {
		return apperrors.ValidationError(err.Error()).WithContext("view_id", v.ID)
	}
	if v.Metadata.Type == domain.ViewTypeGallery && v.Metadata.Source == "" {
		return apperrors.ValidationError("gallery views need a source gallery name")
	}
	return nil
}

// --- channel configuration ---

// SaveChannel validates and stores a channel configuration. Every member
// must exist; every quadrant target must be a member or a rotation step.
func (s *Service) SaveChannel(ctx context.Context, name string, cfg *domain.ChannelConfig) error {
	if name == "" {
		return apperrors.ValidationError("channel name must not be empty")
	}
	if cfg.Rotation.Delay < 0 {
		return apperrors.ValidationError("rotation delay must not be negative")
	}
	for _, id := range cfg.Views {
		if _, err := s.views.Get(ctx, id); err != nil {
			if errors.Is(err, domain.ErrViewNotFound) {
				return apperrors.ValidationError("channel references unknown view").WithContext("view_id", id)
			}
			return apperrors.InternalError("failed to check member view", err)
		}
	}
	for zone, target := range cfg.Quadrants {
		if target == domain.QuadrantNext || target == domain.QuadrantPrevious {
			continue
		}
		if !cfg.HasView(target) {
			return apperrors.ValidationError("quadrant target is not a channel member").
				WithContext("zone", zone).
				WithContext("target", target)
		}
	}

	if err := s.channels.Put(ctx, name, cfg); err != nil {
		return apperrors.InternalError("failed to save channel", err)
	}
	return nil
}

func (s *Service) GetChannel(ctx context.Context, name string) (*domain.ChannelConfig, error) {
	cfg, err := s.channels.Get(ctx, name)
	if errors.Is(err, domain.ErrChannelNotFound) {
		return nil, apperrors.NotFoundError("channel not found").WithContext("channel", name)
	}
	if err != nil {
		return nil, apperrors.InternalError("failed to load channel", err)
	}
	return cfg, nil
}

func (s *Service) ListChannels(ctx context.Context) (map[string]domain.ChannelConfig, error) {
	channels, err := s.channels.List(ctx)
	if err != nil {
		return nil, apperrors.InternalError("failed to list channels", err)
	}
	return channels, nil
}

func (s *Service) DeleteChannel(ctx context.Context, name string) error {
	err := s.channels.Delete(ctx, name)
	if errors.Is(err, domain.ErrChannelNotFound) {
		return apperrors.NotFoundError("channel not found").WithContext("channel", name)
	}
	if err != nil {
		return apperrors.InternalError("failed to delete channel", err)
	}
	return nil
}

// --- subscription and distribution ---

// AttachSink registers a sink on a channel and delivers the initial_view
// event directly to it. The event is sent to the new sink only; existing
// sinks keep their state.
func (s *Service) AttachSink(ctx context.Context, channel, origin string, sink domain.Sink) error {
	if _, err := s.GetChannel(ctx, channel); err != nil {
		return err
	}
	if err := s.hub.Subscribe(channel, origin, sink); err != nil {
		return apperrors.ConflictError("subscription rejected").
			WithContext("channel", channel).
			WithContext("cause", err.Error())
	}

	v, err := s.rotator.Activate(ctx, channel)
	if err != nil {
		slog.Warn("could not resolve initial view", "channel", channel, "error", err)
		v = nil
	}

	payload, err := json.Marshal(domain.PushEvent{Type: domain.EventInitialView, View: v})
	if err != nil {
		return apperrors.InternalError("failed to encode initial view", err)
	}
	if err := s.hub.SendToSink(sink, payload); err != nil {
		s.hub.Unsubscribe(channel, sink)
		return apperrors.ExternalError("failed to deliver initial view", err)
	}
	return nil
}

// CurrentView returns the channel's displayable view, nil when absent.
func (s *Service) CurrentView(ctx context.Context, channel string) (*domain.View, error) {
	v, err := s.rotator.GetCurrentView(ctx, channel)
	if err != nil {
		return nil, mapSchedulerError(err)
	}
	return v, nil
}

// ActivateView manually forces a view active on a channel, overriding
// schedule-based rotation until it becomes ineligible or is replaced.
func (s *Service) ActivateView(ctx context.Context, channel, viewID string) error {
	if err := s.rotator.SetCurrentView(ctx, channel, viewID, true); err != nil {
		return mapSchedulerError(err)
	}
	return nil
}

// NextView steps the channel rotation forward.
func (s *Service) NextView(ctx context.Context, channel string) error {
	if err := s.rotator.NextView(ctx, channel); err != nil {
		return mapSchedulerError(err)
	}
	return nil
}

// PreviousView steps the channel rotation backward.
func (s *Service) PreviousView(ctx context.Context, channel string) error {
	if err := s.rotator.PreviousView(ctx, channel); err != nil {
		return mapSchedulerError(err)
	}
	return nil
}

// SendMessage broadcasts an arbitrary JSON message to all channel sinks.
func (s *Service) SendMessage(ctx context.Context, channel string, message []byte) error {
	if !json.Valid(message) {
		return apperrors.ValidationError("message must be valid JSON")
	}
	if _, err := s.GetChannel(ctx, channel); err != nil {
		return err
	}
	if err := s.hub.SendToChannel(ctx, channel, message); err != nil {
		return apperrors.ExternalError("failed to publish message", err)
	}
	return nil
}

// Tap dispatches a tap-zone hit. A zone with no configured mapping does
// nothing; NEXT and PREVIOUS step the rotation; a view ID activates that
// view with an override.
func (s *Service) Tap(ctx context.Context, channel, zone string) error {
	cfg, err := s.GetChannel(ctx, channel)
	if err != nil {
		return err
	}

	target, ok := cfg.Quadrants[zone]
	if !ok {
		slog.Debug("tap zone has no mapping", "channel", channel, "zone", zone)
		return nil
	}

	switch target {
	case domain.QuadrantNext:
		return s.NextView(ctx, channel)
	case domain.QuadrantPrevious:
		return s.PreviousView(ctx, channel)
	default:
		return s.ActivateView(ctx, channel, target)
	}
}

// --- enrichment sources ---

// GalleryImages lists the image URLs of a gallery in order.
func (s *Service) GalleryImages(ctx context.Context, gallery string) ([]string, error) {
	images, err := s.galleries.Images(ctx, gallery)
	if err != nil {
		return nil, apperrors.ExternalError("failed to read gallery", err).WithContext("gallery", gallery)
	}
	return images, nil
}

// AddGalleryImages appends image URLs to a gallery.
func (s *Service) AddGalleryImages(ctx context.Context, gallery string, urls ...string) error {
	if len(urls) == 0 {
		return apperrors.ValidationError("no image URLs given")
	}
	if err := s.galleries.Append(ctx, gallery, urls...); err != nil {
		return apperrors.ExternalError("failed to extend gallery", err).WithContext("gallery", gallery)
	}
	return nil
}

// RemoveGalleryImage removes an image URL from a gallery.
func (s *Service) RemoveGalleryImage(ctx context.Context, gallery, url string) error {
	if err := s.galleries.Remove(ctx, gallery, url); err != nil {
		return apperrors.ExternalError("failed to shrink gallery", err).WithContext("gallery", gallery)
	}
	return nil
}

// UpdateSource stores the data blob backing enrichable views of the given
// kind, typically written by an external poller.
func (s *Service) UpdateSource(ctx context.Context, kind, source string, blob map[string]any) error {
	if !enrichableKind(kind) {
		return apperrors.ValidationError("unknown source kind").WithContext("kind", kind)
	}
	if source == "" {
		return apperrors.ValidationError("source must not be empty")
	}
	if err := s.blobs.Put(ctx, kind, source, blob); err != nil {
		return apperrors.ExternalError("failed to store source blob", err)
	}
	return nil
}

// GetSource returns the stored data blob for an enrichable source.
func (s *Service) GetSource(ctx context.Context, kind, source string) (map[string]any, error) {
	if !enrichableKind(kind) {
		return nil, apperrors.ValidationError("unknown source kind").WithContext("kind", kind)
	}
	blob, err := s.blobs.Get(ctx, kind, source)
	if errors.Is(err, enrich.ErrBlobNotFound) {
		return nil, apperrors.NotFoundError("source not found").
			WithContext("kind", kind).
			WithContext("source", source)
	}
	if err != nil {
		return nil, apperrors.ExternalError("failed to read source blob", err)
	}
	return blob, nil
}

func enrichableKind(kind string) bool {
	switch domain.ViewType(kind) {
	case domain.ViewTypeWeather, domain.ViewTypeCalendar, domain.ViewTypeWebcam:
		return true
	}
	return false
}

func mapSchedulerError(err error) error {
	switch {
	case errors.Is(err, domain.ErrChannelNotFound):
		return apperrors.NotFoundError("channel not found")
	case errors.Is(err, domain.ErrViewNotFound):
		return apperrors.NotFoundError("view not found")
	case errors.Is(err, domain.ErrNotChannelMember):
		return apperrors.ValidationError(fmt.Sprintf("cannot activate: %v", err))
	default:
		return apperrors.InternalError("rotation failed", err)
	}
}
