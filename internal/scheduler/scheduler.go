package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/redisplay/server/internal/domain"
	"github.com/redisplay/server/internal/hub"
	"github.com/redisplay/server/internal/logging"
	"github.com/redisplay/server/internal/metrics"
	"github.com/redisplay/server/internal/schedule"
)

// timerTimeout bounds the work a fired rotation timer may do (repository
// loads, enrichment, publish) before giving up on that cycle.
const timerTimeout = 10 * time.Second

// Trigger labels for rotation metrics.
const (
	triggerTimer    = "timer"
	triggerManual   = "manual"
	triggerNext     = "next"
	triggerPrevious = "previous"
)

// Scheduler owns the per-channel rotation state: which view is current,
// which views are manually overridden, and the outstanding rotation timer.
// All collaborators are injected at construction; the scheduler never
// resolves them on demand.
type Scheduler struct {
	clock     clockwork.Clock
	views     domain.ViewRepository
	channels  domain.ChannelRepository
	bus       domain.Bus
	galleries domain.GalleryStore
	injectors map[domain.ViewType]domain.Injector

	mu    sync.Mutex
	state map[string]*channelState
}

// channelState is the mutable rotation state of one channel. Its mutex
// serializes all mutation for that channel; slow work on one channel never
// blocks another.
type channelState struct {
	mu           sync.Mutex
	current      string
	activatedAt  time.Time
	overrides    map[string]time.Time
	timer        clockwork.Timer
	generation   uint64
	galleryIndex map[string]int
}

// New creates a rotation scheduler. The injectors map keys enrichment
// collaborators by view type; gallery views are enriched by the scheduler
// itself because the per-view rotation index is scheduler state.
func New(
	clock clockwork.Clock,
	views domain.ViewRepository,
	channels domain.ChannelRepository,
	b domain.Bus,
	galleries domain.GalleryStore,
	injectors map[domain.ViewType]domain.Injector,
) *Scheduler {
	if injectors == nil {
		injectors = map[domain.ViewType]domain.Injector{}
	}
	return &Scheduler{
		clock:     clock,
		views:     views,
		channels:  channels,
		bus:       b,
		galleries: galleries,
		injectors: injectors,
		state:     make(map[string]*channelState),
	}
}

// Stop cancels every outstanding rotation timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.state {
		st.mu.Lock()
		s.cancelTimerLocked(st)
		st.mu.Unlock()
	}
}

func (s *Scheduler) stateFor(channel string) *channelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[channel]
	if !ok {
		st = &channelState{
			overrides:    make(map[string]time.Time),
			galleryIndex: make(map[string]int),
		}
		s.state[channel] = st
	}
	return st
}

// GetCurrentView resolves the channel's displayable view without mutating
// rotation state. An overridden current view is returned unconditionally;
// an ineligible one falls through to the first eligible member in configured
// order. A nil view with a nil error means the channel has nothing to show.
func (s *Scheduler) GetCurrentView(ctx context.Context, channel string) (*domain.View, error) {
	cfg, err := s.channels.Get(ctx, channel)
	if err != nil {
		return nil, err
	}

	st := s.stateFor(channel)
	st.mu.Lock()
	defer st.mu.Unlock()

	return s.resolveLocked(ctx, st, cfg)
}

// Activate resolves the channel's current view like GetCurrentView, but
// commits the selection, enriches the view, and (re)arms the rotation timer.
// Used when a sink subscribes: the returned view backs its initial_view event.
func (s *Scheduler) Activate(ctx context.Context, channel string) (*domain.View, error) {
	cfg, err := s.channels.Get(ctx, channel)
	if err != nil {
		return nil, err
	}

	st := s.stateFor(channel)
	st.mu.Lock()
	defer st.mu.Unlock()

	v, err := s.resolveLocked(ctx, st, cfg)
	if err != nil {
		return nil, err
	}
	if v == nil {
		s.cancelTimerLocked(st)
		return nil, nil
	}
	changed := v.ID != st.current
	if changed {
		st.current = v.ID
		st.activatedAt = s.clock.Now()
	}
	injected := s.injectLocked(ctx, st, v)

	// A repeat activation of the unchanged current view (a sink reconnecting)
	// must not reset the countdown for everyone already watching.
	if changed || st.timer == nil {
		s.armLocked(ctx, channel, st, cfg, v)
	}
	return injected, nil
}

// SetCurrentView activates the given view on the channel. A manual trigger
// marks the view overridden: it keeps showing across rotation cycles until
// it becomes schedule-ineligible or another view is selected.
func (s *Scheduler) SetCurrentView(ctx context.Context, channel, viewID string, manual bool) error {
	cfg, err := s.channels.Get(ctx, channel)
	if err != nil {
		return err
	}
	if !cfg.HasView(viewID) {
		return fmt.Errorf("view %q on channel %q: %w", viewID, channel, domain.ErrNotChannelMember)
	}
	v, err := s.views.Get(ctx, viewID)
	if err != nil {
		return err
	}

	st := s.stateFor(channel)
	st.mu.Lock()
	defer st.mu.Unlock()

	trigger := triggerManual
	if !manual {
		trigger = "api"
	}
	s.activateLocked(ctx, channel, st, cfg, v, manual, trigger)
	return nil
}

// NextView steps the channel forward to the next eligible member, skipping
// empty galleries. With no current view it lands on the first candidate.
func (s *Scheduler) NextView(ctx context.Context, channel string) error {
	return s.step(ctx, channel, +1, triggerNext)
}

// PreviousView steps the channel backward. With no current view it lands on
// the last candidate.
func (s *Scheduler) PreviousView(ctx context.Context, channel string) error {
	return s.step(ctx, channel, -1, triggerPrevious)
}

func (s *Scheduler) step(ctx context.Context, channel string, dir int, trigger string) error {
	cfg, err := s.channels.Get(ctx, channel)
	if err != nil {
		return err
	}

	st := s.stateFor(channel)
	st.mu.Lock()
	defer st.mu.Unlock()

	return s.rotateLocked(ctx, channel, st, cfg, dir, trigger)
}

// resolveLocked implements the current-view selection rules against a
// snapshot of the channel state. Read-only.
func (s *Scheduler) resolveLocked(ctx context.Context, st *channelState, cfg *domain.ChannelConfig) (*domain.View, error) {
	now := s.clock.Now()

	if st.current != "" && cfg.HasView(st.current) {
		v, err := s.views.Get(ctx, st.current)
		switch {
		case errors.Is(err, domain.ErrViewNotFound):
			// deleted underneath us, fall through to re-selection
		case err != nil:
			return nil, err
		default:
			if _, overridden := st.overrides[st.current]; overridden {
				return v, nil
			}
			if schedule.IsEligible(v, now) && s.displayable(ctx, v) {
				return v, nil
			}
		}
	}

	for _, id := range cfg.Views {
		v, err := s.views.Get(ctx, id)
		if errors.Is(err, domain.ErrViewNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if schedule.IsEligible(v, now) && s.displayable(ctx, v) {
			return v, nil
		}
	}
	return nil, nil
}

// activateLocked commits a view as current, publishes the change, and re-arms
// the rotation timer. The caller holds st.mu and has validated membership.
func (s *Scheduler) activateLocked(ctx context.Context, channel string, st *channelState, cfg *domain.ChannelConfig, v *domain.View, manual bool, trigger string) {
	s.cancelTimerLocked(st)

	if old := st.current; old != "" && old != v.ID {
		if _, ok := st.overrides[old]; ok {
			delete(st.overrides, old)
			metrics.SchedulerActiveOverrides.Dec()
		}
	}

	now := s.clock.Now()
	if manual {
		if _, ok := st.overrides[v.ID]; !ok {
			metrics.SchedulerActiveOverrides.Inc()
		}
		st.overrides[v.ID] = now
	}
	st.current = v.ID
	st.activatedAt = now

	injected := s.injectLocked(ctx, st, v)
	s.publish(ctx, channel, injected)
	metrics.SchedulerRotationsTotal.WithLabelValues(trigger).Inc()

	s.armLocked(ctx, channel, st, cfg, v)
}

// rotateLocked walks the eligible member list from the current view's index
// and activates the neighbor in the given direction.
func (s *Scheduler) rotateLocked(ctx context.Context, channel string, st *channelState, cfg *domain.ChannelConfig, dir int, trigger string) error {
	candidates, err := s.eligibleMembers(ctx, cfg)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		slog.Debug("no eligible view to rotate to", "channel", channel)
		s.cancelTimerLocked(st)
		return nil
	}

	idx := -1
	for i, c := range candidates {
		if c.ID == st.current {
			idx = i
			break
		}
	}

	var target *domain.View
	if idx == -1 {
		if dir > 0 {
			target = candidates[0]
		} else {
			target = candidates[len(candidates)-1]
		}
	} else {
		n := len(candidates)
		target = candidates[(idx+dir+n)%n]
	}

	s.activateLocked(ctx, channel, st, cfg, target, false, trigger)
	return nil
}

// armLocked cancels any outstanding timer and arms a new one for the given
// view. No timer is armed when rotation is disabled, fewer than two eligible
// candidates exist, or no delay applies.
func (s *Scheduler) armLocked(ctx context.Context, channel string, st *channelState, cfg *domain.ChannelConfig, v *domain.View) {
	s.cancelTimerLocked(st)

	if !cfg.Rotation.Enabled {
		return
	}
	candidates, err := s.eligibleMembers(ctx, cfg)
	if err != nil {
		slog.Warn("skipping rotation arm, could not load candidates", "channel", channel, "error", err)
		return
	}
	if len(candidates) < 2 {
		return
	}
	delay, ok := resolveDelay(v.Metadata, cfg.Rotation.Delay, s.clock.Now())
	if !ok {
		return
	}

	gen := st.generation
	target := v.ID
	st.timer = s.clock.AfterFunc(delay, func() {
		s.onTimer(channel, gen, target)
	})
}

// cancelTimerLocked stops the outstanding timer and bumps the generation so
// a fire already in flight detects it is stale.
func (s *Scheduler) cancelTimerLocked(st *channelState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.generation++
}

// onTimer handles a rotation timer fire. A stale generation or a superseded
// current view is a silent no-op. An overridden, still-eligible view re-arms
// without rotating; an overridden, no-longer-eligible view loses its
// override and rotates.
func (s *Scheduler) onTimer(channel string, gen uint64, target string) {
	ctx, cancel := context.WithTimeout(context.Background(), timerTimeout)
	defer cancel()

	st := s.stateFor(channel)
	st.mu.Lock()
	defer st.mu.Unlock()

	if gen != st.generation || st.current != target {
		metrics.SchedulerStaleTimerFiresTotal.Inc()
		return
	}

	cfg, err := s.channels.Get(ctx, channel)
	if err != nil {
		slog.Warn("rotation fire could not load channel", "channel", channel, "error", err)
		return
	}

	if _, overridden := st.overrides[target]; overridden {
		v, err := s.views.Get(ctx, target)
		if err == nil && cfg.HasView(target) && schedule.IsEligible(v, s.clock.Now()) {
			s.armLocked(ctx, channel, st, cfg, v)
			return
		}
		delete(st.overrides, target)
		metrics.SchedulerActiveOverrides.Dec()
	}

	if err := s.rotateLocked(ctx, channel, st, cfg, +1, triggerTimer); err != nil {
		slog.Warn("rotation failed", "channel", channel, "error", err)
	}
}

// eligibleMembers returns the channel members that exist, pass the schedule
// check, and are displayable, preserving configured order.
func (s *Scheduler) eligibleMembers(ctx context.Context, cfg *domain.ChannelConfig) ([]*domain.View, error) {
	now := s.clock.Now()
	var out []*domain.View
	for _, id := range cfg.Views {
		v, err := s.views.Get(ctx, id)
		if errors.Is(err, domain.ErrViewNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !schedule.IsEligible(v, now) {
			continue
		}
		if !s.displayable(ctx, v) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// displayable reports whether a view has content to show. Only gallery views
// can be empty; a gallery store read failure counts as displayable so a
// flaky store cannot blank the channel.
func (s *Scheduler) displayable(ctx context.Context, v *domain.View) bool {
	if v.Metadata.Type != domain.ViewTypeGallery {
		return true
	}
	if v.Metadata.Source == "" {
		return false
	}
	images, err := s.galleries.Images(ctx, v.Metadata.Source)
	if err != nil {
		slog.Warn("gallery emptiness check failed", "view_id", v.ID, "error", err)
		return true
	}
	return len(images) > 0
}

// injectLocked clones the view and merges type-specific enrichment into the
// copy. Failures are logged and swallowed; the view is published without the
// enriched fields rather than failing the rotation.
func (s *Scheduler) injectLocked(ctx context.Context, st *channelState, v *domain.View) *domain.View {
	c := v.Clone()

	if c.Metadata.Type == domain.ViewTypeGallery {
		s.injectGalleryLocked(ctx, st, c)
		return c
	}

	inj, ok := s.injectors[c.Metadata.Type]
	if !ok {
		return c
	}
	if err := inj.Enrich(ctx, c); err != nil {
		metrics.EnrichmentFailuresTotal.WithLabelValues(string(c.Metadata.Type)).Inc()
		logging.WithView(c.ID).Warn("enrichment failed", "type", c.Metadata.Type, "error", err)
	}
	return c
}

// injectGalleryLocked substitutes the gallery's next image into the view and
// advances that view's rotation index, wrapping modulo the image count.
func (s *Scheduler) injectGalleryLocked(ctx context.Context, st *channelState, c *domain.View) {
	images, err := s.galleries.Images(ctx, c.Metadata.Source)
	if err != nil {
		metrics.EnrichmentFailuresTotal.WithLabelValues(string(domain.ViewTypeGallery)).Inc()
		logging.WithView(c.ID).Warn("gallery enrichment failed", "gallery", c.Metadata.Source, "error", err)
		return
	}
	if len(images) == 0 {
		return
	}
	idx := st.galleryIndex[c.ID] % len(images)
	c.Data["image"] = images[idx]
	c.Data["image_index"] = idx
	c.Data["image_count"] = len(images)
	st.galleryIndex[c.ID] = idx + 1
}

func (s *Scheduler) publish(ctx context.Context, channel string, v *domain.View) {
	payload, err := json.Marshal(domain.PushEvent{Type: domain.EventViewChange, View: v})
	if err != nil {
		slog.Error("could not encode view change", "channel", channel, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, hub.Topic(channel), payload); err != nil {
		slog.Warn("view change publish failed", "channel", channel, "view_id", v.ID, "error", err)
	}
}
