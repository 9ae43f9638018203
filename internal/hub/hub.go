package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/redisplay/server/internal/domain"
	"github.com/redisplay/server/internal/logging"
	"github.com/redisplay/server/internal/metrics"
)

const (
	commandTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	cmdChannelSize = 256
	depthWarnMark  = 200 // 80% of cmdChannelSize
)

// hubCmd is the command interface for the Hub actor.
type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type subscribeCmd struct {
	baseHubCmd
	channel string
	origin  string
	sink    domain.Sink
	errCh   chan error
}

type unsubscribeCmd struct {
	baseHubCmd
	channel string
	sink    domain.Sink
}

type deliverCmd struct {
	baseHubCmd
	channel string
	payload []byte
}

type sinkCountCmd struct {
	baseHubCmd
	channel string
	replyCh chan int
}

type stopCmd struct {
	baseHubCmd
}

type channelState struct {
	sinks map[domain.Sink]string // sink -> origin
	sub   domain.Subscription
}

// Hub owns the live subscriber sinks per channel and bridges bus messages to
// them. All state lives inside a single actor goroutine fed by a command
// channel, so no locks guard the maps. It enforces one live connection per
// origin system-wide and holds a bus subscription per channel only while that
// channel has sinks.
type Hub struct {
	cmdCh    chan hubCmd
	clock    clockwork.Clock
	bus      domain.Bus
	rewriter *Rewriter
	channels map[string]*channelState
	origins  map[string]map[domain.Sink]string // origin -> sink -> channel
	maxSinks int
	done     chan struct{}
}

// New creates a hub and starts its actor goroutine. rewriter may be nil when
// no URL rewriting is configured. maxSinksPerChannel caps concurrent
// subscribers per channel.
func New(b domain.Bus, rewriter *Rewriter, clock clockwork.Clock, maxSinksPerChannel int) *Hub {
	h := &Hub{
		cmdCh:    make(chan hubCmd, cmdChannelSize),
		clock:    clock,
		bus:      b,
		rewriter: rewriter,
		channels: make(map[string]*channelState),
		origins:  make(map[string]map[domain.Sink]string),
		maxSinks: maxSinksPerChannel,
		done:     make(chan struct{}),
	}
	go h.run()
	return h
}

// Topic returns the bus topic for a channel.
func Topic(channel string) string {
	return "channel:" + channel
}

// Subscribe registers a sink for a channel, evicting any prior sinks from the
// same origin first. When the sink's connection closes, the hub unsubscribes
// it automatically.
func (h *Hub) Subscribe(channel, origin string, s domain.Sink) error {
	errCh := make(chan error, 1)
	h.cmdCh <- subscribeCmd{channel: channel, origin: origin, sink: s, errCh: errCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("subscribe command timed out after %v", commandTimeout)
	}
}

// Unsubscribe removes a sink from a channel. Calling it for a sink that is
// already gone is a no-op.
func (h *Hub) Unsubscribe(channel string, s domain.Sink) {
	h.cmdCh <- unsubscribeCmd{channel: channel, sink: s}
}

// SendToChannel publishes a message on the channel's topic. Delivery to sinks
// happens asynchronously via the bus fan-out.
func (h *Hub) SendToChannel(ctx context.Context, channel string, message []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return h.bus.Publish(ctx, Topic(channel), message)
}

// SendToSink writes one event directly to a single sink, applying the same
// URL rewriting the fan-out path applies. Used for initial-view delivery to a
// freshly subscribed sink.
func (h *Hub) SendToSink(s domain.Sink, payload []byte) error {
	return s.Write(h.rewritePayload(payload))
}

// SinkCount returns the number of live sinks for a channel, or -1 on timeout.
func (h *Hub) SinkCount(channel string) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- sinkCountCmd{channel: channel, replyCh: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case n := <-replyCh:
		return n
	case <-timer.Chan():
		slog.Warn("SinkCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop shuts the hub down, closing all sinks and bus subscriptions.
func (h *Hub) Stop() {
	h.cmdCh <- stopCmd{}
	<-h.done
}

func (h *Hub) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "panic", r)
			metrics.HubPanicsTotal.Inc()
			h.closeAll("hub panic")
			close(h.done)
		}
	}()

	depthTicker := h.clock.NewTicker(time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(h.cmdCh)
			metrics.HubCommandChannelDepth.Set(float64(depth))
			if depth > depthWarnMark {
				slog.Warn("Hub command channel near capacity", "depth", depth, "capacity", cap(h.cmdCh))
			}

		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case subscribeCmd:
				h.handleSubscribe(c)
			case unsubscribeCmd:
				h.handleUnsubscribe(c.channel, c.sink)
			case deliverCmd:
				h.handleDeliver(c)
			case sinkCountCmd:
				if st := h.channels[c.channel]; st != nil {
					c.replyCh <- len(st.sinks)
				} else {
					c.replyCh <- 0
				}
			case stopCmd:
				h.closeAll("server shutting down")
				close(h.done)
				return
			default:
				slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (h *Hub) handleSubscribe(c subscribeCmd) {
	// One live connection per origin, system-wide: a reconnecting display
	// replaces every sink it had, on any channel.
	h.evictOrigin(c.origin)

	st := h.channels[c.channel]
	if st == nil {
		sub, err := h.bus.Subscribe(Topic(c.channel), h.busHandler(c.channel))
		if err != nil {
			c.sink.Close("subscription failed")
			c.errCh <- fmt.Errorf("failed to open bus subscription for %q: %w", c.channel, err)
			return
		}
		st = &channelState{sinks: make(map[domain.Sink]string), sub: sub}
		h.channels[c.channel] = st
		metrics.HubActiveChannels.Set(float64(len(h.channels)))
	}

	if len(st.sinks) >= h.maxSinks {
		slog.Warn("Rejecting sink: max sinks reached", "channel", c.channel, "origin", c.origin, "max_sinks", h.maxSinks)
		c.sink.Close("channel full")
		h.dropChannelIfEmpty(c.channel, st)
		c.errCh <- fmt.Errorf("max sinks per channel (%d) reached", h.maxSinks)
		return
	}

	st.sinks[c.sink] = c.origin
	if h.origins[c.origin] == nil {
		h.origins[c.origin] = make(map[domain.Sink]string)
	}
	h.origins[c.origin][c.sink] = c.channel
	metrics.HubConnectedSinks.Inc()

	// Teardown hook: unsubscribe as soon as the underlying connection goes
	// away, however it goes away.
	go func() {
		<-c.sink.Done()
		h.Unsubscribe(c.channel, c.sink)
	}()

	slog.Debug("Sink registered", "channel", c.channel, "origin", c.origin, "total_sinks", len(st.sinks))
	c.errCh <- nil
}

// evictOrigin closes and removes every sink registered for origin.
func (h *Hub) evictOrigin(origin string) {
	sinks := h.origins[origin]
	if len(sinks) == 0 {
		return
	}

	log := logging.WithOrigin(origin)
	for s, channel := range sinks {
		log.Info("Evicting superseded connection", "channel", channel)
		metrics.HubOriginEvictionsTotal.Inc()
		s.Close("superseded by a newer connection")
		h.removeSink(channel, s)
	}
}

func (h *Hub) handleUnsubscribe(channel string, s domain.Sink) {
	st := h.channels[channel]
	if st == nil {
		return
	}
	if _, ok := st.sinks[s]; !ok {
		return
	}
	s.Close("unsubscribed")
	h.removeSink(channel, s)
}

// removeSink deletes a sink from the channel set and the origin index, and
// closes the channel's bus subscription when the set becomes empty.
func (h *Hub) removeSink(channel string, s domain.Sink) {
	st := h.channels[channel]
	if st == nil {
		return
	}
	origin, ok := st.sinks[s]
	if !ok {
		return
	}

	delete(st.sinks, s)
	metrics.HubConnectedSinks.Dec()

	if byOrigin := h.origins[origin]; byOrigin != nil {
		delete(byOrigin, s)
		if len(byOrigin) == 0 {
			delete(h.origins, origin)
		}
	}

	h.dropChannelIfEmpty(channel, st)
}

func (h *Hub) dropChannelIfEmpty(channel string, st *channelState) {
	if len(st.sinks) > 0 {
		return
	}
	st.sub.Close()
	delete(h.channels, channel)
	metrics.HubActiveChannels.Set(float64(len(h.channels)))
	slog.Info("Last sink disconnected, bus subscription closed", "channel", channel)
}

// busHandler bridges bus messages for one channel back into the actor.
func (h *Hub) busHandler(channel string) func(payload []byte) {
	return func(payload []byte) {
		h.cmdCh <- deliverCmd{channel: channel, payload: payload}
	}
}

func (h *Hub) handleDeliver(c deliverCmd) {
	st := h.channels[c.channel]
	if st == nil {
		return
	}

	payload := h.rewritePayload(c.payload)

	var dead []domain.Sink
	for s := range st.sinks {
		if err := s.Write(payload); err != nil {
			slog.Warn("Sink write failed, dropping sink", "channel", c.channel, "origin", st.sinks[s], "error", err)
			metrics.HubSinkWriteFailuresTotal.Inc()
			dead = append(dead, s)
		}
	}

	// A broken sink affects only itself: delivery to the others already
	// happened above.
	for _, s := range dead {
		s.Close("write failed")
		h.removeSink(c.channel, s)
	}
}

// rewritePayload rewrites proxyable resource URLs inside view-change events
// to their public serving form. Non-event payloads and payloads without a
// view pass through untouched.
func (h *Hub) rewritePayload(payload []byte) []byte {
	if h.rewriter == nil {
		return payload
	}

	var event domain.PushEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		metrics.HubUndecodablePayloadsTotal.Inc()
		return payload
	}
	if event.View == nil || (event.Type != domain.EventInitialView && event.Type != domain.EventViewChange) {
		return payload
	}

	h.rewriter.RewriteView(event.View)

	rewritten, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to re-marshal rewritten event", "error", err)
		return payload
	}
	return rewritten
}

func (h *Hub) closeAll(reason string) {
	total := 0
	for channel, st := range h.channels {
		for s := range st.sinks {
			s.Close(reason)
			total++
		}
		st.sub.Close()
		delete(h.channels, channel)
	}
	for origin := range h.origins {
		delete(h.origins, origin)
	}
	metrics.HubActiveChannels.Set(0)
	slog.Info("Hub shut down", "closed_sinks", total)
}
