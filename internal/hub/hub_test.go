package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redisplay/server/internal/bus"
	"github.com/redisplay/server/internal/domain"
)

// fakeSink is an in-memory domain.Sink recording everything written to it.
type fakeSink struct {
	mu      sync.Mutex
	wrote   [][]byte
	failing bool
	closed  bool
	reason  string
	done    chan struct{}
	once    sync.Once
}

func newFakeSink() *fakeSink {
	return &fakeSink{done: make(chan struct{})}
}

func (f *fakeSink) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("broken pipe")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.wrote = append(f.wrote, cp)
	return nil
}

func (f *fakeSink) Close(reason string) {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.reason = reason
		f.mu.Unlock()
		close(f.done)
	})
}

func (f *fakeSink) Done() <-chan struct{} { return f.done }

func (f *fakeSink) fail() {
	f.mu.Lock()
	f.failing = true
	f.mu.Unlock()
}

func (f *fakeSink) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.wrote))
	copy(out, f.wrote)
	return out
}

func (f *fakeSink) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestHub(t *testing.T) (*Hub, *bus.MemoryBus) {
	t.Helper()
	b := bus.NewMemoryBus()
	h := New(b, nil, clockwork.NewRealClock(), 50)
	t.Cleanup(h.Stop)
	return h, b
}

// waitFor polls until cond holds or the timeout expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	for range 200 {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestHub_SubscribeAndFanOut(t *testing.T) {
	h, _ := newTestHub(t)

	s1 := newFakeSink()
	s2 := newFakeSink()
	require.NoError(t, h.Subscribe("lobby", "origin-1", s1))
	require.NoError(t, h.Subscribe("lobby", "origin-2", s2))

	require.NoError(t, h.SendToChannel(context.Background(), "lobby", []byte(`{"hello":"world"}`)))

	waitFor(t, func() bool { return len(s1.messages()) == 1 && len(s2.messages()) == 1 })
	assert.JSONEq(t, `{"hello":"world"}`, string(s1.messages()[0]))
}

func TestHub_MessageStaysOnItsChannel(t *testing.T) {
	h, _ := newTestHub(t)

	lobby := newFakeSink()
	kitchen := newFakeSink()
	require.NoError(t, h.Subscribe("lobby", "origin-1", lobby))
	require.NoError(t, h.Subscribe("kitchen", "origin-2", kitchen))

	require.NoError(t, h.SendToChannel(context.Background(), "lobby", []byte(`{"n":1}`)))

	waitFor(t, func() bool { return len(lobby.messages()) == 1 })
	assert.Empty(t, kitchen.messages())
}

func TestHub_OriginExclusivity(t *testing.T) {
	h, _ := newTestHub(t)

	first := newFakeSink()
	require.NoError(t, h.Subscribe("lobby", "display-42", first))

	// Same origin reconnects, even on another channel: the old sink goes.
	second := newFakeSink()
	require.NoError(t, h.Subscribe("kitchen", "display-42", second))

	waitFor(t, first.isClosed)
	waitFor(t, func() bool { return h.SinkCount("lobby") == 0 })
	assert.Equal(t, 1, h.SinkCount("kitchen"))

	// Only the new sink receives traffic.
	require.NoError(t, h.SendToChannel(context.Background(), "kitchen", []byte(`{"n":2}`)))
	waitFor(t, func() bool { return len(second.messages()) == 1 })
	assert.Empty(t, first.messages())
}

func TestHub_BusSubscriptionIsRefCounted(t *testing.T) {
	h, b := newTestHub(t)

	s1 := newFakeSink()
	s2 := newFakeSink()
	require.NoError(t, h.Subscribe("lobby", "origin-1", s1))
	require.NoError(t, h.Subscribe("lobby", "origin-2", s2))
	assert.Equal(t, 1, b.SubscriberCount(Topic("lobby")), "one bus subscription regardless of sink count")

	h.Unsubscribe("lobby", s1)
	waitFor(t, func() bool { return h.SinkCount("lobby") == 1 })
	assert.Equal(t, 1, b.SubscriberCount(Topic("lobby")))

	h.Unsubscribe("lobby", s2)
	waitFor(t, func() bool { return b.SubscriberCount(Topic("lobby")) == 0 })

	// Subscribing again restores exactly one.
	s3 := newFakeSink()
	require.NoError(t, h.Subscribe("lobby", "origin-3", s3))
	assert.Equal(t, 1, b.SubscriberCount(Topic("lobby")))
}

func TestHub_UnsubscribeTwiceIsANoOp(t *testing.T) {
	h, _ := newTestHub(t)

	s := newFakeSink()
	require.NoError(t, h.Subscribe("lobby", "origin-1", s))

	h.Unsubscribe("lobby", s)
	h.Unsubscribe("lobby", s)
	waitFor(t, func() bool { return h.SinkCount("lobby") == 0 })
}

func TestHub_SinkCloseTriggersAutoUnsubscribe(t *testing.T) {
	h, b := newTestHub(t)

	s := newFakeSink()
	require.NoError(t, h.Subscribe("lobby", "origin-1", s))

	// Simulate the underlying connection dropping.
	s.Close("connection lost")

	waitFor(t, func() bool { return h.SinkCount("lobby") == 0 })
	waitFor(t, func() bool { return b.SubscriberCount(Topic("lobby")) == 0 })
}

func TestHub_WriteFailureDropsOnlyThatSink(t *testing.T) {
	h, _ := newTestHub(t)

	bad := newFakeSink()
	good := newFakeSink()
	require.NoError(t, h.Subscribe("lobby", "origin-bad", bad))
	require.NoError(t, h.Subscribe("lobby", "origin-good", good))

	bad.fail()
	require.NoError(t, h.SendToChannel(context.Background(), "lobby", []byte(`{"n":1}`)))

	waitFor(t, func() bool { return len(good.messages()) == 1 })
	waitFor(t, func() bool { return h.SinkCount("lobby") == 1 })
	assert.True(t, bad.isClosed())

	// The healthy sink keeps receiving.
	require.NoError(t, h.SendToChannel(context.Background(), "lobby", []byte(`{"n":2}`)))
	waitFor(t, func() bool { return len(good.messages()) == 2 })
}

func TestHub_MaxSinksPerChannel(t *testing.T) {
	b := bus.NewMemoryBus()
	h := New(b, nil, clockwork.NewRealClock(), 1)
	t.Cleanup(h.Stop)

	require.NoError(t, h.Subscribe("lobby", "origin-1", newFakeSink()))

	rejected := newFakeSink()
	err := h.Subscribe("lobby", "origin-2", rejected)
	assert.ErrorContains(t, err, "max sinks")
	assert.True(t, rejected.isClosed())
	assert.Equal(t, 1, h.SinkCount("lobby"))
}

func TestHub_UndecodablePayloadIsStillDelivered(t *testing.T) {
	b := bus.NewMemoryBus()
	h := New(b, NewRewriter("https://displays.example.com"), clockwork.NewRealClock(), 50)
	t.Cleanup(h.Stop)

	s := newFakeSink()
	require.NoError(t, h.Subscribe("lobby", "origin-1", s))

	// A payload the rewriter cannot decode passes through byte for byte.
	raw := []byte("\x00not an event")
	require.NoError(t, h.SendToChannel(context.Background(), "lobby", raw))

	waitFor(t, func() bool { return len(s.messages()) == 1 })
	assert.Equal(t, raw, s.messages()[0])
}

func TestHub_RewritesViewURLsOnFanOut(t *testing.T) {
	b := bus.NewMemoryBus()
	h := New(b, NewRewriter("https://displays.example.com"), clockwork.NewRealClock(), 50)
	t.Cleanup(h.Stop)

	s := newFakeSink()
	require.NoError(t, h.Subscribe("lobby", "origin-1", s))

	event := domain.PushEvent{
		Type: domain.EventViewChange,
		View: &domain.View{
			ID:       "gallery-1",
			Metadata: domain.ViewMetadata{Type: domain.ViewTypeGallery},
			Data: map[string]any{
				"url":     "store://gallery-1/photo.jpg",
				"caption": "holiday",
			},
		},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, h.SendToChannel(context.Background(), "lobby", payload))

	waitFor(t, func() bool { return len(s.messages()) == 1 })

	var got domain.PushEvent
	require.NoError(t, json.Unmarshal(s.messages()[0], &got))
	assert.Equal(t, "https://displays.example.com/assets/gallery-1/photo.jpg", got.View.Data["url"])
	assert.Equal(t, "holiday", got.View.Data["caption"])
}

func TestHub_SendToSinkAppliesRewrite(t *testing.T) {
	b := bus.NewMemoryBus()
	h := New(b, NewRewriter("https://displays.example.com"), clockwork.NewRealClock(), 50)
	t.Cleanup(h.Stop)

	s := newFakeSink()
	event := domain.PushEvent{
		Type: domain.EventInitialView,
		View: &domain.View{
			ID:   "v1",
			Data: map[string]any{"url": "store://bucket/key.png"},
		},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, h.SendToSink(s, payload))

	var got domain.PushEvent
	require.NoError(t, json.Unmarshal(s.messages()[0], &got))
	assert.Equal(t, "https://displays.example.com/assets/bucket/key.png", got.View.Data["url"])
}
