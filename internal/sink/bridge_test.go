package sink

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redisplay/server/internal/bus"
	"github.com/redisplay/server/internal/domain"
	"github.com/redisplay/server/internal/hub"
)

type rejectingBroadcaster struct{}

func (rejectingBroadcaster) Subscribe(string, string, domain.Sink) error {
	return errors.New("channel full")
}

func TestAttachPacketTransport_EndToEnd(t *testing.T) {
	b := bus.NewMemoryBus()
	h := hub.New(b, nil, clockwork.NewRealClock(), 50)
	t.Cleanup(h.Stop)

	var mu sync.Mutex
	var frames [][]byte
	tx := func(frame []byte) error {
		mu.Lock()
		defer mu.Unlock()
		cp := make([]byte, len(frame))
		copy(cp, frame)
		frames = append(frames, cp)
		return nil
	}

	snk, err := AttachPacketTransport(h, "lobby", "radio-1", 16, tx)
	require.NoError(t, err)
	t.Cleanup(func() { snk.Close("test done") })

	payload := bytes.Repeat([]byte(`{"view":"big"}`), 10)
	require.NoError(t, h.SendToChannel(context.Background(), "lobby", payload))

	var got []byte
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		mu.Lock()
		var r Reassembler
		for _, f := range frames {
			if msg, complete, err := r.Feed(f); err != nil {
				mu.Unlock()
				t.Fatalf("reassembly failed: %v", err)
			} else if complete {
				got = msg
			}
		}
		mu.Unlock()
		if got != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}

	assert.Equal(t, payload, got)
}

func TestAttachPacketTransport_SubscriptionRejected(t *testing.T) {
	_, err := AttachPacketTransport(rejectingBroadcaster{}, "lobby", "radio-1", 16, func([]byte) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel full")
}

func TestAttachPacketTransport_RejectsTinyMTU(t *testing.T) {
	_, err := AttachPacketTransport(rejectingBroadcaster{}, "lobby", "radio-1", 1, func([]byte) error { return nil })
	assert.Error(t, err)
}
