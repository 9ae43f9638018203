package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishReachesOnlySubscribedTopic(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	var lobby, kitchen [][]byte
	subLobby, err := b.Subscribe("channel:lobby", func(p []byte) { lobby = append(lobby, p) })
	require.NoError(t, err)
	defer subLobby.Close()

	subKitchen, err := b.Subscribe("channel:kitchen", func(p []byte) { kitchen = append(kitchen, p) })
	require.NoError(t, err)
	defer subKitchen.Close()

	require.NoError(t, b.Publish(ctx, "channel:lobby", []byte("a")))
	require.NoError(t, b.Publish(ctx, "channel:lobby", []byte("b")))

	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, lobby)
	assert.Empty(t, kitchen)
}

func TestMemoryBus_ClosedSubscriptionStopsReceiving(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	var got int
	sub, err := b.Subscribe("t", func([]byte) { got++ })
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "t", []byte("x")))
	sub.Close()
	require.NoError(t, b.Publish(ctx, "t", []byte("y")))

	assert.Equal(t, 1, got)
	assert.Equal(t, 0, b.SubscriberCount("t"))
}

func TestMemoryBus_CloseIsIdempotent(t *testing.T) {
	b := NewMemoryBus()

	sub, err := b.Subscribe("t", func([]byte) {})
	require.NoError(t, err)

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, b.SubscriberCount("t"))
}
