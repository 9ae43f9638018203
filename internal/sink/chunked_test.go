package sink

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_FrameCountAndRoundTrip(t *testing.T) {
	const mtu = 16

	// Payload lengths around the chunking boundaries.
	lengths := []int{0, mtu - 1, mtu, 2*mtu - 1, 2 * mtu, 5*mtu + 3}
	for _, l := range lengths {
		t.Run(fmt.Sprintf("len=%d", l), func(t *testing.T) {
			payload := bytes.Repeat([]byte{0xAB}, l)
			for i := range payload {
				payload[i] = byte(i)
			}

			frames := Split(payload, mtu)

			if l <= mtu-1 {
				require.Len(t, frames, 1)
				assert.Equal(t, FrameSingle, frames[0][0])
			} else {
				want := (l + mtu - 2) / (mtu - 1) // ceil(l / (mtu-1))
				require.Len(t, frames, want)
				assert.Equal(t, FrameStart, frames[0][0])
				assert.Equal(t, FrameEnd, frames[len(frames)-1][0])
				for _, f := range frames[1 : len(frames)-1] {
					assert.Equal(t, FrameContinue, f[0])
				}
			}

			for _, f := range frames {
				assert.LessOrEqual(t, len(f), mtu)
			}

			var r Reassembler
			var got []byte
			var done bool
			for _, f := range frames {
				var err error
				got, done, err = r.Feed(f)
				require.NoError(t, err)
			}
			require.True(t, done)
			assert.Equal(t, payload, got)
		})
	}
}

func TestReassembler_ProtocolViolations(t *testing.T) {
	t.Run("continue without start", func(t *testing.T) {
		var r Reassembler
		_, _, err := r.Feed([]byte{FrameContinue, 1})
		assert.Error(t, err)
	})

	t.Run("end without start", func(t *testing.T) {
		var r Reassembler
		_, _, err := r.Feed([]byte{FrameEnd, 1})
		assert.Error(t, err)
	})

	t.Run("start inside open sequence", func(t *testing.T) {
		var r Reassembler
		_, _, err := r.Feed([]byte{FrameStart, 1})
		require.NoError(t, err)
		_, _, err = r.Feed([]byte{FrameStart, 2})
		assert.Error(t, err)
	})

	t.Run("unknown tag", func(t *testing.T) {
		var r Reassembler
		_, _, err := r.Feed([]byte{0x7F, 1})
		assert.Error(t, err)
	})
}

func TestChunked_WriteTransmitsInOrder(t *testing.T) {
	c, err := NewChunked(8)
	require.NoError(t, err)

	var frames [][]byte
	c.Attach(func(frame []byte) error {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		frames = append(frames, cp)
		return nil
	})

	payload := []byte("a somewhat longer event payload")
	require.NoError(t, c.Write(payload))

	var r Reassembler
	var got []byte
	var done bool
	for _, f := range frames {
		got, done, err = r.Feed(f)
		require.NoError(t, err)
	}
	require.True(t, done)
	assert.Equal(t, payload, got)
}

func TestChunked_NoReceiverDiscardsSilently(t *testing.T) {
	c, err := NewChunked(8)
	require.NoError(t, err)

	assert.NoError(t, c.Write([]byte("dropped on the floor")))
}

func TestChunked_TransmitErrorSurfaces(t *testing.T) {
	c, err := NewChunked(8)
	require.NoError(t, err)

	c.Attach(func([]byte) error { return fmt.Errorf("radio gone") })
	assert.ErrorContains(t, c.Write([]byte("x")), "radio gone")
}

func TestChunked_CloseRejectsWrites(t *testing.T) {
	c, err := NewChunked(8)
	require.NoError(t, err)

	c.Close("shutting down")
	c.Close("twice is fine")

	assert.Error(t, c.Write([]byte("x")))
	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestNewChunked_RejectsTinyMTU(t *testing.T) {
	_, err := NewChunked(1)
	assert.Error(t, err)
}
