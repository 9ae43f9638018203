package sink

import (
	"fmt"
	"sync"

	"github.com/redisplay/server/internal/metrics"
)

// Frame tags for the constrained-MTU chunking protocol. Byte 0 of every
// packet is one of these; the rest is a payload fragment.
const (
	FrameStart    byte = 0x01
	FrameContinue byte = 0x02
	FrameEnd      byte = 0x03
	FrameSingle   byte = 0x04
)

func tagName(tag byte) string {
	switch tag {
	case FrameStart:
		return "start"
	case FrameContinue:
		return "continue"
	case FrameEnd:
		return "end"
	case FrameSingle:
		return "single"
	default:
		return "unknown"
	}
}

// A Transmitter delivers exactly one frame to the constrained transport.
type Transmitter func(frame []byte) error

// Chunked adapts an MTU-constrained packet transport (e.g. a short-range
// radio link) to the Sink interface. Events larger than the negotiated
// payload size are split into START/CONTINUE/END frames; events without an
// attached receiver are silently discarded.
//
// Frames of one event are transmitted back to back under a single lock
// acquisition, so two large events can never interleave.
type Chunked struct {
	mtu int

	mu       sync.Mutex
	transmit Transmitter
	done     chan struct{}
	once     sync.Once
}

// NewChunked creates a chunked sink for a negotiated maximum payload size.
// mtu must be at least 2 (one tag byte plus one payload byte).
func NewChunked(mtu int) (*Chunked, error) {
	if mtu < 2 {
		return nil, fmt.Errorf("mtu must be at least 2, got %d", mtu)
	}
	return &Chunked{mtu: mtu, done: make(chan struct{})}, nil
}

// Attach sets the frame receiver. Passing nil detaches it, after which
// events are discarded again.
func (c *Chunked) Attach(t Transmitter) {
	c.mu.Lock()
	c.transmit = t
	c.mu.Unlock()
}

// Write splits one serialized event into frames and transmits them in order.
func (c *Chunked) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("sink closed")
	default:
	}

	if c.transmit == nil {
		metrics.SinkDiscardedEventsTotal.Inc()
		return nil
	}

	for _, frame := range Split(data, c.mtu) {
		if err := c.transmit(frame); err != nil {
			return fmt.Errorf("frame transmit failed: %w", err)
		}
		metrics.SinkFramesTotal.WithLabelValues(tagName(frame[0])).Inc()
	}
	return nil
}

func (c *Chunked) Done() <-chan struct{} {
	return c.done
}

func (c *Chunked) Close(string) {
	c.once.Do(func() {
		close(c.done)
		c.Attach(nil)
	})
}

// Split chunks a serialized event into protocol frames for the given MTU.
// Payloads of up to mtu-1 bytes fit a SINGLE frame; larger ones become a
// START frame, zero or more CONTINUE frames, and an END frame, each carrying
// up to mtu-1 payload bytes.
func Split(data []byte, mtu int) [][]byte {
	chunk := mtu - 1

	if len(data) <= chunk {
		return [][]byte{packFrame(FrameSingle, data)}
	}

	var frames [][]byte
	for offset := 0; offset < len(data); offset += chunk {
		end := min(offset+chunk, len(data))

		tag := FrameContinue
		switch {
		case offset == 0:
			tag = FrameStart
		case end == len(data):
			tag = FrameEnd
		}
		frames = append(frames, packFrame(tag, data[offset:end]))
	}
	return frames
}

func packFrame(tag byte, payload []byte) []byte {
	frame := make([]byte, 1+len(payload))
	frame[0] = tag
	copy(frame[1:], payload)
	return frame
}

// Reassembler is the receiver side of the chunking protocol: it concatenates
// payload bytes from START through the next END. The sender guarantees frame
// order and non-interleaving, so no resequencing is attempted here.
type Reassembler struct {
	buf        []byte
	collecting bool
}

// Feed consumes one frame. It returns the complete message and true once a
// SINGLE frame or the END of a sequence arrives.
func (r *Reassembler) Feed(frame []byte) ([]byte, bool, error) {
	if len(frame) == 0 {
		return nil, false, fmt.Errorf("empty frame")
	}
	tag, payload := frame[0], frame[1:]

	switch tag {
	case FrameSingle:
		if r.collecting {
			return nil, false, fmt.Errorf("single frame inside an open sequence")
		}
		msg := make([]byte, len(payload))
		copy(msg, payload)
		return msg, true, nil

	case FrameStart:
		if r.collecting {
			return nil, false, fmt.Errorf("start frame inside an open sequence")
		}
		r.collecting = true
		r.buf = append(r.buf[:0], payload...)
		return nil, false, nil

	case FrameContinue:
		if !r.collecting {
			return nil, false, fmt.Errorf("continue frame without start")
		}
		r.buf = append(r.buf, payload...)
		return nil, false, nil

	case FrameEnd:
		if !r.collecting {
			return nil, false, fmt.Errorf("end frame without start")
		}
		r.collecting = false
		r.buf = append(r.buf, payload...)
		msg := make([]byte, len(r.buf))
		copy(msg, r.buf)
		return msg, true, nil

	default:
		return nil, false, fmt.Errorf("unknown frame tag 0x%02x", tag)
	}
}
