package sink

import (
	"fmt"

	"github.com/redisplay/server/internal/domain"
)

// Broadcaster is the hub surface the packet bridge needs.
type Broadcaster interface {
	Subscribe(channel, origin string, s domain.Sink) error
}

// AttachPacketTransport subscribes a chunked sink for an MTU-constrained
// transport driver. The driver supplies the Transmitter that carries each
// frame; closing the returned sink detaches it from the hub.
func AttachPacketTransport(b Broadcaster, channel, origin string, mtu int, tx Transmitter) (*Chunked, error) {
	snk, err := NewChunked(mtu)
	if err != nil {
		return nil, err
	}
	snk.Attach(tx)

	if err := b.Subscribe(channel, origin, snk); err != nil {
		snk.Close("subscription rejected")
		return nil, fmt.Errorf("failed to attach packet transport on %q: %w", channel, err)
	}
	return snk, nil
}
