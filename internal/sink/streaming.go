package sink

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/redisplay/server/internal/metrics"
)

const (
	writeDeadline     = 5 * time.Second
	pongDeadline      = 60 * time.Second
	messageBufferSize = 16
)

// Streaming delivers events over a websocket connection as self-delimited
// text frames. A single writer goroutine owns the connection; keepalive pings
// run on their own ticker, independent of event traffic, purely to detect
// dead connections and keep intermediaries from timing out the stream.
type Streaming struct {
	conn      *websocket.Conn
	clock     clockwork.Clock
	keepalive time.Duration
	sendCh    chan []byte
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewStreaming wraps an upgraded websocket connection. keepalive is the ping
// interval. The injected clock drives only the keepalive ticker; connection
// deadlines always use wall time.
func NewStreaming(conn *websocket.Conn, clock clockwork.Clock, keepalive time.Duration) *Streaming {
	s := &Streaming{
		conn:      conn,
		clock:     clock,
		keepalive: keepalive,
		sendCh:    make(chan []byte, messageBufferSize),
		done:      make(chan struct{}),
	}
	s.configurePongHandler()
	s.wg.Add(1)
	go s.run()
	return s
}

// Write enqueues one event frame. It fails when the send buffer is full
// (a stalled client) or the connection is gone; the hub treats either as a
// dead sink.
func (s *Streaming) Write(data []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("sink closed")
	default:
	}

	select {
	case s.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("sink send buffer full")
	}
}

// Done is closed once the writer goroutine has exited, whatever the cause.
func (s *Streaming) Done() <-chan struct{} {
	return s.done
}

// Close sends a close frame with the given reason and tears the
// connection down. Safe to call more than once.
func (s *Streaming) Close(reason string) {
	s.stopOnce.Do(func() {
		close(s.done)

		// Wait for the writer to exit before touching the connection, so the
		// close frame never races an in-flight write.
		s.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		_ = s.conn.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = s.conn.Close()
	})
}

func (s *Streaming) run() {
	ticker := s.clock.NewTicker(s.keepalive)
	defer ticker.Stop()
	defer s.wg.Done()

	for {
		select {
		case msg := <-s.sendCh:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.abort()
				return
			}
		case <-ticker.Chan():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.SinkKeepalivesFailedTotal.Inc()
				s.abort()
				return
			}
		case <-s.done:
			return
		}
	}
}

// abort closes down after a write failure. The writer goroutine is the
// caller, so it must not wait on itself.
func (s *Streaming) abort() {
	s.stopOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Streaming) configurePongHandler() {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongDeadline))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongDeadline))
	})
}
