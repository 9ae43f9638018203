// Package sink provides the transport adapters that deliver push events to
// display clients: a websocket streaming sink with keepalive pings, and a
// chunked sink for MTU-constrained packet transports. Both satisfy
// domain.Sink, so the hub never depends on a concrete transport.
package sink
