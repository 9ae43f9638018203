// Package hub is the broadcast fan-out engine: it bridges the per-channel
// message bus topics to the live subscriber sinks, enforces one connection
// per origin, and reference-counts bus subscriptions against the size of
// each channel's sink set.
package hub
