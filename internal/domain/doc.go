// Package domain holds the core model types (views, channels, push events)
// and the interfaces that decouple the scheduler and hub from their
// collaborators (bus, storage, sinks, enrichment).
package domain
