// Package app is the application layer. It orchestrates all use cases,
// covering view and channel management, sink attachment, rotation control,
// and enrichment sources.
package app
