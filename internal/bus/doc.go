// Package bus implements the publish/subscribe transport between the rotation
// scheduler and broadcast hubs: a Redis Pub/Sub backed implementation for
// multi-instance deployments and an in-memory one for tests.
package bus
