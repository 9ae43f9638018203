// Package enrich holds the data-injection collaborators: the Redis-backed
// blob caches feeding weather, calendar, and webcam views, and the Redis
// list-backed gallery image store.
package enrich
