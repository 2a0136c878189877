// Package monitor implements the relay's read-only HTTP introspection API: health,
// live group/client snapshots, sanitized configuration, aggregate stats, and the
// Prometheus /metrics endpoint. It never mutates the registry and sits outside every
// invariant the protocol path must maintain.
package monitor
