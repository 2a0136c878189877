// Package registry holds the relay's authoritative in-memory state: clients, groups,
// membership, and ownership. All mutation goes through a single mutex (the relay's
// server loop is the only writer), matching the single-writer discipline described in
// the specification's concurrency model.
package registry
