// Package config defines the relay's configuration surface — a flat set of
// command-line flags (see the specification's external interfaces section) — and
// validates it with the same per-section Validate() shape the rest of this codebase
// uses for its configuration.
package config
