package registry

import "errors"

// Sentinel errors returned by Registry operations. Callers (the command handlers in
// internal/relay) translate these into the protocol's wire error codes, supplying
// whatever argument the reply grammar requires (e.g. the group ID for GROUP_FULL).
var (
	ErrNoSuchGroup       = errors.New("no such group")
	ErrGroupFull         = errors.New("group full")
	ErrNotInGroup        = errors.New("not in group")
	ErrOwnerLimit        = errors.New("owner at max groups")
	ErrIDSpaceExhausted  = errors.New("group id space exhausted")
)
