package registry

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"time"
)

// idAlphabet is the 34-symbol set group IDs are drawn from: A-Z and 1-9 with 'O' and '0'
// excluded, to keep transcribed IDs unambiguous to a human reader.
const idAlphabet = "ABCDEFGHIJKLMNPQRSTUVWXYZ123456789"

// idLength is the fixed length of a group ID.
const idLength = 8

// maxIDAttempts bounds rejection sampling against the live ID namespace. Exhaustion is
// astronomically unlikely at 34^8 possible IDs and is intentionally left untested.
const maxIDAttempts = 256

// Limits bounds resource usage per the specification's invariants.
type Limits struct {
	// DefaultCap is the per-group member cap inherited at creation time. Zero means
	// unlimited.
	DefaultCap int
	// MaxGroupsPerClient bounds how many live groups a single address may own at once.
	MaxGroupsPerClient int
}

type clientEntry struct {
	addr         string
	lastActivity time.Time
	// memberships is ordered by join time, most recent last, for the !WHO /
	// broadcast tie-break rule.
	memberships []string
	owned       map[string]struct{}
}

type groupEntry struct {
	id         string
	owner      string
	members    map[string]struct{}
	cap        int
	emptySince *time.Time
	createdAt  time.Time
}

// Registry is the relay's single-writer authoritative state: clients, groups,
// membership, and ownership. Every exported method takes the mutex for its own
// duration; callers never need to lock externally.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	groups  map[string]*groupEntry
	limits  Limits
	rng     *rand.Rand
}

// New creates an empty Registry configured with the given resource limits.
func New(limits Limits) *Registry {
	return &Registry{
		clients: make(map[string]*clientEntry),
		groups:  make(map[string]*groupEntry),
		limits:  limits,
		rng:     rand.New(rand.NewPCG(seed64(), seed64())),
	}
}

// seed64 draws a 64-bit seed from the OS CSPRNG. The generator it seeds need not be
// cryptographically strong itself (group IDs need uniformity, not secrecy) — only the
// seed needs to be unpredictable across process restarts.
func seed64() uint64 {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		// crypto/rand failing is a fatal environment problem; fall back to a
		// fixed seed rather than panic, since ID collisions remain bounded by
		// rejection sampling.
		return 0x5eed5eed5eed5eed
	}
	return binary.BigEndian.Uint64(buf[:])
}

func (r *Registry) getOrCreateClient(addr string, now time.Time) *clientEntry {
	c, ok := r.clients[addr]
	if !ok {
		c = &clientEntry{
			addr:  addr,
			owned: make(map[string]struct{}),
		}
		// Live groups created by this address under an earlier, since-evicted entry
		// still count against its ownership cap.
		for id, g := range r.groups {
			if g.owner == addr {
				c.owned[id] = struct{}{}
			}
		}
		r.clients[addr] = c
	}
	c.lastActivity = now
	return c
}

// Touch upserts the client entry for addr and refreshes its activity timestamp. Any
// valid-framed datagram — command or payload — calls this so it counts as a heartbeat.
func (r *Registry) Touch(addr string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getOrCreateClient(addr, now)
}

// CreateGroup allocates a new group owned by addr. Returns ErrOwnerLimit if addr is
// already at its group ownership cap, or ErrIDSpaceExhausted in the (untested in
// practice) case that rejection sampling cannot find a free ID.
func (r *Registry) CreateGroup(addr string, now time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner := r.getOrCreateClient(addr, now)
	if len(owner.owned) >= r.limits.MaxGroupsPerClient {
		return "", ErrOwnerLimit
	}

	id, err := r.allocateID()
	if err != nil {
		return "", err
	}

	r.groups[id] = &groupEntry{
		id:         id,
		owner:      addr,
		members:    make(map[string]struct{}),
		cap:        r.limits.DefaultCap,
		emptySince: &now,
		createdAt:  now,
	}
	owner.owned[id] = struct{}{}

	return id, nil
}

func (r *Registry) allocateID() (string, error) {
	buf := make([]byte, idLength)
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		for i := range buf {
			buf[i] = idAlphabet[r.rng.IntN(len(idAlphabet))]
		}
		id := string(buf)
		if _, exists := r.groups[id]; !exists {
			return id, nil
		}
	}
	return "", ErrIDSpaceExhausted
}

// Join adds addr to group id. Idempotent: joining a group the client already belongs to
// succeeds without changing state. Returns ErrNoSuchGroup or ErrGroupFull as applicable.
func (r *Registry) Join(addr, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	if !ok {
		return ErrNoSuchGroup
	}

	c := r.getOrCreateClient(addr, now)

	if _, already := g.members[addr]; already {
		return nil
	}

	if g.cap > 0 && len(g.members) >= g.cap {
		return ErrGroupFull
	}

	g.members[addr] = struct{}{}
	g.emptySince = nil
	c.memberships = append(c.memberships, id)

	return nil
}

// Leave removes addr from group id. Returns ErrNotInGroup if addr was not a member (this
// also covers the case where id is not a live group at all).
func (r *Registry) Leave(addr, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	if !ok {
		return ErrNotInGroup
	}
	if _, member := g.members[addr]; !member {
		return ErrNotInGroup
	}

	delete(g.members, addr)
	if len(g.members) == 0 {
		t := now
		g.emptySince = &t
	}

	if c, ok := r.clients[addr]; ok {
		c.memberships = removeString(c.memberships, id)
	}

	return nil
}

// Who returns the group the client is currently associated with: its sole membership,
// or the most recently joined one if it belongs to several. Returns ErrNotInGroup if the
// client has zero memberships.
func (r *Registry) Who(addr string) (id string, count int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[addr]
	if !ok || len(c.memberships) == 0 {
		return "", 0, ErrNotInGroup
	}

	id = c.memberships[len(c.memberships)-1]
	g, ok := r.groups[id]
	if !ok {
		// The membership index and the group table disagreed; treat as no group,
		// since this should never happen under the registry's own invariants.
		return "", 0, ErrNotInGroup
	}

	return id, len(g.members), nil
}

// MembersOf returns a snapshot of the live members of group id, for broadcast fan-out.
// ok is false if id is not a live group.
func (r *Registry) MembersOf(id string) (members []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, exists := r.groups[id]
	if !exists {
		return nil, false
	}

	members = make([]string, 0, len(g.members))
	for m := range g.members {
		members = append(members, m)
	}
	return members, true
}

// RemoveClient removes addr from every group it belongs to and deletes its client
// entry. This is invoked by the sweeper on inactivity, and implicitly covers a client's
// last voluntary leave combined with no further activity. Group ownership (the
// `owner` field) is left untouched so a later sweep can still tell whether the owner is
// known; see Sweep.
func (r *Registry) RemoveClient(addr string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeClientLocked(addr, now)
}

func (r *Registry) removeClientLocked(addr string, now time.Time) {
	c, ok := r.clients[addr]
	if !ok {
		return
	}

	for _, id := range c.memberships {
		g, ok := r.groups[id]
		if !ok {
			continue
		}
		delete(g.members, addr)
		if len(g.members) == 0 {
			t := now
			g.emptySince = &t
		}
	}

	delete(r.clients, addr)
}

func (r *Registry) deleteGroupLocked(id string) {
	g, ok := r.groups[id]
	if !ok {
		return
	}
	delete(r.groups, id)
	if owner, ok := r.clients[g.owner]; ok {
		delete(owner.owned, id)
	}
}

// SweepResult summarizes the outcome of one sweep pass, for logging and metrics.
type SweepResult struct {
	EvictedClients []string
	ReapedGroups   []string
	Duration       time.Duration
}

// Sweep evicts clients inactive for longer than 3*heartbeat and reaps groups that have
// been empty for longer than emptyTTL, plus any group whose owner is no longer a known
// client and which is currently empty. Idempotent: a sweep that finds nothing to do is a
// no-op.
func (r *Registry) Sweep(now time.Time, heartbeat, emptyTTL time.Duration) SweepResult {
	start := now
	r.mu.Lock()
	defer r.mu.Unlock()

	inactivityThreshold := 3 * heartbeat

	var evicted []string
	for addr, c := range r.clients {
		if now.Sub(c.lastActivity) > inactivityThreshold {
			r.removeClientLocked(addr, now)
			evicted = append(evicted, addr)
		}
	}

	var reaped []string
	for id, g := range r.groups {
		if g.emptySince != nil && now.Sub(*g.emptySince) > emptyTTL {
			r.deleteGroupLocked(id)
			reaped = append(reaped, id)
			continue
		}
		if len(g.members) == 0 {
			if _, ownerKnown := r.clients[g.owner]; !ownerKnown {
				r.deleteGroupLocked(id)
				reaped = append(reaped, id)
			}
		}
	}

	return SweepResult{
		EvictedClients: evicted,
		ReapedGroups:   reaped,
		Duration:       time.Since(start),
	}
}

// ClientCount returns the number of tracked client entries.
func (r *Registry) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// GroupCount returns the number of live groups.
func (r *Registry) GroupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}

// ClientSnapshot is a point-in-time, read-only view of one tracked client, for the
// monitoring HTTP API. It is never consumed by the protocol path.
type ClientSnapshot struct {
	Addr         string
	LastActivity time.Time
	Memberships  []string
}

// GroupSnapshot is a point-in-time, read-only view of one live group.
type GroupSnapshot struct {
	ID         string
	Owner      string
	OwnerKnown bool
	Members    []string
	Cap        int
	EmptySince *time.Time
	CreatedAt  time.Time
}

// Snapshot returns a consistent point-in-time copy of all clients and groups. It takes
// the same mutex as every mutating operation, so the HTTP monitoring API (a second
// reader of the registry) never observes a torn state.
func (r *Registry) Snapshot() ([]ClientSnapshot, []GroupSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := make([]ClientSnapshot, 0, len(r.clients))
	for _, c := range r.clients {
		memberships := make([]string, len(c.memberships))
		copy(memberships, c.memberships)
		clients = append(clients, ClientSnapshot{
			Addr:         c.addr,
			LastActivity: c.lastActivity,
			Memberships:  memberships,
		})
	}

	groups := make([]GroupSnapshot, 0, len(r.groups))
	for _, g := range r.groups {
		members := make([]string, 0, len(g.members))
		for m := range g.members {
			members = append(members, m)
		}
		_, ownerKnown := r.clients[g.owner]
		groups = append(groups, GroupSnapshot{
			ID:         g.id,
			Owner:      g.owner,
			OwnerKnown: ownerKnown,
			Members:    members,
			Cap:        g.cap,
			EmptySince: g.emptySince,
			CreatedAt:  g.createdAt,
		})
	}

	return clients, groups
}

// GroupSnapshotByID returns a snapshot of a single live group, for the
// GET /groups/{id} monitoring endpoint.
func (r *Registry) GroupSnapshotByID(id string) (GroupSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	if !ok {
		return GroupSnapshot{}, false
	}

	members := make([]string, 0, len(g.members))
	for m := range g.members {
		members = append(members, m)
	}
	_, ownerKnown := r.clients[g.owner]

	return GroupSnapshot{
		ID:         g.id,
		Owner:      g.owner,
		OwnerKnown: ownerKnown,
		Members:    members,
		Cap:        g.cap,
		EmptySince: g.emptySince,
		CreatedAt:  g.createdAt,
	}, true
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
