package main

import (
	"context"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Match set names used by the coordinator
const (
	SetAllIDs   = "matches_all"
	SetWaiting  = "matches_waiting"
	SetRunning  = "matches_running"
	SetFinished = "matches_finished"
)

const lockRetryInterval = 20 * time.Millisecond

// Store is the external key-value collaborator that acts as source of truth
// for match state. It must provide atomic set-if-absent with TTL for locks,
// expiry, set membership and a per-match paddle hash.
type Store interface {
	LoadState(ctx context.Context, matchID string) (*MatchState, error)
	SaveState(ctx context.Context, matchID string, st *MatchState) error
	LoadSettings(ctx context.Context, matchID string) (*GameSettings, error)
	SaveSettings(ctx context.Context, matchID string, s *GameSettings) error

	AddToSet(ctx context.Context, set, member string) error
	RemoveFromSet(ctx context.Context, set, member string) error
	SetMembers(ctx context.Context, set string) ([]string, error)
	InSet(ctx context.Context, set, member string) (bool, error)

	// Paddle targets are the lock-free input side channel: last write wins
	// per side, merged into state at the start of each tick.
	SetPaddleTarget(ctx context.Context, matchID string, side int, pos float64) error
	PaddleTargets(ctx context.Context, matchID string) (map[int]float64, error)

	// TryLock returns a release token on success. The TTL bounds how long a
	// crashed holder can stall the match.
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	// Unlock releases only if token still matches, so an expired holder
	// cannot release a successor's lock.
	Unlock(ctx context.Context, key, token string) error

	PutBooking(ctx context.Context, matchID, playerID string, ttl time.Duration) error
	// TakeBooking consumes a live booking, reporting whether one existed.
	TakeBooking(ctx context.Context, matchID, playerID string) (bool, error)

	// ExpireMatch puts a short fuse on all of a match's working keys so late
	// stragglers can still fetch final state.
	ExpireMatch(ctx context.Context, matchID string, ttl time.Duration) error
	DeleteMatch(ctx context.Context, matchID string) error
}

// AcquireLock retries TryLock until timeout, returning the release token.
func AcquireLock(ctx context.Context, s Store, key string, ttl, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		token, ok, err := s.TryLock(ctx, key, ttl)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

type lockEntry struct {
	token   string
	expires time.Time
}

// MemoryStore is the in-process Store used by tests and single-node runs.
// Values round-trip through msgpack exactly like the Redis backend so both
// exercise the same serialization path.
type MemoryStore struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	sets     map[string]map[string]bool
	paddles  map[string]map[int]float64
	locks    map[string]lockEntry
	bookings map[string]time.Time
	expiry   map[string]time.Time // matchID -> working-key deadline
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:    make(map[string][]byte),
		sets:     make(map[string]map[string]bool),
		paddles:  make(map[string]map[int]float64),
		locks:    make(map[string]lockEntry),
		bookings: make(map[string]time.Time),
		expiry:   make(map[string]time.Time),
	}
}

func (m *MemoryStore) expired(matchID string) bool {
	if dl, ok := m.expiry[matchID]; ok && time.Now().After(dl) {
		delete(m.blobs, matchID+":state")
		delete(m.blobs, matchID+":settings")
		delete(m.paddles, matchID)
		delete(m.expiry, matchID)
		return true
	}
	return false
}

func (m *MemoryStore) LoadState(ctx context.Context, matchID string) (*MatchState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(matchID) {
		return nil, ErrMatchNotFound
	}
	raw, ok := m.blobs[matchID+":state"]
	if !ok {
		return nil, ErrMatchNotFound
	}
	var st MatchState
	if err := msgpack.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (m *MemoryStore) SaveState(ctx context.Context, matchID string, st *MatchState) error {
	raw, err := msgpack.Marshal(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[matchID+":state"] = raw
	return nil
}

func (m *MemoryStore) LoadSettings(ctx context.Context, matchID string) (*GameSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(matchID) {
		return nil, ErrMatchNotFound
	}
	raw, ok := m.blobs[matchID+":settings"]
	if !ok {
		return nil, ErrMatchNotFound
	}
	var s GameSettings
	if err := msgpack.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *MemoryStore) SaveSettings(ctx context.Context, matchID string, s *GameSettings) error {
	raw, err := msgpack.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[matchID+":settings"] = raw
	return nil
}

func (m *MemoryStore) AddToSet(ctx context.Context, set, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets[set] == nil {
		m.sets[set] = make(map[string]bool)
	}
	m.sets[set][member] = true
	return nil
}

func (m *MemoryStore) RemoveFromSet(ctx context.Context, set, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets[set], member)
	return nil
}

func (m *MemoryStore) SetMembers(ctx context.Context, set string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := make([]string, 0, len(m.sets[set]))
	for member := range m.sets[set] {
		members = append(members, member)
	}
	return members, nil
}

func (m *MemoryStore) InSet(ctx context.Context, set, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets[set][member], nil
}

func (m *MemoryStore) SetPaddleTarget(ctx context.Context, matchID string, side int, pos float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paddles[matchID] == nil {
		m.paddles[matchID] = make(map[int]float64)
	}
	m.paddles[matchID][side] = pos
	return nil
}

func (m *MemoryStore) PaddleTargets(ctx context.Context, matchID string) (map[int]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]float64, len(m.paddles[matchID]))
	for side, pos := range m.paddles[matchID] {
		out[side] = pos
	}
	return out, nil
}

func (m *MemoryStore) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.locks[key]; ok && time.Now().Before(entry.expires) {
		return "", false, nil
	}
	token := GenerateID(8)
	m.locks[key] = lockEntry{token: token, expires: time.Now().Add(ttl)}
	return token, true, nil
}

func (m *MemoryStore) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.locks[key]; ok && entry.token == token {
		delete(m.locks, key)
	}
	return nil
}

func (m *MemoryStore) PutBooking(ctx context.Context, matchID, playerID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[matchID+"/"+playerID] = time.Now().Add(ttl)
	return nil
}

func (m *MemoryStore) TakeBooking(ctx context.Context, matchID, playerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := matchID + "/" + playerID
	expires, ok := m.bookings[key]
	if !ok {
		return false, nil
	}
	delete(m.bookings, key)
	return time.Now().Before(expires), nil
}

func (m *MemoryStore) ExpireMatch(ctx context.Context, matchID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiry[matchID] = time.Now().Add(ttl)
	return nil
}

func (m *MemoryStore) DeleteMatch(ctx context.Context, matchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, matchID+":state")
	delete(m.blobs, matchID+":settings")
	delete(m.paddles, matchID)
	delete(m.expiry, matchID)
	return nil
}
