package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"
)

// MatchStatus is the coordinator-level lifecycle state
type MatchStatus string

const (
	StatusWaiting  MatchStatus = "waiting"
	StatusRunning  MatchStatus = "running"
	StatusFinished MatchStatus = "finished"
)

const (
	bookingTTL        = 5 * time.Second
	admissionLockTTL  = 10 * time.Second
	admissionTimeout  = 10 * time.Second
	finishedKeyTTL    = 30 * time.Second
	finishedRecordTTL = 60 * time.Second
	maxIDAttempts     = 5
	paddleMoveStep    = 0.05
)

// Match is the coordinator's record of one match
type Match struct {
	ID        string
	Status    MatchStatus
	Settings  GameSettings
	Geometry  *Geometry
	Players   map[string]int // userID -> player slot (score index)
	CreatedAt time.Time
	StartedAt time.Time

	hadPlayers bool
	runner     *MatchRunner
}

// SideOf returns the side index assigned to a player slot
func (m *Match) SideOf(slot int) int {
	return m.Geometry.PlayerSides[slot]
}

// Coordinator manages match lifecycle across the fleet: creation, admission
// with expiring bookings, status transitions and cleanup.
type Coordinator struct {
	mu      sync.RWMutex
	matches map[string]*Match

	store Store
	sink  ResultSink
	bcast Broadcaster

	rng   *rand.Rand
	rngMu sync.Mutex
}

// NewCoordinator creates a coordinator over the given collaborators
func NewCoordinator(store Store, sink ResultSink) *Coordinator {
	return &Coordinator{
		matches: make(map[string]*Match),
		store:   store,
		sink:    sink,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetBroadcaster wires the broadcast channel. Must be called before any
// match is created; the hub and coordinator reference each other.
func (c *Coordinator) SetBroadcaster(b Broadcaster) {
	c.bcast = b
}

// newRNG derives an independent randomness source for one match
func (c *Coordinator) newRNG() *rand.Rand {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return rand.New(rand.NewSource(c.rng.Int63()))
}

// CreateMatch validates settings, computes geometry once, seeds the stored
// state and starts the match's own lifecycle goroutine.
func (c *Coordinator) CreateMatch(ctx context.Context, mode string, patch *SettingsPatch) (*Match, error) {
	settings := DefaultSettings(mode)
	if patch != nil && patch.Type != nil && *patch.Type == ShapeCircular {
		settings = DefaultCircularSettings()
	}
	patch.Apply(&settings)
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	id, err := c.generateID(ctx)
	if err != nil {
		return nil, err
	}

	rng := c.newRNG()
	geo, err := NewGeometryBuilder(rng).Build(settings)
	if err != nil {
		return nil, err
	}
	state := NewMatchState(settings, geo, rng)

	if err := c.store.SaveSettings(ctx, id, &settings); err != nil {
		return nil, err
	}
	if err := c.store.SaveState(ctx, id, state); err != nil {
		return nil, err
	}
	if err := c.store.AddToSet(ctx, SetWaiting, id); err != nil {
		return nil, err
	}

	match := &Match{
		ID:        id,
		Status:    StatusWaiting,
		Settings:  settings,
		Geometry:  geo,
		Players:   make(map[string]int),
		CreatedAt: time.Now(),
	}
	match.runner = NewMatchRunner(match, c, c.store, c.bcast, c.sink, rng)

	c.mu.Lock()
	c.matches[id] = match
	c.mu.Unlock()

	go match.runner.Run(context.Background())
	log.Printf("match %s created: %s %s, %d sides, %d players",
		id, settings.Type, settings.Mode, settings.Sides, settings.NumPlayers)
	return match, nil
}

// generateID produces a match id, collision-checked against the global set
func (c *Coordinator) generateID(ctx context.Context) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := GenerateUUID()
		taken, err := c.store.InSet(ctx, SetAllIDs, id)
		if err != nil {
			return "", err
		}
		if taken {
			continue
		}
		if err := c.store.AddToSet(ctx, SetAllIDs, id); err != nil {
			return "", err
		}
		return id, nil
	}
	return "", fmt.Errorf("could not generate unique match id")
}

// Match returns the record for a match id
func (c *Coordinator) Match(id string) *Match {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matches[id]
}

// PlayerCount returns the number of admitted players
func (c *Coordinator) PlayerCount(matchID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.matches[matchID]; ok {
		return len(m.Players)
	}
	return 0
}

// HadPlayers reports whether anyone was ever admitted to the match
func (c *Coordinator) HadPlayers(matchID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.matches[matchID]; ok {
		return m.hadPlayers
	}
	return false
}

// ListMatches summarizes every known match
func (c *Coordinator) ListMatches() []MatchSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]MatchSummary, 0, len(c.matches))
	for _, m := range c.matches {
		out = append(out, MatchSummary{
			ID:      m.ID,
			Status:  string(m.Status),
			Players: len(m.Players),
			Needed:  m.Settings.NumPlayers,
		})
	}
	return out
}

func admissionLockKey(matchID string) string {
	return matchID + "_player_situation"
}

// BookSlot places a short-lived reservation for a player who has expressed
// intent to join but whose transport has not connected yet.
func (c *Coordinator) BookSlot(ctx context.Context, matchID, userID string) error {
	c.mu.RLock()
	match, ok := c.matches[matchID]
	c.mu.RUnlock()
	if !ok {
		return ErrMatchNotFound
	}
	if match.Status != StatusWaiting {
		return &CapacityError{MatchID: matchID, Reason: "match already started"}
	}
	if len(match.Players) >= match.Settings.NumPlayers {
		return &CapacityError{MatchID: matchID, Reason: "match is full"}
	}
	return c.store.PutBooking(ctx, matchID, userID, bookingTTL)
}

// JoinPlayer admits a connected player, consuming any booking. Admissions
// for one match are serialized under the player-situation lock, so two
// racing joins can never both pass the capacity check.
func (c *Coordinator) JoinPlayer(ctx context.Context, matchID, userID string) (int, error) {
	c.mu.RLock()
	match, ok := c.matches[matchID]
	c.mu.RUnlock()
	if !ok {
		return 0, ErrMatchNotFound
	}

	token, err := AcquireLock(ctx, c.store, admissionLockKey(matchID), admissionLockTTL, admissionTimeout)
	if err != nil {
		return 0, err
	}
	defer c.store.Unlock(ctx, admissionLockKey(matchID), token)

	// booking consumption is best-effort: a reservation holds a player's
	// intent across the HTTP->websocket gap but is not required to join
	if _, err := c.store.TakeBooking(ctx, matchID, userID); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if match.Status == StatusFinished {
		return 0, &CapacityError{MatchID: matchID, Reason: "match is finished"}
	}
	if _, dup := match.Players[userID]; dup {
		return 0, &CapacityError{MatchID: matchID, Reason: "player already admitted"}
	}
	if len(match.Players) >= match.Settings.NumPlayers {
		return 0, &CapacityError{MatchID: matchID, Reason: "match is full"}
	}

	slot := c.freeSlot(match)
	match.Players[userID] = slot
	match.hadPlayers = true
	return slot, nil
}

// freeSlot returns the lowest unassigned player slot
func (c *Coordinator) freeSlot(match *Match) int {
	taken := make(map[int]bool, len(match.Players))
	for _, slot := range match.Players {
		taken[slot] = true
	}
	for slot := 0; slot < match.Settings.NumPlayers; slot++ {
		if !taken[slot] {
			return slot
		}
	}
	return len(match.Players)
}

// RemovePlayer drops a player. A running match falling below min_players
// ends through the same path a win takes.
func (c *Coordinator) RemovePlayer(matchID, userID string) {
	ctx := context.Background()
	token, err := AcquireLock(ctx, c.store, admissionLockKey(matchID), admissionLockTTL, admissionTimeout)
	if err != nil {
		log.Printf("match %s: remove player %s: %v", matchID, userID, err)
		return
	}
	defer c.store.Unlock(ctx, admissionLockKey(matchID), token)

	c.mu.Lock()
	match, ok := c.matches[matchID]
	if !ok {
		c.mu.Unlock()
		return
	}
	_, present := match.Players[userID]
	delete(match.Players, userID)
	remaining := len(match.Players)
	status := match.Status
	min := match.Settings.MinPlayers
	runner := match.runner
	c.mu.Unlock()

	if !present {
		return
	}
	if status == StatusRunning && remaining < min {
		runner.RequestEnd("players left")
	}
}

// MovePaddle applies one rate-limited paddle nudge. Writes are lock-free
// last-write-wins on the store's paddle hash; the tick loop merges them.
func (c *Coordinator) MovePaddle(ctx context.Context, matchID, userID, direction string) {
	c.mu.RLock()
	match, ok := c.matches[matchID]
	var slot int
	var admitted bool
	if ok {
		slot, admitted = match.Players[userID]
	}
	c.mu.RUnlock()
	if !ok || !admitted {
		return
	}

	var step float64
	switch direction {
	case DirLeft:
		step = -paddleMoveStep
	case DirRight:
		step = paddleMoveStep
	default:
		return // out-of-range input is dropped, not an error
	}

	side := match.SideOf(slot)
	targets, err := c.store.PaddleTargets(ctx, matchID)
	if err != nil {
		return
	}
	pos, ok := targets[side]
	if !ok {
		pos = 0.5
	}
	if err := c.store.SetPaddleTarget(ctx, matchID, side, Clamp(pos+step, 0, 1)); err != nil {
		log.Printf("match %s: paddle write: %v", matchID, err)
	}
}

// MarkRunning flips a match from the waiting set into the running set
func (c *Coordinator) MarkRunning(ctx context.Context, matchID string) {
	c.mu.Lock()
	if m, ok := c.matches[matchID]; ok && m.Status == StatusWaiting {
		m.Status = StatusRunning
		m.StartedAt = time.Now()
	}
	c.mu.Unlock()

	c.store.RemoveFromSet(ctx, SetWaiting, matchID)
	c.store.AddToSet(ctx, SetRunning, matchID)
}

// MarkFinished moves the match into the finished set, expires its working
// keys and schedules the short-lived record for removal.
func (c *Coordinator) MarkFinished(ctx context.Context, matchID string) {
	c.mu.Lock()
	m, ok := c.matches[matchID]
	if ok {
		m.Status = StatusFinished
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	c.store.RemoveFromSet(ctx, SetWaiting, matchID)
	c.store.RemoveFromSet(ctx, SetRunning, matchID)
	c.store.AddToSet(ctx, SetFinished, matchID)
	if err := c.store.ExpireMatch(ctx, matchID, finishedKeyTTL); err != nil {
		log.Printf("match %s: expire keys: %v", matchID, err)
	}

	time.AfterFunc(finishedRecordTTL, func() {
		c.mu.Lock()
		delete(c.matches, matchID)
		c.mu.Unlock()
		bg := context.Background()
		c.store.RemoveFromSet(bg, SetFinished, matchID)
		c.store.RemoveFromSet(bg, SetAllIDs, matchID)
		c.store.DeleteMatch(bg, matchID)
	})
}

// PlayerResults pairs admitted players with their final scores and ranks.
// Rank 1 is best; equal scores share a rank.
func (c *Coordinator) PlayerResults(matchID string, scores []int) []PlayerResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	match, ok := c.matches[matchID]
	if !ok {
		return nil
	}

	results := make([]PlayerResult, 0, len(match.Players))
	for userID, slot := range match.Players {
		score := 0
		if slot < len(scores) {
			score = scores[slot]
		}
		rank := 1
		for _, other := range scores {
			if other > score {
				rank++
			}
		}
		results = append(results, PlayerResult{UserID: userID, Slot: slot, Score: score, Rank: rank})
	}
	return results
}
