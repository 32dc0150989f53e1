package main

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"
)

const (
	tickInterval    = 16 * time.Millisecond
	waitingInterval = time.Second
	tickLockTTL     = time.Second
	tickLockTimeout = time.Second

	// consecutive validation failures tolerated before the match is
	// declared corrupt and finished
	maxValidationFailures = 2
)

// errMatchOver signals the running loop to leave its ticker
var errMatchOver = errors.New("match over")

// MatchRunner drives one match through waiting -> running -> finished.
// Exactly one tick's compute-and-broadcast is ever in flight per match,
// enforced by the store's per-match lock.
type MatchRunner struct {
	match    *Match
	coord    *Coordinator
	store    Store
	bcast    Broadcaster
	sink     ResultSink
	resolver *CollisionResolver
	history  *MotionHistory

	tick               uint64
	validationFailures int
	startedAt          time.Time

	endMu     sync.Mutex
	endReason string

	finishOnce sync.Once
}

// NewMatchRunner creates the runner for one match
func NewMatchRunner(match *Match, coord *Coordinator, store Store, bcast Broadcaster, sink ResultSink, rng *rand.Rand) *MatchRunner {
	return &MatchRunner{
		match:    match,
		coord:    coord,
		store:    store,
		bcast:    bcast,
		sink:     sink,
		resolver: NewCollisionResolver(rng),
		history:  NewMotionHistory(match.Settings.NumBalls, match.Settings.Sides),
	}
}

// RequestEnd asks the loop to finish on its next tick. Used by the
// coordinator when players leave and by admin cleanup.
func (r *MatchRunner) RequestEnd(reason string) {
	r.endMu.Lock()
	defer r.endMu.Unlock()
	if r.endReason == "" {
		r.endReason = reason
	}
}

func (r *MatchRunner) endRequested() string {
	r.endMu.Lock()
	defer r.endMu.Unlock()
	return r.endReason
}

// Run drives the match lifecycle until it finishes
func (r *MatchRunner) Run(ctx context.Context) {
	if !r.runWaiting(ctx) {
		// nobody ever showed up; no sink call, the match never started
		r.coord.MarkFinished(ctx, r.match.ID)
		return
	}

	r.coord.MarkRunning(ctx, r.match.ID)
	r.startedAt = time.Now()
	r.runTicks(ctx)
}

// runWaiting polls admissions once a second, reporting progress to anyone
// already subscribed. Returns false if the match should die unstarted.
func (r *MatchRunner) runWaiting(ctx context.Context) bool {
	ticker := time.NewTicker(waitingInterval)
	defer ticker.Stop()

	required := r.match.Settings.MinPlayers
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if r.endRequested() != "" {
				return false
			}
			current := r.coord.PlayerCount(r.match.ID)
			r.bcast.Publish(r.match.ID, Frame{Type: FrameWaiting, Data: WaitingFrame{
				CurrentPlayers:  current,
				RequiredPlayers: required,
			}})
			if current >= required {
				return true
			}
			if current == 0 && r.coord.HadPlayers(r.match.ID) {
				return false
			}
		}
	}
}

// runTicks is the fixed-cadence authoritative loop
func (r *MatchRunner) runTicks(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.finish(ctx, nil, nil, "context cancelled")
			return
		case <-ticker.C:
			if reason := r.endRequested(); reason != "" {
				state, _ := r.store.LoadState(ctx, r.match.ID)
				r.finish(ctx, state, nil, reason)
				return
			}
			if err := r.runTick(ctx); err != nil {
				if !errors.Is(err, errMatchOver) {
					log.Printf("match %s: tick failed: %v", r.match.ID, err)
				}
				return
			}
		}
	}
}

// runTick performs one locked read-simulate-write-broadcast cycle.
// A lock timeout skips the tick; validation failures abort it.
func (r *MatchRunner) runTick(ctx context.Context) error {
	token, err := AcquireLock(ctx, r.store, r.match.ID, tickLockTTL, tickLockTimeout)
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			// somebody is holding the match; retry next cycle
			return nil
		}
		return err
	}
	defer r.store.Unlock(ctx, r.match.ID, token)

	state, err := r.store.LoadState(ctx, r.match.ID)
	if err != nil {
		r.publishError("state load failed", err)
		r.finish(ctx, nil, nil, "state unavailable")
		return errMatchOver
	}

	if err := state.Validate(r.match.ID, false); err != nil {
		return r.validationFailed(ctx, state, err)
	}

	r.applyPaddleTargets(ctx, state)
	events := r.simulate(state)

	if err := state.Validate(r.match.ID, true); err != nil {
		// corruption we computed ourselves: a resolver bug, worth shouting
		log.Printf("match %s: SIMULATION BUG: %v", r.match.ID, err)
		return r.validationFailed(ctx, state, err)
	}
	r.validationFailures = 0

	winners := CheckWinners(state.Scores, r.match.Settings.ScoreLimit)
	if len(winners) > 0 {
		if err := r.store.SaveState(ctx, r.match.ID, state); err != nil {
			log.Printf("match %s: final state save: %v", r.match.ID, err)
		}
		r.finish(ctx, state, winners, "win")
		return errMatchOver
	}

	if err := r.store.SaveState(ctx, r.match.ID, state); err != nil {
		r.publishError("state save failed", err)
		return nil
	}

	r.tick++
	r.bcast.Publish(r.match.ID, Frame{Type: FrameGameState, Data: GameStateFrame{
		GameState:   state,
		CycleEvents: events,
		Tick:        r.tick,
	}})
	return nil
}

func (r *MatchRunner) publishError(msg string, err error) {
	r.bcast.Publish(r.match.ID, Frame{Type: FrameError, Data: ErrorFrame{
		Error:   msg,
		Details: err.Error(),
	}})
}

// validationFailed aborts the tick. Recurring corruption finishes the match
// rather than risking propagating bad state forward.
func (r *MatchRunner) validationFailed(ctx context.Context, state *MatchState, err error) error {
	r.validationFailures++
	r.publishError("state validation failed", err)
	if r.validationFailures >= maxValidationFailures {
		r.finish(ctx, state, nil, "state corrupt")
		return errMatchOver
	}
	return nil
}

// applyPaddleTargets merges the latest player inputs into the state.
// These writes race with players by design: idempotent position sets.
func (r *MatchRunner) applyPaddleTargets(ctx context.Context, state *MatchState) {
	targets, err := r.store.PaddleTargets(ctx, r.match.ID)
	if err != nil {
		log.Printf("match %s: paddle targets: %v", r.match.ID, err)
		return
	}
	for side, pos := range targets {
		if side >= 0 && side < len(state.Paddles) && state.Paddles[side].Active {
			state.Paddles[side].Position = Clamp(pos, 0, 1)
		}
	}
}

// simulate advances every ball one step and resolves at most one collision
// per ball, returning the cycle's events.
func (r *MatchRunner) simulate(state *MatchState) []*CollisionResult {
	if len(r.history.Balls) != len(state.Balls) {
		r.history = NewMotionHistory(len(state.Balls), r.match.Settings.Sides)
	}

	var events []*CollisionResult
	for i := range state.Balls {
		ball := &state.Balls[i]
		ball.X += ball.VelocityX
		ball.Y += ball.VelocityY

		cand := SelectCandidate(r.match.Geometry, state, i, r.history)
		if cand == nil {
			continue
		}
		res := r.resolver.Resolve(r.match.Geometry, state, i, cand, r.history,
			r.match.Settings.InitialBallSpeed*r.match.Geometry.Scale)
		if res != nil {
			events = append(events, res)
		}
	}
	return events
}

// finish runs the terminal transition exactly once: final broadcast,
// persistence sink, registry move. Safe to call from any exit path.
func (r *MatchRunner) finish(ctx context.Context, state *MatchState, winners []int, reason string) {
	r.finishOnce.Do(func() {
		log.Printf("match %s: finished (%s)", r.match.ID, reason)

		var scores []int
		if state != nil {
			scores = state.Scores
			if winners == nil {
				winners = CheckWinners(scores, 1) // highest scorers win an aborted match
			}
			r.bcast.Publish(r.match.ID, Frame{Type: FrameGameFinished, Data: GameFinishedFrame{
				GameState: state,
				Winners:   winners,
				Scores:    scores,
			}})
		}

		if !r.startedAt.IsZero() {
			result := &MatchResult{
				MatchID:    r.match.ID,
				GameType:   string(r.match.Settings.Type),
				Players:    r.coord.PlayerResults(r.match.ID, scores),
				StartedAt:  r.startedAt,
				FinishedAt: time.Now(),
			}
			if err := r.sink.SaveResult(ctx, result); err != nil {
				log.Printf("match %s: result sink: %v", r.match.ID, err)
			}
		}

		r.coord.MarkFinished(ctx, r.match.ID)
	})
}

// CheckWinners returns the player slots at or above the score threshold.
// Misses award points to every other player, so several players can cross
// the line in the same tick; all tied at the top are winners.
func CheckWinners(scores []int, threshold int) []int {
	best := -1
	for _, s := range scores {
		if s > best {
			best = s
		}
	}
	if best < threshold {
		return nil
	}
	var winners []int
	for i, s := range scores {
		if s == best {
			winners = append(winners, i)
		}
	}
	return winners
}
