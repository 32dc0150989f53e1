package main

import (
	"context"
	"math"
	"math/rand"
	stdreflect "reflect"
	"sync"
	"testing"
	"time"
)

// mockBroadcaster captures published frames for testing
type mockBroadcaster struct {
	mu     sync.Mutex
	frames []Frame
}

func (m *mockBroadcaster) Publish(matchID string, frame Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frame)
}

func (m *mockBroadcaster) framesOfType(frameType string) []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Frame
	for _, f := range m.frames {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

// mockSink records persisted match results
type mockSink struct {
	mu      sync.Mutex
	results []*MatchResult
}

func (m *mockSink) SaveResult(ctx context.Context, res *MatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
	return nil
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

func newTestRunner(t *testing.T) (*MatchRunner, *MemoryStore, *mockBroadcaster, *mockSink, *Coordinator) {
	t.Helper()
	store := NewMemoryStore()
	sink := &mockSink{}
	bcast := &mockBroadcaster{}
	coord := NewCoordinator(store, sink)
	coord.SetBroadcaster(bcast)

	s := DefaultSettings(ModeClassic)
	g := buildGeometry(t, s, 5)
	rng := rand.New(rand.NewSource(11))

	match := &Match{
		ID:         "m-test",
		Status:     StatusRunning,
		Settings:   s,
		Geometry:   g,
		Players:    map[string]int{"alice": 0, "bob": 1},
		CreatedAt:  time.Now(),
		hadPlayers: true,
	}
	match.runner = NewMatchRunner(match, coord, store, bcast, sink, rng)
	match.runner.startedAt = time.Now()
	coord.matches[match.ID] = match

	ctx := context.Background()
	if err := store.SaveSettings(ctx, match.ID, &s); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveState(ctx, match.ID, NewMatchState(s, g, rng)); err != nil {
		t.Fatal(err)
	}
	return match.runner, store, bcast, sink, coord
}

func TestCheckWinners(t *testing.T) {
	cases := []struct {
		scores    []int
		threshold int
		want      []int
	}{
		{[]int{11, 9}, 11, []int{0}},
		{[]int{11, 11}, 11, []int{0, 1}},
		{[]int{10, 9}, 11, nil},
		{[]int{3, 12, 12, 5}, 11, []int{1, 2}},
	}
	for _, c := range cases {
		if got := CheckWinners(c.scores, c.threshold); !stdreflect.DeepEqual(got, c.want) {
			t.Errorf("CheckWinners(%v, %d) = %v, want %v", c.scores, c.threshold, got, c.want)
		}
	}
}

func TestTickBroadcastsState(t *testing.T) {
	runner, _, bcast, _, _ := newTestRunner(t)

	if err := runner.runTick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	frames := bcast.framesOfType(FrameGameState)
	if len(frames) != 1 {
		t.Fatalf("expected 1 game_state frame, got %d", len(frames))
	}
	gs, ok := frames[0].Data.(GameStateFrame)
	if !ok {
		t.Fatalf("unexpected frame payload %T", frames[0].Data)
	}
	if gs.Tick != 1 {
		t.Errorf("tick = %d, want 1", gs.Tick)
	}
	if len(gs.GameState.Balls) != 1 {
		t.Errorf("expected 1 ball in broadcast state")
	}
}

func TestForcedMissScoresAndResets(t *testing.T) {
	runner, store, bcast, _, _ := newTestRunner(t)
	ctx := context.Background()

	// ball one step from escaping past the left paddle, paddle parked away
	st, err := store.LoadState(ctx, "m-test")
	if err != nil {
		t.Fatal(err)
	}
	st.Balls[0] = Ball{X: -0.92, Y: 0, VelocityX: -0.01, VelocityY: 0, Size: 0.05}
	st.Paddles[1].Position = 0.95
	if err := store.SaveState(ctx, "m-test", st); err != nil {
		t.Fatal(err)
	}
	// pin the paddle target so the input merge keeps it parked
	store.SetPaddleTarget(ctx, "m-test", 1, 0.95)

	if err := runner.runTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	after, err := store.LoadState(ctx, "m-test")
	if err != nil {
		t.Fatal(err)
	}
	if !stdreflect.DeepEqual(after.Scores, []int{0, 1}) {
		t.Errorf("scores = %v, want [0 1]", after.Scores)
	}

	ball := after.Balls[0]
	if ball.X != 0 || ball.Y != 0 {
		t.Errorf("ball should reset to center, got (%v, %v)", ball.X, ball.Y)
	}
	wantSpeed := runner.match.Settings.InitialBallSpeed * runner.match.Geometry.Scale
	if math.Abs(ball.Speed()-wantSpeed) > 1e-12 {
		t.Errorf("serve speed %v, want %v", ball.Speed(), wantSpeed)
	}

	frames := bcast.framesOfType(FrameGameState)
	if len(frames) != 1 {
		t.Fatalf("expected a game_state frame")
	}
	events := frames[0].Data.(GameStateFrame).CycleEvents
	if len(events) != 1 || events[0].Outcome != OutcomeMiss {
		t.Errorf("expected one miss event, got %+v", events)
	}
}

func TestWinThresholdFinishesMatch(t *testing.T) {
	runner, store, bcast, sink, coord := newTestRunner(t)
	ctx := context.Background()

	st, err := store.LoadState(ctx, "m-test")
	if err != nil {
		t.Fatal(err)
	}
	st.Scores = []int{11, 9}
	if err := store.SaveState(ctx, "m-test", st); err != nil {
		t.Fatal(err)
	}

	if err := runner.runTick(ctx); err != errMatchOver {
		t.Fatalf("expected errMatchOver, got %v", err)
	}

	frames := bcast.framesOfType(FrameGameFinished)
	if len(frames) != 1 {
		t.Fatalf("expected 1 game_finished frame, got %d", len(frames))
	}
	fin := frames[0].Data.(GameFinishedFrame)
	if !stdreflect.DeepEqual(fin.Winners, []int{0}) {
		t.Errorf("winners = %v, want [0]", fin.Winners)
	}

	if sink.count() != 1 {
		t.Errorf("sink invoked %d times, want exactly once", sink.count())
	}
	res := sink.results[0]
	if len(res.Players) != 2 {
		t.Fatalf("expected 2 player results, got %d", len(res.Players))
	}
	for _, p := range res.Players {
		if p.Slot == 0 && p.Rank != 1 {
			t.Errorf("winner rank = %d, want 1", p.Rank)
		}
		if p.Slot == 1 && p.Rank != 2 {
			t.Errorf("loser rank = %d, want 2", p.Rank)
		}
	}

	if coord.Match("m-test").Status != StatusFinished {
		t.Error("match should be marked finished")
	}

	// a second finish (any exit path) must not re-invoke the sink
	runner.finish(ctx, st, []int{0}, "again")
	if sink.count() != 1 {
		t.Errorf("sink invoked %d times after double finish", sink.count())
	}
}

func TestCorruptStateAbortsThenFinishes(t *testing.T) {
	runner, store, bcast, _, coord := newTestRunner(t)
	ctx := context.Background()

	st, err := store.LoadState(ctx, "m-test")
	if err != nil {
		t.Fatal(err)
	}
	st.Scores = []int{1} // wrong length for two active paddles
	if err := store.SaveState(ctx, "m-test", st); err != nil {
		t.Fatal(err)
	}

	// first failure aborts the tick but keeps the loop alive
	if err := runner.runTick(ctx); err != nil {
		t.Fatalf("first corrupt tick should not kill the loop: %v", err)
	}
	if len(bcast.framesOfType(FrameError)) == 0 {
		t.Error("corruption must broadcast an error frame")
	}
	if coord.Match("m-test").Status == StatusFinished {
		t.Fatal("one validation failure should not finish the match")
	}

	// recurring corruption finishes the match
	if err := runner.runTick(ctx); err != errMatchOver {
		t.Fatalf("expected errMatchOver on recurring corruption, got %v", err)
	}
	if coord.Match("m-test").Status != StatusFinished {
		t.Error("recurring corruption must finish the match")
	}
}

func TestHeldLockSkipsTick(t *testing.T) {
	runner, store, bcast, _, _ := newTestRunner(t)
	ctx := context.Background()

	token, ok, err := store.TryLock(ctx, "m-test", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("could not take the match lock: %v", err)
	}
	defer store.Unlock(ctx, "m-test", token)

	if err := runner.runTick(ctx); err != nil {
		t.Fatalf("held lock should skip the tick, got %v", err)
	}
	if len(bcast.framesOfType(FrameGameState)) != 0 {
		t.Error("a skipped tick must not broadcast state")
	}
}
