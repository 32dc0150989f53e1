package main

import (
	"errors"
	"math"
	"testing"
)

func TestPatchApply(t *testing.T) {
	s := DefaultSettings(ModeRegular)

	sides, players, limit := 6, 3, 5
	p := &SettingsPatch{Sides: &sides, NumPlayers: &players, ScoreLimit: &limit}
	p.Apply(&s)

	if s.Sides != 6 || s.NumPlayers != 3 || s.ScoreLimit != 5 {
		t.Errorf("patched settings %+v", s)
	}
	if s.BallSize != 0.05 {
		t.Errorf("unpatched field changed: ball_size = %v", s.BallSize)
	}

	// nil patch and nil fields leave everything alone
	var nilPatch *SettingsPatch
	before := s
	nilPatch.Apply(&s)
	(&SettingsPatch{}).Apply(&s)
	if s != before {
		t.Errorf("empty patches mutated settings")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*GameSettings)
		field  string
	}{
		{"two sides", func(s *GameSettings) { s.Sides = 2 }, "sides"},
		{"classic off-square", func(s *GameSettings) { s.Mode = ModeClassic; s.Sides = 5 }, "sides"},
		{"more players than sides", func(s *GameSettings) { s.NumPlayers = 7 }, "num_players"},
		{"zero players", func(s *GameSettings) { s.NumPlayers = 0 }, "num_players"},
		{"min above num", func(s *GameSettings) { s.MinPlayers = 5 }, "min_players"},
		{"zero min", func(s *GameSettings) { s.MinPlayers = 0 }, "min_players"},
		{"no balls", func(s *GameSettings) { s.NumBalls = 0 }, "num_balls"},
		{"huge paddle", func(s *GameSettings) { s.PaddleLength = 1.5 }, "paddle_length"},
		{"zero ball", func(s *GameSettings) { s.BallSize = 0 }, "ball_size"},
		{"negative speed", func(s *GameSettings) { s.InitialBallSpeed = -0.01 }, "initial_ball_speed"},
		{"zero score limit", func(s *GameSettings) { s.ScoreLimit = 0 }, "score_limit"},
		{"bad mode", func(s *GameSettings) { s.Mode = "hexagonal" }, "mode"},
		{"bad type", func(s *GameSettings) { s.Type = "oval" }, "type"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := DefaultSettings(ModeRegular)
			s.Sides = 6
			s.NumPlayers = 3
			c.mutate(&s)

			err := s.Validate()
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != c.field {
				t.Errorf("field = %s, want %s", cfgErr.Field, c.field)
			}
		})
	}
}

func TestValidateAcceptsPresets(t *testing.T) {
	for _, mode := range []string{ModeRegular, ModeIrregular, ModeCrazy, ModeStar, ModeClassic} {
		s := DefaultSettings(mode)
		if err := s.Validate(); err != nil {
			t.Errorf("%s preset invalid: %v", mode, err)
		}
	}
	s := DefaultCircularSettings()
	if err := s.Validate(); err != nil {
		t.Errorf("circular preset invalid: %v", err)
	}
}

func TestStateValidation(t *testing.T) {
	s := DefaultSettings(ModeClassic)
	g := buildGeometry(t, s, 7)

	fresh := func() *MatchState { return NewMatchState(s, g, testRand(7)) }

	if err := fresh().Validate("m1", false); err != nil {
		t.Fatalf("fresh state invalid: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*MatchState)
	}{
		{"no balls", func(st *MatchState) { st.Balls = nil }},
		{"nan position", func(st *MatchState) { st.Balls[0].X = math.NaN() }},
		{"zero ball size", func(st *MatchState) { st.Balls[0].Size = 0 }},
		{"paddle out of range", func(st *MatchState) { st.Paddles[1].Position = 1.5 }},
		{"side order broken", func(st *MatchState) { st.Paddles[2].SideIndex = 0 }},
		{"score count mismatch", func(st *MatchState) { st.Scores = []int{0} }},
		{"negative score", func(st *MatchState) { st.Scores[0] = -1 }},
		{"zero paddle width", func(st *MatchState) { st.Dimensions.PaddleWidth = 0 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			st := fresh()
			c.mutate(st)

			err := st.Validate("m1", true)
			var valErr *StateValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("expected StateValidationError, got %v", err)
			}
			if !valErr.PostPhysics {
				t.Error("severity flag not carried through")
			}
			if valErr.MatchID != "m1" {
				t.Errorf("match id = %s", valErr.MatchID)
			}
		})
	}
}

func TestMotionHistoryReset(t *testing.T) {
	h := NewMotionHistory(2, 4)
	h.Balls[1].Sides[2] = SideHistory{Distance: 0.1, Seen: true}
	h.Balls[1].InDeadzone = true
	h.Balls[0].Sides[0] = SideHistory{Distance: 0.2, Seen: true}

	h.ResetBall(1)
	if h.Balls[1].Sides[2].Seen || h.Balls[1].InDeadzone {
		t.Error("reset did not wipe the ball's memory")
	}
	if !h.Balls[0].Sides[0].Seen {
		t.Error("reset touched another ball")
	}

	// out-of-range indexes are ignored
	h.ResetBall(-1)
	h.ResetBall(9)
}
