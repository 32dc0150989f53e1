package main

import (
	"fmt"
	"math"
	"math/rand"
)

// Vector2 is a 2D point or direction in normalized arena coordinates
type Vector2 struct {
	X float64 `msgpack:"x" json:"x"`
	Y float64 `msgpack:"y" json:"y"`
}

// Ball position is normalized so the outer arena boundary sits at radius 1.0
type Ball struct {
	X         float64 `msgpack:"x" json:"x"`
	Y         float64 `msgpack:"y" json:"y"`
	VelocityX float64 `msgpack:"velocity_x" json:"velocity_x"`
	VelocityY float64 `msgpack:"velocity_y" json:"velocity_y"`
	Size      float64 `msgpack:"size" json:"size"`
}

// Speed returns the velocity magnitude
func (b *Ball) Speed() float64 {
	return math.Sqrt(b.VelocityX*b.VelocityX + b.VelocityY*b.VelocityY)
}

// Paddle occupies a side. Position is the normalized offset along the side,
// 0.5 centered. Inactive paddles behave as plain walls.
type Paddle struct {
	Position  float64 `msgpack:"position" json:"position"`
	Active    bool    `msgpack:"active" json:"active"`
	SideIndex int     `msgpack:"side_index" json:"side_index"`
}

// Dimensions are normalized and already multiplied by the geometry scale
type Dimensions struct {
	PaddleLength float64 `msgpack:"paddle_length" json:"paddle_length"`
	PaddleWidth  float64 `msgpack:"paddle_width" json:"paddle_width"`
}

// MatchState is the unit of atomic read-modify-write each tick. It is owned
// exclusively by the tick loop while a tick runs and lives in the store at
// all other times.
type MatchState struct {
	Balls      []Ball     `msgpack:"balls" json:"balls"`
	Paddles    []Paddle   `msgpack:"paddles" json:"paddles"`
	Scores     []int      `msgpack:"scores" json:"scores"`
	Dimensions Dimensions `msgpack:"dimensions" json:"dimensions"`
	GameType   string     `msgpack:"game_type" json:"game_type"`
}

// NewMatchState builds the initial state for a match: paddles centered on
// every side, zero scores, balls serving from the center toward a random
// player side.
func NewMatchState(s GameSettings, g *Geometry, rng *rand.Rand) *MatchState {
	paddles := make([]Paddle, s.Sides)
	for i := range paddles {
		paddles[i] = Paddle{Position: 0.5, Active: g.IsPlayerSide(i), SideIndex: i}
	}

	state := &MatchState{
		Balls:   make([]Ball, s.NumBalls),
		Paddles: paddles,
		Scores:  make([]int, len(g.PlayerSides)),
		Dimensions: Dimensions{
			PaddleLength: s.PaddleLength * g.Scale,
			PaddleWidth:  s.PaddleWidth * g.Scale,
		},
		GameType: string(s.Type),
	}
	for i := range state.Balls {
		state.Balls[i] = Ball{Size: s.BallSize * g.Scale}
		serveBall(&state.Balls[i], g, s.InitialBallSpeed*g.Scale, -1, rng)
	}
	return state
}

// ActivePaddleCount returns the number of paddles backed by players
func (st *MatchState) ActivePaddleCount() int {
	n := 0
	for _, p := range st.Paddles {
		if p.Active {
			n++
		}
	}
	return n
}

// Validate performs the structural checks run at both tick checkpoints.
// postPhysics marks the severity of a failure: corruption in freshly
// computed state is a resolver bug, not external damage.
func (st *MatchState) Validate(matchID string, postPhysics bool) error {
	fail := func(format string, args ...interface{}) error {
		return &StateValidationError{
			MatchID:     matchID,
			Reason:      fmt.Sprintf(format, args...),
			PostPhysics: postPhysics,
		}
	}

	if len(st.Balls) == 0 {
		return fail("no balls")
	}
	for i, b := range st.Balls {
		if b.Size <= 0 {
			return fail("ball %d: size %v not positive", i, b.Size)
		}
		for _, v := range []float64{b.X, b.Y, b.VelocityX, b.VelocityY, b.Size} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fail("ball %d: non-finite value", i)
			}
		}
	}

	if len(st.Paddles) < 3 {
		return fail("only %d paddles, need one per side", len(st.Paddles))
	}
	for i, p := range st.Paddles {
		if p.SideIndex != i {
			return fail("paddle %d: side index %d out of order", i, p.SideIndex)
		}
		if p.Position < 0 || p.Position > 1 || math.IsNaN(p.Position) {
			return fail("paddle %d: position %v out of [0,1]", i, p.Position)
		}
	}

	if got, want := len(st.Scores), st.ActivePaddleCount(); got != want {
		return fail("%d scores for %d active paddles", got, want)
	}
	for i, s := range st.Scores {
		if s < 0 {
			return fail("score %d negative: %d", i, s)
		}
	}

	if st.Dimensions.PaddleLength <= 0 || st.Dimensions.PaddleWidth <= 0 {
		return fail("non-positive paddle dimensions")
	}
	return nil
}

// SideHistory is the previous-tick record for one (ball, side) pair.
// Distance carries the paddle-footprint adjustment applied during
// classification; SignedDistance is the raw perpendicular distance.
type SideHistory struct {
	Distance       float64
	SignedDistance float64
	DotProduct     float64
	Seen           bool
}

// BallHistory is all cross-tick memory for one ball
type BallHistory struct {
	Sides        []SideHistory
	InDeadzone   bool
	LastPosition Vector2
}

// MotionHistory exists purely so the classifier can detect sign changes
// between frames. It is never serialized.
type MotionHistory struct {
	Balls []BallHistory
}

// NewMotionHistory allocates history for the given ball and side counts
func NewMotionHistory(numBalls, numSides int) *MotionHistory {
	h := &MotionHistory{Balls: make([]BallHistory, numBalls)}
	for i := range h.Balls {
		h.Balls[i].Sides = make([]SideHistory, numSides)
	}
	return h
}

// ResetBall wipes one ball's memory. Called on serve and on dead-zone
// transitions: stale records would read as phantom sign flips.
func (h *MotionHistory) ResetBall(ballIndex int) {
	if ballIndex < 0 || ballIndex >= len(h.Balls) {
		return
	}
	b := &h.Balls[ballIndex]
	for i := range b.Sides {
		b.Sides[i] = SideHistory{}
	}
	b.InDeadzone = false
	b.LastPosition = Vector2{}
}
