package main

import "math"

// MotionKind classifies a ball's motion relative to one side
type MotionKind int

const (
	MotionParallel MotionKind = iota
	MotionApproaching
	MotionReceding
	MotionTunneling
)

func (k MotionKind) String() string {
	switch k {
	case MotionParallel:
		return "parallel"
	case MotionApproaching:
		return "approaching"
	case MotionReceding:
		return "receding"
	case MotionTunneling:
		return "tunneling"
	}
	return "unknown"
}

// CollisionCandidate is one side worth resolving this tick
type CollisionCandidate struct {
	SideIndex int
	Kind      MotionKind
	// Distance is the signed perpendicular distance, already reduced by the
	// paddle footprint on player sides. Negative means past the boundary.
	Distance float64
}

// classifySide classifies one (ball, side) pair and updates its history.
// The pre-crossing history is deliberately preserved on tunneling so the
// resolver can reconstruct where the ball crossed.
func classifySide(g *Geometry, st *MatchState, ball *Ball, side int, hist *SideHistory) (MotionKind, float64) {
	nm := g.Normals[side]
	start := g.SideStart(side)

	rawDist := (ball.X-start.X)*nm.X + (ball.Y-start.Y)*nm.Y
	dist := rawDist
	if nm.IsPlayer && st.Paddles[side].Active {
		// collision must trigger at the paddle's outer face, not the wall
		dist -= st.Dimensions.PaddleWidth + ball.Size
	}
	dot := ball.VelocityX*nm.X + ball.VelocityY*nm.Y

	wasApproaching := hist.Seen && hist.DotProduct < -geomEpsilon
	crossed := hist.Seen && dist*hist.Distance < 0

	var kind MotionKind
	switch {
	case math.Abs(dot) < geomEpsilon:
		kind = MotionParallel
	case wasApproaching && crossed:
		// The boundary was passed entirely within one tick: the ball never
		// registered a short-distance approach. Keep the old record.
		return MotionTunneling, dist
	case dot < 0:
		kind = MotionApproaching
	default:
		kind = MotionReceding
	}

	hist.Distance = dist
	hist.SignedDistance = rawDist
	hist.DotProduct = dot
	hist.Seen = true
	return kind, dist
}

// SelectCandidate picks the side to resolve for one ball this tick.
// Tunneling outranks everything; otherwise the nearest in-range approaching
// or parallel side wins. Returns nil when the ball flies free.
func SelectCandidate(g *Geometry, st *MatchState, ballIndex int, history *MotionHistory) *CollisionCandidate {
	ball := &st.Balls[ballIndex]
	bh := &history.Balls[ballIndex]

	// dead-zone early exit: inside the inner boundary nothing can be hit
	centerDist := math.Sqrt(ball.X*ball.X + ball.Y*ball.Y)
	inDeadzone := centerDist+ball.Size < g.InnerBoundary
	if inDeadzone != bh.InDeadzone {
		// crossing the dead-zone edge invalidates the per-side records
		for i := range bh.Sides {
			bh.Sides[i] = SideHistory{}
		}
		bh.InDeadzone = inDeadzone
	}
	bh.LastPosition = Vector2{X: ball.X, Y: ball.Y}
	if inDeadzone {
		return nil
	}

	var best *CollisionCandidate
	for side := range g.Normals {
		kind, dist := classifySide(g, st, ball, side, &bh.Sides[side])
		switch kind {
		case MotionTunneling:
			return &CollisionCandidate{SideIndex: side, Kind: kind, Distance: dist}
		case MotionApproaching, MotionParallel:
			if dist > ball.Size {
				continue
			}
			if best == nil || dist < best.Distance {
				best = &CollisionCandidate{SideIndex: side, Kind: kind, Distance: dist}
			}
		}
	}
	return best
}
