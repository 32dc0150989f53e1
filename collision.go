package main

import (
	"math"
	"math/rand"
)

const (
	// small gap left between ball surface and boundary after a bounce so the
	// same collision cannot re-trigger next tick
	restBuffer = 1e-4

	speedUpFactor    = 1.05
	maxSpeedPerSize  = 1.5 // hard cap: 1.5 x ball size per tick
	paddleDeflectMax = math.Pi / 4
	edgeHitBand      = 0.1

	wallJitterBase    = 0.06        // radians
	shallowLimit      = math.Pi / 6 // within 30 degrees of parallel
	speedDampingScale = 20.0        // jitter shrinks as speed grows
)

// CollisionOutcome is what actually happened at the boundary
type CollisionOutcome int

const (
	OutcomeWallHit CollisionOutcome = iota
	OutcomePaddleHit
	OutcomeMiss
)

func (o CollisionOutcome) String() string {
	switch o {
	case OutcomeWallHit:
		return "wall_hit"
	case OutcomePaddleHit:
		return "paddle_hit"
	case OutcomeMiss:
		return "miss"
	}
	return "unknown"
}

// CollisionResult describes one resolved collision for event reporting
type CollisionResult struct {
	Outcome    CollisionOutcome `json:"outcome"`
	SideIndex  int              `json:"side_index"`
	BallIndex  int              `json:"ball_index"`
	Offset     float64          `json:"offset,omitempty"`
	EdgeHit    bool             `json:"edge_hit,omitempty"`
	FailedSlot int              `json:"failed_slot,omitempty"`
	Tunneled   bool             `json:"tunneled,omitempty"`
}

// CollisionResolver turns classified candidates into bounces and scores.
// The rng drives serve directions and wall jitter only.
type CollisionResolver struct {
	rng *rand.Rand
}

// NewCollisionResolver creates a resolver with the given randomness source
func NewCollisionResolver(rng *rand.Rand) *CollisionResolver {
	return &CollisionResolver{rng: rng}
}

// Resolve handles one candidate for one ball. It mutates the ball (and the
// scores on a miss) and returns what happened, or nil when the candidate
// turned out not to need resolution yet.
func (r *CollisionResolver) Resolve(g *Geometry, st *MatchState, ballIndex int, cand *CollisionCandidate, history *MotionHistory, serveSpeed float64) *CollisionResult {
	ball := &st.Balls[ballIndex]
	side := cand.SideIndex
	tunneled := cand.Kind == MotionTunneling

	if tunneled {
		r.snapToCrossing(g, ball, side)
	}

	if g.IsPlayerSide(side) && st.Paddles[side].Active {
		return r.resolvePaddleSide(g, st, ballIndex, side, tunneled, history, serveSpeed)
	}

	r.bounceWall(g, ball, side)
	return &CollisionResult{Outcome: OutcomeWallHit, SideIndex: side, BallIndex: ballIndex, Tunneled: tunneled}
}

// snapToCrossing moves a tunneled ball back onto the boundary it skipped.
// The prior position is reconstructed along the velocity vector; the
// crossing point is the linear interpolation where the signed distance
// changes sign.
func (r *CollisionResolver) snapToCrossing(g *Geometry, ball *Ball, side int) {
	nm := g.Normals[side]
	start := g.SideStart(side)

	prevX := ball.X - ball.VelocityX
	prevY := ball.Y - ball.VelocityY
	prevDist := (prevX-start.X)*nm.X + (prevY-start.Y)*nm.Y
	currDist := (ball.X-start.X)*nm.X + (ball.Y-start.Y)*nm.Y

	denom := prevDist - currDist
	if math.Abs(denom) < geomEpsilon {
		return
	}
	t := Clamp(prevDist/denom, 0, 1)
	ball.X = prevX + t*(ball.X-prevX)
	ball.Y = prevY + t*(ball.Y-prevY)
}

func (r *CollisionResolver) resolvePaddleSide(g *Geometry, st *MatchState, ballIndex, side int, tunneled bool, history *MotionHistory, serveSpeed float64) *CollisionResult {
	ball := &st.Balls[ballIndex]
	paddle := &st.Paddles[side]

	nm := g.Normals[side]
	start := g.SideStart(side)
	rawDist := (ball.X-start.X)*nm.X + (ball.Y-start.Y)*nm.Y
	if !tunneled && rawDist > st.Dimensions.PaddleWidth+ball.Size {
		// candidate, but not yet inside the hit zone
		return nil
	}

	relPos, ok := projectOntoSide(g, side, ball.X, ball.Y)
	if !ok {
		// degenerate side: treat as a plain wall rather than divide by zero
		r.bounceWall(g, ball, side)
		return &CollisionResult{Outcome: OutcomeWallHit, SideIndex: side, BallIndex: ballIndex, Tunneled: tunneled}
	}

	halfLen := st.Dimensions.PaddleLength / 2
	if math.Abs(relPos-paddle.Position) <= halfLen {
		offset := Clamp((relPos-paddle.Position)/halfLen, -1, 1)
		r.bouncePaddle(g, st, ball, side, offset)
		return &CollisionResult{
			Outcome:   OutcomePaddleHit,
			SideIndex: side,
			BallIndex: ballIndex,
			Offset:    offset,
			EdgeHit:   math.Abs(offset) >= 1-edgeHitBand,
			Tunneled:  tunneled,
		}
	}

	// the paddle is elsewhere: the ball escapes past it
	failed := g.ScoreIndex(side)
	for i := range st.Scores {
		if i != failed {
			st.Scores[i]++
		}
	}
	serveBall(ball, g, serveSpeed, side, r.rng)
	history.ResetBall(ballIndex)
	return &CollisionResult{
		Outcome:    OutcomeMiss,
		SideIndex:  side,
		BallIndex:  ballIndex,
		FailedSlot: failed,
		Tunneled:   tunneled,
	}
}

// projectOntoSide returns the ball's clamped projection parameter along the
// side, or false for degenerate (near zero length) sides.
func projectOntoSide(g *Geometry, side int, x, y float64) (float64, bool) {
	start := g.SideStart(side)
	vec := g.SideVector(side)
	len2 := vec.X*vec.X + vec.Y*vec.Y
	if len2 < geomEpsilon {
		return 0, false
	}
	t := ((x-start.X)*vec.X + (y-start.Y)*vec.Y) / len2
	return Clamp(t, 0, 1), true
}

// bouncePaddle reflects off a paddle face, deflected by up to 45 degrees
// toward the edge the ball struck.
func (r *CollisionResolver) bouncePaddle(g *Geometry, st *MatchState, ball *Ball, side int, offset float64) {
	nm := g.Normals[side]
	rx, ry := reflect(ball.VelocityX, ball.VelocityY, nm.X, nm.Y)
	rx, ry = rotate(rx, ry, offset*paddleDeflectMax)
	r.applyBounce(g, ball, side, rx, ry, st.Dimensions.PaddleWidth)
}

// bounceWall reflects off an inert side with a small random perturbation.
// The jitter range widens for shallow incidence (to break up endless grazing
// rallies) and narrows as speed grows (a fast rally must stay stable).
func (r *CollisionResolver) bounceWall(g *Geometry, ball *Ball, side int) {
	nm := g.Normals[side]
	rx, ry := reflect(ball.VelocityX, ball.VelocityY, nm.X, nm.Y)

	speed := math.Sqrt(rx*rx + ry*ry)
	if speed > geomEpsilon {
		cosToNormal := math.Abs(rx*nm.X+ry*nm.Y) / speed
		angleFromNormal := math.Acos(Clamp(cosToNormal, -1, 1))
		fromParallel := math.Pi/2 - angleFromNormal

		jitter := wallJitterBase
		if fromParallel < shallowLimit {
			jitter *= 1 + (shallowLimit-fromParallel)/shallowLimit
		}
		jitter /= 1 + speed*speedDampingScale

		delta := (r.rng.Float64()*2 - 1) * jitter
		px, py := rotate(rx, ry, delta)
		// the perturbed velocity must still point away from the surface
		if (px*nm.X+py*nm.Y)*(rx*nm.X+ry*nm.Y) > 0 {
			rx, ry = px, py
		}
	}

	r.applyBounce(g, ball, side, rx, ry, 0)
}

// applyBounce sets the post-bounce velocity (sped up, capped) and places the
// ball exactly at surface + normal*(size+buffer) so it cannot stick.
func (r *CollisionResolver) applyBounce(g *Geometry, ball *Ball, side int, vx, vy, surfaceOffset float64) {
	speed := math.Sqrt(vx*vx + vy*vy)
	if speed > geomEpsilon {
		newSpeed := speed * speedUpFactor
		if limit := maxSpeedPerSize * ball.Size; newSpeed > limit {
			newSpeed = limit
		}
		vx = vx / speed * newSpeed
		vy = vy / speed * newSpeed
	}
	ball.VelocityX = vx
	ball.VelocityY = vy

	nm := g.Normals[side]
	start := g.SideStart(side)
	rawDist := (ball.X-start.X)*nm.X + (ball.Y-start.Y)*nm.Y
	target := surfaceOffset + ball.Size + restBuffer
	ball.X += nm.X * (target - rawDist)
	ball.Y += nm.Y * (target - rawDist)
}

// reflect mirrors v across the plane with unit normal n
func reflect(vx, vy, nx, ny float64) (float64, float64) {
	dot := vx*nx + vy*ny
	return vx - 2*dot*nx, vy - 2*dot*ny
}

// rotate turns v by angle radians
func rotate(vx, vy, angle float64) (float64, float64) {
	cos := math.Cos(angle)
	sin := math.Sin(angle)
	return vx*cos - vy*sin, vx*sin + vy*cos
}

// serveBall resets a ball to the center aimed at a random player side,
// never straight back at avoidSide (the side that just conceded), so a miss
// cannot seed a degenerate instant rally.
func serveBall(ball *Ball, g *Geometry, speed float64, avoidSide int, rng *rand.Rand) {
	targets := make([]int, 0, len(g.PlayerSides))
	for _, s := range g.PlayerSides {
		if s != avoidSide {
			targets = append(targets, s)
		}
	}
	if len(targets) == 0 {
		targets = g.PlayerSides
	}

	var angle float64
	if len(targets) == 0 {
		angle = rng.Float64() * 2 * math.Pi
	} else {
		mid := g.SideMidpoint(targets[rng.Intn(len(targets))])
		angle = math.Atan2(mid.Y, mid.X) + (rng.Float64()-0.5)*math.Pi/4
	}

	ball.X = 0
	ball.Y = 0
	ball.VelocityX = speed * math.Cos(angle)
	ball.VelocityY = speed * math.Sin(angle)
}
