package main

import (
	"math"
	"math/rand"
	"sort"
)

const geomEpsilon = 1e-10

// classic arena is a 16:9 rectangle
const (
	classicHalfWidth  = 1.0
	classicHalfHeight = 9.0 / 16.0
)

// SideNormal is a side's inward-pointing unit normal
type SideNormal struct {
	X         float64 `msgpack:"x"`
	Y         float64 `msgpack:"y"`
	SideIndex int     `msgpack:"side_index"`
	IsPlayer  bool    `msgpack:"is_player"`
}

// Geometry describes one arena. Computed once at match creation and shared
// read-only between the classifier and the resolver for the match lifetime.
type Geometry struct {
	Kind          ShapeKind    `msgpack:"kind"`
	Vertices      []Vector2    `msgpack:"vertices"`
	Normals       []SideNormal `msgpack:"normals"`
	InnerBoundary float64      `msgpack:"inner_boundary"`
	// Scale maps pre-normalization units onto the 1.0 outer boundary.
	// Dimension settings were authored against a 1.0 boundary and must be
	// multiplied by it after vertex normalization.
	Scale       float64 `msgpack:"scale"`
	PlayerSides []int   `msgpack:"player_sides"`
}

// GeometryBuilder computes arena geometry. The rng only feeds crazy-mode
// jitter; every other mode is a pure function of the settings.
type GeometryBuilder struct {
	rng *rand.Rand
}

// NewGeometryBuilder creates a builder with the given jitter source
func NewGeometryBuilder(rng *rand.Rand) *GeometryBuilder {
	return &GeometryBuilder{rng: rng}
}

// DistributeSides assigns player paddles to side indices. Deterministic for
// a given (sides, players, mode): two players sit diametrically opposite,
// classic mode pins them to the vertical sides, sparse fills space evenly,
// dense alternates on even indices then sweeps up the remaining gaps.
func DistributeSides(sides, players int, mode string) ([]int, error) {
	if players < 1 {
		return nil, &ConfigError{Field: "num_players", Reason: "need at least 1 player"}
	}
	if players > sides {
		return nil, &ConfigError{Field: "num_players", Reason: "cannot exceed side count"}
	}

	if mode == ModeClassic && sides == 4 && players <= 2 {
		if players == 1 {
			return []int{1}, nil
		}
		return []int{1, 3}, nil
	}
	if players == 2 {
		return []int{0, sides / 2}, nil
	}

	assigned := make([]int, 0, players)
	if players <= sides/2 {
		stride := sides / players
		for i := 0; i < players; i++ {
			assigned = append(assigned, i*stride)
		}
	} else {
		used := make([]bool, sides)
		for i := 0; i < sides && len(assigned) < players; i += 2 {
			used[i] = true
			assigned = append(assigned, i)
		}
		for i := 0; i < sides && len(assigned) < players; i++ {
			if !used[i] {
				used[i] = true
				assigned = append(assigned, i)
			}
		}
	}
	sort.Ints(assigned)
	return assigned, nil
}

// Build computes the full arena geometry for validated settings
func (b *GeometryBuilder) Build(s GameSettings) (*Geometry, error) {
	playerSides, err := DistributeSides(s.Sides, s.NumPlayers, s.Mode)
	if err != nil {
		return nil, err
	}

	isPlayer := make([]bool, s.Sides)
	for _, idx := range playerSides {
		isPlayer[idx] = true
	}

	var vertices []Vector2
	if s.Mode == ModeClassic {
		vertices = classicVertices()
	} else {
		vertices = b.radialVertices(s, isPlayer)
	}

	scale := normalizeVertices(vertices)

	g := &Geometry{
		Kind:        s.Type,
		Vertices:    vertices,
		Scale:       scale,
		PlayerSides: playerSides,
	}
	g.Normals = computeNormals(vertices, isPlayer)
	g.InnerBoundary = innerBoundary(vertices, g.Normals)
	return g, nil
}

// classicVertices returns the 16:9 rectangle, counterclockwise, so that
// sides 1 and 3 are the vertical player sides.
func classicVertices() []Vector2 {
	return []Vector2{
		{X: classicHalfWidth, Y: classicHalfHeight},
		{X: -classicHalfWidth, Y: classicHalfHeight},
		{X: -classicHalfWidth, Y: -classicHalfHeight},
		{X: classicHalfWidth, Y: -classicHalfHeight},
	}
}

// radialVertices places vertex i at angle i*2pi/N with a per-vertex radius
// derived from the side ratios of the two sides meeting there.
func (b *GeometryBuilder) radialVertices(s GameSettings, isPlayer []bool) []Vector2 {
	n := s.Sides
	ratios := b.sideRatios(s, isPlayer)
	vertices := make([]Vector2, n)
	for i := 0; i < n; i++ {
		r := (ratios[(i-1+n)%n] + ratios[i]) / 2
		angle := float64(i) * 2 * math.Pi / float64(n)
		vertices[i] = Vector2{X: r * math.Cos(angle), Y: r * math.Sin(angle)}
	}
	return vertices
}

// sideRatios computes a radius ratio per side. Player sides always sit on
// the unit circle; deformation only pulls wall sides inward, scaled by how
// crowded the arena is and smoothed so neighboring walls meet gently.
func (b *GeometryBuilder) sideRatios(s GameSettings, isPlayer []bool) []float64 {
	n := s.Sides
	ratios := make([]float64, n)
	for i := range ratios {
		ratios[i] = 1.0
	}
	if s.Type == ShapeCircular || s.Mode == ModeRegular {
		return ratios
	}

	players := 0
	for _, p := range isPlayer {
		if p {
			players++
		}
	}
	density := float64(players) / float64(n)
	deform := 0.2 + 0.3*density

	switch s.Mode {
	case ModeStar:
		for i := range ratios {
			if !isPlayer[i] && i%2 == 1 {
				ratios[i] = 1 - deform
			}
		}
	case ModeCrazy:
		for i := range ratios {
			if !isPlayer[i] {
				ratios[i] = 1 - deform + b.rng.Float64()*deform*0.5
			}
		}
	default: // irregular
		for i := range ratios {
			if !isPlayer[i] {
				ratios[i] = 1 - deform*0.5
			}
		}
	}

	// Smoothing pass over wall sides only; player sides stay exact.
	smoothed := make([]float64, n)
	for i := range ratios {
		if isPlayer[i] {
			smoothed[i] = ratios[i]
			continue
		}
		prev := ratios[(i-1+n)%n]
		next := ratios[(i+1)%n]
		smoothed[i] = (prev + 2*ratios[i] + next) / 4
	}
	return smoothed
}

// normalizeVertices rescales in place so the maximum coordinate magnitude is
// exactly 1.0, and returns the scale factor that was applied.
func normalizeVertices(vertices []Vector2) float64 {
	maxCoord := 0.0
	for _, v := range vertices {
		if a := math.Abs(v.X); a > maxCoord {
			maxCoord = a
		}
		if a := math.Abs(v.Y); a > maxCoord {
			maxCoord = a
		}
	}
	if maxCoord < geomEpsilon {
		return 1.0
	}
	scale := 1.0 / maxCoord
	for i := range vertices {
		vertices[i].X *= scale
		vertices[i].Y *= scale
	}
	return scale
}

// computeNormals returns the inward unit normal of every side
func computeNormals(vertices []Vector2, isPlayer []bool) []SideNormal {
	n := len(vertices)
	normals := make([]SideNormal, n)
	for i := 0; i < n; i++ {
		start := vertices[i]
		end := vertices[(i+1)%n]
		edgeX := end.X - start.X
		edgeY := end.Y - start.Y

		nx := edgeY
		ny := -edgeX
		length := math.Sqrt(nx*nx + ny*ny)
		if length < geomEpsilon {
			// degenerate side: fall back to a unit vector instead of NaN
			nx, ny = 1, 0
		} else {
			nx /= length
			ny /= length
		}

		// flip outward-pointing normals: they must face the center
		midX := (start.X + end.X) / 2
		midY := (start.Y + end.Y) / 2
		if nx*(-midX)+ny*(-midY) < 0 {
			nx, ny = -nx, -ny
		}

		normals[i] = SideNormal{X: nx, Y: ny, SideIndex: i, IsPlayer: isPlayer[i]}
	}
	return normals
}

// innerBoundary is the shortest perpendicular distance from the origin to
// any side line. Balls inside this radius cannot touch anything.
func innerBoundary(vertices []Vector2, normals []SideNormal) float64 {
	minDist := math.Inf(1)
	for i, nm := range normals {
		d := math.Abs(vertices[i].X*nm.X + vertices[i].Y*nm.Y)
		if d < minDist {
			minDist = d
		}
	}
	return minDist
}

// SideStart returns the first vertex of side i
func (g *Geometry) SideStart(i int) Vector2 {
	return g.Vertices[i]
}

// SideEnd returns the second vertex of side i
func (g *Geometry) SideEnd(i int) Vector2 {
	return g.Vertices[(i+1)%len(g.Vertices)]
}

// SideVector returns end-start for side i
func (g *Geometry) SideVector(i int) Vector2 {
	s, e := g.SideStart(i), g.SideEnd(i)
	return Vector2{X: e.X - s.X, Y: e.Y - s.Y}
}

// SideMidpoint returns the midpoint of side i
func (g *Geometry) SideMidpoint(i int) Vector2 {
	s, e := g.SideStart(i), g.SideEnd(i)
	return Vector2{X: (s.X + e.X) / 2, Y: (s.Y + e.Y) / 2}
}

// IsPlayerSide reports whether side i carries a paddle
func (g *Geometry) IsPlayerSide(i int) bool {
	return g.Normals[i].IsPlayer
}

// ScoreIndex maps a player side to its index in the scores slice, or -1 for
// wall sides. Score order follows ascending side index.
func (g *Geometry) ScoreIndex(side int) int {
	for rank, idx := range g.PlayerSides {
		if idx == side {
			return rank
		}
	}
	return -1
}
