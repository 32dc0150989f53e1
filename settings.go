package main

// ShapeKind distinguishes the two physics variants
type ShapeKind string

const (
	ShapePolygon  ShapeKind = "polygon"
	ShapeCircular ShapeKind = "circular"
)

// Arena modes
const (
	ModeRegular   = "regular"
	ModeIrregular = "irregular"
	ModeCrazy     = "crazy"
	ModeStar      = "star"
	ModeClassic   = "classic"
)

// GameSettings holds the full per-match configuration
type GameSettings struct {
	Type             ShapeKind `json:"type" msgpack:"type"`
	Mode             string    `json:"mode" msgpack:"mode"`
	Sides            int       `json:"sides" msgpack:"sides"`
	NumPlayers       int       `json:"num_players" msgpack:"num_players"`
	MinPlayers       int       `json:"min_players" msgpack:"min_players"`
	NumBalls         int       `json:"num_balls" msgpack:"num_balls"`
	PaddleLength     float64   `json:"paddle_length" msgpack:"paddle_length"`
	PaddleWidth      float64   `json:"paddle_width" msgpack:"paddle_width"`
	BallSize         float64   `json:"ball_size" msgpack:"ball_size"`
	InitialBallSpeed float64   `json:"initial_ball_speed" msgpack:"initial_ball_speed"`
	ScoreLimit       int       `json:"score_limit" msgpack:"score_limit"`
}

// SettingsPatch carries user-supplied overrides; nil fields keep the preset value
type SettingsPatch struct {
	Type             *ShapeKind `json:"type,omitempty"`
	Mode             *string    `json:"mode,omitempty"`
	Sides            *int       `json:"sides,omitempty"`
	NumPlayers       *int       `json:"num_players,omitempty"`
	MinPlayers       *int       `json:"min_players,omitempty"`
	NumBalls         *int       `json:"num_balls,omitempty"`
	PaddleLength     *float64   `json:"paddle_length,omitempty"`
	PaddleWidth      *float64   `json:"paddle_width,omitempty"`
	BallSize         *float64   `json:"ball_size,omitempty"`
	InitialBallSpeed *float64   `json:"initial_ball_speed,omitempty"`
	ScoreLimit       *int       `json:"score_limit,omitempty"`
}

// DefaultSettings returns the preset for the given mode
func DefaultSettings(mode string) GameSettings {
	switch mode {
	case ModeClassic:
		return GameSettings{
			Type:             ShapePolygon,
			Mode:             ModeClassic,
			Sides:            4,
			NumPlayers:       2,
			MinPlayers:       2,
			NumBalls:         1,
			PaddleLength:     0.3,
			PaddleWidth:      0.03,
			BallSize:         0.05,
			InitialBallSpeed: 0.006,
			ScoreLimit:       11,
		}
	case ModeIrregular, ModeCrazy, ModeStar:
		return GameSettings{
			Type:             ShapePolygon,
			Mode:             mode,
			Sides:            6,
			NumPlayers:       3,
			MinPlayers:       2,
			NumBalls:         1,
			PaddleLength:     0.25,
			PaddleWidth:      0.03,
			BallSize:         0.05,
			InitialBallSpeed: 0.006,
			ScoreLimit:       11,
		}
	default:
		return GameSettings{
			Type:             ShapePolygon,
			Mode:             ModeRegular,
			Sides:            4,
			NumPlayers:       2,
			MinPlayers:       2,
			NumBalls:         1,
			PaddleLength:     0.25,
			PaddleWidth:      0.03,
			BallSize:         0.05,
			InitialBallSpeed: 0.006,
			ScoreLimit:       11,
		}
	}
}

// DefaultCircularSettings returns the preset for circular arenas
func DefaultCircularSettings() GameSettings {
	s := DefaultSettings(ModeRegular)
	s.Type = ShapeCircular
	s.Sides = 8
	return s
}

// Apply merges non-nil patch fields onto s
func (p *SettingsPatch) Apply(s *GameSettings) {
	if p == nil {
		return
	}
	if p.Type != nil {
		s.Type = *p.Type
	}
	if p.Mode != nil {
		s.Mode = *p.Mode
	}
	if p.Sides != nil {
		s.Sides = *p.Sides
	}
	if p.NumPlayers != nil {
		s.NumPlayers = *p.NumPlayers
	}
	if p.MinPlayers != nil {
		s.MinPlayers = *p.MinPlayers
	}
	if p.NumBalls != nil {
		s.NumBalls = *p.NumBalls
	}
	if p.PaddleLength != nil {
		s.PaddleLength = *p.PaddleLength
	}
	if p.PaddleWidth != nil {
		s.PaddleWidth = *p.PaddleWidth
	}
	if p.BallSize != nil {
		s.BallSize = *p.BallSize
	}
	if p.InitialBallSpeed != nil {
		s.InitialBallSpeed = *p.InitialBallSpeed
	}
	if p.ScoreLimit != nil {
		s.ScoreLimit = *p.ScoreLimit
	}
}

// Validate rejects settings no match may be created from
func (s *GameSettings) Validate() error {
	if s.Type != ShapePolygon && s.Type != ShapeCircular {
		return &ConfigError{Field: "type", Reason: "must be polygon or circular"}
	}
	switch s.Mode {
	case ModeRegular, ModeIrregular, ModeCrazy, ModeStar, ModeClassic:
	default:
		return &ConfigError{Field: "mode", Reason: "unknown mode"}
	}
	if s.Sides < 3 {
		return &ConfigError{Field: "sides", Reason: "need at least 3 sides"}
	}
	if s.Mode == ModeClassic && s.Sides != 4 {
		return &ConfigError{Field: "sides", Reason: "classic mode requires 4 sides"}
	}
	if s.NumPlayers < 1 {
		return &ConfigError{Field: "num_players", Reason: "need at least 1 player"}
	}
	if s.NumPlayers > s.Sides {
		return &ConfigError{Field: "num_players", Reason: "cannot exceed side count"}
	}
	if s.MinPlayers < 1 || s.MinPlayers > s.NumPlayers {
		return &ConfigError{Field: "min_players", Reason: "must be in [1, num_players]"}
	}
	if s.NumBalls < 1 {
		return &ConfigError{Field: "num_balls", Reason: "need at least 1 ball"}
	}
	for _, r := range []struct {
		name string
		val  float64
	}{
		{"paddle_length", s.PaddleLength},
		{"paddle_width", s.PaddleWidth},
		{"ball_size", s.BallSize},
		{"initial_ball_speed", s.InitialBallSpeed},
	} {
		if r.val <= 0 || r.val > 1 {
			return &ConfigError{Field: r.name, Reason: "must be in (0, 1]"}
		}
	}
	if s.ScoreLimit < 1 {
		return &ConfigError{Field: "score_limit", Reason: "must be positive"}
	}
	return nil
}
