package main

import "encoding/json"

// Server -> client frame types
const (
	FrameGameState    = "game_state"
	FrameGameFinished = "game_finished"
	FrameWaiting      = "waiting"
	FrameError        = "error"
	FrameJoined       = "joined"
)

// Client -> server actions
const (
	ActionJoin       = "join"
	ActionMovePaddle = "move_paddle"
)

// Paddle move directions
const (
	DirLeft  = "left"
	DirRight = "right"
)

// Frame is the envelope for every outgoing message
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// InFrame defers payload decoding until the action is known
type InFrame struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// GameStateFrame carries the authoritative state after each tick
type GameStateFrame struct {
	GameState   *MatchState        `json:"game_state"`
	CycleEvents []*CollisionResult `json:"cycle_events,omitempty"`
	Tick        uint64             `json:"tick"`
}

// GameFinishedFrame is the terminal broadcast of a match
type GameFinishedFrame struct {
	GameState *MatchState `json:"game_state"`
	Winners   []int       `json:"winner"`
	Scores    []int       `json:"final_scores"`
}

// WaitingFrame is broadcast while the match gathers players
type WaitingFrame struct {
	CurrentPlayers  int `json:"current_players"`
	RequiredPlayers int `json:"required_players"`
}

// ErrorFrame reports a failed tick or request to subscribers
type ErrorFrame struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// JoinedFrame confirms a client's admission
type JoinedFrame struct {
	MatchID   string `json:"match_id"`
	SideIndex int    `json:"side_index"`
	Spectator bool   `json:"spectator"`
}

// JoinMsg is the first message a connecting client sends
type JoinMsg struct {
	MatchID string `json:"match_id"`
	Token   string `json:"token"`
}

// MovePaddleMsg nudges the sender's paddle. Mid-cooldown or out-of-range
// moves are dropped silently, not errors.
type MovePaddleMsg struct {
	Direction string `json:"direction"`
	UserID    string `json:"user_id"`
}

// CreateMatchRequest is the HTTP body for match creation
type CreateMatchRequest struct {
	Mode     string         `json:"mode"`
	Settings *SettingsPatch `json:"settings,omitempty"`
}

// CreateMatchResponse returns the new match id and invite path
type CreateMatchResponse struct {
	MatchID  string       `json:"match_id"`
	Settings GameSettings `json:"settings"`
	JoinPath string       `json:"join_path"`
}

// MatchSummary is one entry in the match list endpoint
type MatchSummary struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Players int    `json:"players"`
	Needed  int    `json:"needed"`
}
