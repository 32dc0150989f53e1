package main

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// PlayerResult is one player's final standing in a finished match
type PlayerResult struct {
	UserID string `json:"user_id"`
	Slot   int    `json:"slot"`
	Score  int    `json:"score"`
	Rank   int    `json:"rank"`
}

// MatchResult is handed to the persistence sink exactly once per match
type MatchResult struct {
	MatchID    string         `json:"match_id"`
	GameType   string         `json:"game_type"`
	Players    []PlayerResult `json:"players"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// ResultSink receives finished matches. The core does not care where they go.
type ResultSink interface {
	SaveResult(ctx context.Context, res *MatchResult) error
}

// DB is the SQLite-backed reference sink
type DB struct {
	conn *sql.DB
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL for concurrent readers while the sink writes
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS matches (
		id TEXT PRIMARY KEY,
		game_type TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS match_players (
		match_id TEXT NOT NULL REFERENCES matches(id),
		user_id TEXT NOT NULL,
		slot INTEGER NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		rank INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (match_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_match_players_user
		ON match_players(user_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveResult persists a finished match and its standings in one transaction
func (db *DB) SaveResult(ctx context.Context, res *MatchResult) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO matches (id, game_type, started_at, finished_at) VALUES (?, ?, ?, ?)`,
		res.MatchID, res.GameType, res.StartedAt, res.FinishedAt); err != nil {
		return err
	}
	for _, p := range res.Players {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO match_players (match_id, user_id, slot, score, rank) VALUES (?, ?, ?, ?, ?)`,
			res.MatchID, p.UserID, p.Slot, p.Score, p.Rank); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecentResults lists the most recently finished matches
func (db *DB) RecentResults(ctx context.Context, limit int) ([]*MatchResult, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, game_type, started_at, finished_at FROM matches ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*MatchResult
	for rows.Next() {
		res := &MatchResult{}
		if err := rows.Scan(&res.MatchID, &res.GameType, &res.StartedAt, &res.FinishedAt); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, res := range results {
		prows, err := db.conn.QueryContext(ctx,
			`SELECT user_id, slot, score, rank FROM match_players WHERE match_id = ? ORDER BY rank, slot`, res.MatchID)
		if err != nil {
			return nil, err
		}
		for prows.Next() {
			var p PlayerResult
			if err := prows.Scan(&p.UserID, &p.Slot, &p.Score, &p.Rank); err != nil {
				prows.Close()
				return nil, err
			}
			res.Players = append(res.Players, p)
		}
		if err := prows.Err(); err != nil {
			prows.Close()
			return nil, err
		}
		prows.Close()
	}
	return results, nil
}
