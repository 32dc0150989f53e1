package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) (*httptest.Server, *Coordinator) {
	t.Helper()
	store := NewMemoryStore()
	db, err := OpenDB(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	gate := NewJWTGate(gateSecret)
	coord := NewCoordinator(store, db)
	hub := NewHub(coord)
	coord.SetBroadcaster(hub)
	go hub.Run()

	srv := httptest.NewServer(SetupRoutes(hub, coord, gate, db, "https://play.example"))
	t.Cleanup(srv.Close)
	return srv, coord
}

func createMatchHTTP(t *testing.T, srv *httptest.Server, body string) CreateMatchResponse {
	t.Helper()
	resp, err := http.Post(srv.URL+"/matches", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created CreateMatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	return created
}

func TestCreateAndListMatches(t *testing.T) {
	srv, _ := newTestServer(t)

	created := createMatchHTTP(t, srv, `{"mode":"classic"}`)
	if created.MatchID == "" {
		t.Fatal("empty match id")
	}
	if created.Settings.Sides != 4 || created.Settings.Mode != ModeClassic {
		t.Errorf("settings = %+v", created.Settings)
	}
	if created.JoinPath != "/ws?match_id="+created.MatchID {
		t.Errorf("join path = %s", created.JoinPath)
	}

	resp, err := http.Get(srv.URL + "/matches")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var list []MatchSummary
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != created.MatchID || list[0].Status != "waiting" {
		t.Errorf("list = %+v", list)
	}
}

func TestCreateMatchRejectsBadBody(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []string{
		`not json`,
		`{"mode":"classic","settings":{"num_players":9}}`,
	}
	for _, body := range cases {
		resp, err := http.Post(srv.URL+"/matches", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestBookEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createMatchHTTP(t, srv, `{"mode":"classic"}`)

	token, err := IssueJoinToken(gateSecret, "alice", created.MatchID, RolePlayer, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	book := func(matchID, auth string) int {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/matches/"+matchID+"/book", bytes.NewReader(nil))
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := book(created.MatchID, token); got != http.StatusNoContent {
		t.Errorf("player booking status = %d, want 204", got)
	}
	if got := book(created.MatchID, ""); got != http.StatusForbidden {
		t.Errorf("spectator booking status = %d, want 403", got)
	}
	if got := book(created.MatchID, "garbage"); got != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", got)
	}

	wrongMatch, _ := IssueJoinToken(gateSecret, "alice", "nope", RolePlayer, time.Minute)
	if got := book("nope", wrongMatch); got != http.StatusNotFound {
		t.Errorf("unknown match status = %d, want 404", got)
	}
}

func TestQRInviteEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createMatchHTTP(t, srv, `{"mode":"classic"}`)

	resp, err := http.Get(srv.URL + "/matches/" + created.MatchID + "/qr")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("qr status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %s", ct)
	}

	missing, err := http.Get(srv.URL + "/matches/nope/qr")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("unknown match qr status = %d, want 404", missing.StatusCode)
	}
}

func TestResultsEndpointEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/results")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("results status = %d", resp.StatusCode)
	}
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendAction(t *testing.T, conn *websocket.Conn, action string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(InFrame{Action: action, Data: data}); err != nil {
		t.Fatal(err)
	}
}

// readFrame decodes the next server frame, failing on the error type
func readFrame(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type == FrameError {
		t.Fatalf("server error frame: %s", frame.Data)
	}
	return frame.Type, frame.Data
}

// waitForFrame discards frames until one of the wanted type arrives
func waitForFrame(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		typ, data := readFrame(t, conn)
		if typ == want {
			return data
		}
	}
	t.Fatalf("no %s frame before deadline", want)
	return nil
}

func TestWebSocketSoloMatchReachesRunning(t *testing.T) {
	srv, coord := newTestServer(t)

	created := createMatchHTTP(t, srv, `{"mode":"classic","settings":{"num_players":1,"min_players":1}}`)
	token, err := IssueJoinToken(gateSecret, "alice", created.MatchID, RolePlayer, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	conn := dialWS(t, srv)
	sendAction(t, conn, ActionJoin, JoinMsg{MatchID: created.MatchID, Token: token})

	joinedRaw := waitForFrame(t, conn, FrameJoined)
	var joined JoinedFrame
	if err := json.Unmarshal(joinedRaw, &joined); err != nil {
		t.Fatal(err)
	}
	if joined.Spectator {
		t.Error("player admitted as spectator")
	}
	if joined.SideIndex != 1 {
		t.Errorf("side index = %d, want 1", joined.SideIndex)
	}

	// the lifecycle loop polls admissions once a second, then starts ticking
	stateRaw := waitForFrame(t, conn, FrameGameState)
	var gs struct {
		GameState MatchState `json:"game_state"`
		Tick      uint64     `json:"tick"`
	}
	if err := json.Unmarshal(stateRaw, &gs); err != nil {
		t.Fatal(err)
	}
	if len(gs.GameState.Balls) != 1 || len(gs.GameState.Paddles) != 4 {
		t.Errorf("broadcast state: %d balls, %d paddles", len(gs.GameState.Balls), len(gs.GameState.Paddles))
	}
	if gs.Tick == 0 {
		t.Error("tick counter should start at 1")
	}
	if coord.Match(created.MatchID).Status != StatusRunning {
		t.Errorf("match status = %s, want running", coord.Match(created.MatchID).Status)
	}
}

func TestWebSocketSpectatorJoin(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createMatchHTTP(t, srv, `{"mode":"classic"}`)

	conn := dialWS(t, srv)
	sendAction(t, conn, ActionJoin, JoinMsg{MatchID: created.MatchID, Token: ""})

	var joined JoinedFrame
	if err := json.Unmarshal(waitForFrame(t, conn, FrameJoined), &joined); err != nil {
		t.Fatal(err)
	}
	if !joined.Spectator || joined.SideIndex != -1 {
		t.Errorf("joined = %+v, want spectator with no side", joined)
	}
}

func TestWebSocketJoinFullMatch(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createMatchHTTP(t, srv, `{"mode":"classic","settings":{"num_players":1,"min_players":1}}`)

	first, err := IssueJoinToken(gateSecret, "alice", created.MatchID, RolePlayer, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	connA := dialWS(t, srv)
	sendAction(t, connA, ActionJoin, JoinMsg{MatchID: created.MatchID, Token: first})
	waitForFrame(t, connA, FrameJoined)

	second, _ := IssueJoinToken(gateSecret, "bob", created.MatchID, RolePlayer, time.Minute)
	connB := dialWS(t, srv)
	sendAction(t, connB, ActionJoin, JoinMsg{MatchID: created.MatchID, Token: second})

	connB.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame Frame
	if err := connB.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != FrameError {
		t.Fatalf("frame type = %s, want error", frame.Type)
	}
}

func TestWebSocketMovePaddle(t *testing.T) {
	srv, coord := newTestServer(t)
	created := createMatchHTTP(t, srv, `{"mode":"classic","settings":{"num_players":1,"min_players":1}}`)

	token, err := IssueJoinToken(gateSecret, "alice", created.MatchID, RolePlayer, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	conn := dialWS(t, srv)
	sendAction(t, conn, ActionJoin, JoinMsg{MatchID: created.MatchID, Token: token})

	var joined JoinedFrame
	if err := json.Unmarshal(waitForFrame(t, conn, FrameJoined), &joined); err != nil {
		t.Fatal(err)
	}
	sendAction(t, conn, ActionMovePaddle, MovePaddleMsg{Direction: DirRight})

	// the move lands in the store's paddle hash, merged on the next tick
	deadline := time.Now().Add(3 * time.Second)
	for {
		targets, err := coord.store.PaddleTargets(context.Background(), created.MatchID)
		if err != nil {
			t.Fatal(err)
		}
		if pos, ok := targets[joined.SideIndex]; ok {
			if pos != 0.55 {
				t.Errorf("target = %v, want 0.55", pos)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("paddle target never written")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
