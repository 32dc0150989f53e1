package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50

	// minimum gap between applied paddle moves; anything faster is dropped
	moveCooldown = 100 * time.Millisecond
)

// Client represents a WebSocket connection
type Client struct {
	hub         *Hub
	coordinator *Coordinator
	gate        AdmissionGate
	conn        *websocket.Conn
	send        chan []byte
	remoteAddr  string

	matchID string
	userID  string
	role    string

	msgCount   int
	msgResetAt time.Time
	lastMove   time.Time
}

// NewClient creates a new Client
func NewClient(hub *Hub, coordinator *Coordinator, gate AdmissionGate, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:         hub,
		coordinator: coordinator,
		gate:        gate,
		conn:        conn,
		send:        make(chan []byte, sendBufSize),
		remoteAddr:  remoteAddr,
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			log.Printf("rate limit exceeded for %s, disconnecting", c.remoteAddr)
			break
		}

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendFrame queues one frame, dropping it if the client is backed up
func (c *Client) SendFrame(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) handleMessage(message []byte) {
	var in InFrame
	if err := json.Unmarshal(message, &in); err != nil {
		c.SendFrame(Frame{Type: FrameError, Data: ErrorFrame{Error: "malformed message"}})
		return
	}

	switch in.Action {
	case ActionJoin:
		var msg JoinMsg
		if err := json.Unmarshal(in.Data, &msg); err != nil {
			c.SendFrame(Frame{Type: FrameError, Data: ErrorFrame{Error: "malformed join"}})
			return
		}
		c.handleJoin(msg)

	case ActionMovePaddle:
		var msg MovePaddleMsg
		if err := json.Unmarshal(in.Data, &msg); err != nil {
			return
		}
		c.handleMove(msg)

	default:
		c.SendFrame(Frame{Type: FrameError, Data: ErrorFrame{Error: "unknown action"}})
	}
}

// handleJoin runs the admission handshake: gate verdict first, then slot
// admission for players. Spectators subscribe without touching capacity.
func (c *Client) handleJoin(msg JoinMsg) {
	if c.matchID != "" {
		c.SendFrame(Frame{Type: FrameError, Data: ErrorFrame{Error: "already joined"}})
		return
	}

	adm, err := c.gate.Admit(msg.MatchID, msg.Token)
	if err != nil {
		c.SendFrame(Frame{Type: FrameError, Data: ErrorFrame{Error: "admission denied", Details: err.Error()}})
		return
	}

	sideIndex := -1
	if adm.Role == RolePlayer {
		ctx, cancel := context.WithTimeout(context.Background(), admissionTimeout)
		slot, err := c.coordinator.JoinPlayer(ctx, msg.MatchID, adm.UserID)
		cancel()

		var capErr *CapacityError
		switch {
		case err == nil:
			sideIndex = c.coordinator.Match(msg.MatchID).SideOf(slot)
		case errors.As(err, &capErr):
			c.SendFrame(Frame{Type: FrameError, Data: ErrorFrame{Error: "cannot join", Details: capErr.Error()}})
			return
		case errors.Is(err, ErrMatchNotFound):
			c.SendFrame(Frame{Type: FrameError, Data: ErrorFrame{Error: "match not found"}})
			return
		default:
			c.SendFrame(Frame{Type: FrameError, Data: ErrorFrame{Error: "join failed", Details: err.Error()}})
			return
		}
	} else if c.coordinator.Match(msg.MatchID) == nil {
		c.SendFrame(Frame{Type: FrameError, Data: ErrorFrame{Error: "match not found"}})
		return
	}

	c.matchID = msg.MatchID
	c.userID = adm.UserID
	c.role = adm.Role
	c.hub.Subscribe(msg.MatchID, c)
	c.SendFrame(Frame{Type: FrameJoined, Data: JoinedFrame{
		MatchID:   msg.MatchID,
		SideIndex: sideIndex,
		Spectator: adm.Role != RolePlayer,
	}})
}

// handleMove applies a paddle nudge, silently dropping spectator input and
// anything inside the cooldown window.
func (c *Client) handleMove(msg MovePaddleMsg) {
	if c.matchID == "" || c.role != RolePlayer {
		return
	}
	now := time.Now()
	if now.Sub(c.lastMove) < moveCooldown {
		return
	}
	c.lastMove = now

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.coordinator.MovePaddle(ctx, c.matchID, c.userID, msg.Direction)
}
