package main

import (
	"encoding/json"
	"log"
	"sync"
)

const (
	maxConnsPerIP = 8
	maxTotalConns = 2000
)

// Broadcaster is the publish-to-group primitive the tick loop pushes frames
// onto. Delivery is fire-and-forget.
type Broadcaster interface {
	Publish(matchID string, frame Frame)
}

// Hub tracks connected clients and their per-match broadcast groups
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	groups     map[string]map[*Client]bool // matchID -> subscribers
	register   chan *Client
	unregister chan *Client

	coordinator *Coordinator

	// Connection limiting (accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
}

// NewHub creates a new Hub
func NewHub(coordinator *Coordinator) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		groups:      make(map[string]map[*Client]bool),
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		coordinator: coordinator,
		ipConns:     make(map[string]int),
	}
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			if client.matchID != "" {
				if group, ok := h.groups[client.matchID]; ok {
					delete(group, client)
					if len(group) == 0 {
						delete(h.groups, client.matchID)
					}
				}
			}
			h.mu.Unlock()

			// A departing player may end the match; spectators do not count.
			if client.matchID != "" && client.role == RolePlayer {
				h.coordinator.RemovePlayer(client.matchID, client.userID)
			}
		}
	}
}

// Subscribe adds a client to a match's broadcast group
func (h *Hub) Subscribe(matchID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.groups[matchID] == nil {
		h.groups[matchID] = make(map[*Client]bool)
	}
	h.groups[matchID][client] = true
}

// Publish fans a frame out to all of a match's subscribers. Slow clients
// drop frames rather than stalling the tick loop.
func (h *Hub) Publish(matchID string, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("hub: marshal %s frame: %v", frame.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.groups[matchID] {
		select {
		case client.send <- data:
		default:
		}
	}
}

// SubscriberCount returns the number of clients in a match group
func (h *Hub) SubscriberCount(matchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[matchID])
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
