package main

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	qrcode "github.com/skip2/go-qrcode"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// SetupRoutes configures HTTP routes
func SetupRoutes(hub *Hub, coordinator *Coordinator, gate AdmissionGate, db *DB, publicURL string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /matches", func(w http.ResponseWriter, r *http.Request) {
		var req CreateMatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}

		match, err := coordinator.CreateMatch(r.Context(), req.Mode, req.Settings)
		if err != nil {
			var cfgErr *ConfigError
			if errors.As(err, &cfgErr) {
				http.Error(w, cfgErr.Error(), http.StatusBadRequest)
				return
			}
			log.Printf("create match: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, CreateMatchResponse{
			MatchID:  match.ID,
			Settings: match.Settings,
			JoinPath: "/ws?match_id=" + match.ID,
		})
	})

	mux.HandleFunc("GET /matches", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, coordinator.ListMatches())
	})

	// booking: reserve a slot before the websocket connects
	mux.HandleFunc("POST /matches/{id}/book", func(w http.ResponseWriter, r *http.Request) {
		matchID := r.PathValue("id")
		adm, err := gate.Admit(matchID, r.Header.Get("Authorization"))
		if err != nil {
			http.Error(w, "admission denied", http.StatusUnauthorized)
			return
		}
		if adm.Role != RolePlayer {
			http.Error(w, "spectators need no booking", http.StatusForbidden)
			return
		}

		if err := coordinator.BookSlot(r.Context(), matchID, adm.UserID); err != nil {
			var capErr *CapacityError
			switch {
			case errors.Is(err, ErrMatchNotFound):
				http.Error(w, "match not found", http.StatusNotFound)
			case errors.As(err, &capErr):
				http.Error(w, capErr.Error(), http.StatusConflict)
			default:
				log.Printf("book slot: %v", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// invite QR for sharing a match from a phone or stream overlay
	mux.HandleFunc("GET /matches/{id}/qr", func(w http.ResponseWriter, r *http.Request) {
		matchID := r.PathValue("id")
		if coordinator.Match(matchID) == nil {
			http.Error(w, "match not found", http.StatusNotFound)
			return
		}
		png, err := qrcode.Encode(publicURL+"/"+matchID, qrcode.Medium, 256)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	})

	mux.HandleFunc("GET /results", func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			http.Error(w, "results unavailable", http.StatusNotFound)
			return
		}
		results, err := db.RecentResults(r.Context(), 20)
		if err != nil {
			log.Printf("recent results: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, results)
	})

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		if !hub.CanAccept(ip) {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade error: %v", err)
			return
		}

		hub.TrackConnect(ip)

		client := NewClient(hub, coordinator, gate, conn, ip)
		hub.register <- client

		go client.WritePump()
		go client.ReadPump()
	})

	return mux
}
