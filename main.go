package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	redisAddr := flag.String("redis", "", "Redis address (empty: in-memory store)")
	dbPath := flag.String("db", "results.db", "Path to SQLite results database")
	gateSecret := flag.String("gate-secret", "", "Hex HMAC secret for join tokens (empty: random per run)")
	publicURL := flag.String("public-url", "http://localhost:8080", "Base URL embedded in invite QR codes")
	flag.Parse()

	var store Store
	if *redisAddr != "" {
		rs, err := NewRedisStore(*redisAddr)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rs.Close()
		store = rs
		log.Printf("using Redis store at %s", *redisAddr)
	} else {
		store = NewMemoryStore()
		log.Printf("using in-memory store")
	}

	db, err := OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	secret := loadGateSecret(*gateSecret)
	gate := NewJWTGate(secret)

	coordinator := NewCoordinator(store, db)
	hub := NewHub(coordinator)
	coordinator.SetBroadcaster(hub)
	go hub.Run()

	mux := SetupRoutes(hub, coordinator, gate, db, *publicURL)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	server := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Printf("Server starting on %s", *addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down...")
	server.Close()
}

func loadGateSecret(hexSecret string) []byte {
	if hexSecret != "" {
		b, err := hex.DecodeString(hexSecret)
		if err != nil || len(b) < 16 {
			log.Fatalf("gate-secret must be at least 32 hex characters")
		}
		return b
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		log.Fatalf("could not generate gate secret: %v", err)
	}
	return secret
}
