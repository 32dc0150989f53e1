package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Admission roles
const (
	RolePlayer    = "player"
	RoleSpectator = "spectator"
)

// Admission is the gate's verdict on a connecting identity
type Admission struct {
	UserID string
	Role   string
}

// AdmissionGate decides whether a connecting identity is an authorized
// player for a match or a spectator. Token issuance lives in the external
// auth service; only verification happens here.
type AdmissionGate interface {
	Admit(matchID, token string) (*Admission, error)
}

// JWTGate verifies externally-issued HS256 join tokens
type JWTGate struct {
	secret []byte
}

// NewJWTGate creates a gate with the shared verification secret
func NewJWTGate(secret []byte) *JWTGate {
	return &JWTGate{secret: secret}
}

// Admit verifies the token and extracts the identity. An empty token means
// an anonymous spectator; a token bound to a different match is rejected.
func (g *JWTGate) Admit(matchID, tokenStr string) (*Admission, error) {
	if tokenStr == "" {
		return &Admission{UserID: guestID(), Role: RoleSpectator}, nil
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return g.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	if mid, ok := claims["mid"].(string); ok && mid != matchID {
		return nil, fmt.Errorf("token issued for another match")
	}
	role, _ := claims["role"].(string)
	if role != RolePlayer {
		role = RoleSpectator
	}
	return &Admission{UserID: userID, Role: role}, nil
}

// IssueJoinToken signs a join token. Production issuance belongs to the auth
// service; this exists for tests and local single-node runs.
func IssueJoinToken(secret []byte, userID, matchID, role string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  userID,
		"mid":  matchID,
		"role": role,
		"exp":  time.Now().Add(ttl).Unix(),
		"iat":  time.Now().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func guestID() string {
	b := make([]byte, 3)
	rand.Read(b)
	return "guest_" + hex.EncodeToString(b)
}
