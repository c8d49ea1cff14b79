package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medibridge/telemed-coordinator/internal/appointment"
)

// CredentialMinter stands in for the external video provider: given a room
// and a participant identity it returns an opaque access credential. The
// coordinator never interprets the credential's contents.
type CredentialMinter interface {
	Mint(roomID, identity string, role appointment.Role) (string, error)
}

// JWTMinter signs room credentials with an HMAC secret shared with the video
// provider.
type JWTMinter struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

func NewJWTMinter(secret string, ttl time.Duration) (*JWTMinter, error) {
	if secret == "" {
		return nil, errors.New("session token secret is required")
	}
	return &JWTMinter{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  time.Now,
	}, nil
}

func (m *JWTMinter) Mint(roomID, identity string, role appointment.Role) (string, error) {
	now := m.clock()

	claims := jwt.MapClaims{
		"room": roomID,
		"sub":  identity,
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  now.Add(m.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign room credential: %w", err)
	}
	return signed, nil
}
