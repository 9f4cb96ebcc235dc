// Package auth verifies the operator session token the surrounding web layer
// issues. The coordinator never creates sessions; it only checks an existing
// token's signature and expected claims and extracts the operator identity.
package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rydklein/bflauncher-server/internal/services/fleet/domain"
)

// Identity is the operator identity carried by a verified session token.
type Identity struct {
	UserID      string
	DisplayName string
}

// SessionVerifier validates externally issued session tokens.
type SessionVerifier struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

type sessionClaims struct {
	jwt.RegisteredClaims
	DisplayName string `json:"display_name"`
}

// NewSessionVerifier builds a verifier from a base64-encoded ed25519 public
// key, as shared with the session-issuing web layer.
func NewSessionVerifier(issuer, audience, publicKey string) (SessionVerifier, error) {
	issuer = strings.TrimSpace(issuer)
	audience = strings.TrimSpace(audience)
	publicKey = strings.TrimSpace(publicKey)
	if issuer == "" {
		return SessionVerifier{}, errors.New("session issuer is required")
	}
	if audience == "" {
		return SessionVerifier{}, errors.New("session audience is required")
	}
	if publicKey == "" {
		return SessionVerifier{}, errors.New("session public key is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return SessionVerifier{}, fmt.Errorf("decode session public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return SessionVerifier{}, fmt.Errorf("session public key must be %d bytes", ed25519.PublicKeySize)
	}
	return SessionVerifier{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      time.Now,
	}, nil
}

// Verify checks the token's signature, issuer, audience, and time claims and
// returns the operator identity it carries.
func (v SessionVerifier) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, domain.NewError(domain.CodeHandshakeRejected, "session token is required")
	}
	now := v.Now
	if now == nil {
		now = time.Now
	}

	var claims sessionClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(v.Issuer),
		jwt.WithAudience(v.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.Key, nil
	})
	if err != nil {
		return Identity{}, domain.WrapError(domain.CodeHandshakeRejected, "invalid session token", err)
	}

	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return Identity{}, domain.NewError(domain.CodeHandshakeRejected, "session token has no subject")
	}
	displayName := strings.TrimSpace(claims.DisplayName)
	if displayName == "" {
		displayName = userID
	}
	return Identity{UserID: userID, DisplayName: displayName}, nil
}

func decodeBase64(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(value)
}
