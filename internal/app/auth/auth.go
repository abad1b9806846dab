// Package auth signs and validates the session tokens handed out after a
// GitHub login. Tokens are HS256 JWTs; the sessions table stores the SHA-256
// of each token, so deleting the row revokes the token before it expires.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "git-city"

// Claims is the payload of a session token.
type Claims struct {
	DeveloperID string `json:"developer_id"`
	Login       string `json:"login,omitempty"`
	jwt.RegisteredClaims
}

// Manager issues and validates session tokens with a shared HS256 secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// New builds a Manager. An empty secret is replaced with a random one, which
// invalidates every session on restart; callers should warn when that happens.
func New(secret string, ttl time.Duration) *Manager {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{secret: key, ttl: ttl}
}

// Ephemeral reports whether the Manager is running on a generated secret.
func (m *Manager) Ephemeral(configured string) bool {
	return configured == ""
}

// TTL returns the session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token for the developer and returns it with its expiry.
func (m *Manager) Issue(developerID, login string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(m.ttl)

	claims := &Claims{
		DeveloperID: developerID,
		Login:       login,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   developerID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate parses a token and returns its claims.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.DeveloperID == "" {
		return nil, errors.New("token carries no developer id")
	}
	return claims, nil
}

// HashToken returns the hex SHA-256 of a token, the form sessions store.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// State signs and checks the OAuth state parameter so the callback can reject
// forged redirects without server-side storage.
type State struct {
	secret []byte
	maxAge time.Duration
}

// NewState builds a State signer. The secret falls back to a random value the
// same way Manager does.
func NewState(secret string, maxAge time.Duration) *State {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	return &State{secret: key, maxAge: maxAge}
}

// Issue returns a state value of the form nonce.timestamp.signature.
func (s *State) Issue() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(buf)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return nonce + "." + ts + "." + s.sign(nonce, ts), nil
}

// Verify checks the signature and age of a state value.
func (s *State) Verify(state string) error {
	parts := strings.Split(state, ".")
	if len(parts) != 3 {
		return errors.New("malformed state")
	}
	nonce, ts, sig := parts[0], parts[1], parts[2]

	if !hmac.Equal([]byte(sig), []byte(s.sign(nonce, ts))) {
		return errors.New("state signature mismatch")
	}

	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.New("malformed state timestamp")
	}
	age := time.Since(time.Unix(issued, 0))
	if age < 0 || age > s.maxAge {
		return errors.New("state expired")
	}
	return nil
}

func (s *State) sign(nonce, ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(nonce))
	mac.Write([]byte("."))
	mac.Write([]byte(ts))
	return hex.EncodeToString(mac.Sum(nil))
}
