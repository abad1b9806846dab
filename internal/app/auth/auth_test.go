package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndValidateRoundTrip(t *testing.T) {
	m := New(testSecret, time.Hour)

	token, expiresAt, err := m.Issue("dev-1", "octocat")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if token == "" {
		t.Fatal("Issue returned empty token")
	}
	if remaining := time.Until(expiresAt); remaining < 55*time.Minute || remaining > time.Hour {
		t.Fatalf("expiry %v out of expected window", remaining)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if claims.DeveloperID != "dev-1" {
		t.Fatalf("DeveloperID = %q, want dev-1", claims.DeveloperID)
	}
	if claims.Login != "octocat" {
		t.Fatalf("Login = %q, want octocat", claims.Login)
	}
	if claims.Subject != "dev-1" {
		t.Fatalf("Subject = %q, want dev-1", claims.Subject)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, _, err := New(testSecret, time.Hour).Issue("dev-1", "octocat")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	other := New("another-secret-that-is-long-enough", time.Hour)
	if _, err := other.Validate(token); err == nil {
		t.Fatal("expected validation to fail with a different secret")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	m := &Manager{secret: []byte(testSecret), ttl: -time.Minute}

	token, _, err := m.Issue("dev-1", "octocat")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if _, err := m.Validate(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestValidateRejectsNonHMACToken(t *testing.T) {
	claims := &Claims{DeveloperID: "dev-1"}
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	m := New(testSecret, time.Hour)
	if _, err := m.Validate(token); err == nil {
		t.Fatal("expected none-algorithm token to be rejected")
	}
}

func TestEmptySecretStillSignsTokens(t *testing.T) {
	m := New("", time.Hour)

	token, _, err := m.Issue("dev-1", "")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if _, err := m.Validate(token); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	a := HashToken("token-a")
	if a != HashToken("token-a") {
		t.Fatal("same token hashed to different values")
	}
	if a == HashToken("token-b") {
		t.Fatal("different tokens hashed to the same value")
	}
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(a))
	}
}

func TestStateRoundTrip(t *testing.T) {
	s := NewState(testSecret, 10*time.Minute)

	state, err := s.Issue()
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if err := s.Verify(state); err != nil {
		t.Fatalf("Verify error: %v", err)
	}
}

func TestStateRejectsTampering(t *testing.T) {
	s := NewState(testSecret, 10*time.Minute)

	state, err := s.Issue()
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	last := state[len(state)-1]
	flipped := byte('0')
	if last == '0' {
		flipped = '1'
	}
	tampered := state[:len(state)-1] + string(flipped)

	if err := s.Verify(tampered); err == nil {
		t.Fatal("expected tampered state to be rejected")
	}
}

func TestStateRejectsExpired(t *testing.T) {
	s := NewState(testSecret, 10*time.Minute)

	nonce := "deadbeefdeadbeefdeadbeefdeadbeef"
	ts := "1000000000"
	state := nonce + "." + ts + "." + s.sign(nonce, ts)

	err := s.Verify(state)
	if err == nil {
		t.Fatal("expected stale state to be rejected")
	}
	if !strings.Contains(err.Error(), "expired") {
		t.Fatalf("error = %v, want expired", err)
	}
}

func TestStateRejectsMalformedValues(t *testing.T) {
	s := NewState(testSecret, 10*time.Minute)

	for _, state := range []string{"", "a.b", "a.b.c.d", "nonce.notanumber.sig"} {
		if err := s.Verify(state); err == nil {
			t.Fatalf("expected %q to be rejected", state)
		}
	}
}
