package token

import (
	"errors"
	"testing"
	"time"
)

func newTestIssuer() *Issuer {
	return NewIssuer("verified-secret", "session-secret", "scholarbridge", "scholarbridge-api", 15*time.Minute, 24*time.Hour)
}

func TestVerifiedRoundTrip(t *testing.T) {
	iss := newTestIssuer()

	signed, err := iss.IssueVerified("reg-1", "ada@example.com", "student")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := iss.ParseVerified(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "reg-1" {
		t.Fatalf("expected subject reg-1, got %s", claims.Subject)
	}
	if claims.Email != "ada@example.com" || claims.AccountKind != "student" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	iss := newTestIssuer()

	signed, expiresAt, err := iss.IssueSession("acct-1", "ada@example.com", "donor")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatal("expected future expiry")
	}

	claims, err := iss.ParseSession(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "acct-1" || !claims.Verified {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokensAreNotInterchangeable(t *testing.T) {
	iss := newTestIssuer()

	verified, err := iss.IssueVerified("reg-1", "ada@example.com", "student")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := iss.ParseSession(verified); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken parsing verified token as session, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	iss := NewIssuer("verified-secret", "session-secret", "scholarbridge", "scholarbridge-api", -time.Minute, -time.Minute)

	signed, err := iss.IssueVerified("reg-1", "ada@example.com", "student")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := iss.ParseVerified(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestWrongIssuerRejected(t *testing.T) {
	iss := newTestIssuer()
	other := NewIssuer("verified-secret", "session-secret", "someone-else", "scholarbridge-api", 15*time.Minute, 24*time.Hour)

	signed, err := other.IssueVerified("reg-1", "ada@example.com", "student")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := iss.ParseVerified(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong issuer, got %v", err)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	iss := newTestIssuer()

	signed, err := iss.IssueVerified("reg-1", "ada@example.com", "student")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	tampered := signed[:len(signed)-2] + "xx"
	if _, err := iss.ParseVerified(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}
