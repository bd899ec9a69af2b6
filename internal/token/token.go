// Package token issues and validates the two signed capabilities of the
// activation pipeline: the short-lived verified token a student carries from
// OTP verification into the payment gate, and the session token issued when
// an account is finalized. Both are HS256 JWTs with fixed issuer and
// audience claims; each uses its own secret so one can never stand in for
// the other.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token is malformed, mis-signed,
// expired, or carries the wrong issuer/audience.
var ErrInvalidToken = errors.New("invalid token")

// VerifiedClaims prove {registrationId, email, accountKind} passed OTP
// verification. Subject holds the registration id.
type VerifiedClaims struct {
	jwt.RegisteredClaims
	Email       string `json:"email"`
	AccountKind string `json:"kind"`
}

// SessionClaims are the bearer credential for an activated account.
// Subject holds the account id.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email       string `json:"email"`
	AccountKind string `json:"kind"`
	Verified    bool   `json:"verified"`
}

// Issuer signs and validates both token types.
type Issuer struct {
	verifiedSecret []byte
	sessionSecret  []byte
	issuer         string
	audience       string
	verifiedTTL    time.Duration
	sessionTTL     time.Duration
}

// NewIssuer builds an Issuer with distinct secrets for verified and session tokens.
func NewIssuer(verifiedSecret, sessionSecret, issuer, audience string, verifiedTTL, sessionTTL time.Duration) *Issuer {
	return &Issuer{
		verifiedSecret: []byte(verifiedSecret),
		sessionSecret:  []byte(sessionSecret),
		issuer:         issuer,
		audience:       audience,
		verifiedTTL:    verifiedTTL,
		sessionTTL:     sessionTTL,
	}
}

// IssueVerified mints the capability handed to a student after a correct OTP.
func (i *Issuer) IssueVerified(registrationID, email, accountKind string) (string, error) {
	now := time.Now().UTC()
	claims := VerifiedClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   registrationID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.verifiedTTL)),
		},
		Email:       email,
		AccountKind: accountKind,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.verifiedSecret)
}

// ParseVerified validates signature, expiry, issuer and audience of a
// verified token and returns its claims.
func (i *Issuer) ParseVerified(tokenString string) (VerifiedClaims, error) {
	var claims VerifiedClaims
	if err := i.parse(tokenString, &claims, i.verifiedSecret); err != nil {
		return VerifiedClaims{}, err
	}
	if err := i.checkRegistered(claims.RegisteredClaims); err != nil {
		return VerifiedClaims{}, err
	}
	return claims, nil
}

// IssueSession mints the bearer token for a finalized account and returns it
// with its expiry time.
func (i *Issuer) IssueSession(accountID, email, accountKind string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(i.sessionTTL)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:       email,
		AccountKind: accountKind,
		Verified:    true,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.sessionSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseSession validates a session token and returns its claims.
func (i *Issuer) ParseSession(tokenString string) (SessionClaims, error) {
	var claims SessionClaims
	if err := i.parse(tokenString, &claims, i.sessionSecret); err != nil {
		return SessionClaims{}, err
	}
	if err := i.checkRegistered(claims.RegisteredClaims); err != nil {
		return SessionClaims{}, err
	}
	return claims, nil
}

func (i *Issuer) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil || !tok.Valid {
		return ErrInvalidToken
	}
	return nil
}

func (i *Issuer) checkRegistered(rc jwt.RegisteredClaims) error {
	if rc.Issuer != i.issuer {
		return ErrInvalidToken
	}
	for _, a := range rc.Audience {
		if a == i.audience {
			return nil
		}
	}
	return ErrInvalidToken
}
