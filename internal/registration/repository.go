package registration

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no active pending registration matches the lookup.
	ErrNotFound = errors.New("pending registration not found")

	// ErrChallengeNotFound indicates the registration has no live OTP
	// challenge (never issued, consumed, or invalidated).
	ErrChallengeNotFound = errors.New("otp challenge not found")

	// ErrDuplicateActive indicates another live registration already owns
	// the email; raised when concurrent inserts race past the lookup.
	ErrDuplicateActive = errors.New("active registration already exists for email")
)

// Repository persists pending registrations and their OTP challenges.
// State changes go through TransitionState so concurrent writers race on a
// conditional update instead of read-modify-write.
type Repository interface {
	// Create stores a new pending registration together with its first challenge.
	Create(ctx context.Context, reg PendingRegistration, ch OtpChallenge) error

	// FindActiveByEmail returns the non-expired, non-completed registration
	// for the email, applying lazy expiry: a row past its deadline is moved
	// to EXPIRED and reported as ErrNotFound.
	FindActiveByEmail(ctx context.Context, email string) (PendingRegistration, error)

	// FindByID returns the registration regardless of state.
	FindByID(ctx context.Context, id string) (PendingRegistration, error)

	// TransitionState moves the registration from one state to another only
	// if it currently holds the expected state, and reports whether this
	// call performed the transition.
	TransitionState(ctx context.Context, id string, from, to State) (bool, error)

	// ChallengeByRegistration returns the live challenge for a registration.
	ChallengeByRegistration(ctx context.Context, registrationID string) (OtpChallenge, error)

	// ReplaceChallenge swaps in a fresh challenge (new code hash, reset
	// attempts, extended expiry).
	ReplaceChallenge(ctx context.Context, registrationID string, ch OtpChallenge) error

	// DecrementAttempts burns one verification attempt and returns the
	// remaining count. It never goes below zero.
	DecrementAttempts(ctx context.Context, registrationID string) (int, error)

	// DeleteChallenge invalidates the challenge (single use, or attempts exhausted).
	DeleteChallenge(ctx context.Context, registrationID string) error

	// ExpireStale transitions registrations past their deadline to EXPIRED
	// and returns how many rows moved.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// activeStates are the states in which a registration still owns its email.
func activeStates() []State {
	return []State{StateAwaitingVerification, StateVerified, StateAwaitingPayment}
}
