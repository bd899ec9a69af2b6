// Package registration implements the intake and verification stages of the
// account-activation pipeline: pending registrations, their one-time-code
// challenges, and the state machine that carries a request from
// AWAITING_VERIFICATION to COMPLETED.
package registration

import "time"

// State is the lifecycle position of a pending registration.
type State string

const (
	StateAwaitingVerification State = "AWAITING_VERIFICATION"
	StateVerified             State = "VERIFIED"
	StateAwaitingPayment      State = "AWAITING_PAYMENT"
	StateCompleted            State = "COMPLETED"
	StateExpired              State = "EXPIRED"
)

// AccountKind distinguishes the two registration paths. Students pass a
// payment gate after verification; donors finalize immediately.
type AccountKind string

const (
	KindStudent AccountKind = "student"
	KindDonor   AccountKind = "donor"
)

// Profile holds the kind-specific profile fields collected at intake.
// Students provide name, school and major; donors provide name and phone.
type Profile struct {
	Name   string
	School string
	Major  string
	Phone  string
}

// PendingRegistration is a registration attempt not yet promoted to an account.
type PendingRegistration struct {
	ID           string
	Email        string
	Kind         AccountKind
	Profile      Profile
	PasswordHash []byte
	State        State
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// OtpChallenge is the one-time code bound 1:1 to a pending registration.
// Only the bcrypt hash of the code is ever stored.
type OtpChallenge struct {
	RegistrationID    string
	CodeHash          []byte
	AttemptsRemaining int
	IssuedAt          time.Time
	ExpiresAt         time.Time
	ResendCount       int
}

// NextStep values returned to the client after intake and verification.
const (
	NextStepVerifyEmail = "verify_email"
	NextStepPay         = "pay"
	NextStepDone        = "done"
)
