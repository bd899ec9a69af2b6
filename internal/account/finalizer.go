package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/scholar-bridge/scholar_bridge/internal/notification"
	"github.com/scholar-bridge/scholar_bridge/internal/registration"
)

// ErrInvariant indicates Finalize was called on a registration outside its
// terminal pre-completion state. This should never happen; it is logged with
// full context and the request fails closed.
var ErrInvariant = errors.New("registration not in a finalizable state")

// SessionIssuer mints the bearer token for a finalized account.
type SessionIssuer interface {
	IssueSession(accountID, email, accountKind string) (string, time.Time, error)
}

// Finalizer is the single code path that creates durable accounts. Both the
// verification gate (donors) and the payment gate (students) call it; the
// unique email constraint plus the conditional COMPLETED transition make
// account creation exactly-once no matter how many callers race.
type Finalizer struct {
	accounts Repository
	pending  registration.Repository
	tokens   SessionIssuer
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewFinalizer wires the account finalizer.
func NewFinalizer(accounts Repository, pending registration.Repository, tokens SessionIssuer, notifier notification.Notifier, logger *slog.Logger) *Finalizer {
	return &Finalizer{accounts: accounts, pending: pending, tokens: tokens, notifier: notifier, logger: logger}
}

// Finalize promotes the pending registration to an account exactly once and
// issues the session token. A caller that loses the completion race gets the
// already-created account back instead of an error.
func (f *Finalizer) Finalize(ctx context.Context, reg registration.PendingRegistration) (registration.FinalizeResult, error) {
	terminal, err := terminalPreState(reg.Kind)
	if err != nil {
		return registration.FinalizeResult{}, err
	}

	switch reg.State {
	case terminal:
		// Proceed to the conditional transition below.
	case registration.StateCompleted:
		// Idempotent re-entry: the account already exists.
		return f.existingResult(ctx, reg)
	default:
		f.logger.Error("finalize precondition violated",
			slog.String("registration_id", reg.ID),
			slog.String("state", string(reg.State)),
			slog.String("kind", string(reg.Kind)),
		)
		return registration.FinalizeResult{}, ErrInvariant
	}

	acct := Account{
		ID:           uuid.NewString(),
		Email:        reg.Email,
		Kind:         reg.Kind,
		Name:         reg.Profile.Name,
		School:       reg.Profile.School,
		Major:        reg.Profile.Major,
		Phone:        reg.Profile.Phone,
		PasswordHash: reg.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}

	// The insert runs before the state flip: a failed write leaves the
	// registration in its pre-completion state, so the caller can retry. The
	// unique email constraint is the exactly-once guard.
	if err := f.accounts.Create(ctx, acct); err != nil {
		if !errors.Is(err, ErrEmailExists) {
			return registration.FinalizeResult{}, err
		}
		// A previous attempt or a concurrent finalizer owns the row. Settle
		// the state flip, then return that account.
		if _, err := f.pending.TransitionState(ctx, reg.ID, terminal, registration.StateCompleted); err != nil {
			return registration.FinalizeResult{}, err
		}
		return f.existingResult(ctx, reg)
	}

	// The account is durable; the flip is bookkeeping. Losing the transition
	// race just means another caller already settled it.
	if _, err := f.pending.TransitionState(ctx, reg.ID, terminal, registration.StateCompleted); err != nil {
		return registration.FinalizeResult{}, err
	}

	sessionToken, _, err := f.tokens.IssueSession(acct.ID, acct.Email, string(acct.Kind))
	if err != nil {
		return registration.FinalizeResult{}, err
	}

	if f.notifier != nil {
		// Best effort: a welcome failure must not fail registration.
		if err := f.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindWelcome,
			Destination: acct.Email,
			Body:        fmt.Sprintf("Welcome to ScholarBridge, %s!", acct.Name),
		}); err != nil {
			f.logger.Warn("welcome notification failed", slog.Any("error", err))
		}
	}

	return registration.FinalizeResult{
		AccountID:    acct.ID,
		Email:        acct.Email,
		Kind:         acct.Kind,
		Name:         acct.Name,
		SessionToken: sessionToken,
	}, nil
}

const (
	existingLookupAttempts = 40
	existingLookupDelay    = 25 * time.Millisecond
)

// existingResult fetches the account created by whichever caller performed
// the completion. The account row is committed before the state flip, so the
// lookup normally hits on the first attempt; the short poll covers read lag.
func (f *Finalizer) existingResult(ctx context.Context, reg registration.PendingRegistration) (registration.FinalizeResult, error) {
	var lastErr error
	for attempt := 0; attempt < existingLookupAttempts; attempt++ {
		acct, err := f.accounts.FindByEmail(ctx, reg.Email)
		if err == nil {
			sessionToken, _, err := f.tokens.IssueSession(acct.ID, acct.Email, string(acct.Kind))
			if err != nil {
				return registration.FinalizeResult{}, err
			}
			return registration.FinalizeResult{
				AccountID:    acct.ID,
				Email:        acct.Email,
				Kind:         acct.Kind,
				Name:         acct.Name,
				SessionToken: sessionToken,
			}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return registration.FinalizeResult{}, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return registration.FinalizeResult{}, ctx.Err()
		case <-time.After(existingLookupDelay):
		}
	}
	f.logger.Error("completed registration has no account row",
		slog.String("registration_id", reg.ID), slog.String("email", reg.Email))
	return registration.FinalizeResult{}, fmt.Errorf("%w: %v", ErrInvariant, lastErr)
}

func terminalPreState(kind registration.AccountKind) (registration.State, error) {
	switch kind {
	case registration.KindDonor:
		return registration.StateVerified, nil
	case registration.KindStudent:
		return registration.StateAwaitingPayment, nil
	default:
		return "", fmt.Errorf("%w: unknown account kind %q", ErrInvariant, kind)
	}
}
