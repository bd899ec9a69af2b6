package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scholar-bridge/scholar_bridge/internal/registration"
	"github.com/scholar-bridge/scholar_bridge/internal/token"
)

var (
	// ErrInvalidToken indicates the verified token is missing, forged, or expired.
	ErrInvalidToken = errors.New("invalid or expired verification token")

	// ErrNotPayable indicates the registration is not awaiting payment.
	ErrNotPayable = errors.New("registration is not awaiting payment")

	// ErrUnknownProvider indicates an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown payment provider")

	// ErrProviderUnavailable indicates the provider call failed after retries.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrPaymentFailed indicates the provider declined the payment. The
	// registration stays in AWAITING_PAYMENT so the client can retry with a
	// fresh intent.
	ErrPaymentFailed = errors.New("payment failed")

	// ErrIntentFailed indicates confirmation was attempted on an intent
	// already marked FAILED; the client must create a new intent.
	ErrIntentFailed = errors.New("payment intent previously failed")
)

// VerifiedTokenParser validates the capability minted by the verification gate.
type VerifiedTokenParser interface {
	ParseVerified(tokenString string) (token.VerifiedClaims, error)
}

const providerCallTimeout = 10 * time.Second

// Service is the payment gate for student registrations.
type Service struct {
	intents   Repository
	pending   registration.Repository
	providers map[string]Provider
	tokens    VerifiedTokenParser
	finalizer registration.AccountFinalizer
	feeCents  int64
	logger    *slog.Logger
}

// NewService wires the payment service. feeCents is the fixed registration fee.
func NewService(intents Repository, pending registration.Repository, providers map[string]Provider, tokens VerifiedTokenParser, finalizer registration.AccountFinalizer, feeCents int64, logger *slog.Logger) *Service {
	if providers == nil {
		providers = DefaultProviders()
	}
	return &Service{
		intents:   intents,
		pending:   pending,
		providers: providers,
		tokens:    tokens,
		finalizer: finalizer,
		feeCents:  feeCents,
		logger:    logger,
	}
}

// CreateIntent validates the verified token, creates a provider-side intent
// for the registration fee, and records it as CREATED.
func (s *Service) CreateIntent(ctx context.Context, verifiedToken, providerName string) (IntentRecord, error) {
	claims, err := s.tokens.ParseVerified(verifiedToken)
	if err != nil {
		return IntentRecord{}, ErrInvalidToken
	}

	reg, err := s.pending.FindByID(ctx, claims.Subject)
	if err != nil {
		return IntentRecord{}, ErrInvalidToken
	}
	if reg.State != registration.StateAwaitingPayment {
		return IntentRecord{}, ErrNotPayable
	}

	provider, ok := s.providers[providerName]
	if !ok {
		return IntentRecord{}, fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
	}

	callCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
	defer cancel()
	pi, err := provider.CreateIntent(callCtx, s.feeCents)
	if err != nil {
		s.logger.Warn("provider create intent failed",
			slog.String("provider", providerName), slog.Any("error", err))
		return IntentRecord{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	rec := IntentRecord{
		ProviderIntentID: pi.ID,
		RegistrationID:   reg.ID,
		Provider:         provider.Name(),
		AmountCents:      s.feeCents,
		Status:           StatusCreated,
		ClientSecret:     pi.Secret,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.intents.Create(ctx, rec); err != nil {
		return IntentRecord{}, err
	}
	return rec, nil
}

// Confirm settles a payment intent and finalizes the account. It is safe to
// call any number of times for the same intent: client confirmation and the
// provider webhook may both land here concurrently, and the compare-and-swap
// on the intent plus the finalizer's own conditional completion guarantee one
// account and one charge.
func (s *Service) Confirm(ctx context.Context, providerIntentID string) (registration.FinalizeResult, error) {
	rec, err := s.intents.FindByProviderIntentID(ctx, providerIntentID)
	if err != nil {
		return registration.FinalizeResult{}, err
	}

	switch rec.Status {
	case StatusConfirmed:
		// Duplicate confirmation: hand back the already-created account.
		return s.finalizeIntent(ctx, rec)
	case StatusFailed:
		return registration.FinalizeResult{}, ErrIntentFailed
	}

	provider, ok := s.providers[rec.Provider]
	if !ok {
		return registration.FinalizeResult{}, fmt.Errorf("%w: %q", ErrUnknownProvider, rec.Provider)
	}

	callCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
	defer cancel()
	status, err := provider.Confirm(callCtx, providerIntentID)
	if err != nil {
		return registration.FinalizeResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if status != ProviderStatusSucceeded {
		if err := s.intents.MarkFailed(ctx, providerIntentID); err != nil {
			return registration.FinalizeResult{}, err
		}
		return registration.FinalizeResult{}, ErrPaymentFailed
	}

	// First writer wins; the loser still proceeds to the finalizer, which
	// resolves to the winner's account.
	if _, err := s.intents.ConfirmIfCreated(ctx, providerIntentID); err != nil {
		return registration.FinalizeResult{}, err
	}

	return s.finalizeIntent(ctx, rec)
}

func (s *Service) finalizeIntent(ctx context.Context, rec IntentRecord) (registration.FinalizeResult, error) {
	reg, err := s.pending.FindByID(ctx, rec.RegistrationID)
	if err != nil {
		return registration.FinalizeResult{}, err
	}
	return s.finalizer.Finalize(ctx, reg)
}
