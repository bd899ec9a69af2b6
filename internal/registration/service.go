package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/scholar-bridge/scholar_bridge/internal/mailer"
)

var (
	// ErrInvalidInput marks validation failures; the wrapped message is safe
	// to show the client.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyRegistered indicates an account already exists for the email.
	ErrAlreadyRegistered = errors.New("email already registered")

	// ErrRegistrationActive indicates a pending registration for the email
	// has moved past verification and cannot be restarted until it
	// completes or expires.
	ErrRegistrationActive = errors.New("registration already in progress")

	// ErrInvalidCode indicates the submitted one-time code did not match.
	ErrInvalidCode = errors.New("incorrect verification code")

	// ErrCodeExpired indicates the challenge is past its deadline.
	ErrCodeExpired = errors.New("verification code expired")

	// ErrMailUnavailable indicates code delivery failed after the retry
	// budget; the caller may retry registration, which resumes the pending
	// record and issues a fresh code.
	ErrMailUnavailable = errors.New("email delivery unavailable")
)

// AccountDirectory answers whether an email already belongs to a durable account.
type AccountDirectory interface {
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// FinalizeResult is what the account finalizer hands back: the created (or
// already-created) account identity and its session token.
type FinalizeResult struct {
	AccountID    string
	Email        string
	Kind         AccountKind
	Name         string
	SessionToken string
}

// AccountFinalizer promotes a pending registration to a durable account
// exactly once. Implemented by the account package.
type AccountFinalizer interface {
	Finalize(ctx context.Context, reg PendingRegistration) (FinalizeResult, error)
}

// VerifiedTokenIssuer mints the capability students carry into the payment gate.
type VerifiedTokenIssuer interface {
	IssueVerified(registrationID, email, accountKind string) (string, error)
}

// Options tune intake and verification behavior.
type Options struct {
	OTPTTL      time.Duration
	OTPAttempts int
	PendingTTL  time.Duration
}

func (o Options) withDefaults() Options {
	if o.OTPTTL <= 0 {
		o.OTPTTL = 10 * time.Minute
	}
	if o.OTPAttempts <= 0 {
		o.OTPAttempts = 5
	}
	if o.PendingTTL <= 0 {
		o.PendingTTL = 24 * time.Hour
	}
	return o
}

// Service implements registration intake and the verification gate.
type Service struct {
	repo      Repository
	accounts  AccountDirectory
	mail      mailer.Sender
	tokens    VerifiedTokenIssuer
	finalizer AccountFinalizer
	opts      Options
	logger    *slog.Logger
}

// NewService wires the registration service.
func NewService(repo Repository, accounts AccountDirectory, mail mailer.Sender, tokens VerifiedTokenIssuer, finalizer AccountFinalizer, opts Options, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		accounts:  accounts,
		mail:      mail,
		tokens:    tokens,
		finalizer: finalizer,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

// RegisterInput captures a registration request.
type RegisterInput struct {
	Kind     AccountKind
	Email    string
	Password string
	Profile  Profile
}

// RegisterOutput is returned to the client after intake.
type RegisterOutput struct {
	RegistrationID string
	NextStep       string
}

// Register validates the request, creates (or resumes) the pending
// registration, and dispatches a one-time code to the email address.
func (s *Service) Register(ctx context.Context, in RegisterInput) (RegisterOutput, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateRegister(in); err != nil {
		return RegisterOutput{}, err
	}

	taken, err := s.accounts.ExistsByEmail(ctx, in.Email)
	if err != nil {
		return RegisterOutput{}, err
	}
	if taken {
		return RegisterOutput{}, ErrAlreadyRegistered
	}

	// Conflict policy: an active pending record is resumed with a fresh
	// code, never silently duplicated.
	if existing, err := s.repo.FindActiveByEmail(ctx, in.Email); err == nil {
		if existing.State != StateAwaitingVerification {
			return RegisterOutput{}, ErrRegistrationActive
		}
		if err := s.reissueCode(ctx, existing); err != nil {
			return RegisterOutput{}, err
		}
		return RegisterOutput{RegistrationID: existing.ID, NextStep: NextStepVerifyEmail}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return RegisterOutput{}, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return RegisterOutput{}, err
	}

	now := time.Now().UTC()
	reg := PendingRegistration{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Kind:         in.Kind,
		Profile:      in.Profile,
		PasswordHash: passwordHash,
		State:        StateAwaitingVerification,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.opts.PendingTTL),
	}

	code, err := generateCode()
	if err != nil {
		return RegisterOutput{}, err
	}
	codeHash, err := hashCode(code)
	if err != nil {
		return RegisterOutput{}, err
	}
	ch := OtpChallenge{
		RegistrationID:    reg.ID,
		CodeHash:          codeHash,
		AttemptsRemaining: s.opts.OTPAttempts,
		IssuedAt:          now,
		ExpiresAt:         now.Add(s.opts.OTPTTL),
	}

	// The record is written before the outbound call so a mail timeout
	// leaves a resumable registration, not an ambiguous one.
	if err := s.repo.Create(ctx, reg, ch); err != nil {
		if errors.Is(err, ErrDuplicateActive) {
			// Lost the insert race to a concurrent first registration.
			return RegisterOutput{}, ErrRegistrationActive
		}
		return RegisterOutput{}, err
	}

	if err := s.deliverCode(ctx, reg.Email, code); err != nil {
		return RegisterOutput{}, err
	}

	return RegisterOutput{RegistrationID: reg.ID, NextStep: NextStepVerifyEmail}, nil
}

// VerifyOutput is returned after a successful code check. For donors Token is
// the session token and NextStep is "done"; for students Token is the
// verified capability and NextStep is "pay".
type VerifyOutput struct {
	RegistrationID string
	Kind           AccountKind
	NextStep       string
	Token          string
}

// Verify checks the submitted code against the live challenge and advances
// the state machine. The challenge is single use: consumed on success,
// invalidated when attempts run out.
func (s *Service) Verify(ctx context.Context, email, code string) (VerifyOutput, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	reg, err := s.repo.FindActiveByEmail(ctx, email)
	if err != nil {
		return VerifyOutput{}, err
	}
	if reg.State != StateAwaitingVerification {
		return VerifyOutput{}, ErrNotFound
	}

	ch, err := s.repo.ChallengeByRegistration(ctx, reg.ID)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			// The challenge was invalidated (attempts exhausted); only a
			// resend can revive the flow.
			return VerifyOutput{}, ErrCodeExpired
		}
		return VerifyOutput{}, err
	}
	if time.Now().UTC().After(ch.ExpiresAt) {
		return VerifyOutput{}, ErrCodeExpired
	}

	if !checkCode(ch.CodeHash, code) {
		remaining, decErr := s.repo.DecrementAttempts(ctx, reg.ID)
		if decErr != nil && !errors.Is(decErr, ErrChallengeNotFound) {
			return VerifyOutput{}, decErr
		}
		if remaining <= 0 {
			// Attempts exhausted: the challenge dies and the client must
			// request a resend.
			if err := s.repo.DeleteChallenge(ctx, reg.ID); err != nil {
				return VerifyOutput{}, err
			}
		}
		return VerifyOutput{}, ErrInvalidCode
	}

	// Students jump straight to the payment gate in one conditional update;
	// there is no intermediate state a crash could strand them in.
	target := StateVerified
	if reg.Kind == KindStudent {
		target = StateAwaitingPayment
	}
	performed, err := s.repo.TransitionState(ctx, reg.ID, StateAwaitingVerification, target)
	if err != nil {
		return VerifyOutput{}, err
	}
	if !performed {
		// A concurrent verify won the transition; this code is consumed.
		return VerifyOutput{}, ErrNotFound
	}
	if err := s.repo.DeleteChallenge(ctx, reg.ID); err != nil {
		return VerifyOutput{}, err
	}
	reg.State = target

	if reg.Kind == KindDonor {
		res, err := s.finalizer.Finalize(ctx, reg)
		if err != nil {
			return VerifyOutput{}, err
		}
		return VerifyOutput{
			RegistrationID: reg.ID,
			Kind:           reg.Kind,
			NextStep:       NextStepDone,
			Token:          res.SessionToken,
		}, nil
	}

	verifiedToken, err := s.tokens.IssueVerified(reg.ID, reg.Email, string(reg.Kind))
	if err != nil {
		return VerifyOutput{}, err
	}
	return VerifyOutput{
		RegistrationID: reg.ID,
		Kind:           reg.Kind,
		NextStep:       NextStepPay,
		Token:          verifiedToken,
	}, nil
}

// Resend regenerates the one-time code for an awaiting registration, resets
// the attempt budget, and extends the challenge deadline.
func (s *Service) Resend(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	reg, err := s.repo.FindActiveByEmail(ctx, email)
	if err != nil {
		return err
	}
	if reg.State != StateAwaitingVerification {
		return ErrNotFound
	}
	return s.reissueCode(ctx, reg)
}

// reissueCode swaps in a fresh challenge and delivers the new code. The
// resend counter survives replacement.
func (s *Service) reissueCode(ctx context.Context, reg PendingRegistration) error {
	resendCount := 0
	if prev, err := s.repo.ChallengeByRegistration(ctx, reg.ID); err == nil {
		resendCount = prev.ResendCount
	}

	code, err := generateCode()
	if err != nil {
		return err
	}
	codeHash, err := hashCode(code)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	ch := OtpChallenge{
		RegistrationID:    reg.ID,
		CodeHash:          codeHash,
		AttemptsRemaining: s.opts.OTPAttempts,
		IssuedAt:          now,
		ExpiresAt:         now.Add(s.opts.OTPTTL),
		ResendCount:       resendCount + 1,
	}
	if err := s.repo.ReplaceChallenge(ctx, reg.ID, ch); err != nil {
		return err
	}

	return s.deliverCode(ctx, reg.Email, code)
}

const (
	mailAttempts    = 3
	mailSendTimeout = 5 * time.Second
)

// deliverCode sends the code with a small retry budget and exponential
// backoff, surfacing ErrMailUnavailable once the budget is spent.
func (s *Service) deliverCode(ctx context.Context, email, code string) error {
	subject := "Your ScholarBridge verification code"
	body := fmt.Sprintf("Your ScholarBridge verification code is: %s\r\n\r\nThe code expires in %d minutes.", code, int(s.opts.OTPTTL.Minutes()))

	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= mailAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, mailSendTimeout)
		lastErr = s.mail.Send(sendCtx, email, subject, body)
		cancel()
		if lastErr == nil {
			return nil
		}
		s.logger.Warn("verification email delivery failed",
			slog.Int("attempt", attempt), slog.Any("error", lastErr))
		if attempt == mailAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: %v", ErrMailUnavailable, lastErr)
}

func validateRegister(in RegisterInput) error {
	if in.Kind != KindStudent && in.Kind != KindDonor {
		return fmt.Errorf("%w: account kind must be student or donor", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	if err := validatePassword(in.Password); err != nil {
		return err
	}
	if strings.TrimSpace(in.Profile.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	switch in.Kind {
	case KindStudent:
		if strings.TrimSpace(in.Profile.School) == "" {
			return fmt.Errorf("%w: school is required", ErrInvalidInput)
		}
		if strings.TrimSpace(in.Profile.Major) == "" {
			return fmt.Errorf("%w: major is required", ErrInvalidInput)
		}
	case KindDonor:
		if strings.TrimSpace(in.Profile.Phone) == "" {
			return fmt.Errorf("%w: phone is required", ErrInvalidInput)
		}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return fmt.Errorf("%w: password must mix letters and digits", ErrInvalidInput)
	}
	return nil
}
