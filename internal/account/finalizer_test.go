package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/scholar-bridge/scholar_bridge/internal/logging"
	"github.com/scholar-bridge/scholar_bridge/internal/registration"
	"github.com/scholar-bridge/scholar_bridge/internal/token"
)

func testIssuer() *token.Issuer {
	return token.NewIssuer("verified-secret", "session-secret", "scholarbridge", "scholarbridge-api", 15*time.Minute, 24*time.Hour)
}

func seedPending(t *testing.T, repo registration.Repository, kind registration.AccountKind, state registration.State) registration.PendingRegistration {
	t.Helper()
	now := time.Now().UTC()
	reg := registration.PendingRegistration{
		ID:           uuid.NewString(),
		Email:        uuid.NewString()[:8] + "@example.org",
		Kind:         kind,
		Profile:      registration.Profile{Name: "Test Person", School: "U", Major: "CS", Phone: "+1-555-0100"},
		PasswordHash: []byte("$2a$10$fakehash"),
		State:        state,
		CreatedAt:    now,
		ExpiresAt:    now.Add(24 * time.Hour),
	}
	if err := repo.Create(context.Background(), reg, registration.OtpChallenge{RegistrationID: reg.ID}); err != nil {
		t.Fatalf("seed registration: %v", err)
	}
	return reg
}

func TestFinalizeDonor(t *testing.T) {
	accounts := NewMemoryRepository()
	pending := registration.NewMemoryRepository()
	fin := NewFinalizer(accounts, pending, testIssuer(), nil, logging.Discard())
	ctx := context.Background()

	reg := seedPending(t, pending, registration.KindDonor, registration.StateVerified)

	res, err := fin.Finalize(ctx, reg)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if res.AccountID == "" || res.SessionToken == "" {
		t.Fatalf("incomplete result: %+v", res)
	}

	acct, err := accounts.FindByEmail(ctx, reg.Email)
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	if acct.Kind != registration.KindDonor || acct.Name != reg.Profile.Name {
		t.Fatalf("unexpected account: %+v", acct)
	}

	got, err := pending.FindByID(ctx, reg.ID)
	if err != nil {
		t.Fatalf("find registration: %v", err)
	}
	if got.State != registration.StateCompleted {
		t.Fatalf("expected state %s, got %s", registration.StateCompleted, got.State)
	}
}

func TestFinalizeExactlyOnceUnderRace(t *testing.T) {
	accounts := NewMemoryRepository()
	pending := registration.NewMemoryRepository()
	fin := NewFinalizer(accounts, pending, testIssuer(), nil, logging.Discard())
	ctx := context.Background()

	reg := seedPending(t, pending, registration.KindStudent, registration.StateAwaitingPayment)

	const callers = 10
	results := make([]registration.FinalizeResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = fin.Finalize(ctx, reg)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].AccountID != results[0].AccountID {
			t.Fatalf("caller %d got account %s, caller 0 got %s", i, results[i].AccountID, results[0].AccountID)
		}
	}
}

// flakyAccounts fails a configured number of Create calls before delegating,
// standing in for transient database errors.
type flakyAccounts struct {
	Repository
	mu       sync.Mutex
	failures int
}

func (f *flakyAccounts) Create(ctx context.Context, acct Account) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("connection reset by peer")
	}
	f.mu.Unlock()
	return f.Repository.Create(ctx, acct)
}

func TestFinalizeRetriesAfterCreateFailure(t *testing.T) {
	accounts := &flakyAccounts{Repository: NewMemoryRepository(), failures: 1}
	pending := registration.NewMemoryRepository()
	fin := NewFinalizer(accounts, pending, testIssuer(), nil, logging.Discard())
	ctx := context.Background()

	reg := seedPending(t, pending, registration.KindStudent, registration.StateAwaitingPayment)

	if _, err := fin.Finalize(ctx, reg); err == nil {
		t.Fatal("expected first finalize to fail")
	}

	// The failed insert must not have consumed the registration.
	got, err := pending.FindByID(ctx, reg.ID)
	if err != nil {
		t.Fatalf("find registration: %v", err)
	}
	if got.State != registration.StateAwaitingPayment {
		t.Fatalf("state after failed finalize: %s", got.State)
	}

	res, err := fin.Finalize(ctx, reg)
	if err != nil {
		t.Fatalf("retry finalize: %v", err)
	}
	if res.AccountID == "" || res.SessionToken == "" {
		t.Fatalf("incomplete result: %+v", res)
	}
	got, err = pending.FindByID(ctx, reg.ID)
	if err != nil {
		t.Fatalf("find registration: %v", err)
	}
	if got.State != registration.StateCompleted {
		t.Fatalf("state after retry: %s", got.State)
	}
}

func TestFinalizeCompletedIsIdempotent(t *testing.T) {
	accounts := NewMemoryRepository()
	pending := registration.NewMemoryRepository()
	fin := NewFinalizer(accounts, pending, testIssuer(), nil, logging.Discard())
	ctx := context.Background()

	reg := seedPending(t, pending, registration.KindDonor, registration.StateVerified)
	first, err := fin.Finalize(ctx, reg)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	reg.State = registration.StateCompleted
	second, err := fin.Finalize(ctx, reg)
	if err != nil {
		t.Fatalf("re-finalize: %v", err)
	}
	if second.AccountID != first.AccountID {
		t.Fatalf("expected account %s, got %s", first.AccountID, second.AccountID)
	}
}

func TestFinalizeRejectsWrongState(t *testing.T) {
	accounts := NewMemoryRepository()
	pending := registration.NewMemoryRepository()
	fin := NewFinalizer(accounts, pending, testIssuer(), nil, logging.Discard())
	ctx := context.Background()

	// A student still at the payment gate has not paid; a donor must be verified.
	cases := []struct {
		kind  registration.AccountKind
		state registration.State
	}{
		{registration.KindStudent, registration.StateAwaitingVerification},
		{registration.KindStudent, registration.StateVerified},
		{registration.KindDonor, registration.StateAwaitingVerification},
		{registration.KindDonor, registration.StateAwaitingPayment},
		{registration.KindDonor, registration.StateExpired},
	}
	for _, tc := range cases {
		reg := seedPending(t, pending, tc.kind, tc.state)
		if _, err := fin.Finalize(ctx, reg); !errors.Is(err, ErrInvariant) {
			t.Fatalf("kind %s state %s: expected ErrInvariant, got %v", tc.kind, tc.state, err)
		}
	}
}

func TestCreateDuplicateEmail(t *testing.T) {
	accounts := NewMemoryRepository()
	ctx := context.Background()

	acct := Account{ID: uuid.NewString(), Email: "dup@example.org", Kind: registration.KindDonor}
	if err := accounts.Create(ctx, acct); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := Account{ID: uuid.NewString(), Email: "dup@example.org", Kind: registration.KindDonor}
	if err := accounts.Create(ctx, dup); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}
