package registration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed registration repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const pendingColumns = `id, email, kind, name, school, major, phone, password_hash, state, created_at, expires_at`

func scanPending(row pgx.Row) (PendingRegistration, error) {
	var (
		id               uuid.UUID
		reg              PendingRegistration
		created, expires time.Time
	)
	err := row.Scan(&id, &reg.Email, &reg.Kind, &reg.Profile.Name, &reg.Profile.School,
		&reg.Profile.Major, &reg.Profile.Phone, &reg.PasswordHash, &reg.State, &created, &expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PendingRegistration{}, ErrNotFound
		}
		return PendingRegistration{}, err
	}
	reg.ID = id.String()
	reg.CreatedAt = created.UTC()
	reg.ExpiresAt = expires.UTC()
	return reg, nil
}

// Create inserts the registration and its first challenge in one transaction.
// The partial unique index on active emails turns a lost insert race into
// ErrDuplicateActive.
func (r *PostgresRepository) Create(ctx context.Context, reg PendingRegistration, ch OtpChallenge) error {
	regID, err := uuid.Parse(reg.ID)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `INSERT INTO pending_registrations (`+pendingColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		regID, reg.Email, reg.Kind, reg.Profile.Name, reg.Profile.School, reg.Profile.Major,
		reg.Profile.Phone, reg.PasswordHash, reg.State, reg.CreatedAt.UTC(), reg.ExpiresAt.UTC()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateActive
		}
		return err
	}

	if _, err := tx.Exec(ctx, `INSERT INTO otp_challenges
        (registration_id, code_hash, attempts_remaining, issued_at, expires_at, resend_count)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		regID, ch.CodeHash, ch.AttemptsRemaining, ch.IssuedAt.UTC(), ch.ExpiresAt.UTC(), ch.ResendCount); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// FindActiveByEmail returns the live registration owning the email. Rows past
// their deadline are lazily flipped to EXPIRED first.
func (r *PostgresRepository) FindActiveByEmail(ctx context.Context, email string) (PendingRegistration, error) {
	// Lazy expiry on the read path so the reaper is not load-bearing.
	if _, err := r.db.Exec(ctx, `UPDATE pending_registrations SET state = $1
        WHERE email = $2 AND expires_at < now() AND state = ANY($3)`,
		StateExpired, email, statesText(activeStates())); err != nil {
		return PendingRegistration{}, err
	}

	row := r.db.QueryRow(ctx, `SELECT `+pendingColumns+` FROM pending_registrations
        WHERE email = $1 AND state = ANY($2)`, email, statesText(activeStates()))
	return scanPending(row)
}

// FindByID fetches a registration regardless of state.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (PendingRegistration, error) {
	regID, err := uuid.Parse(id)
	if err != nil {
		return PendingRegistration{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+pendingColumns+` FROM pending_registrations WHERE id = $1`, regID)
	return scanPending(row)
}

// TransitionState performs the conditional state update the whole pipeline
// relies on for race safety.
func (r *PostgresRepository) TransitionState(ctx context.Context, id string, from, to State) (bool, error) {
	regID, err := uuid.Parse(id)
	if err != nil {
		return false, ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE pending_registrations SET state = $1
        WHERE id = $2 AND state = $3`, to, regID, from)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// ChallengeByRegistration returns the live OTP challenge.
func (r *PostgresRepository) ChallengeByRegistration(ctx context.Context, registrationID string) (OtpChallenge, error) {
	regID, err := uuid.Parse(registrationID)
	if err != nil {
		return OtpChallenge{}, ErrChallengeNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT registration_id, code_hash, attempts_remaining, issued_at, expires_at, resend_count
        FROM otp_challenges WHERE registration_id = $1`, regID)

	var (
		id              uuid.UUID
		ch              OtpChallenge
		issued, expires time.Time
	)
	if err := row.Scan(&id, &ch.CodeHash, &ch.AttemptsRemaining, &issued, &expires, &ch.ResendCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OtpChallenge{}, ErrChallengeNotFound
		}
		return OtpChallenge{}, err
	}
	ch.RegistrationID = id.String()
	ch.IssuedAt = issued.UTC()
	ch.ExpiresAt = expires.UTC()
	return ch, nil
}

// ReplaceChallenge upserts a fresh challenge for the registration.
func (r *PostgresRepository) ReplaceChallenge(ctx context.Context, registrationID string, ch OtpChallenge) error {
	regID, err := uuid.Parse(registrationID)
	if err != nil {
		return ErrNotFound
	}
	_, err = r.db.Exec(ctx, `INSERT INTO otp_challenges
        (registration_id, code_hash, attempts_remaining, issued_at, expires_at, resend_count)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (registration_id) DO UPDATE SET
            code_hash = EXCLUDED.code_hash,
            attempts_remaining = EXCLUDED.attempts_remaining,
            issued_at = EXCLUDED.issued_at,
            expires_at = EXCLUDED.expires_at,
            resend_count = EXCLUDED.resend_count`,
		regID, ch.CodeHash, ch.AttemptsRemaining, ch.IssuedAt.UTC(), ch.ExpiresAt.UTC(), ch.ResendCount)
	return err
}

// DecrementAttempts burns one attempt, clamped at zero, and returns what remains.
func (r *PostgresRepository) DecrementAttempts(ctx context.Context, registrationID string) (int, error) {
	regID, err := uuid.Parse(registrationID)
	if err != nil {
		return 0, ErrChallengeNotFound
	}
	var remaining int
	err = r.db.QueryRow(ctx, `UPDATE otp_challenges
        SET attempts_remaining = attempts_remaining - 1
        WHERE registration_id = $1 AND attempts_remaining > 0
        RETURNING attempts_remaining`, regID).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrChallengeNotFound
		}
		return 0, err
	}
	return remaining, nil
}

// DeleteChallenge removes the challenge, invalidating the code.
func (r *PostgresRepository) DeleteChallenge(ctx context.Context, registrationID string) error {
	regID, err := uuid.Parse(registrationID)
	if err != nil {
		return ErrChallengeNotFound
	}
	_, err = r.db.Exec(ctx, `DELETE FROM otp_challenges WHERE registration_id = $1`, regID)
	return err
}

// ExpireStale sweeps registrations past their deadline to EXPIRED.
func (r *PostgresRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE pending_registrations SET state = $1
        WHERE expires_at < $2 AND state = ANY($3)`,
		StateExpired, now.UTC(), statesText(activeStates()))
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func statesText(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
