package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status is the lifecycle position of a payment intent.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
)

// ErrIntentNotFound indicates no intent matches the provider intent id.
var ErrIntentNotFound = errors.New("payment intent not found")

// IntentRecord is the stored mirror of a provider-side payment intent, owned
// 1:1 by a pending registration in AWAITING_PAYMENT.
type IntentRecord struct {
	ProviderIntentID string
	RegistrationID   string
	Provider         string
	AmountCents      int64
	Status           Status
	ClientSecret     string
	CreatedAt        time.Time
}

// Repository persists payment intents. The CREATED to CONFIRMED move goes
// through ConfirmIfCreated so racing confirmations resolve to one winner.
type Repository interface {
	Create(ctx context.Context, rec IntentRecord) error
	FindByProviderIntentID(ctx context.Context, providerIntentID string) (IntentRecord, error)

	// ConfirmIfCreated marks the intent CONFIRMED only if it is currently
	// CREATED, and reports whether this call performed the transition.
	ConfirmIfCreated(ctx context.Context, providerIntentID string) (bool, error)

	// MarkFailed records a provider-side failure; the registration stays in
	// AWAITING_PAYMENT so the client can retry with a fresh intent.
	MarkFailed(ctx context.Context, providerIntentID string) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed intent repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the intent record.
func (r *PostgresRepository) Create(ctx context.Context, rec IntentRecord) error {
	regID, err := uuid.Parse(rec.RegistrationID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO payment_intents
        (provider_intent_id, registration_id, provider, amount_cents, status, client_secret, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ProviderIntentID, regID, rec.Provider, rec.AmountCents, rec.Status, rec.ClientSecret, rec.CreatedAt.UTC())
	return err
}

// FindByProviderIntentID fetches an intent by its provider-side id.
func (r *PostgresRepository) FindByProviderIntentID(ctx context.Context, providerIntentID string) (IntentRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT provider_intent_id, registration_id, provider, amount_cents, status, client_secret, created_at
        FROM payment_intents WHERE provider_intent_id = $1`, providerIntentID)

	var (
		rec     IntentRecord
		regID   uuid.UUID
		created time.Time
	)
	if err := row.Scan(&rec.ProviderIntentID, &regID, &rec.Provider, &rec.AmountCents, &rec.Status, &rec.ClientSecret, &created); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IntentRecord{}, ErrIntentNotFound
		}
		return IntentRecord{}, err
	}
	rec.RegistrationID = regID.String()
	rec.CreatedAt = created.UTC()
	return rec, nil
}

// ConfirmIfCreated performs the compare-and-swap at the center of the
// double-confirmation guarantee.
func (r *PostgresRepository) ConfirmIfCreated(ctx context.Context, providerIntentID string) (bool, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE payment_intents SET status = $1
        WHERE provider_intent_id = $2 AND status = $3`,
		StatusConfirmed, providerIntentID, StatusCreated)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// MarkFailed flips the intent to FAILED unless it already confirmed.
func (r *PostgresRepository) MarkFailed(ctx context.Context, providerIntentID string) error {
	_, err := r.db.Exec(ctx, `UPDATE payment_intents SET status = $1
        WHERE provider_intent_id = $2 AND status <> $3`,
		StatusFailed, providerIntentID, StatusConfirmed)
	return err
}
