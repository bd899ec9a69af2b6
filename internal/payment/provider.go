// Package payment implements the student payment gate: provider intents for
// the fixed registration fee and the idempotent confirmation path shared by
// client callbacks and provider webhooks.
package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Provider names accepted by create-intent.
const (
	ProviderStripe = "stripe"
	ProviderPayPal = "paypal"
)

// Provider statuses reported by Confirm.
const (
	ProviderStatusSucceeded = "succeeded"
	ProviderStatusFailed    = "failed"
)

// ProviderIntent is the provider-side handle for a created intent. Secret is
// the client secret (Stripe) or approval URL (PayPal) the client needs to
// complete payment.
type ProviderIntent struct {
	ID     string
	Secret string
}

// Provider represents a connector to an external payment processor.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, amountCents int64) (ProviderIntent, error)
	Confirm(ctx context.Context, providerIntentID string) (string, error)
}

// StaticStripe simulates a Stripe connector that approves everything.
type StaticStripe struct{}

// Name identifies the provider.
func (StaticStripe) Name() string { return ProviderStripe }

// CreateIntent fabricates an intent with a synthetic client secret.
func (StaticStripe) CreateIntent(_ context.Context, _ int64) (ProviderIntent, error) {
	id := "pi_" + uuid.NewString()
	return ProviderIntent{ID: id, Secret: id + "_secret_" + uuid.NewString()[:8]}, nil
}

// Confirm approves the intent.
func (StaticStripe) Confirm(_ context.Context, _ string) (string, error) {
	return ProviderStatusSucceeded, nil
}

// StaticPayPal simulates a PayPal connector that approves everything.
type StaticPayPal struct{}

// Name identifies the provider.
func (StaticPayPal) Name() string { return ProviderPayPal }

// CreateIntent fabricates an order with a synthetic approval URL.
func (StaticPayPal) CreateIntent(_ context.Context, _ int64) (ProviderIntent, error) {
	id := "order_" + uuid.NewString()
	return ProviderIntent{ID: id, Secret: fmt.Sprintf("https://paypal.example/approve/%s", id)}, nil
}

// Confirm approves the order.
func (StaticPayPal) Confirm(_ context.Context, _ string) (string, error) {
	return ProviderStatusSucceeded, nil
}

// DefaultProviders returns the simulated connectors keyed by name.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		ProviderStripe: StaticStripe{},
		ProviderPayPal: StaticPayPal{},
	}
}
