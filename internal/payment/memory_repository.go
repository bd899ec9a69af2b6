package payment

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu      sync.Mutex
	intents map[string]IntentRecord
}

// NewMemoryRepository builds an in-memory intent store for testing and
// database-less development mode.
func NewMemoryRepository() Repository {
	return &memoryRepository{intents: make(map[string]IntentRecord)}
}

func (r *memoryRepository) Create(_ context.Context, rec IntentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents[rec.ProviderIntentID] = rec
	return nil
}

func (r *memoryRepository) FindByProviderIntentID(_ context.Context, providerIntentID string) (IntentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.intents[providerIntentID]
	if !ok {
		return IntentRecord{}, ErrIntentNotFound
	}
	return rec, nil
}

func (r *memoryRepository) ConfirmIfCreated(_ context.Context, providerIntentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.intents[providerIntentID]
	if !ok {
		return false, ErrIntentNotFound
	}
	if rec.Status != StatusCreated {
		return false, nil
	}
	rec.Status = StatusConfirmed
	r.intents[providerIntentID] = rec
	return true, nil
}

func (r *memoryRepository) MarkFailed(_ context.Context, providerIntentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.intents[providerIntentID]
	if !ok {
		return ErrIntentNotFound
	}
	if rec.Status != StatusConfirmed {
		rec.Status = StatusFailed
		r.intents[providerIntentID] = rec
	}
	return nil
}
