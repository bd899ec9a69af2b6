package account

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu       sync.RWMutex
	byEmail  map[string]Account
	idToMail map[string]string
}

// NewMemoryRepository builds an in-memory account store for testing and
// database-less development mode.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		byEmail:  make(map[string]Account),
		idToMail: make(map[string]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, acct Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[acct.Email]; exists {
		return ErrEmailExists
	}
	r.byEmail[acct.Email] = acct
	r.idToMail[acct.ID] = acct.Email
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email, ok := r.idToMail[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return r.byEmail[email], nil
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.byEmail[email]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

func (r *memoryRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byEmail[email]
	return ok, nil
}
