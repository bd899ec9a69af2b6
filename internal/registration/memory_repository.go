package registration

import (
	"context"
	"sync"
	"time"
)

type memoryRepository struct {
	mu         sync.Mutex
	regs       map[string]PendingRegistration
	challenges map[string]OtpChallenge
}

// NewMemoryRepository builds an in-memory registration store for testing and
// database-less development mode.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		regs:       make(map[string]PendingRegistration),
		challenges: make(map[string]OtpChallenge),
	}
}

func (r *memoryRepository) Create(_ context.Context, reg PendingRegistration, ch OtpChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, existing := range r.regs {
		if existing.Email == reg.Email && isActive(existing.State) && now.Before(existing.ExpiresAt) {
			return ErrDuplicateActive
		}
	}
	r.regs[reg.ID] = reg
	r.challenges[reg.ID] = ch
	return nil
}

func (r *memoryRepository) FindActiveByEmail(_ context.Context, email string) (PendingRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for id, reg := range r.regs {
		if reg.Email != email || !isActive(reg.State) {
			continue
		}
		if now.After(reg.ExpiresAt) {
			reg.State = StateExpired
			r.regs[id] = reg
			continue
		}
		return reg, nil
	}
	return PendingRegistration{}, ErrNotFound
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (PendingRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[id]
	if !ok {
		return PendingRegistration{}, ErrNotFound
	}
	return reg, nil
}

func (r *memoryRepository) TransitionState(_ context.Context, id string, from, to State) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[id]
	if !ok {
		return false, ErrNotFound
	}
	if reg.State != from {
		return false, nil
	}
	reg.State = to
	r.regs[id] = reg
	return true, nil
}

func (r *memoryRepository) ChallengeByRegistration(_ context.Context, registrationID string) (OtpChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.challenges[registrationID]
	if !ok {
		return OtpChallenge{}, ErrChallengeNotFound
	}
	return ch, nil
}

func (r *memoryRepository) ReplaceChallenge(_ context.Context, registrationID string, ch OtpChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.regs[registrationID]; !ok {
		return ErrNotFound
	}
	r.challenges[registrationID] = ch
	return nil
}

func (r *memoryRepository) DecrementAttempts(_ context.Context, registrationID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.challenges[registrationID]
	if !ok || ch.AttemptsRemaining <= 0 {
		return 0, ErrChallengeNotFound
	}
	ch.AttemptsRemaining--
	r.challenges[registrationID] = ch
	return ch.AttemptsRemaining, nil
}

func (r *memoryRepository) DeleteChallenge(_ context.Context, registrationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.challenges, registrationID)
	return nil
}

func (r *memoryRepository) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var moved int64
	for id, reg := range r.regs {
		if isActive(reg.State) && now.After(reg.ExpiresAt) {
			reg.State = StateExpired
			r.regs[id] = reg
			moved++
		}
	}
	return moved, nil
}

func isActive(s State) bool {
	for _, state := range activeStates() {
		if s == state {
			return true
		}
	}
	return false
}
