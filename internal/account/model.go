// Package account owns the durable Account entity and the finalizer that
// creates it exactly once from a pending registration.
package account

import (
	"time"

	"github.com/scholar-bridge/scholar_bridge/internal/registration"
)

// Account is the authoritative entity created at the end of the activation
// pipeline. This pipeline never mutates it after creation.
type Account struct {
	ID           string
	Email        string
	Kind         registration.AccountKind
	Name         string
	School       string
	Major        string
	Phone        string
	PasswordHash []byte
	CreatedAt    time.Time
}
