package identity

import (
	"context"
	"time"

	"github.com/gearledger/gearledger/internal/shared"
)

// User is the directory view of an actor. The engine consumes the identity
// store read-only; account management lives elsewhere.
type User struct {
	ID         int64
	Email      string
	Name       string
	Role       shared.Role
	Department string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Directory resolves opaque actor IDs to role and department for
// eligibility checks.
type Directory interface {
	Resolve(ctx context.Context, userID int64) (shared.Actor, error)
}

// Actor converts the directory row into the context-threaded identity.
func (u User) Actor() shared.Actor {
	return shared.Actor{ID: u.ID, Role: u.Role, Department: u.Department}
}
