package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gearledger/gearledger/internal/shared"
)

// Repository provides PostgreSQL backed directory lookups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Resolve loads the actor identity for an active user.
func (r *Repository) Resolve(ctx context.Context, userID int64) (shared.Actor, error) {
	var u User
	err := r.pool.QueryRow(ctx,
		`SELECT id, role, department FROM users WHERE id = $1 AND is_active`,
		userID,
	).Scan(&u.ID, &u.Role, &u.Department)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.Actor{}, fmt.Errorf("user %d: %w", userID, shared.ErrNotFound)
		}
		return shared.Actor{}, err
	}
	return u.Actor(), nil
}

// List returns directory entries for administrative listings.
func (r *Repository) List(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, email, name, role, department, is_active, created_at, updated_at
		   FROM users ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Department, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
