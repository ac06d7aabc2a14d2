package affiliation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested store does not exist.
var ErrNotFound = errors.New("affiliation: not found")

// Repository provides read access to stores, operator rosters, and the
// therapist-to-store affiliation table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetStore fetches a store by its primary key.
func (r *Repository) GetStore(ctx context.Context, id string) (Store, error) {
	const query = `
		SELECT id, name, address, verified, created_at
		FROM stores
		WHERE id = $1
	`

	var store Store
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&store.ID,
		&store.Name,
		&store.Address,
		&store.Verified,
		&store.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Store{}, ErrNotFound
		}
		return Store{}, fmt.Errorf("affiliation: query store by id: %w", err)
	}

	return store, nil
}

// ActiveStore returns the store currently affiliated with the therapist, if
// any. Absence is not an error: an unaffiliated therapist books solo.
func (r *Repository) ActiveStore(ctx context.Context, therapistID string) (*Store, error) {
	const query = `
		SELECT s.id, s.name, s.address, s.verified, s.created_at
		FROM therapist_affiliations a
		JOIN stores s ON s.id = a.store_id
		WHERE a.therapist_id = $1 AND a.active
		ORDER BY a.created_at DESC
		LIMIT 1
	`

	var store Store
	err := r.pool.QueryRow(ctx, query, therapistID).Scan(
		&store.ID,
		&store.Name,
		&store.Address,
		&store.Verified,
		&store.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("affiliation: active store: %w", err)
	}
	return &store, nil
}

// Operators returns the user ids acting for the store.
func (r *Repository) Operators(ctx context.Context, storeID string) ([]string, error) {
	const query = `
		SELECT user_id
		FROM store_operators
		WHERE store_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("affiliation: list operators: %w", err)
	}
	defer rows.Close()

	operators := make([]string, 0, 4)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("affiliation: scan operator: %w", err)
		}
		operators = append(operators, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("affiliation: iterate operators: %w", err)
	}

	return operators, nil
}

// IsOperator reports whether the user acts for the store.
func (r *Repository) IsOperator(ctx context.Context, userID, storeID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM store_operators WHERE user_id = $1 AND store_id = $2)`,
		userID, storeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("affiliation: check operator: %w", err)
	}
	return exists, nil
}
