package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the booking id does not exist.
	ErrNotFound = errors.New("booking: not found")
	// ErrStaleStatus signals the acting party's column changed between the
	// load and the conditional write; the caller should re-read and retry.
	ErrStaleStatus = errors.New("booking: stale party status")
)

// effectiveSQL mirrors Pair.Effective so listings can filter on the derived
// status without persisting it. A NULL store_id counts as a pre-satisfied
// store side.
const effectiveSQL = `
CASE
  WHEN b.therapist_status = 'cancelled' OR (b.store_id IS NOT NULL AND b.store_status = 'cancelled') THEN 'cancelled'
  WHEN b.therapist_status IN ('confirmed','completed')
       AND (b.store_id IS NULL OR b.store_status IN ('confirmed','completed'))
       AND (b.therapist_status = 'completed' OR (b.store_id IS NOT NULL AND b.store_status = 'completed')) THEN 'completed'
  WHEN b.therapist_status IN ('confirmed','completed')
       AND (b.store_id IS NULL OR b.store_status IN ('confirmed','completed')) THEN 'confirmed'
  ELSE 'pending'
END`

// Repository is the data access needed by the transition handler and the
// booking read paths.
type Repository interface {
	Create(ctx context.Context, params CreateRecordParams) (Booking, error)
	GetByID(ctx context.Context, id string) (Booking, error)
	CompareAndSetPartyStatus(ctx context.Context, id string, party Party, expected, next Status) (Pair, error)
	List(ctx context.Context, filters Filters) ([]Booking, int, error)
}

// CreateRecordParams contains write parameters for inserting bookings.
type CreateRecordParams struct {
	ID          string
	CustomerID  string
	TherapistID string
	StoreID     *string
	ServiceName string
	Location    string
	PriceCents  int64
	ScheduledAt time.Time
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed booking repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const bookingColumns = `b.id, b.customer_id, b.therapist_id, b.store_id, u.full_name,
       b.service_name, b.location, b.price_cents, b.scheduled_at,
       b.therapist_status, b.store_status, b.created_at, b.updated_at`

func (r *PGRepository) Create(ctx context.Context, params CreateRecordParams) (Booking, error) {
	const insertSQL = `
		WITH inserted AS (
			INSERT INTO bookings (id, customer_id, therapist_id, store_id, service_name, location, price_cents, scheduled_at, therapist_status, store_status)
			VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, 'pending', 'pending')
			RETURNING *
		)
		SELECT b.id, b.customer_id, b.therapist_id, b.store_id, u.full_name,
		       b.service_name, b.location, b.price_cents, b.scheduled_at,
		       b.therapist_status, b.store_status, b.created_at, b.updated_at
		FROM inserted b
		JOIN users u ON u.id = b.therapist_id
	`

	row := r.pool.QueryRow(ctx, insertSQL,
		params.ID,
		params.CustomerID,
		params.TherapistID,
		params.StoreID,
		params.ServiceName,
		params.Location,
		params.PriceCents,
		params.ScheduledAt,
	)

	b, err := scanBooking(row)
	if err != nil {
		return Booking{}, fmt.Errorf("booking: create: %w", err)
	}
	return b, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings b
		JOIN users u ON u.id = b.therapist_id
		WHERE b.id = $1
	`

	b, err := scanBooking(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, ErrNotFound
		}
		return Booking{}, fmt.Errorf("booking: get by id: %w", err)
	}
	return b, nil
}

// CompareAndSetPartyStatus writes the acting party's column only if it still
// holds the expected value, and returns both columns from the updated row.
// The opposing column in the returned pair is read by the same statement, so
// it reflects any concurrent opposing-party write that committed first; the
// convergence recomputation must use it rather than the value loaded earlier.
func (r *PGRepository) CompareAndSetPartyStatus(ctx context.Context, id string, party Party, expected, next Status) (Pair, error) {
	column := "therapist_status"
	if party == PartyStore {
		column = "store_status"
	}

	query := fmt.Sprintf(`
		UPDATE bookings
		SET %s = $2,
		    updated_at = now()
		WHERE id = $1 AND %s = $3
		RETURNING therapist_status, store_status, store_id
	`, column, column)

	var (
		therapistRaw string
		storeRaw     string
		storeID      *string
	)
	err := r.pool.QueryRow(ctx, query, id, next.Storage(), expected.Storage()).
		Scan(&therapistRaw, &storeRaw, &storeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the id is unknown or the column moved under us.
			// Disambiguate so callers can retry only the stale case.
			var exists bool
			if probeErr := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, id).Scan(&exists); probeErr != nil {
				return Pair{}, fmt.Errorf("booking: probe after cas miss: %w", probeErr)
			}
			if !exists {
				return Pair{}, ErrNotFound
			}
			return Pair{}, ErrStaleStatus
		}
		return Pair{}, fmt.Errorf("booking: cas party status: %w", err)
	}

	return Pair{
		Therapist:     ParseStatus(therapistRaw),
		Store:         ParseStatus(storeRaw),
		SoloTherapist: storeID == nil,
	}, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Booking, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}
	if filters.SortKey == "" {
		filters.SortKey = "createdAt"
	}
	if filters.SortOrder == "" {
		filters.SortOrder = "desc"
	}

	base := `SELECT ` + bookingColumns + `
	         FROM bookings b
	         JOIN users u ON u.id = b.therapist_id`
	where := []string{"1=1"}
	args := []any{}

	if filters.CustomerID != "" {
		where = append(where, fmt.Sprintf("b.customer_id=$%d", len(args)+1))
		args = append(args, filters.CustomerID)
	}
	if filters.TherapistID != "" {
		where = append(where, fmt.Sprintf("b.therapist_id=$%d", len(args)+1))
		args = append(args, filters.TherapistID)
	}
	if filters.StoreID != "" {
		where = append(where, fmt.Sprintf("b.store_id=$%d", len(args)+1))
		args = append(args, filters.StoreID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("%s = $%d", effectiveSQL, len(args)+1))
		args = append(args, filters.Status.Storage())
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	sortKey := mapSortKey(filters.SortKey)
	sortOrder := strings.ToUpper(filters.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`%s%s ORDER BY %s %s LIMIT %d OFFSET %d`, base, whereClause, sortKey, sortOrder, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("booking: query list: %w", err)
	}
	defer rows.Close()

	list := []Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("booking: scan list row: %w", err)
		}
		list = append(list, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("booking: iterate list: %w", err)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM bookings b JOIN users u ON u.id = b.therapist_id%s`, whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("booking: count list: %w", err)
	}

	return list, total, nil
}

func scanBooking(row pgx.Row) (Booking, error) {
	var (
		b            Booking
		therapistRaw string
		storeRaw     string
	)
	err := row.Scan(
		&b.ID,
		&b.CustomerID,
		&b.TherapistID,
		&b.StoreID,
		&b.TherapistName,
		&b.ServiceName,
		&b.Location,
		&b.PriceCents,
		&b.ScheduledAt,
		&therapistRaw,
		&storeRaw,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return Booking{}, err
	}

	b.TherapistStatus = ParseStatus(therapistRaw)
	b.StoreStatus = ParseStatus(storeRaw)
	return b, nil
}

func mapSortKey(key string) string {
	switch key {
	case "scheduledAt":
		return "scheduled_at"
	case "price":
		return "price_cents"
	case "updatedAt":
		return "b.updated_at"
	case "createdAt":
		fallthrough
	default:
		return "b.created_at"
	}
}
