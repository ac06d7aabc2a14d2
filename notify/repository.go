package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the notification does not exist or belongs to another
// user.
var ErrNotFound = errors.New("notify: not found")

// PGStore persists notifications and doubles as the Sender used in
// production: a "send" is an insert the recipient observes on next read.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Send inserts the notification row.
func (s *PGStore) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	const insertSQL = `
		INSERT INTO notifications (id, user_id, kind, title, message, payload)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6::jsonb)
	`
	if _, err := s.pool.Exec(ctx, insertSQL, n.ID, n.UserID, n.Kind, n.Title, n.Message, payload); err != nil {
		return fmt.Errorf("notify: insert notification: %w", err)
	}
	return nil
}

// ListForUser returns the user's notifications, newest first.
func (s *PGStore) ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	const query = `
		SELECT id, user_id, kind, title, message, payload, read_at, sent_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY sent_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0, limit)
	for rows.Next() {
		var (
			n       Notification
			payload []byte
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Message, &payload, &n.ReadAt, &n.SentAt); err != nil {
			return nil, fmt.Errorf("notify: scan notification: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &n.Payload); err != nil {
				return nil, fmt.Errorf("notify: decode payload: %w", err)
			}
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate notifications: %w", err)
	}
	return out, nil
}

// MarkRead stamps read_at for one of the user's notifications.
func (s *PGStore) MarkRead(ctx context.Context, userID, notificationID string) error {
	const updateSQL = `
		UPDATE notifications
		SET read_at = COALESCE(read_at, now())
		WHERE id = $1 AND user_id = $2
		RETURNING id
	`
	var id string
	if err := s.pool.QueryRow(ctx, updateSQL, notificationID, userID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("notify: mark read: %w", err)
	}
	return nil
}
