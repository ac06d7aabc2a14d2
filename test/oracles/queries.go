package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_status_vocabulary",
			SQL: `SELECT id FROM bookings
                  WHERE therapist_status NOT IN ('pending','confirmed','completed','cancelled')
                     OR store_status NOT IN ('pending','confirmed','completed','cancelled')`,
		},
		{
			Name: "O2_confirmation_notice_exactly_once",
			SQL: `SELECT payload->>'booking_id', COUNT(*) FROM notifications
                  WHERE kind = 'booking.confirmed'
                  GROUP BY payload->>'booking_id' HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_confirmation_requires_both_sides",
			SQL: `SELECT n.id FROM notifications n
                  JOIN bookings b ON b.id::text = n.payload->>'booking_id'
                  WHERE n.kind = 'booking.confirmed'
                    AND ((b.store_id IS NOT NULL AND (b.therapist_status = 'pending' OR b.store_status = 'pending'))
                         OR (b.store_id IS NULL AND b.therapist_status = 'pending'))`,
		},
		{
			Name: "O4_solo_store_column_untouched",
			SQL:  `SELECT id FROM bookings WHERE store_id IS NULL AND store_status <> 'pending'`,
		},
		{
			Name: "O5_notice_kind_known",
			SQL: `SELECT id, kind FROM notifications
                  WHERE kind NOT IN ('booking.therapist_response','booking.confirmed','booking.cancelled')`,
		},
		{
			Name: "O6_cancellation_notice_exactly_once",
			SQL: `SELECT payload->>'booking_id', COUNT(*) FROM notifications
                  WHERE kind = 'booking.cancelled'
                  GROUP BY payload->>'booking_id' HAVING COUNT(*) > 1`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
