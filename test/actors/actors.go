package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"therabook/booking"
	"therabook/notify"
)

// Creator keeps inserting fresh bookings so the responders always have a
// pending/pending pair to race over.
func Creator(ctx context.Context, svc *booking.Service, customerID, therapistID string, storeID *string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.Create(ctx, booking.CreateParams{
			CustomerID:  customerID,
			TherapistID: therapistID,
			StoreID:     storeID,
			ServiceName: "Stress massage",
			PriceCents:  int64(5000 + rand.Intn(5000)),
			ScheduledAt: time.Now().Add(time.Duration(1+rand.Intn(72)) * time.Hour),
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("creator: %w", err)
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}

// TherapistResponder picks one of the therapist's non-terminal bookings and
// pushes its own status forward through the real transition handler.
func TherapistResponder(ctx context.Context, pool *pgxpool.Pool, svc *booking.Service, therapistID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		bookingID, err := pickBooking(ctx, pool,
			`SELECT id FROM bookings WHERE therapist_id = $1 AND therapist_status IN ('pending','confirmed') ORDER BY random() LIMIT 1`,
			therapistID)
		if err != nil {
			return fmt.Errorf("therapist pick: %w", err)
		}
		if bookingID != "" {
			if err := applyRandom(ctx, svc, bookingID, therapistID, booking.PartyTherapist); err != nil {
				return fmt.Errorf("therapist apply: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// StoreResponder does the same from the store side, acting as an operator.
func StoreResponder(ctx context.Context, pool *pgxpool.Pool, svc *booking.Service, storeID, operatorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		bookingID, err := pickBooking(ctx, pool,
			`SELECT id FROM bookings WHERE store_id = $1 AND store_status IN ('pending','confirmed') ORDER BY random() LIMIT 1`,
			storeID)
		if err != nil {
			return fmt.Errorf("store pick: %w", err)
		}
		if bookingID != "" {
			if err := applyRandom(ctx, svc, bookingID, operatorID, booking.PartyStore); err != nil {
				return fmt.Errorf("store apply: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// NotificationReader churns the customer's feed and marks random entries read.
func NotificationReader(ctx context.Context, store *notify.PGStore, userID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		notifications, err := store.ListForUser(ctx, userID, 20)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("list notifications: %w", err)
		}
		if len(notifications) > 0 {
			pick := notifications[rand.Intn(len(notifications))]
			if err := store.MarkRead(ctx, userID, pick.ID); err != nil &&
				!errors.Is(err, notify.ErrNotFound) && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mark read: %w", err)
			}
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

func pickBooking(ctx context.Context, pool *pgxpool.Pool, query, arg string) (string, error) {
	var id string
	err := pool.QueryRow(ctx, query, arg).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// applyRandom mostly confirms, sometimes completes, rarely cancels. Rejected
// transitions are expected under contention and swallowed; anything else is a
// real failure.
func applyRandom(ctx context.Context, svc *booking.Service, bookingID, actorID string, party booking.Party) error {
	target := booking.StatusConfirmed
	switch rand.Intn(10) {
	case 0:
		target = booking.StatusCancelled
	case 1, 2, 3:
		target = booking.StatusCompleted
	}

	_, err := svc.ApplyPartyStatus(ctx, booking.ApplyParams{
		BookingID: bookingID,
		ActorID:   actorID,
		Party:     party,
		NewStatus: target,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, booking.ErrTerminalState),
		errors.Is(err, booking.ErrInvalidTransition),
		errors.Is(err, booking.ErrStaleStatus),
		errors.Is(err, booking.ErrNotFound):
		return nil
	default:
		return err
	}
}
