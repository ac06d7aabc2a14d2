package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"therabook/notify"
)

var (
	// ErrForbidden signals the actor is not the therapist or store tied to
	// the booking.
	ErrForbidden = errors.New("booking: forbidden")
	// ErrTerminalState signals the booking already reached cancelled or
	// completed and accepts no further writes.
	ErrTerminalState = errors.New("booking: terminal state")
	// ErrInvalidTransition signals newStatus is not reachable from the acting
	// party's current status.
	ErrInvalidTransition = errors.New("booking: invalid transition")
	// ErrInvalidParty signals an unknown acting party.
	ErrInvalidParty = errors.New("booking: invalid party")
)

// casAttempts bounds the reload-and-retry loop when the acting party's own
// column moved between load and write (a concurrent same-party retry).
const casAttempts = 3

// AffiliationDirectory resolves store linkage for authorization and for the
// therapist-response notification recipients.
type AffiliationDirectory interface {
	IsOperator(ctx context.Context, userID, storeID string) (bool, error)
	Operators(ctx context.Context, storeID string) ([]string, error)
}

// Notifier delivers notifications best-effort. Implementations must never
// return delivery failures to the transition handler path; see notify.Dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, notifications ...notify.Notification)
}

// Service is the transition handler: the single entry point through which a
// party changes its half of a booking's status.
type Service struct {
	repo         Repository
	affiliations AffiliationDirectory
	notifier     Notifier
	idGenerator  func() string
	now          func() time.Time
}

func NewService(repo Repository, affiliations AffiliationDirectory, notifier Notifier) *Service {
	return &Service{
		repo:         repo,
		affiliations: affiliations,
		notifier:     notifier,
		idGenerator:  func() string { return uuid.NewString() },
		now:          time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateParams captures a customer's booking request.
type CreateParams struct {
	CustomerID  string
	TherapistID string
	StoreID     *string
	ServiceName string
	Location    string
	PriceCents  int64
	ScheduledAt time.Time
}

// Create inserts a new booking in pending/pending.
func (s *Service) Create(ctx context.Context, params CreateParams) (Booking, error) {
	if params.CustomerID == "" {
		return Booking{}, fmt.Errorf("booking: missing customer id")
	}
	if params.TherapistID == "" {
		return Booking{}, fmt.Errorf("booking: missing therapist id")
	}
	if params.ScheduledAt.IsZero() {
		return Booking{}, fmt.Errorf("booking: missing scheduled time")
	}
	if params.PriceCents < 0 {
		return Booking{}, fmt.Errorf("booking: invalid price")
	}

	created, err := s.repo.Create(ctx, CreateRecordParams{
		ID:          s.idGenerator(),
		CustomerID:  params.CustomerID,
		TherapistID: params.TherapistID,
		StoreID:     params.StoreID,
		ServiceName: params.ServiceName,
		Location:    params.Location,
		PriceCents:  params.PriceCents,
		ScheduledAt: params.ScheduledAt,
	})
	if err != nil {
		return Booking{}, err
	}
	return created, nil
}

// GetByID returns the booking visible to the given actor.
func (s *Service) GetByID(ctx context.Context, id, actorID string) (Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	allowed := b.CustomerID == actorID || b.TherapistID == actorID
	if !allowed && b.StoreID != nil {
		ok, err := s.affiliations.IsOperator(ctx, actorID, *b.StoreID)
		if err != nil {
			return Booking{}, err
		}
		allowed = ok
	}
	if !allowed {
		return Booking{}, ErrForbidden
	}
	return b, nil
}

// ListResult bundles a booking page with its total count.
type ListResult struct {
	Items []Booking
	Total int
}

func (s *Service) List(ctx context.Context, filters Filters) (ListResult, error) {
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// ApplyParams identifies one party's status write.
type ApplyParams struct {
	BookingID string
	ActorID   string
	Party     Party
	NewStatus Status
}

// ApplyResult reports the booking state after the write.
type ApplyResult struct {
	Booking         Booking
	EffectiveStatus Status
	JustConverged   bool
}

// ApplyPartyStatus authorizes the caller, writes the acting party's status
// column, recomputes convergence from the freshly returned pair, and emits
// the required notifications best-effort. Notification failures never roll
// back the write.
func (s *Service) ApplyPartyStatus(ctx context.Context, params ApplyParams) (ApplyResult, error) {
	if params.BookingID == "" {
		return ApplyResult{}, fmt.Errorf("booking: missing booking id")
	}
	if params.ActorID == "" {
		return ApplyResult{}, fmt.Errorf("booking: missing actor id")
	}
	if params.Party != PartyTherapist && params.Party != PartyStore {
		return ApplyResult{}, ErrInvalidParty
	}
	if ParseStatus(string(params.NewStatus)) != params.NewStatus {
		return ApplyResult{}, ErrInvalidTransition
	}

	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		result, err := s.applyOnce(ctx, params)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrStaleStatus) {
			return ApplyResult{}, err
		}
		lastErr = err
	}
	return ApplyResult{}, lastErr
}

func (s *Service) applyOnce(ctx context.Context, params ApplyParams) (ApplyResult, error) {
	b, err := s.repo.GetByID(ctx, params.BookingID)
	if err != nil {
		return ApplyResult{}, err
	}

	if err := s.authorize(ctx, b, params); err != nil {
		return ApplyResult{}, err
	}

	own := b.PartyStatus(params.Party)

	// Idempotent re-submission of the already-applied value is a no-op
	// success so client retries stay safe, terminal or not.
	if own == params.NewStatus {
		return ApplyResult{
			Booking:         b,
			EffectiveStatus: b.StatusPair().Effective(),
			JustConverged:   false,
		}, nil
	}

	if b.StatusPair().Effective().Terminal() {
		return ApplyResult{}, ErrTerminalState
	}
	if !CanTransition(own, params.NewStatus) {
		return ApplyResult{}, ErrInvalidTransition
	}

	// Conditional write scoped to the acting party's own column. The
	// returned pair carries the opposing column as of this statement, which
	// is what convergence must be recomputed from: a concurrent
	// opposing-party write that committed first is visible here even though
	// the load above predates it.
	next, err := s.repo.CompareAndSetPartyStatus(ctx, params.BookingID, params.Party, own, params.NewStatus)
	if err != nil {
		return ApplyResult{}, err
	}

	prev := next
	if params.Party == PartyStore {
		prev.Store = own
	} else {
		prev.Therapist = own
	}

	effective := next.Effective()
	converged := JustConverged(prev, next)

	b.TherapistStatus = next.Therapist
	b.StoreStatus = next.Store

	s.emitNotifications(ctx, b, params, prev, next, converged)

	return ApplyResult{
		Booking:         b,
		EffectiveStatus: effective,
		JustConverged:   converged,
	}, nil
}

func (s *Service) authorize(ctx context.Context, b Booking, params ApplyParams) error {
	switch params.Party {
	case PartyTherapist:
		if b.TherapistID != params.ActorID {
			return ErrForbidden
		}
	case PartyStore:
		if b.StoreID == nil {
			return ErrForbidden
		}
		ok, err := s.affiliations.IsOperator(ctx, params.ActorID, *b.StoreID)
		if err != nil {
			return fmt.Errorf("booking: check store operator: %w", err)
		}
		if !ok {
			return ErrForbidden
		}
	}
	return nil
}

// emitNotifications issues the 0-2 notices owed for this transition. Delivery
// is best-effort and isolated per recipient inside the dispatcher; nothing
// here can fail the already-applied status write.
func (s *Service) emitNotifications(ctx context.Context, b Booking, params ApplyParams, prev, next Pair, converged bool) {
	if s.notifier == nil {
		return
	}

	notifications := make([]notify.Notification, 0, 3)

	if params.Party == PartyTherapist && b.StoreID != nil {
		operators, err := s.affiliations.Operators(ctx, *b.StoreID)
		if err != nil {
			// Recipient resolution is part of delivery, not of the write.
			operators = nil
		}
		for _, operator := range operators {
			notifications = append(notifications, notify.Notification{
				ID:      s.idGenerator(),
				UserID:  operator,
				Kind:    notify.KindTherapistResponse,
				Title:   "Therapist responded",
				Message: fmt.Sprintf("Therapist %s responded: %s", b.TherapistName, params.NewStatus),
				Payload: map[string]any{
					"booking_id":       b.ID,
					"therapist_id":     b.TherapistID,
					"therapist_status": string(params.NewStatus),
				},
			})
		}
	}

	if converged {
		notifications = append(notifications, notify.Notification{
			ID:      s.idGenerator(),
			UserID:  b.CustomerID,
			Kind:    notify.KindBookingConfirmed,
			Title:   "Booking confirmed",
			Message: fmt.Sprintf("Your booking with %s on %s is confirmed",
				b.TherapistName, b.ScheduledAt.Format(time.RFC1123)),
			Payload: map[string]any{
				"booking_id":   b.ID,
				"scheduled_at": b.ScheduledAt.UTC(),
			},
		})
	}

	if next.Effective() == StatusCancelled && prev.Effective() != StatusCancelled {
		notifications = append(notifications, notify.Notification{
			ID:      s.idGenerator(),
			UserID:  b.CustomerID,
			Kind:    notify.KindBookingCancelled,
			Title:   "Booking cancelled",
			Message: "Your booking was cancelled",
			Payload: map[string]any{
				"booking_id":   b.ID,
				"cancelled_by": string(params.Party),
			},
		})
	}

	if len(notifications) > 0 {
		s.notifier.Dispatch(ctx, notifications...)
	}
}
