package booking

import "time"

// Party identifies which side of a booking an actor mutates. Each party owns
// exactly one status column and may never write the other's.
type Party string

const (
	PartyTherapist Party = "therapist"
	PartyStore     Party = "store"
)

// Booking is the domain representation of a booking row. It mirrors the
// bookings table and carries no JSON annotations so it can be reused by
// different presentation layers.
type Booking struct {
	ID              string
	CustomerID      string
	TherapistID     string
	StoreID         *string
	TherapistName   string
	ServiceName     string
	Location        string
	PriceCents      int64
	ScheduledAt     time.Time
	TherapistStatus Status
	StoreStatus     Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StatusPair snapshots the booking's two columns for the evaluator.
func (b Booking) StatusPair() Pair {
	return Pair{
		Therapist:     b.TherapistStatus,
		Store:         b.StoreStatus,
		SoloTherapist: b.StoreID == nil,
	}
}

// PartyStatus returns the column owned by the given party.
func (b Booking) PartyStatus(party Party) Status {
	if party == PartyStore {
		return b.StoreStatus
	}
	return b.TherapistStatus
}

// Filters narrows booking listings.
type Filters struct {
	CustomerID  string
	TherapistID string
	StoreID     string
	Status      Status
	Page        int
	PageSize    int
	SortKey     string
	SortOrder   string
}
