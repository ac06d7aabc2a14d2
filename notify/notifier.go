// Package notify delivers user-facing notifications on a strictly
// best-effort contract: sends never block domain writes, never roll them
// back, and one failed recipient never prevents the next from being
// attempted. The authoritative state stays observable by re-reading the
// booking, so a dropped notice is acceptable.
package notify

import (
	"context"
	"log"
	"time"
)

// Notification kinds emitted by the booking workflow.
const (
	KindTherapistResponse = "booking.therapist_response"
	KindBookingConfirmed  = "booking.confirmed"
	KindBookingCancelled  = "booking.cancelled"
)

// Notification is one message addressed to one user.
type Notification struct {
	ID      string
	UserID  string
	Kind    string
	Title   string
	Message string
	Payload map[string]any
	ReadAt  *time.Time
	SentAt  time.Time
}

// Sender performs a single delivery attempt.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Dispatcher fans notifications out to a Sender, isolating failures per
// recipient. It exposes no error path on purpose.
type Dispatcher struct {
	sender Sender
	logf   func(format string, args ...any)
}

func NewDispatcher(sender Sender) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		logf:   log.Printf,
	}
}

// WithLogger overrides the failure log sink, mainly for tests.
func (d *Dispatcher) WithLogger(logf func(format string, args ...any)) *Dispatcher {
	d.logf = logf
	return d
}

// Dispatch attempts every notification independently. Failures are logged
// and swallowed.
func (d *Dispatcher) Dispatch(ctx context.Context, notifications ...Notification) {
	if d == nil || d.sender == nil {
		return
	}
	for _, n := range notifications {
		if n.UserID == "" {
			continue
		}
		if err := d.sender.Send(ctx, n); err != nil {
			d.logf("notify: deliver %s to %s: %v", n.Kind, n.UserID, err)
		}
	}
}
