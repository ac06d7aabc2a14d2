package booking

// Pair snapshots both party columns of a booking. SoloTherapist marks a
// booking with no store affiliation; the store side counts as pre-satisfied
// for that booking, so the therapist alone can converge it.
type Pair struct {
	Therapist     Status
	Store         Status
	SoloTherapist bool
}

// Effective reduces the pair to the single customer-visible status. Rules in
// priority order: any cancellation wins; both sides at confirmed-or-better
// with at least one completed is completed; both confirmed is confirmed;
// anything else is pending.
func (p Pair) Effective() Status {
	store := p.Store
	if p.SoloTherapist {
		store = StatusConfirmed
	}

	if p.Therapist == StatusCancelled || store == StatusCancelled {
		return StatusCancelled
	}

	therapistDone := p.Therapist == StatusConfirmed || p.Therapist == StatusCompleted
	storeDone := store == StatusConfirmed || store == StatusCompleted
	if therapistDone && storeDone {
		if p.Therapist == StatusCompleted || store == StatusCompleted {
			return StatusCompleted
		}
		return StatusConfirmed
	}

	return StatusPending
}

// JustConverged reports whether the step from prev to next is the moment the
// booking became confirmed. This is the sole trigger for the customer-facing
// confirmation notice and must hold for exactly one write in any sequence
// that takes a booking from non-confirmed to confirmed.
func JustConverged(prev, next Pair) bool {
	return prev.Effective() == StatusPending && next.Effective() == StatusConfirmed
}
