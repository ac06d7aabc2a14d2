package booking

// Status is the four-state vocabulary shared by both party columns and the
// derived effective status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus maps a raw stored value to the domain vocabulary. Unrecognized
// values map to pending: the least-privileged state, never confirmed or
// completed.
func ParseStatus(raw string) Status {
	switch Status(raw) {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return Status(raw)
	default:
		return StatusPending
	}
}

// Storage returns the raw value persisted for s.
func (s Status) Storage() string {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return string(s)
	default:
		return string(StatusPending)
	}
}

// Terminal reports whether s accepts no further writes.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// partyTransitions is the lattice each party moves through independently.
// A party never moves backward and never un-confirms.
var partyTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition reports whether a single party may move from one status to
// another.
func CanTransition(from, to Status) bool {
	for _, next := range partyTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
