package affiliation

import "time"

// Store captures the subset of store data exposed via the public API layer.
type Store struct {
	ID        string
	Name      string
	Address   string
	Verified  bool
	CreatedAt time.Time
}
