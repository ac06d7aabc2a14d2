package affiliation

import "context"

// Directory abstracts repository operations for the service.
type Directory interface {
	GetStore(ctx context.Context, id string) (Store, error)
	ActiveStore(ctx context.Context, therapistID string) (*Store, error)
	Operators(ctx context.Context, storeID string) ([]string, error)
	IsOperator(ctx context.Context, userID, storeID string) (bool, error)
}

// Service exposes business-level affiliation operations.
type Service struct {
	repo Directory
}

// NewService builds a Service using the provided repository.
func NewService(repo Directory) *Service {
	return &Service{repo: repo}
}

// GetStore returns the store for the given identifier.
func (s *Service) GetStore(ctx context.Context, id string) (Store, error) {
	return s.repo.GetStore(ctx, id)
}

// ActiveStore returns the therapist's current store, or nil when solo.
func (s *Service) ActiveStore(ctx context.Context, therapistID string) (*Store, error) {
	return s.repo.ActiveStore(ctx, therapistID)
}

// Operators returns the user ids acting for the store.
func (s *Service) Operators(ctx context.Context, storeID string) ([]string, error) {
	return s.repo.Operators(ctx, storeID)
}

// IsOperator reports whether the user acts for the store.
func (s *Service) IsOperator(ctx context.Context, userID, storeID string) (bool, error) {
	return s.repo.IsOperator(ctx, userID, storeID)
}
