package users

import (
	"context"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListByIDs(ctx context.Context, ids []int64) ([]User, error)
}

// Service resolves user display names. It is not used for authorization.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// DisplayNames maps ids to display names. Inactive users keep their name
// with an "(inactive)" suffix; unknown ids are omitted.
func (s *Service) DisplayNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	list, err := s.repo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, u := range list {
		name := u.DisplayName()
		if !u.IsActive {
			name += " (inactive)"
		}
		names[u.ID] = name
	}
	return names, nil
}
