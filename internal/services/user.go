package services

import (
	"context"

	"github.com/platformai/sci-auth/types"
)

// UserRepository defines persistence operations for user accounts.
type UserRepository interface {
	GetByIdentifier(ctx context.Context, identifier string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Upsert(ctx context.Context, user types.User) (types.User, error)
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetByIdentifier(ctx context.Context, identifier string) (types.User, error) {
	return s.repo.GetByIdentifier(ctx, identifier)
}

func (s *UserService) Create(ctx context.Context, user types.User) (types.User, error) {
	return s.repo.Create(ctx, user)
}

func (s *UserService) Upsert(ctx context.Context, user types.User) (types.User, error) {
	return s.repo.Upsert(ctx, user)
}
