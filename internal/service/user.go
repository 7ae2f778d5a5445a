package service

import (
	"context"
	"net/mail"
	"strings"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/repository"
)

type userService struct {
	userRepo repository.UserRepository
	accounts AccountService
}

func NewUserService(userRepo repository.UserRepository, accounts AccountService) UserService {
	return &userService{userRepo: userRepo, accounts: accounts}
}

func (s *userService) GetUser(ctx context.Context, userID int32) (*domain.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}

func (s *userService) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.userRepo.GetByEmail(ctx, strings.TrimSpace(email))
}

func (s *userService) RegisterUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	user.Email = strings.TrimSpace(user.Email)
	if _, err := mail.ParseAddress(user.Email); err != nil {
		return nil, domain.NewFieldError(domain.ErrInvalidInput, "email", "invalid email address")
	}
	if !user.UserType.Valid() {
		return nil, domain.NewFieldError(domain.ErrInvalidInput, "user_type", "unknown user type %q", user.UserType)
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	if _, err := s.accounts.EnsureAccount(ctx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}
