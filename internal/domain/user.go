package domain

import (
	"context"

	"github.com/optimiscs/ZhimoWanxiang/internal/domain/entity"
)

// ============ Repository interface ============

// UserRepository is the user data access interface.
type UserRepository interface {
	// Create persists a new user
	Create(ctx context.Context, username, passwordHash string) (*entity.User, error)

	// GetByUsername looks a user up by username (login path)
	GetByUsername(ctx context.Context, username string) (*entity.User, error)

	// GetByID looks a user up by ID
	GetByID(ctx context.Context, userID string) (*entity.User, error)

	// List returns a page of users
	List(ctx context.Context, offset, limit int) ([]*entity.User, error)

	// Count returns the total number of users
	Count(ctx context.Context) (int, error)

	// Delete soft-deletes a user
	Delete(ctx context.Context, userID string) error

	// UpdateLastLogin records the last login time
	UpdateLastLogin(ctx context.Context, userID string) error
}

// ============ Usecase interface ============

// UserUsecase is the user business logic interface.
type UserUsecase interface {
	// Register creates a new user account
	Register(ctx context.Context, username, password string) (*entity.User, error)

	// Login verifies credentials and returns the user
	Login(ctx context.Context, username, password string) (*entity.User, error)

	// GetUser returns a user by ID
	GetUser(ctx context.Context, userID string) (*entity.User, error)

	// ListUsers returns a page of users and the total count
	ListUsers(ctx context.Context, page, pageSize int) ([]*entity.User, int, error)

	// DeleteUser removes a user
	DeleteUser(ctx context.Context, userID string) error
}
