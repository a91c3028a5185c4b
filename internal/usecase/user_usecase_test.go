package usecase

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/optimiscs/ZhimoWanxiang/internal/domain"
	"github.com/optimiscs/ZhimoWanxiang/internal/domain/entity"
)

// In-memory UserRepository used across usecase tests.
type testUserRepository struct {
	users map[string]*entity.User
}

func newTestUserRepository() *testUserRepository {
	return &testUserRepository{
		users: make(map[string]*entity.User),
	}
}

func (r *testUserRepository) Create(ctx context.Context, username, passwordHash string) (*entity.User, error) {
	user := &entity.User{
		ID:           "test-user-id",
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	r.users[username] = user
	return user, nil
}

func (r *testUserRepository) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	if user, ok := r.users[username]; ok {
		return user, nil
	}
	return nil, domain.NewNotFoundError("User", username)
}

func (r *testUserRepository) GetByID(ctx context.Context, userID string) (*entity.User, error) {
	return &entity.User{ID: userID, Username: "testuser"}, nil
}

func (r *testUserRepository) List(ctx context.Context, offset, limit int) ([]*entity.User, error) {
	return []*entity.User{}, nil
}

func (r *testUserRepository) Count(ctx context.Context) (int, error) {
	return 0, nil
}

func (r *testUserRepository) Delete(ctx context.Context, userID string) error {
	return nil
}

func (r *testUserRepository) UpdateLastLogin(ctx context.Context, userID string) error {
	return nil
}

func TestRegister(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	tests := []struct {
		name        string
		username    string
		password    string
		setupMock   func(*testUserRepository)
		wantErr     bool
		errContains string
	}{
		{
			name:     "successful registration",
			username: "testuser",
			password: "password123",
			wantErr:  false,
		},
		{
			name:     "username already taken",
			username: "existinguser",
			password: "password123",
			setupMock: func(m *testUserRepository) {
				m.users["existinguser"] = &entity.User{ID: "existing-id", Username: "existinguser"}
			},
			wantErr:     true,
			errContains: "already exists",
		},
		{
			name:        "username too short",
			username:    "ab",
			password:    "password123",
			wantErr:     true,
			errContains: "3-50 characters",
		},
		{
			name:        "username with illegal characters",
			username:    "user@name",
			password:    "password123",
			wantErr:     true,
			errContains: "letters, numbers, and underscores",
		},
		{
			name:        "password too short",
			username:    "testuser",
			password:    "12345",
			wantErr:     true,
			errContains: "at least 6 characters",
		},
		{
			name:        "password too long",
			username:    "testuser",
			password:    strings.Repeat("a", 73),
			wantErr:     true,
			errContains: "too long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := newTestUserRepository()
			if tt.setupMock != nil {
				tt.setupMock(mockRepo)
			}

			uc := NewUserUsecase(mockRepo, logger)
			user, err := uc.Register(context.Background(), tt.username, tt.password)

			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got success")
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error = %v, want it to contain %v", err, tt.errContains)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if user == nil {
					t.Errorf("expected a user, got nil")
				}
			}
		})
	}
}

func TestLogin(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	testPasswordHash, _ := bcrypt.GenerateFromPassword([]byte("correctpassword"), bcrypt.DefaultCost)

	tests := []struct {
		name        string
		username    string
		password    string
		setupMock   func(*testUserRepository)
		wantErr     bool
		errContains string
	}{
		{
			name:     "successful login",
			username: "testuser",
			password: "correctpassword",
			setupMock: func(m *testUserRepository) {
				m.users["testuser"] = &entity.User{
					ID:           "test-id",
					Username:     "testuser",
					PasswordHash: string(testPasswordHash),
				}
			},
			wantErr: false,
		},
		{
			name:     "unknown user",
			username: "nonexistent",
			password: "password123",
			wantErr:  true,
			// Must not reveal whether the user exists
			errContains: "invalid username or password",
		},
		{
			name:     "wrong password",
			username: "testuser",
			password: "wrongpassword",
			setupMock: func(m *testUserRepository) {
				m.users["testuser"] = &entity.User{
					ID:           "test-id",
					Username:     "testuser",
					PasswordHash: string(testPasswordHash),
				}
			},
			wantErr:     true,
			errContains: "invalid username or password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := newTestUserRepository()
			if tt.setupMock != nil {
				tt.setupMock(mockRepo)
			}

			uc := NewUserUsecase(mockRepo, logger)
			user, err := uc.Login(context.Background(), tt.username, tt.password)

			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got success")
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error = %v, want it to contain %v", err, tt.errContains)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if user == nil {
					t.Errorf("expected a user, got nil")
				}
			}
		})
	}
}

func TestPasswordSecurity(t *testing.T) {
	t.Run("hash differs from password", func(t *testing.T) {
		password := "securePassword123"
		hash, err := hashPassword(password)
		if err != nil {
			t.Fatalf("failed to hash password: %v", err)
		}

		if hash == password {
			t.Error("hash must not equal the plaintext password")
		}

		if len(hash) < 50 {
			t.Error("unexpected bcrypt hash length")
		}
	})

	t.Run("same password yields different hashes", func(t *testing.T) {
		password := "testPassword"
		hash1, _ := hashPassword(password)
		hash2, _ := hashPassword(password)

		// bcrypt salts every hash
		if hash1 == hash2 {
			t.Error("two hashes of the same password should differ")
		}
	})

	t.Run("verification", func(t *testing.T) {
		password := "correctPassword"
		hash, _ := hashPassword(password)

		if err := verifyPassword(hash, password); err != nil {
			t.Error("correct password failed verification")
		}

		if err := verifyPassword(hash, "wrongPassword"); err == nil {
			t.Error("wrong password passed verification")
		}
	})
}
