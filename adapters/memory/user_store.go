package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elaracare/elara/server/domain"
	"github.com/elaracare/elara/server/domain/entities"
)

// UserStore is an in-memory implementation of repositories.UserRepository,
// suitable for tests and single-node development setups.
type UserStore struct {
	mu     sync.RWMutex
	users  map[string]*entities.User
	emails map[string]string // email -> id
}

// NewUserStore creates an empty in-memory user store
func NewUserStore() *UserStore {
	return &UserStore{
		users:  make(map[string]*entities.User),
		emails: make(map[string]string),
	}
}

// Create implements repositories.UserRepository
func (s *UserStore) Create(ctx context.Context, user *entities.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.emails[user.Email]; exists {
		return domain.ErrValidationFailed
	}

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	copied := *user
	s.users[user.ID] = &copied
	s.emails[user.Email] = user.ID
	return nil
}

// GetByID implements repositories.UserRepository
func (s *UserStore) GetByID(ctx context.Context, id string) (*entities.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

// GetByEmail implements repositories.UserRepository
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*entities.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *s.users[id]
	return &copied, nil
}

// Update implements repositories.UserRepository
func (s *UserStore) Update(ctx context.Context, user *entities.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return domain.ErrNotFound
	}

	if existing.Email != user.Email {
		delete(s.emails, existing.Email)
		s.emails[user.Email] = user.ID
	}

	user.UpdatedAt = time.Now().UTC()
	copied := *user
	s.users[user.ID] = &copied
	return nil
}
