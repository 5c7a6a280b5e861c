package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tubeshelf/accounts/types"
)

// MemoryUserRepository keeps users in process memory. It enforces the same
// uniqueness and refresh-token rules as the database backends and is meant
// for local development and tests.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]types.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]types.User)}
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *MemoryUserRepository) FindByUsernameOrEmail(_ context.Context, username, email string) (types.User, error) {
	return r.findFirst(func(u types.User) bool { return u.Username == username || u.Email == email })
}

func (r *MemoryUserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return types.User{}, ErrDuplicate
		}
	}
	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = user
	return user, nil
}

func (r *MemoryUserRepository) UpdateAccount(_ context.Context, id, fullName, email string) (types.User, error) {
	return r.modify(id, func(u *types.User) error {
		for otherID, other := range r.users {
			if otherID != id && other.Email == email {
				return ErrDuplicate
			}
		}
		u.FullName = fullName
		u.Email = email
		return nil
	})
}

func (r *MemoryUserRepository) UpdateAvatar(_ context.Context, id, url string) (types.User, error) {
	return r.modify(id, func(u *types.User) error {
		u.Avatar = url
		return nil
	})
}

func (r *MemoryUserRepository) UpdateCoverImage(_ context.Context, id, url string) (types.User, error) {
	return r.modify(id, func(u *types.User) error {
		u.CoverImage = url
		return nil
	})
}

func (r *MemoryUserRepository) UpdatePassword(_ context.Context, id, passwordHash string) (types.User, error) {
	return r.modify(id, func(u *types.User) error {
		u.PasswordHash = passwordHash
		return nil
	})
}

func (r *MemoryUserRepository) SetRefreshToken(_ context.Context, id, token string) error {
	_, err := r.modify(id, func(u *types.User) error {
		u.RefreshToken = token
		return nil
	})
	return err
}

func (r *MemoryUserRepository) SwapRefreshToken(_ context.Context, id, current, next string) error {
	_, err := r.modify(id, func(u *types.User) error {
		if current == "" || u.RefreshToken != current {
			return ErrNotFound
		}
		u.RefreshToken = next
		return nil
	})
	return err
}

func (r *MemoryUserRepository) findFirst(match func(types.User) bool) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if match(user) {
			return user, nil
		}
	}
	return types.User{}, ErrNotFound
}

// modify applies fn under the write lock; fn sees the whole map via r.users.
func (r *MemoryUserRepository) modify(id string, fn func(*types.User) error) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	if err := fn(&user); err != nil {
		return types.User{}, err
	}
	user.UpdatedAt = time.Now().UTC()
	r.users[id] = user
	return user, nil
}
