package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stocksim/internal/domain"
)

var _ UserStore = (*MemoryStore)(nil)

// MemoryStore is a process-local UserStore. Users are deep-copied on the way
// in and out, so callers can never mutate stored state without Save.
type MemoryStore struct {
	mu     sync.RWMutex
	byCred map[string]*domain.User
	credOf map[string]string // user id -> credential
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byCred: make(map[string]*domain.User),
		credOf: make(map[string]string),
	}
}

// Put stores u as-is, replacing any user with the same credential.
func (m *MemoryStore) Put(u *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byCred[u.Credential] = u.Clone()
	m.credOf[u.ID] = u.Credential
}

// Load returns a copy of the user owning credential.
func (m *MemoryStore) Load(_ context.Context, credential string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byCred[credential]
	if !ok || credential == "" {
		return nil, ErrInvalidCredential
	}
	return u.Clone(), nil
}

// Save replaces the stored copy of u.
func (m *MemoryStore) Save(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.credOf[u.ID]
	if !ok {
		return fmt.Errorf("%w: unknown user %s", ErrPersist, u.ID)
	}
	m.byCred[cred] = u.Clone()
	return nil
}

// Create registers a new user.
func (m *MemoryStore) Create(_ context.Context, name string, balance decimal.Decimal) (*domain.User, error) {
	u := domain.NewUser(uuid.NewString(), name, uuid.NewString(), balance)
	u.CreatedAt = time.Now().UTC()
	m.Put(u)
	return u.Clone(), nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
