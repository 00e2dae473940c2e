package identity

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoStoredCredential is returned by Persistence.Load when nothing is
// stored.
var ErrNoStoredCredential = errors.New("identity: no stored credential")

// StoredCredential is what an adapter keeps between runs to restore its
// session without asking for the password again.
type StoredCredential struct {
	Backend      string
	UserID       string
	Email        string
	RefreshToken string
	UpdatedAt    time.Time
}

// Persistence stores the adapter's refresh credential.
type Persistence interface {
	Load(ctx context.Context, backend string) (StoredCredential, error)
	Save(ctx context.Context, cred StoredCredential) error
	Clear(ctx context.Context, backend string) error
}

// MemoryPersistence keeps credentials for the life of the process.
type MemoryPersistence struct {
	mu    sync.Mutex
	creds map[string]StoredCredential
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{creds: make(map[string]StoredCredential)}
}

func (m *MemoryPersistence) Load(_ context.Context, backend string) (StoredCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[backend]
	if !ok {
		return StoredCredential{}, ErrNoStoredCredential
	}
	return c, nil
}

func (m *MemoryPersistence) Save(_ context.Context, cred StoredCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[cred.Backend] = cred
	return nil
}

func (m *MemoryPersistence) Clear(_ context.Context, backend string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, backend)
	return nil
}
