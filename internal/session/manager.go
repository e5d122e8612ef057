// Package session owns the authenticated user for the lifetime of the
// process. All changes to the user go through Dispatch so that two
// mutations never work from the same stale snapshot.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"taoo-rewards/internal/models"
)

const DefaultKey = "session:user"

var ErrNoSession = errors.New("not authenticated")

// Mutation receives a private copy of the current user and returns its
// replacement.
type Mutation func(models.User) (models.User, error)

type Manager struct {
	kv     KV
	key    string
	logger *zap.Logger

	mu   sync.Mutex
	user *models.User
}

func NewManager(kv KV, key string, logger *zap.Logger) *Manager {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{kv: kv, key: key, logger: logger}
}

// Restore runs at process start. Saved sessions never survive a restart:
// the entry is removed and the manager starts unauthenticated.
func (m *Manager) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = nil
	if err := m.kv.Delete(ctx, m.key); err != nil {
		return err
	}
	return nil
}

func (m *Manager) Login(ctx context.Context, u models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := u.Clone()
	m.user = &next
	return m.persistLocked(ctx)
}

func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = nil
	return m.kv.Delete(ctx, m.key)
}

func (m *Manager) Current() (models.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return models.User{}, false
	}
	return m.user.Clone(), true
}

func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user != nil
}

// Dispatch applies fn to the current user and stores the result. A failed
// mutation leaves the session unchanged. The write-through to the KV entry
// is best effort.
func (m *Manager) Dispatch(ctx context.Context, fn Mutation) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return models.User{}, ErrNoSession
	}
	next, err := fn(m.user.Clone())
	if err != nil {
		return models.User{}, err
	}
	m.user = &next
	if err := m.persistLocked(ctx); err != nil {
		m.logger.Warn("session persist failed", zap.String("user", next.ID), zap.Error(err))
	}
	return next.Clone(), nil
}

func (m *Manager) persistLocked(ctx context.Context) error {
	raw, err := json.Marshal(m.user)
	if err != nil {
		return err
	}
	return m.kv.Set(ctx, m.key, raw)
}
