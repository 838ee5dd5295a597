package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clrke/claude-web/internal/errors"
	"github.com/clrke/claude-web/internal/session"
)

// MemoryStore is an in-memory Store implementation. All methods are safe for
// concurrent use via an internal mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session // composite key -> record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*session.Session),
	}
}

// Create persists a new session at DataVersion 1.
func (m *MemoryStore) Create(ctx context.Context, s *session.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.Key()
	if _, exists := m.sessions[key]; exists {
		return errors.Wrapf(errors.ErrAlreadyExists, "session %s", key)
	}

	cp := s.Clone()
	now := time.Now()
	cp.DataVersion = 1
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.sessions[key] = cp
	return nil
}

// Get returns a clone of the stored session.
func (m *MemoryStore) Get(ctx context.Context, projectID, featureID string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[session.Key(projectID, featureID)]
	if !ok {
		return nil, errors.NewNotFoundError("session", session.Key(projectID, featureID))
	}
	return s.Clone(), nil
}

// ConditionalUpdate applies mutate under the version check.
func (m *MemoryStore) ConditionalUpdate(ctx context.Context, projectID, featureID string, expectedVersion int64, mutate Mutator) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := session.Key(projectID, featureID)
	stored, ok := m.sessions[key]
	if !ok {
		return nil, errors.NewNotFoundError("session", key)
	}
	if stored.DataVersion != expectedVersion {
		return nil, errors.NewConflictError(expectedVersion, stored.DataVersion)
	}

	cp := stored.Clone()
	if err := mutate(cp); err != nil {
		return nil, err
	}
	cp.DataVersion = expectedVersion + 1
	cp.UpdatedAt = time.Now()
	m.sessions[key] = cp
	return cp.Clone(), nil
}

// ListByProject returns clones of every session for the project.
func (m *MemoryStore) ListByProject(ctx context.Context, projectID string) ([]*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*session.Session
	for _, s := range m.sessions {
		if s.ProjectID == projectID {
			result = append(result, s.Clone())
		}
	}
	return result, nil
}

// ListQueuedByProject returns queued sessions ordered by queue position.
func (m *MemoryStore) ListQueuedByProject(ctx context.Context, projectID string) ([]*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*session.Session
	for _, s := range m.sessions {
		if s.ProjectID == projectID && s.Status == session.StatusQueued {
			result = append(result, s.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].QueuePosition < result[j].QueuePosition
	})
	return result, nil
}

// ListExpired returns queued sessions whose expiry watermark has passed.
func (m *MemoryStore) ListExpired(ctx context.Context, now time.Time) ([]*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*session.Session
	for _, s := range m.sessions {
		if s.Status == session.StatusQueued && s.ExpiresAt != nil && s.ExpiresAt.Before(now) {
			result = append(result, s.Clone())
		}
	}
	return result, nil
}
