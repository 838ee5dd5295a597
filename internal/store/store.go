// Package store defines the abstract session store consumed by the queue
// manager and orchestrator, plus two implementations: an in-memory store for
// tests and single-process use, and a SQLite-backed store for persistence.
//
// The store is the only write path for session records. Every mutation is
// version-checked: a write whose expected version does not equal the stored
// DataVersion is rejected with a ConflictError, never silently merged. On a
// committed mutation the store bumps DataVersion by exactly 1 and refreshes
// UpdatedAt.
package store

import (
	"context"
	"time"

	"github.com/clrke/claude-web/internal/session"
)

// Mutator is applied to a private clone of the stored record inside a
// conditional update. It must not touch DataVersion or UpdatedAt; the store
// owns both. Returning an error aborts the update without a version bump.
type Mutator func(*session.Session) error

// Store is the abstract session store. Implementations must be safe for
// concurrent use. All returned sessions are clones; callers never alias
// stored state.
type Store interface {
	// Create persists a new session. The stored record starts at
	// DataVersion 1. Fails with an already-exists error when the
	// (projectID, featureID) key is taken.
	Create(ctx context.Context, s *session.Session) error

	// Get returns the session for the composite key, or a NotFoundError.
	Get(ctx context.Context, projectID, featureID string) (*session.Session, error)

	// ConditionalUpdate applies mutate to the stored record only if
	// expectedVersion equals the stored DataVersion. On success the
	// committed record (version bumped by 1) is returned. On a version
	// mismatch a ConflictError carrying the stored version is returned
	// and nothing is written.
	ConditionalUpdate(ctx context.Context, projectID, featureID string, expectedVersion int64, mutate Mutator) (*session.Session, error)

	// ListByProject returns every session for the project, in no
	// particular order.
	ListByProject(ctx context.Context, projectID string) ([]*session.Session, error)

	// ListQueuedByProject returns the project's queued sessions ordered
	// by ascending queue position.
	ListQueuedByProject(ctx context.Context, projectID string) ([]*session.Session, error)

	// ListExpired returns queued sessions whose expiry watermark is
	// before now. Consumed by the external retention collaborator; this
	// core never deletes.
	ListExpired(ctx context.Context, now time.Time) ([]*session.Session, error)
}
