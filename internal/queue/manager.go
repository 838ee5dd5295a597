// Package queue maintains the per-project admission discipline: at most one
// session per project holds the active slot, every other session waits in a
// gap-free FIFO keyed by queue position.
//
// The active claim is an explicit single-slot reference from project to
// feature, mutated only inside the serialized per-project admission path. It
// is never derived by re-scanning session lists during normal operation; the
// store is consulted once per project to seed the claim, then the claim is
// authoritative.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/clrke/claude-web/internal/errors"
	"github.com/clrke/claude-web/internal/logging"
	"github.com/clrke/claude-web/internal/session"
	"github.com/clrke/claude-web/internal/store"
)

// Manager enforces the one-active-session-per-project invariant and the FIFO
// queue ordering. All methods are safe for concurrent use; operations on the
// same project are serialized, operations on different projects proceed
// independently.
type Manager struct {
	store  store.Store
	logger *logging.Logger

	mu       sync.Mutex
	projects map[string]*projectState
}

// projectState is the per-project slot and its serialization lock.
type projectState struct {
	mu     sync.Mutex
	seeded bool
	// active is the feature ID holding the project's single active slot;
	// empty when the slot is free.
	active string
}

// NewManager creates a queue manager over the given store.
func NewManager(st store.Store, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		store:    st,
		logger:   logger,
		projects: make(map[string]*projectState),
	}
}

// Admit decides placement for a queued session: if the project's active slot
// is free and no one is waiting, the session is promoted to discovery
// immediately; otherwise it is appended to the tail of the project's queue.
// Admitting a session that already holds a queue position keeps its place.
// The returned bool reports whether the session became active.
func (m *Manager) Admit(ctx context.Context, projectID, featureID string) (*session.Session, bool, error) {
	ps := m.project(projectID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if err := m.seed(ctx, ps, projectID); err != nil {
		return nil, false, err
	}

	sess, err := m.store.Get(ctx, projectID, featureID)
	if err != nil {
		return nil, false, err
	}
	if sess.Status != session.StatusQueued {
		return nil, false, errors.NewInvalidStateError("admit", sess.Status.String())
	}

	// Re-admitting a session that already holds a position is a no-op;
	// it keeps its place in line.
	if sess.QueuePosition > 0 {
		return sess, false, nil
	}

	queued, err := m.queueEntries(ctx, projectID)
	if err != nil {
		return nil, false, err
	}

	// The slot is taken only when it is free and nothing is already
	// waiting; a free slot with a non-empty queue means a pause left it
	// open on purpose, and the newcomer lines up behind the head.
	if ps.active == "" && len(queued) == 0 {
		activated, err := m.activate(ctx, ps, sess)
		if err != nil {
			return nil, false, err
		}
		return activated, true, nil
	}

	position := nextPosition(queued, featureID)

	updated, err := m.store.ConditionalUpdate(ctx, projectID, featureID, sess.DataVersion, func(s *session.Session) error {
		now := time.Now()
		s.QueuePosition = position
		s.QueuedAt = &now
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	m.logger.Info("session enqueued",
		"project", projectID, "feature", featureID, "position", position)
	return updated, false, nil
}

// Release clears the active claim held by featureID and promotes the head of
// the queue, if any. Both steps happen under the project lock so no second
// session can slip into the slot in between. Called when a session leaves
// the active family through a terminal transition.
func (m *Manager) Release(ctx context.Context, projectID, featureID string) (*session.Session, error) {
	ps := m.project(projectID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if err := m.seed(ctx, ps, projectID); err != nil {
		return nil, err
	}
	if ps.active == featureID {
		ps.active = ""
	}
	return m.promoteLocked(ctx, ps, projectID)
}

// PromoteNext promotes the head of the project's queue into the active slot.
// Returns nil with no error when the queue is empty or the slot is already
// held. This is the dequeue-resume path for paused sessions.
func (m *Manager) PromoteNext(ctx context.Context, projectID string) (*session.Session, error) {
	ps := m.project(projectID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if err := m.seed(ctx, ps, projectID); err != nil {
		return nil, err
	}
	return m.promoteLocked(ctx, ps, projectID)
}

// RequeueFront is the pause path: the session re-enters the queue at
// position 1, every session previously queued shifts back by one, and the
// active claim is cleared without promoting a successor. The conversation
// handle is left untouched so a later promotion resumes the same
// conversation.
func (m *Manager) RequeueFront(ctx context.Context, projectID, featureID string) (*session.Session, error) {
	ps := m.project(projectID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if err := m.seed(ctx, ps, projectID); err != nil {
		return nil, err
	}

	sess, err := m.store.Get(ctx, projectID, featureID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.IsActive() {
		return nil, errors.NewInvalidStateError("pause", sess.Status.String())
	}

	// Shift the whole queue back before the paused session takes the
	// front slot, keeping positions contiguous throughout.
	queued, err := m.queueEntries(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, q := range queued {
		if _, err := m.store.ConditionalUpdate(ctx, projectID, q.FeatureID, q.DataVersion, func(s *session.Session) error {
			s.QueuePosition++
			return nil
		}); err != nil {
			return nil, errors.Wrapf(err, "shifting queued session %s", q.Key())
		}
	}

	updated, err := m.store.ConditionalUpdate(ctx, projectID, featureID, sess.DataVersion, func(s *session.Session) error {
		if !s.Status.CanTransition(session.StatusQueued) {
			return errors.NewInvalidStateError("pause", s.Status.String())
		}
		now := time.Now()
		s.Status = session.StatusQueued
		s.CurrentStage = session.StageNone
		s.QueuePosition = 1
		s.QueuedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if ps.active == featureID {
		ps.active = ""
	}
	m.logger.Info("session paused to queue front",
		"project", projectID, "feature", featureID, "displaced", len(queued))
	return updated, nil
}

// Withdraw is the abandon path. An active session gives up the slot and the
// queue head is promoted; a queued session leaves the queue and the entries
// behind it close ranks. Returns the abandoned session and the promoted
// successor, if any.
func (m *Manager) Withdraw(ctx context.Context, projectID, featureID string) (*session.Session, *session.Session, error) {
	ps := m.project(projectID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if err := m.seed(ctx, ps, projectID); err != nil {
		return nil, nil, err
	}

	sess, err := m.store.Get(ctx, projectID, featureID)
	if err != nil {
		return nil, nil, err
	}
	vacated := sess.QueuePosition

	abandoned, err := m.store.ConditionalUpdate(ctx, projectID, featureID, sess.DataVersion, func(s *session.Session) error {
		if !s.Status.CanTransition(session.StatusAbandoned) {
			return errors.NewInvalidStateError("abandon", s.Status.String())
		}
		s.Status = session.StatusAbandoned
		s.QueuePosition = 0
		s.QueuedAt = nil
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	m.logger.Info("session withdrawn", "project", projectID, "feature", featureID)

	if vacated > 0 {
		queued, err := m.queueEntries(ctx, projectID)
		if err != nil {
			return nil, nil, err
		}
		for _, q := range queued {
			if q.QueuePosition <= vacated {
				continue
			}
			if _, err := m.store.ConditionalUpdate(ctx, projectID, q.FeatureID, q.DataVersion, func(s *session.Session) error {
				s.QueuePosition--
				return nil
			}); err != nil {
				return nil, nil, errors.Wrapf(err, "compacting queue position for %s", q.Key())
			}
		}
	}

	var promoted *session.Session
	if ps.active == featureID {
		ps.active = ""
		promoted, err = m.promoteLocked(ctx, ps, projectID)
		if err != nil {
			return nil, nil, err
		}
	}
	return abandoned, promoted, nil
}

// ActiveFeature returns the feature currently holding the project's active
// slot, if any.
func (m *Manager) ActiveFeature(ctx context.Context, projectID string) (string, bool, error) {
	ps := m.project(projectID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if err := m.seed(ctx, ps, projectID); err != nil {
		return "", false, err
	}
	return ps.active, ps.active != "", nil
}

func (m *Manager) project(projectID string) *projectState {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps, ok := m.projects[projectID]
	if !ok {
		ps = &projectState{}
		m.projects[projectID] = ps
	}
	return ps
}

// seed initializes the claim from the store the first time a project is
// touched. Requires ps.mu held.
func (m *Manager) seed(ctx context.Context, ps *projectState, projectID string) error {
	if ps.seeded {
		return nil
	}
	all, err := m.store.ListByProject(ctx, projectID)
	if err != nil {
		return err
	}
	for _, s := range all {
		if s.Status.IsActive() {
			if ps.active != "" {
				// Two active records in the store is a corrupted
				// invariant; keep the first and refuse the rest.
				m.logger.Error("duplicate active session detected during seed",
					"project", projectID, "kept", ps.active, "ignored", s.FeatureID)
				continue
			}
			ps.active = s.FeatureID
		}
	}
	ps.seeded = true
	return nil
}

// promoteLocked promotes the queue head when the slot is free. Requires
// ps.mu held.
func (m *Manager) promoteLocked(ctx context.Context, ps *projectState, projectID string) (*session.Session, error) {
	if ps.active != "" {
		return nil, nil
	}

	queued, err := m.queueEntries(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(queued) == 0 {
		return nil, nil
	}

	head := queued[0]
	promoted, err := m.activate(ctx, ps, head)
	if err != nil {
		return nil, err
	}

	// Close the gap the head left behind.
	for _, q := range queued[1:] {
		if _, err := m.store.ConditionalUpdate(ctx, projectID, q.FeatureID, q.DataVersion, func(s *session.Session) error {
			s.QueuePosition--
			return nil
		}); err != nil {
			return nil, errors.Wrapf(err, "compacting queue position for %s", q.Key())
		}
	}
	return promoted, nil
}

// activate transitions a queued session into discovery and takes the claim.
// Fails closed if the slot is somehow already held. Requires ps.mu held.
func (m *Manager) activate(ctx context.Context, ps *projectState, sess *session.Session) (*session.Session, error) {
	if ps.active != "" && ps.active != sess.FeatureID {
		err := errors.NewQueueInvariantError(sess.ProjectID, ps.active, sess.FeatureID)
		m.logger.Error("refusing second active admission", "error", err)
		return nil, err
	}

	updated, err := m.store.ConditionalUpdate(ctx, sess.ProjectID, sess.FeatureID, sess.DataVersion, func(s *session.Session) error {
		if !s.Status.CanTransition(session.StatusDiscovery) {
			return errors.NewInvalidStateError("activate", s.Status.String())
		}
		s.Status = session.StatusDiscovery
		s.CurrentStage = session.StageDiscovery
		s.QueuePosition = 0
		s.QueuedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	ps.active = sess.FeatureID
	m.logger.Info("session activated",
		"project", sess.ProjectID, "feature", sess.FeatureID)
	return updated, nil
}

// queueEntries returns the project's queued sessions that actually hold a
// position. A session created but not yet admitted is queued with position 0
// and does not participate in FIFO bookkeeping.
func (m *Manager) queueEntries(ctx context.Context, projectID string) ([]*session.Session, error) {
	queued, err := m.store.ListQueuedByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	entries := queued[:0]
	for _, q := range queued {
		if q.QueuePosition > 0 {
			entries = append(entries, q)
		}
	}
	return entries, nil
}

// nextPosition returns the tail position for a new entrant, ignoring any
// stale row for the same feature.
func nextPosition(queued []*session.Session, featureID string) int {
	max := 0
	for _, q := range queued {
		if q.FeatureID == featureID {
			continue
		}
		if q.QueuePosition > max {
			max = q.QueuePosition
		}
	}
	return max + 1
}
