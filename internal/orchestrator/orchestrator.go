// Package orchestrator coordinates the session lifecycle: admission through
// the queue manager, stage execution through the agent supervisor, and all
// version-checked record updates. It is the only component that transitions
// session status in response to process results.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clrke/claude-web/internal/agent"
	"github.com/clrke/claude-web/internal/errors"
	"github.com/clrke/claude-web/internal/logging"
	"github.com/clrke/claude-web/internal/queue"
	"github.com/clrke/claude-web/internal/session"
	"github.com/clrke/claude-web/internal/store"
)

// StageRunner executes one constructed invocation to completion.
// *agent.Supervisor is the production implementation.
type StageRunner interface {
	Run(ctx context.Context, inv agent.Invocation) (*agent.Result, error)
}

// Options configures an Orchestrator.
type Options struct {
	// AgentCommand is the external reasoning-process executable.
	AgentCommand string
	// ProjectRoot is the base directory containing project working trees;
	// a session runs in ProjectRoot/<projectID>.
	ProjectRoot string
	// QueueExpiry sets the expiry watermark on newly queued sessions;
	// zero disables expiry.
	QueueExpiry time.Duration
}

// Orchestrator exposes the session operations consumed by the HTTP layer
// and drives the stage invocation loop.
type Orchestrator struct {
	store  store.Store
	queue  *queue.Manager
	runner StageRunner
	logger *logging.Logger
	opts   Options

	wg      sync.WaitGroup
	flights inflight

	// baseCtx bounds background stage runs; Shutdown cancels it.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates an Orchestrator.
func New(st store.Store, qm *queue.Manager, runner StageRunner, logger *logging.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:   st,
		queue:   qm,
		runner:  runner,
		logger:  logger,
		opts:    opts,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// CreateRequest describes a new session.
type CreateRequest struct {
	ProjectID          string
	FeatureID          string
	Description        string
	Preferences        *session.Preferences
	AcceptanceCriteria []session.AcceptanceCriterion
}

// CreateSession persists a new queued session and admits it. If the
// project's active slot is free the session starts discovery immediately;
// otherwise it joins the queue tail.
func (o *Orchestrator) CreateSession(ctx context.Context, req CreateRequest) (*session.Session, error) {
	prefs := session.DefaultPreferences()
	if req.Preferences != nil {
		prefs = req.Preferences.Normalized()
	}

	sess := &session.Session{
		ProjectID:          req.ProjectID,
		FeatureID:          req.FeatureID,
		Description:        req.Description,
		Status:             session.StatusQueued,
		Preferences:        prefs,
		AcceptanceCriteria: req.AcceptanceCriteria,
	}
	if o.opts.QueueExpiry > 0 {
		expires := time.Now().Add(o.opts.QueueExpiry)
		sess.ExpiresAt = &expires
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	if err := o.store.Create(ctx, sess); err != nil {
		return nil, err
	}

	admitted, active, err := o.queue.Admit(ctx, req.ProjectID, req.FeatureID)
	if err != nil {
		return nil, err
	}
	if active {
		// A brand-new feature always starts a fresh conversation,
		// whatever the record carries.
		o.launch(admitted, modeInitial)
	}
	return admitted, nil
}

// Get returns the current session record.
func (o *Orchestrator) Get(ctx context.Context, projectID, featureID string) (*session.Session, error) {
	return o.store.Get(ctx, projectID, featureID)
}

// ProjectQueue returns the project's queued sessions in position order.
func (o *Orchestrator) ProjectQueue(ctx context.Context, projectID string) ([]*session.Session, error) {
	return o.store.ListQueuedByProject(ctx, projectID)
}

// ExpiredSessions returns queued sessions past their expiry watermark. The
// retention policy itself belongs to an external collaborator; nothing is
// deleted here.
func (o *Orchestrator) ExpiredSessions(ctx context.Context) ([]*session.Session, error) {
	return o.store.ListExpired(ctx, time.Now())
}

// RetryStage re-invokes the current stage for an active session. Only the
// discovery stage accepts retries; the stored conversation handle, when
// present, is always reused so the retry continues the same conversation.
func (o *Orchestrator) RetryStage(ctx context.Context, projectID, featureID string) (*session.Session, error) {
	sess, err := o.store.Get(ctx, projectID, featureID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusDiscovery {
		return nil, errors.NewInvalidStateError("retry", sess.Status.String())
	}

	if !o.launch(sess, modeRetry) {
		return nil, errors.Wrapf(errors.ErrInvalidState, "session %s already has an invocation in flight", sess.Key())
	}
	return sess, nil
}

// Resume promotes the head of the project's queue into the active slot and
// starts its stage run. Returns nil when there is nothing to promote.
func (o *Orchestrator) Resume(ctx context.Context, projectID string) (*session.Session, error) {
	promoted, err := o.queue.PromoteNext(ctx, projectID)
	if err != nil || promoted == nil {
		return promoted, err
	}
	o.launch(promoted, modeResume)
	return promoted, nil
}

// EditQueued applies a partial update to a queued session under the
// optimistic concurrency check. On a version conflict the latest committed
// record is returned alongside the ConflictError so the caller can rebase.
// Only queued sessions are editable; the status is checked before the
// version so a non-queued session reports InvalidState rather than a
// conflict against its background version bumps.
func (o *Orchestrator) EditQueued(ctx context.Context, projectID, featureID string, expectedVersion int64, patch session.Patch) (*session.Session, error) {
	current, err := o.store.Get(ctx, projectID, featureID)
	if err != nil {
		return nil, err
	}
	if current.Status != session.StatusQueued {
		return nil, errors.NewInvalidStateError("edit", current.Status.String())
	}

	updated, err := o.store.ConditionalUpdate(ctx, projectID, featureID, expectedVersion, func(s *session.Session) error {
		if s.Status != session.StatusQueued {
			return errors.NewInvalidStateError("edit", s.Status.String())
		}
		patch.Apply(s)
		return nil
	})
	if err != nil {
		if errors.IsConflict(err) {
			latest, getErr := o.store.Get(ctx, projectID, featureID)
			if getErr != nil {
				return nil, getErr
			}
			return latest, err
		}
		return nil, err
	}
	return updated, nil
}

// BackoutAction selects the backout behavior.
type BackoutAction string

const (
	// BackoutPause returns an active session to the queue front with its
	// conversation handle intact. The slot stays free until an explicit
	// resume promotes the queue head.
	BackoutPause BackoutAction = "pause"
	// BackoutAbandon terminates the session.
	BackoutAbandon BackoutAction = "abandon"
)

// Backout pauses or abandons a session. Pause is valid only for active
// sessions; abandon also accepts queued ones, compacting the queue behind
// them.
func (o *Orchestrator) Backout(ctx context.Context, projectID, featureID string, action BackoutAction, reason string) (*session.Session, error) {
	log := o.logger.WithSession(projectID, featureID)

	switch action {
	case BackoutPause:
		paused, err := o.queue.RequeueFront(ctx, projectID, featureID)
		if err != nil {
			return nil, err
		}
		// Terminate the in-flight run, if any; its result is stale now
		// that the record moved.
		o.flights.abort(session.Key(projectID, featureID))
		log.Info("session paused", "reason", reason)
		return paused, nil

	case BackoutAbandon:
		abandoned, promoted, err := o.queue.Withdraw(ctx, projectID, featureID)
		if err != nil {
			return nil, err
		}
		o.flights.abort(session.Key(projectID, featureID))
		log.Info("session abandoned", "reason", reason)
		if promoted != nil {
			o.launch(promoted, modeResume)
		}
		return abandoned, nil

	default:
		return nil, errors.Wrapf(errors.ErrInvalidState, "unknown backout action %q", action)
	}
}

// Shutdown stops background stage runs and waits for them to finish.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	o.wg.Wait()
}

// attemptID tags one stage run in the logs.
func attemptID() string {
	return uuid.NewString()
}
