package orchestrator

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/clrke/claude-web/internal/agent"
	"github.com/clrke/claude-web/internal/errors"
	"github.com/clrke/claude-web/internal/session"
)

// launchMode selects how the conversation handle is sourced for a run.
type launchMode int

const (
	// modeInitial is the first spawn of a brand-new feature: always a
	// fresh conversation, even if the record carries a stale handle.
	modeInitial launchMode = iota
	// modeRetry re-invokes a stage after a failure, continuing the
	// stored conversation when one exists.
	modeRetry
	// modeResume runs a stage for a promoted or advancing session,
	// continuing the stored conversation when one exists. Identical
	// handle behavior to modeRetry.
	modeResume
)

// inflight guards the one-invocation-per-active-session rule and holds the
// cancel function for each running invocation so backouts can terminate it.
type inflight struct {
	mu   sync.Mutex
	runs map[string]context.CancelFunc
}

func (f *inflight) claim(key string, cancel context.CancelFunc) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs == nil {
		f.runs = make(map[string]context.CancelFunc)
	}
	if _, busy := f.runs[key]; busy {
		return false
	}
	f.runs[key] = cancel
	return true
}

func (f *inflight) release(key string) {
	f.mu.Lock()
	cancel := f.runs[key]
	delete(f.runs, key)
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// abort cancels the run holding the claim, if any. The claim itself stays
// until the run goroutine observes the cancellation and releases it.
func (f *inflight) abort(key string) {
	f.mu.Lock()
	cancel := f.runs[key]
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// launch starts a background stage run for the session. Reports false when
// a run is already in flight for it.
func (o *Orchestrator) launch(sess *session.Session, mode launchMode) bool {
	key := sess.Key()
	runCtx, cancel := context.WithCancel(o.baseCtx)
	if !o.flights.claim(key, cancel) {
		cancel()
		o.logger.Warn("invocation already in flight", "session", key)
		return false
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runStage(runCtx, sess.ProjectID, sess.FeatureID, mode)
	}()
	return true
}

// runStage executes one stage, folds the result into the record, and chains
// the follow-up work. The in-flight claim is dropped before chaining so the
// next run for the same session can take it.
func (o *Orchestrator) runStage(ctx context.Context, projectID, featureID string, mode launchMode) {
	committed := o.executeStage(ctx, projectID, featureID, mode)

	// release cancels the run context, so follow-up work runs on the
	// orchestrator's base context instead.
	o.flights.release(session.Key(projectID, featureID))

	if committed != nil {
		o.afterTransition(o.baseCtx, committed)
	}
}

// executeStage runs one stage for the session and feeds the result back into
// the state machine. Returns the committed record, or nil when the result
// was discarded or could not be applied.
func (o *Orchestrator) executeStage(ctx context.Context, projectID, featureID string, mode launchMode) *session.Session {
	log := o.logger.WithSession(projectID, featureID).With("attempt", attemptID())

	sess, err := o.store.Get(ctx, projectID, featureID)
	if err != nil {
		log.Error("stage run aborted", "error", err)
		return nil
	}
	if !sess.Status.IsActive() {
		log.Warn("stage run skipped, session no longer active", "status", sess.Status.String())
		return nil
	}

	stage := sess.CurrentStage
	policy, err := agent.PolicyFor(stage)
	if err != nil {
		log.Error("no stage policy", "stage", stage, "error", err)
		return o.applyResult(ctx, sess, false, nil, err)
	}

	// Initial spawns start fresh regardless of any stale handle on the
	// record; retry and resume continue the stored conversation.
	handle := ""
	if mode != modeInitial {
		handle, _ = session.NormalizeHandle(sess.ConversationHandle)
	}

	inv := agent.Build(
		o.opts.AgentCommand,
		stage,
		buildPrompt(stage, sess),
		filepath.Join(o.opts.ProjectRoot, projectID),
		handle,
		policy,
	)

	log.Info("stage run starting", "stage", stage, "resume", handle != "")
	result, runErr := o.runner.Run(ctx, inv)
	if runErr != nil {
		log.Warn("stage run failed", "stage", stage, "error", runErr)
	} else {
		log.Info("stage run complete", "stage", stage)
	}

	return o.applyResult(ctx, sess, handle != "", result, runErr)
}

// applyResult folds a supervisor result into the session record through the
// version-checked write path and returns the committed record. A result for
// a session whose record moved since the run was launched is discarded: any
// concurrent write to an active session (pause, abandon) invalidates the
// run, even when the record has since returned to the same status and stage.
func (o *Orchestrator) applyResult(ctx context.Context, launched *session.Session, resumed bool, result *agent.Result, runErr error) *session.Session {
	log := o.logger.WithSession(launched.ProjectID, launched.FeatureID)

	for attempt := 0; attempt < 3; attempt++ {
		latest, err := o.store.Get(ctx, launched.ProjectID, launched.FeatureID)
		if err != nil {
			log.Error("result application failed", "error", err)
			return nil
		}
		if latest.DataVersion != launched.DataVersion {
			log.Warn("stale stage result discarded",
				"launched_version", launched.DataVersion,
				"current_version", latest.DataVersion,
				"current_status", latest.Status.String())
			return nil
		}

		committed, err := o.store.ConditionalUpdate(ctx, launched.ProjectID, launched.FeatureID, latest.DataVersion, func(s *session.Session) error {
			// A handle is captured at most once and never
			// overwritten by an empty value.
			if s.ConversationHandle == "" && result != nil && result.Handle != "" {
				s.ConversationHandle = result.Handle
			}
			return o.transition(s, resumed, result, runErr)
		})
		if err == nil {
			return committed
		}
		if errors.IsConflict(err) {
			// Raced by another writer; re-read so the staleness
			// check above can discard the result.
			continue
		}
		log.Error("result application failed", "error", err)
		return nil
	}

	log.Error("result application abandoned after repeated conflicts")
	return nil
}

// transition advances the state machine inside the conditional update.
func (o *Orchestrator) transition(s *session.Session, resumed bool, result *agent.Result, runErr error) error {
	success := runErr == nil && result != nil && result.StageComplete

	if !success {
		// A failed discovery run keeps the session in discovery so an
		// explicit retry can continue the conversation; later stages
		// fail terminally.
		if s.Status == session.StatusDiscovery {
			return nil
		}
		s.Status = session.StatusFailed
		s.QueuePosition = 0
		return nil
	}

	switch s.Status {
	case session.StatusDiscovery:
		s.Status = session.StatusPlanning
		s.CurrentStage = session.StagePlanning
		if resumed {
			s.ReplanningCount++
		}
	case session.StatusPlanning:
		s.Status = session.StatusImplementation
		s.CurrentStage = session.StageImplementation
	case session.StatusImplementation:
		s.Status = session.StatusCompleted
	default:
		return errors.NewInvalidStateError("advance", s.Status.String())
	}
	return nil
}

// afterTransition continues the pipeline or releases the slot, depending on
// where the committed transition landed.
func (o *Orchestrator) afterTransition(ctx context.Context, committed *session.Session) {
	log := o.logger.WithSession(committed.ProjectID, committed.FeatureID)

	switch committed.Status {
	case session.StatusPlanning, session.StatusImplementation:
		o.launch(committed, modeResume)

	case session.StatusCompleted, session.StatusFailed:
		promoted, err := o.queue.Release(ctx, committed.ProjectID, committed.FeatureID)
		if err != nil {
			log.Error("slot release failed", "error", err)
			return
		}
		if promoted != nil {
			o.launch(promoted, modeResume)
		}

	case session.StatusDiscovery:
		// Failed discovery run holding the slot for an explicit retry
		// or backout.
		log.Info("session awaiting retry")
	}
}
