// Package session defines the session record, its status state machine, and
// the supporting value types used by the queue manager and orchestrator.
//
// A session is the unit of work for one feature request against a project
// working tree. Its identity is the composite key (ProjectID, FeatureID),
// stable for the session's lifetime. All persisted mutations go through the
// version-checked store write path; DataVersion is the optimistic-concurrency
// token and increases by exactly one per committed mutation.
package session

import (
	"fmt"
	"time"
)

// OriginType records where an acceptance criterion came from.
type OriginType string

const (
	// OriginUser marks criteria entered by the requester.
	OriginUser OriginType = "user"
	// OriginAgent marks criteria proposed by the reasoning process.
	OriginAgent OriginType = "agent"
)

// AcceptanceCriterion is one entry in a session's ordered criteria list.
// Order is significant to the caller, not to the orchestrator.
type AcceptanceCriterion struct {
	Text    string     `json:"text"`
	Checked bool       `json:"checked"`
	Origin  OriginType `json:"origin"`
}

// Session is the unit of work for one feature/change request.
type Session struct {
	ProjectID string `json:"project_id"`
	FeatureID string `json:"feature_id"`

	// Description is the feature request text used as the stage prompt seed.
	Description string `json:"description"`

	// Status is the current state-machine status.
	Status Status `json:"status"`

	// CurrentStage is the pipeline stage index. Stage 0 means not yet
	// started; stages >= 1 are phases with distinct tool permissions.
	CurrentStage int `json:"current_stage"`

	// QueuePosition is meaningful only while Status is queued. Positions
	// among sessions queued for the same project are contiguous and start
	// at 1. Zero means not queued.
	QueuePosition int `json:"queue_position,omitempty"`

	// ConversationHandle is the external process's conversation identifier,
	// captured after the first successful stage invocation and reused on
	// every subsequent invocation for this session. Empty means no handle.
	ConversationHandle string `json:"conversation_handle,omitempty"`

	// DataVersion is the optimistic-concurrency token. It strictly
	// increases by 1 per committed mutation.
	DataVersion int64 `json:"data_version"`

	Preferences        Preferences           `json:"preferences"`
	AcceptanceCriteria []AcceptanceCriterion `json:"acceptance_criteria,omitempty"`
	AffectedFiles      []string              `json:"affected_files,omitempty"`

	// ReplanningCount counts how many times planning was redone.
	// Informational only to this core.
	ReplanningCount int `json:"replanning_count"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	QueuedAt  *time.Time `json:"queued_at,omitempty"`

	// ExpiresAt is the watermark after which a queued-but-never-resumed
	// session may be considered stale. Expiry handling belongs to the
	// external retention collaborator; this core only records the mark.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Key returns the composite "projectID/featureID" identifier.
func (s *Session) Key() string {
	return Key(s.ProjectID, s.FeatureID)
}

// Key builds the composite session identifier from its parts.
func Key(projectID, featureID string) string {
	return fmt.Sprintf("%s/%s", projectID, featureID)
}

// Clone returns a deep copy of the session. Stores and the queue manager
// hand out clones so callers never alias internal state.
func (s *Session) Clone() *Session {
	cp := *s
	if s.AcceptanceCriteria != nil {
		cp.AcceptanceCriteria = make([]AcceptanceCriterion, len(s.AcceptanceCriteria))
		copy(cp.AcceptanceCriteria, s.AcceptanceCriteria)
	}
	if s.AffectedFiles != nil {
		cp.AffectedFiles = make([]string, len(s.AffectedFiles))
		copy(cp.AffectedFiles, s.AffectedFiles)
	}
	if s.QueuedAt != nil {
		t := *s.QueuedAt
		cp.QueuedAt = &t
	}
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

// Validate checks the identity fields required for persistence.
func (s *Session) Validate() error {
	if s.ProjectID == "" {
		return fmt.Errorf("session project ID cannot be empty")
	}
	if s.FeatureID == "" {
		return fmt.Errorf("session feature ID cannot be empty")
	}
	return nil
}
