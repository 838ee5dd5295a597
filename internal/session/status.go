package session

// Status represents the current state of a session.
type Status string

const (
	// StatusQueued indicates the session is waiting for its project's
	// active slot. Pause re-enters this status at queue position 1.
	StatusQueued Status = "queued"

	// StatusDiscovery indicates stage 1: read-only exploration of the
	// working tree with interactive permission checks.
	StatusDiscovery Status = "discovery"

	// StatusPlanning indicates stage 2: plan construction.
	StatusPlanning Status = "planning"

	// StatusImplementation indicates stage 3: applying changes.
	StatusImplementation Status = "implementation"

	// StatusCompleted indicates the session finished successfully.
	StatusCompleted Status = "completed"

	// StatusAbandoned indicates a user-initiated irreversible backout.
	StatusAbandoned Status = "abandoned"

	// StatusFailed indicates an unrecoverable process failure. Recovery
	// requires an explicit retry request, which is a fresh invocation.
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether this status accepts no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAbandoned || s == StatusFailed
}

// IsActive reports whether the status is in the active family: any
// non-queued, non-terminal status, meaning the session currently owns its
// project's single active slot.
func (s Status) IsActive() bool {
	switch s {
	case StatusDiscovery, StatusPlanning, StatusImplementation:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusDiscovery, StatusPlanning, StatusImplementation,
		StatusCompleted, StatusAbandoned, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits moving from s to
// next. Terminal states accept nothing. Queued sessions may be promoted into
// discovery or abandoned outright. Active sessions may advance one stage,
// complete, requeue (pause), abandon, or fail.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusQueued:
		return next == StatusDiscovery || next == StatusAbandoned
	case StatusDiscovery:
		return next == StatusPlanning || next == StatusQueued ||
			next == StatusAbandoned || next == StatusFailed
	case StatusPlanning:
		return next == StatusImplementation || next == StatusQueued ||
			next == StatusAbandoned || next == StatusFailed
	case StatusImplementation:
		return next == StatusCompleted || next == StatusQueued ||
			next == StatusAbandoned || next == StatusFailed
	}
	return false
}

// Stage numbers for the reasoning pipeline. Stage 0 is "not yet started".
const (
	StageNone           = 0
	StageDiscovery      = 1
	StagePlanning       = 2
	StageImplementation = 3
)

// StatusForStage maps a stage number to the active-family status a session
// holds while that stage runs.
func StatusForStage(stage int) (Status, bool) {
	switch stage {
	case StageDiscovery:
		return StatusDiscovery, true
	case StagePlanning:
		return StatusPlanning, true
	case StageImplementation:
		return StatusImplementation, true
	}
	return "", false
}

// StageForStatus is the inverse of StatusForStage. Non-active statuses map
// to StageNone.
func StageForStatus(s Status) int {
	switch s {
	case StatusDiscovery:
		return StageDiscovery
	case StatusPlanning:
		return StagePlanning
	case StatusImplementation:
		return StageImplementation
	}
	return StageNone
}
