// Package agent drives the external reasoning process for one session at a
// time: a static stage policy decides what the process may do, a pure
// command builder produces the exact invocation, and a supervisor runs the
// process and reduces its NDJSON output stream to a structured result.
package agent

import (
	"github.com/clrke/claude-web/internal/errors"
)

// Pipeline stages. Stage numbers match session.Stage values; the policy
// table is the single source of truth for what each stage may do.
const (
	StageDiscovery      = 1
	StagePlanning       = 2
	StageImplementation = 3
)

// StagePolicy describes the capability envelope of one pipeline stage.
type StagePolicy struct {
	// AllowedTools is passed through to the process verbatim as its
	// tool allow-list.
	AllowedTools []string
	// BypassPermissions skips interactive permission prompts. Discovery
	// keeps prompts on; later stages run unattended.
	BypassPermissions bool
}

// Read-only exploration tools available from stage 1 on.
var discoveryTools = []string{
	"Read",
	"Grep",
	"Glob",
	"WebSearch",
	"Task",
}

// stagePolicies is static configuration, not computed. Each stage widens
// the previous stage's allow-list.
var stagePolicies = map[int]StagePolicy{
	StageDiscovery: {
		AllowedTools:      discoveryTools,
		BypassPermissions: false,
	},
	StagePlanning: {
		AllowedTools:      append(append([]string{}, discoveryTools...), "TodoWrite", "ExitPlanMode"),
		BypassPermissions: true,
	},
	StageImplementation: {
		AllowedTools:      append(append([]string{}, discoveryTools...), "TodoWrite", "Write", "Edit", "Bash"),
		BypassPermissions: true,
	},
}

// PolicyFor returns the capability policy for a stage. The returned policy
// is a copy; callers may not mutate the table through it.
func PolicyFor(stage int) (StagePolicy, error) {
	p, ok := stagePolicies[stage]
	if !ok {
		return StagePolicy{}, errors.Wrapf(errors.ErrInvalidState, "no policy for stage %d", stage)
	}
	tools := make([]string, len(p.AllowedTools))
	copy(tools, p.AllowedTools)
	return StagePolicy{
		AllowedTools:      tools,
		BypassPermissions: p.BypassPermissions,
	}, nil
}
