package orchestrator

import (
	"fmt"
	"strings"

	"github.com/clrke/claude-web/internal/agent"
	"github.com/clrke/claude-web/internal/session"
)

// buildPrompt renders the stage instruction for the agent. The session's
// description, acceptance criteria and preferences are folded in; the
// conversation itself carries earlier stage context when resuming.
func buildPrompt(stage int, sess *session.Session) string {
	var sb strings.Builder

	switch stage {
	case agent.StageDiscovery:
		sb.WriteString("You are scoping a feature before any code is written.\n")
		sb.WriteString("Explore the codebase, identify the files and subsystems involved, ")
		sb.WriteString("and report open questions and risks. Do not modify anything.\n")
	case agent.StagePlanning:
		sb.WriteString("Using what discovery found in this conversation, produce a concrete ")
		sb.WriteString("implementation plan: ordered steps, files to change, and how each ")
		sb.WriteString("acceptance criterion will be verified.\n")
	case agent.StageImplementation:
		sb.WriteString("Execute the plan from this conversation. Make the code changes, ")
		sb.WriteString("keep them consistent with the surrounding style, and verify each ")
		sb.WriteString("acceptance criterion before finishing.\n")
	}

	sb.WriteString("\n## Feature\n")
	sb.WriteString(sess.Description)
	sb.WriteString("\n")

	if len(sess.AcceptanceCriteria) > 0 {
		sb.WriteString("\n## Acceptance criteria\n")
		for _, ac := range sess.AcceptanceCriteria {
			marker := " "
			if ac.Checked {
				marker = "x"
			}
			fmt.Fprintf(&sb, "- [%s] %s\n", marker, ac.Text)
		}
	}

	if len(sess.AffectedFiles) > 0 {
		sb.WriteString("\n## Files identified so far\n")
		for _, f := range sess.AffectedFiles {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}

	p := sess.Preferences.Normalized()
	sb.WriteString("\n## Working preferences\n")
	fmt.Fprintf(&sb, "- Risk tolerance: %s\n", p.RiskTolerance)
	fmt.Fprintf(&sb, "- Speed vs quality: %s\n", p.SpeedQuality)
	fmt.Fprintf(&sb, "- Scope flexibility: %s\n", p.ScopeFlexibility)
	fmt.Fprintf(&sb, "- Detail level: %s\n", p.DetailLevel)
	fmt.Fprintf(&sb, "- Autonomy: %s\n", p.AutonomyLevel)

	return sb.String()
}
