package agent

import (
	"strings"

	"github.com/clrke/claude-web/internal/session"
)

// Invocation is a fully constructed external-process command. The flag
// spellings are the external tool's CLI contract and must not drift.
type Invocation struct {
	Stage   int
	Command string
	Args    []string
	// Dir is the project working tree the process runs in.
	Dir string
}

// Build constructs the invocation for one stage run. conversationHandle
// resumes a prior conversation when, and only when, it normalizes to a
// non-empty string; the resume flag is immediately followed by the handle
// value and appears at most once. The policy's tool list is passed through
// verbatim, unfiltered.
func Build(command string, stage int, prompt, projectPath, conversationHandle string, policy StagePolicy) Invocation {
	args := make([]string, 0, 10)

	if handle, ok := session.NormalizeHandle(conversationHandle); ok {
		args = append(args, "--resume", handle)
	}
	if len(policy.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(policy.AllowedTools, ","))
	}
	if policy.BypassPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	args = append(args,
		"--output-format", "stream-json",
		"--verbose",
		"-p", prompt,
	)

	return Invocation{
		Stage:   stage,
		Command: command,
		Args:    args,
		Dir:     projectPath,
	}
}
