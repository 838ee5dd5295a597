package agent

import (
	"strings"
	"testing"
)

func policyForTest(t *testing.T, stage int) StagePolicy {
	t.Helper()
	p, err := PolicyFor(stage)
	if err != nil {
		t.Fatalf("policy for stage %d: %v", stage, err)
	}
	return p
}

func countResumeFlags(args []string) int {
	n := 0
	for _, a := range args {
		if a == "--resume" {
			n++
		}
	}
	return n
}

func TestBuildWithHandleEmitsResumeDirective(t *testing.T) {
	inv := Build("claude", StageDiscovery, "find the bug", "/repo", "conv-123", policyForTest(t, StageDiscovery))

	if got := countResumeFlags(inv.Args); got != 1 {
		t.Fatalf("resume directive must appear exactly once, got %d in %v", got, inv.Args)
	}
	for i, a := range inv.Args {
		if a == "--resume" {
			if i+1 >= len(inv.Args) || inv.Args[i+1] != "conv-123" {
				t.Errorf("handle must immediately follow the resume directive: %v", inv.Args)
			}
		}
	}
}

func TestBuildWithoutHandleOmitsResumeDirective(t *testing.T) {
	for _, handle := range []string{"", "   ", "\t\n"} {
		inv := Build("claude", StageDiscovery, "find the bug", "/repo", handle, policyForTest(t, StageDiscovery))
		if countResumeFlags(inv.Args) != 0 {
			t.Errorf("handle %q must not produce a resume directive: %v", handle, inv.Args)
		}
	}
}

func TestBuildPassesToolsThroughVerbatim(t *testing.T) {
	policy := StagePolicy{AllowedTools: []string{"Read", "NotARealTool"}}
	inv := Build("claude", StageDiscovery, "p", "/repo", "", policy)

	found := false
	for i, a := range inv.Args {
		if a == "--allowedTools" {
			found = true
			if inv.Args[i+1] != "Read,NotARealTool" {
				t.Errorf("tool list must pass through unfiltered, got %q", inv.Args[i+1])
			}
		}
	}
	if !found {
		t.Fatalf("missing allow-list flag: %v", inv.Args)
	}
}

func TestBuildBypassFlagFollowsPolicy(t *testing.T) {
	hasBypass := func(args []string) bool {
		for _, a := range args {
			if a == "--dangerously-skip-permissions" {
				return true
			}
		}
		return false
	}

	discovery := Build("claude", StageDiscovery, "p", "/repo", "", policyForTest(t, StageDiscovery))
	if hasBypass(discovery.Args) {
		t.Error("discovery must keep permission prompts on")
	}

	impl := Build("claude", StageImplementation, "p", "/repo", "", policyForTest(t, StageImplementation))
	if !hasBypass(impl.Args) {
		t.Error("implementation runs unattended and must bypass prompts")
	}
}

func TestBuildCarriesPromptAndWorkingDir(t *testing.T) {
	inv := Build("claude", StagePlanning, "plan the feature", "/repo/tree", "", policyForTest(t, StagePlanning))

	if inv.Dir != "/repo/tree" {
		t.Errorf("working dir not carried: %q", inv.Dir)
	}
	if inv.Command != "claude" {
		t.Errorf("command not carried: %q", inv.Command)
	}
	joined := strings.Join(inv.Args, " ")
	if !strings.Contains(joined, "-p plan the feature") {
		t.Errorf("prompt missing from args: %v", inv.Args)
	}
	if !strings.Contains(joined, "--output-format stream-json") {
		t.Errorf("stream-json output format missing: %v", inv.Args)
	}
}

func TestPolicyTable(t *testing.T) {
	discovery := policyForTest(t, StageDiscovery)
	if discovery.BypassPermissions {
		t.Error("stage 1 must not bypass permissions")
	}
	for _, tool := range discovery.AllowedTools {
		switch tool {
		case "Write", "Edit", "Bash":
			t.Errorf("stage 1 must not carry mutation tool %s", tool)
		}
	}

	planning := policyForTest(t, StagePlanning)
	if !planning.BypassPermissions {
		t.Error("stage 2 runs unattended")
	}

	impl := policyForTest(t, StageImplementation)
	has := func(tool string) bool {
		for _, a := range impl.AllowedTools {
			if a == tool {
				return true
			}
		}
		return false
	}
	for _, tool := range []string{"Write", "Edit", "Bash", "Read"} {
		if !has(tool) {
			t.Errorf("stage 3 missing %s", tool)
		}
	}

	if _, err := PolicyFor(0); err == nil {
		t.Error("stage 0 has no policy and must error")
	}
}

func TestPolicyForReturnsCopy(t *testing.T) {
	p, _ := PolicyFor(StageDiscovery)
	p.AllowedTools[0] = "mutated"

	again, _ := PolicyFor(StageDiscovery)
	if again.AllowedTools[0] == "mutated" {
		t.Error("policy table must not be mutable through returned copies")
	}
}
