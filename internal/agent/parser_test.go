package agent

import (
	"testing"
)

func TestParseHandleDiscovery(t *testing.T) {
	p := NewStreamJSONParser()
	events := p.Parse(`{"type":"system","subtype":"init","session_id":"conv-abc"}`)

	if len(events) != 1 || events[0].Kind != EventHandleDiscovered {
		t.Fatalf("expected handle event, got %v", events)
	}
	if events[0].Handle != "conv-abc" {
		t.Errorf("wrong handle: %q", events[0].Handle)
	}
}

func TestParseSuccessfulResult(t *testing.T) {
	p := NewStreamJSONParser()
	events := p.Parse(`{"type":"result","subtype":"success","is_error":false,"session_id":"conv-abc","result":"done"}`)

	if len(events) != 2 {
		t.Fatalf("expected handle + stage-complete, got %v", events)
	}
	if events[0].Kind != EventHandleDiscovered || events[0].Handle != "conv-abc" {
		t.Errorf("first event should carry the handle: %v", events[0])
	}
	if events[1].Kind != EventStageComplete || events[1].Summary != "done" {
		t.Errorf("second event should be stage-complete: %v", events[1])
	}
}

func TestParseErrorResult(t *testing.T) {
	p := NewStreamJSONParser()

	events := p.Parse(`{"type":"result","subtype":"error_during_execution","is_error":true,"result":"tool crashed"}`)
	if len(events) != 1 || events[0].Kind != EventFatalError {
		t.Fatalf("expected fatal event, got %v", events)
	}
	if events[0].Message != "tool crashed" {
		t.Errorf("wrong message: %q", events[0].Message)
	}

	// Error subtype without a result payload falls back to the subtype.
	events = p.Parse(`{"type":"result","subtype":"error_max_turns","is_error":true}`)
	if len(events) != 1 || events[0].Message != "error_max_turns" {
		t.Errorf("expected subtype fallback, got %v", events)
	}
}

func TestParseErrorEvent(t *testing.T) {
	p := NewStreamJSONParser()
	events := p.Parse(`{"type":"error","error":{"message":"overloaded"}}`)

	if len(events) != 1 || events[0].Kind != EventFatalError || events[0].Message != "overloaded" {
		t.Fatalf("expected fatal event with message, got %v", events)
	}
}

func TestParseIgnoresNoise(t *testing.T) {
	p := NewStreamJSONParser()
	for _, line := range []string{
		"",
		"   ",
		"plain text output",
		`{"type":"assistant","message":{"content":[{"type":"text","text":"thinking"}]}}`,
		`{not valid json`,
	} {
		if events := p.Parse(line); len(events) != 0 {
			t.Errorf("line %q should yield no events, got %v", line, events)
		}
	}
}
