package agent

import (
	"encoding/json"
	"strings"
)

// EventKind enumerates the output events the orchestrator reacts to.
// Everything else in the stream is noise from its point of view.
type EventKind int

const (
	// EventStageComplete signals the stage finished successfully.
	EventStageComplete EventKind = iota
	// EventHandleDiscovered carries the conversation handle announced by
	// the process, used to resume the conversation later.
	EventHandleDiscovered
	// EventFatalError signals the process reported an unrecoverable
	// failure for this run.
	EventFatalError
)

// Event is one recognized occurrence in the output stream.
type Event struct {
	Kind EventKind
	// Handle is set for EventHandleDiscovered.
	Handle string
	// Summary is the result payload for EventStageComplete.
	Summary string
	// Message is the failure description for EventFatalError.
	Message string
}

// Parser reduces raw output lines to recognized events. A line may yield
// zero or more events; unrecognized or malformed lines yield none.
type Parser interface {
	Parse(line string) []Event
}

// StreamJSONParser parses the external tool's stream-json output: one JSON
// object per line with a "type" discriminator. Result events carry the
// final payload and error flag; init and result events carry the
// conversation identifier as "session_id".
type StreamJSONParser struct{}

// NewStreamJSONParser creates a parser for stream-json output.
func NewStreamJSONParser() *StreamJSONParser {
	return &StreamJSONParser{}
}

type streamLine struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	Error     struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Parse implements Parser.
func (p *StreamJSONParser) Parse(line string) []Event {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return nil
	}

	var entry streamLine
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		// Interleaved non-JSON output is tolerated, never fatal.
		return nil
	}

	var events []Event
	if entry.SessionID != "" {
		events = append(events, Event{
			Kind:   EventHandleDiscovered,
			Handle: entry.SessionID,
		})
	}

	switch entry.Type {
	case "result":
		if entry.IsError || strings.HasPrefix(entry.Subtype, "error") {
			msg := entry.Result
			if msg == "" {
				msg = entry.Subtype
			}
			events = append(events, Event{Kind: EventFatalError, Message: msg})
		} else {
			events = append(events, Event{Kind: EventStageComplete, Summary: entry.Result})
		}
	case "error":
		msg := entry.Error.Message
		if msg == "" {
			msg = "process reported an error"
		}
		events = append(events, Event{Kind: EventFatalError, Message: msg})
	}

	return events
}
