package core

import (
	"time"

	"github.com/google/uuid"
)

// EventKind tags the semantic category of an Event.
type EventKind string

const (
	// EventPartialText is an incremental text fragment of the answer being built.
	EventPartialText EventKind = "partial_text"
	// EventToolCall is a tool invocation request issued by an agent.
	EventToolCall EventKind = "tool_call"
	// EventToolResult is the outcome of a tool invocation.
	EventToolResult EventKind = "tool_result"
	// EventThought is a planning / reasoning fragment.
	EventThought EventKind = "thought"
	// EventFinalMessage is the terminal answer of a turn.
	EventFinalMessage EventKind = "final_message"
	// EventError is the terminal failure of a turn.
	EventError EventKind = "error"
)

// IsTerminal reports whether the kind ends a turn's stream.
func (k EventKind) IsTerminal() bool { return k == EventFinalMessage || k == EventError }

// EventActions encodes side-effects or orchestration signals attached to an Event.
type EventActions struct {
	StateDelta      map[string]any `json:"state_delta,omitempty"`
	TransferToAgent string         `json:"transfer_to_agent,omitempty"`
}

// Event is the atomic unit of streamed turn output. Events of one turn are
// strictly ordered by Seq; consumers must not reorder or merge them. After
// emission an Event should be treated as immutable.
type Event struct {
	ID        string       `json:"id"`
	TurnID    string       `json:"turn_id"`
	Seq       int          `json:"seq"`
	Kind      EventKind    `json:"kind"`
	Author    string       `json:"author"`
	Content   *Content     `json:"content,omitempty"`
	Actions   EventActions `json:"actions"`
	ErrorKind ErrorKind    `json:"error_kind,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewEvent creates a bare event of the given kind authored by author.
func NewEvent(kind EventKind, author string) Event {
	return Event{
		ID:        NewID(),
		Kind:      kind,
		Author:    author,
		Timestamp: time.Now().UTC(),
	}
}

// NewPartialTextEvent creates an incremental text fragment event.
func NewPartialTextEvent(author, text string) Event {
	e := NewEvent(EventPartialText, author)
	c := NewTextContent("assistant", text)
	e.Content = &c
	return e
}

// NewThoughtEvent creates a planning fragment event.
func NewThoughtEvent(author, text string) Event {
	e := NewEvent(EventThought, author)
	e.Content = &Content{Role: "assistant", Parts: []Part{ThoughtPart{Text: text}}}
	return e
}

// NewFinalMessageEvent creates the terminal answer event.
func NewFinalMessageEvent(author, text string) Event {
	e := NewEvent(EventFinalMessage, author)
	c := NewTextContent("assistant", text)
	e.Content = &c
	return e
}

// NewToolCallEvent represents an agent requesting execution of a named tool.
func NewToolCallEvent(author string, call FunctionCall) Event {
	e := NewEvent(EventToolCall, author)
	e.Content = &Content{Role: "assistant", Parts: []Part{FunctionCallPart{FunctionCall: call}}}
	return e
}

// NewToolResultEvent records the completion result (or error) of a tool invocation.
func NewToolResultEvent(author string, call FunctionCall, result any, err error) Event {
	e := NewEvent(EventToolResult, author)
	fr := FunctionResponse{ID: call.ID, Name: call.Name, Response: result}
	if err != nil {
		fr.Error = err.Error()
		fr.ErrorKind = KindOf(err)
		e.ErrorKind = fr.ErrorKind
	}
	e.Content = &Content{Role: "tool", Parts: []Part{FunctionResponsePart{FunctionResponse: fr}}}
	return e
}

// NewErrorEvent creates the terminal failure event for err.
func NewErrorEvent(author string, err error) Event {
	e := NewEvent(EventError, author)
	e.ErrorKind = KindOf(err)
	e.Error = err.Error()
	return e
}

// NewID generates a new unique identifier for events, turns and sessions.
func NewID() string { return uuid.NewString() }

// IsPartial reports whether this event is a streaming fragment.
func (e Event) IsPartial() bool { return e.Kind == EventPartialText || e.Kind == EventThought }

// IsTerminal reports whether this event ends the turn.
func (e Event) IsTerminal() bool { return e.Kind.IsTerminal() }

// Text returns the text carried by the event, if any.
func (e Event) Text() string {
	if e.Content == nil {
		return ""
	}
	if e.Kind == EventThought {
		return e.Content.Thoughts()
	}
	return e.Content.Text()
}

// FunctionCalls returns the function calls carried by the event.
func (e Event) FunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}
	return e.Content.FunctionCalls()
}

// FunctionResponses returns the function responses carried by the event.
func (e Event) FunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}
	return e.Content.FunctionResponses()
}
