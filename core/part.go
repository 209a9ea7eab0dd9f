package core

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text     string         // Plain UTF-8 text
	Metadata map[string]any // Optional producer-provided metadata
}

func (TextPart) isPart() {}

// ThoughtPart carries a planning / reasoning fragment produced by a model
// with thinking enabled. Thoughts are streamed to callers and replayed to the
// model only within the turn that produced them (providers may require the
// signature for that).
type ThoughtPart struct {
	Text      string
	Signature string
}

func (ThoughtPart) isPart() {}

// DataPart is a structured data segment (e.g., JSON object map).
type DataPart struct {
	Data     map[string]any
	Metadata map[string]any
}

func (DataPart) isPart() {}

// FunctionCall describes a tool/function invocation request.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`        // Stable id correlating call and response
	Name      string `json:"name"`                // Tool / function name
	Arguments string `json:"arguments,omitempty"` // Serialized argument payload (JSON)
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall
}

func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	Response  any       `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// Failed reports whether the call produced an error.
func (fr FunctionResponse) Failed() bool { return fr.Error != "" }

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse
}

func (FunctionResponsePart) isPart() {}

// Content holds role + ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"` // user, assistant, tool, system
	Parts []Part `json:"parts"`
}

// NewTextContent builds a single text part content for the given role.
func NewTextContent(role, text string) Content {
	return Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates all text parts.
func (c Content) Text() string {
	var out string
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// Thoughts concatenates all thought parts.
func (c Content) Thoughts() string {
	var out string
	for _, p := range c.Parts {
		if tp, ok := p.(ThoughtPart); ok {
			out += tp.Text
		}
	}
	return out
}

// FunctionCalls returns the function call parts preserving order.
func (c Content) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range c.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns the function response parts preserving order.
func (c Content) FunctionResponses() []FunctionResponse {
	var responses []FunctionResponse
	for _, p := range c.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// WithoutThoughts returns a copy of the content with thought parts removed.
func (c Content) WithoutThoughts() Content {
	parts := make([]Part, 0, len(c.Parts))
	for _, p := range c.Parts {
		if _, ok := p.(ThoughtPart); ok {
			continue
		}
		parts = append(parts, p)
	}
	return Content{Role: c.Role, Parts: parts}
}
