package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hupe1980/supportmesh/core"
)

// Frame is the client-facing shape of one event. Tool results carry their
// status, never the raw tool payload.
type Frame struct {
	Kind      core.EventKind  `json:"kind"`
	TurnID    string          `json:"turn_id"`
	Seq       int             `json:"seq"`
	Author    string          `json:"author"`
	Text      string          `json:"text,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Status    string          `json:"status,omitempty"`
	ErrorKind core.ErrorKind  `json:"error_kind,omitempty"`
}

// ErrorFrame is the terminal frame of a failed turn.
type ErrorFrame struct {
	Error string `json:"error"`
}

// frameOf maps an event to its wire representation.
func frameOf(ev core.Event) any {
	if ev.Kind == core.EventError {
		return ErrorFrame{Error: ev.Error}
	}

	f := Frame{
		Kind:   ev.Kind,
		TurnID: ev.TurnID,
		Seq:    ev.Seq,
		Author: ev.Author,
		Text:   ev.Text(),
	}

	switch ev.Kind {
	case core.EventToolCall:
		if calls := ev.FunctionCalls(); len(calls) > 0 {
			f.Tool = calls[0].Name
			f.CallID = calls[0].ID

			if json.Valid([]byte(calls[0].Arguments)) {
				f.Arguments = json.RawMessage(calls[0].Arguments)
			}
		}
	case core.EventToolResult:
		if resps := ev.FunctionResponses(); len(resps) > 0 {
			f.Tool = resps[0].Name
			f.CallID = resps[0].ID
			f.Status = "ok"

			if resps[0].Failed() {
				f.Status = "error"
				f.ErrorKind = resps[0].ErrorKind
			}
		}
	}

	return f
}

// sseWriter writes data frames and flushes after each one.
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	f, _ := w.(http.Flusher)

	return &sseWriter{w: w, flusher: f}
}

func (s *sseWriter) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}

	if s.flusher != nil {
		s.flusher.Flush()
	}

	return nil
}
