package core

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// SessionKey identifies a session. SessionID is unique within an app.
type SessionKey struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Validate checks that every component is set.
func (k SessionKey) Validate() error {
	if k.AppName == "" || k.UserID == "" || k.SessionID == "" {
		return fmt.Errorf("%w: app_name, user_id and session_id are required", ErrInvalidRequest)
	}
	return nil
}

func (k SessionKey) String() string { return k.AppName + "/" + k.UserID + "/" + k.SessionID }

// OwnerKey returns the long-term memory owner for the session's user.
func (k SessionKey) OwnerKey() string { return k.AppName + "/" + k.UserID }

// TurnStatus is the terminal status of a turn.
type TurnStatus string

const (
	TurnSuccess   TurnStatus = "success"
	TurnError     TurnStatus = "error"
	TurnCancelled TurnStatus = "cancelled"
)

// Turn is one request/response exchange. It is appended to a session as a
// whole; readers never observe a partially written turn.
type Turn struct {
	ID         string         `json:"id"`
	Agent      string         `json:"agent,omitempty"`
	Input      Content        `json:"input"`
	Events     []Event        `json:"events"`
	Status     TurnStatus     `json:"status"`
	ErrorKind  ErrorKind      `json:"error_kind,omitempty"`
	Error      string         `json:"error,omitempty"`
	StateDelta map[string]any `json:"state_delta,omitempty"`
	Started    time.Time      `json:"started"`
	Ended      time.Time      `json:"ended"`
}

// FinalText returns the text of the turn's final message, if any.
func (t Turn) FinalText() string {
	for i := len(t.Events) - 1; i >= 0; i-- {
		if t.Events[i].Kind == EventFinalMessage {
			return t.Events[i].Text()
		}
	}
	return ""
}

// Session is a snapshot of a conversation: the merged state view (app, user
// and session-local keys) plus the ordered turn log. Stores hand out copies;
// mutating a Session never changes persisted data.
type Session struct {
	Key     SessionKey     `json:"key"`
	State   map[string]any `json:"state"`
	Turns   []Turn         `json:"turns"`
	Created time.Time      `json:"created"`
	Updated time.Time      `json:"updated"`
}

// NewSession creates an empty session for key.
func NewSession(key SessionKey) *Session {
	now := time.Now().UTC()
	return &Session{Key: key, State: map[string]any{}, Turns: []Turn{}, Created: now, Updated: now}
}

// GetState returns the value and existence flag for a state key.
func (s *Session) GetState(key string) (any, bool) {
	v, ok := s.State[key]
	return v, ok
}

// History returns the conversation of successful turns as model contents,
// oldest first. Partial fragments, thoughts and error frames are skipped.
// maxTurns <= 0 returns every turn.
func (s *Session) History(maxTurns int) []Content {
	turns := make([]Turn, 0, len(s.Turns))
	for _, t := range s.Turns {
		if t.Status == TurnSuccess {
			turns = append(turns, t)
		}
	}

	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}

	var out []Content

	for _, t := range turns {
		out = append(out, t.Input)

		for _, ev := range t.Events {
			if ev.Content == nil {
				continue
			}

			switch ev.Kind {
			case EventToolCall, EventToolResult, EventFinalMessage:
				out = append(out, *ev.Content)
			}
		}
	}

	return out
}

// Clone returns a copy safe for independent mutation.
func (s *Session) Clone() *Session {
	return &Session{
		Key:     s.Key,
		State:   CopyState(s.State),
		Turns:   slices.Clone(s.Turns),
		Created: s.Created,
		Updated: s.Updated,
	}
}

// SessionStore is short-term memory: sessions, scoped state and turn logs.
type SessionStore interface {
	// Create returns the existing session for key or creates an empty one
	// seeded with state. Re-creating never resets state.
	Create(ctx context.Context, key SessionKey, state map[string]any) (*Session, error)
	// Get returns a snapshot or ErrSessionNotFound.
	Get(ctx context.Context, key SessionKey) (*Session, error)
	// AppendTurn atomically appends turn and applies its StateDelta. temp:
	// keys are never persisted.
	AppendTurn(ctx context.Context, key SessionKey, turn Turn) error
}
