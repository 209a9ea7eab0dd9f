package core

import (
	"context"
	"net/http"
)

// TurnRequest is the input of one turn as received at the boundary.
type TurnRequest struct {
	AppName   string
	UserID    string
	SessionID string
	Prompt    string
	// State is caller-supplied state. Reserved identity keys and app: keys
	// are stripped before it reaches the session.
	State map[string]any
	// Headers carries the raw transport headers used by identity resolvers.
	Headers http.Header
}

// Key returns the session key of the request.
func (r TurnRequest) Key() SessionKey {
	return SessionKey{AppName: r.AppName, UserID: r.UserID, SessionID: r.SessionID}
}

// Validate checks the request before any work is started.
func (r TurnRequest) Validate() error {
	if err := r.Key().Validate(); err != nil {
		return err
	}

	if r.Prompt == "" {
		return errInvalid("prompt is required")
	}

	return nil
}

// Runner defines the orchestration contract for executing one turn.
//
// Semantics & Guarantees:
//   - Event Ordering: events are delivered in the order produced, stamped
//     with a strictly increasing Seq.
//   - Termination: the channel carries exactly one terminal event
//     (final_message or error) unless the turn is cancelled, and is closed
//     afterwards.
//   - Cancellation: cancelling ctx or calling Cancel(turnID) stops emission
//     promptly; the partial turn is persisted as cancelled.
type Runner interface {
	RunTurn(ctx context.Context, req TurnRequest) (string, <-chan Event, error)
	Cancel(turnID string) error
}
