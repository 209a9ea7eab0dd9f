package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to callers and persisted on turns.
type ErrorKind string

const (
	// ErrorKindClassification marks a router that could not pick a specialist.
	ErrorKindClassification ErrorKind = "classification"
	// ErrorKindCapability marks a tool or delegate outside the declared capability set.
	ErrorKindCapability ErrorKind = "capability_violation"
	// ErrorKindIdentityRequired marks a protected action attempted without identity.
	ErrorKindIdentityRequired ErrorKind = "identity_required"
	// ErrorKindUpstream marks a model, tool or store failure.
	ErrorKindUpstream ErrorKind = "upstream"
	// ErrorKindTimeout marks a deadline hit by a model, tool or the turn itself.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindCancelled marks a caller disconnect or explicit cancellation.
	ErrorKindCancelled ErrorKind = "cancelled"
	// ErrorKindDelegationDepth marks a delegation chain longer than configured.
	ErrorKindDelegationDepth ErrorKind = "delegation_depth_exceeded"
	// ErrorKindInvalidRequest marks a malformed turn request.
	ErrorKindInvalidRequest ErrorKind = "invalid_request"
	// ErrorKindValidation marks tool arguments rejected by the parameter schema.
	ErrorKindValidation ErrorKind = "validation"
)

var (
	// ErrSessionNotFound is returned by stores when a session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStepLimit is returned when an agent exceeds its model call budget.
	ErrStepLimit = errors.New("model call limit exceeded")
	// ErrInvalidRequest is returned for malformed turn requests.
	ErrInvalidRequest = errors.New("invalid turn request")
)

// CapabilityError is returned when an agent tries to invoke a tool or delegate
// that is not part of its declared capability set. It is raised before any
// side effect occurs.
type CapabilityError struct {
	Agent  string
	Target string
	Reason string
}

func (e *CapabilityError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("capability violation: agent %q may not use %q: %s", e.Agent, e.Target, e.Reason)
	}
	return fmt.Sprintf("capability violation: agent %q may not use %q", e.Agent, e.Target)
}

// IdentityRequiredError is returned when a protected tool is invoked before the
// auth gate has written a trusted identity into session state.
type IdentityRequiredError struct {
	Tool string
	Key  string
}

func (e *IdentityRequiredError) Error() string {
	return fmt.Sprintf("identity required: tool %q needs %q in session state", e.Tool, e.Key)
}

// DelegationDepthError is returned when a delegation chain exceeds the
// configured maximum depth.
type DelegationDepthError struct {
	Max   int
	Chain []string
}

func (e *DelegationDepthError) Error() string {
	return fmt.Sprintf("delegation depth exceeded: max %d, chain %v", e.Max, e.Chain)
}

// TimeoutError wraps a deadline hit by a named operation.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s timed out: %v", e.Op, e.Err) }

func (e *TimeoutError) Unwrap() error { return e.Err }

// KindedError is implemented by errors that know their own kind.
type KindedError interface {
	error
	Kind() ErrorKind
}

// KindOf maps an error to its ErrorKind. Unknown errors are upstream faults.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var (
		capErr   *CapabilityError
		idErr    *IdentityRequiredError
		depthErr *DelegationDepthError
		toErr    *TimeoutError
		kinded   KindedError
	)

	switch {
	case errors.As(err, &capErr):
		return ErrorKindCapability
	case errors.As(err, &idErr):
		return ErrorKindIdentityRequired
	case errors.As(err, &depthErr):
		return ErrorKindDelegationDepth
	case errors.As(err, &toErr), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	case errors.Is(err, ErrInvalidRequest):
		return ErrorKindInvalidRequest
	case errors.As(err, &kinded):
		return kinded.Kind()
	default:
		return ErrorKindUpstream
	}
}

func errInvalid(msg string) error { return fmt.Errorf("%w: %s", ErrInvalidRequest, msg) }
