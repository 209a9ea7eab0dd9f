// Package runner drives one turn end to end.
//
// RunTurn validates the request, creates the session if needed (idempotent),
// and starts the turn in the background:
//
//   - the auth gate stages the sanitized payload state and the derived
//     identity into a turn-local state buffer
//   - the root agent runs; a returned delegate runs next, iteratively, with
//     an explicit depth counter bounded by Options.MaxDelegationDepth
//   - agent events are stamped with a strictly increasing Seq and relayed to
//     the caller as they arrive
//   - the turn (events, status, state delta) is appended to the session
//     store before the terminal event is released
//
// Every turn ends with exactly one terminal event (final_message or error)
// unless it is cancelled, in which case emission stops and the partial turn
// is stored with status cancelled.
package runner
