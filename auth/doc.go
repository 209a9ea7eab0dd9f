// Package auth implements the pre-execution auth gate.
//
// The Gate runs exactly once per turn before any agent logic. It derives a
// trusted customer identity from the transport context of the turn (static
// configuration, a routing header or a bearer token), never from the caller
// supplied state payload, and writes it into the user: scope of the turn
// state. Caller supplied values under the reserved keys are stripped first,
// so a forged user:customer_id can never reach a protected tool.
//
// The Gate does not reject turns. Missing identity is enforced by the tool
// layer when a protected tool is invoked.
package auth
