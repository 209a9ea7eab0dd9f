package model

import "errors"

// ErrNoResponse is returned when a model finishes without a final chunk.
var ErrNoResponse = errors.New("model returned no final response")

// ErrScriptExhausted is returned by ScriptedModel when no step is left.
var ErrScriptExhausted = errors.New("scripted model: no more steps")

// ErrToolCallRequired is returned by ScriptedModel when a step answers without
// a function call although the request required one.
var ErrToolCallRequired = errors.New("scripted model: tool call required")
