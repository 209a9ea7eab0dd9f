// Package model defines the provider-agnostic abstractions for interacting
// with language models inside SupportMesh.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition)
//   - Carry planner settings (ThinkingConfig) to providers that support them
//   - Facilitate deterministic tests (ScriptedModel)
//
// Providers (OpenAI, Anthropic) live in sub-packages so higher layers
// (agents, flows) remain decoupled from vendor SDKs.
package model
