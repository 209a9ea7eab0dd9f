// Package testutil contains helpers shared by package tests: a fluent
// builder for persisted turns and helpers that drain and inspect turn event
// streams. They are not intended for production usage.
package testutil
