package core

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestScopeOf(t *testing.T) {
	cases := map[string]Scope{
		"app:catalog":   ScopeApp,
		KeyCustomerID:   ScopeUser,
		"temp:scratch":  ScopeTemp,
		"cart":          ScopeSession,
		"user_id_plain": ScopeSession,
	}
	for k, want := range cases {
		if got := ScopeOf(k); got != want {
			t.Errorf("ScopeOf(%q) = %v, want %v", k, got, want)
		}
	}
}

func TestIsReservedKey(t *testing.T) {
	if !IsReservedKey(KeyCustomerID) || !IsReservedKey(KeyAuthScope) || !IsReservedKey("user:auth_token") {
		t.Fatal("auth keys must be reserved")
	}
	if IsReservedKey("user:language") || IsReservedKey("customer_id") {
		t.Fatal("non auth keys must not be reserved")
	}
}

func TestSplitDelta(t *testing.T) {
	sd := SplitDelta(map[string]any{
		"app:a":  1,
		"user:b": 2,
		"temp:c": 3,
		"d":      4,
	})

	want := ScopedDelta{
		App:     map[string]any{"app:a": 1},
		User:    map[string]any{"user:b": 2},
		Session: map[string]any{"d": 4},
	}
	if diff := cmp.Diff(want, sd); diff != "" {
		t.Fatalf("SplitDelta mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(map[string]any{"d": 4}, WithoutTemp(map[string]any{"temp:x": 1, "d": 4})); diff != "" {
		t.Fatalf("WithoutTemp mismatch (-want +got):\n%s", diff)
	}
}

func TestStateBuffer(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2}
	buf := NewStateBuffer(base)

	base["a"] = 100

	if v, _ := buf.Get("a"); v != 1 {
		t.Fatalf("buffer must copy its base, got %v", v)
	}

	buf.Set("b", 3)
	buf.Apply(map[string]any{"c": 4})

	if diff := cmp.Diff(map[string]any{"b": 3, "c": 4}, buf.Delta()); diff != "" {
		t.Fatalf("Delta mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(map[string]any{"a": 1, "b": 3, "c": 4}, buf.Snapshot()); diff != "" {
		t.Fatalf("Snapshot mismatch (-want +got):\n%s", diff)
	}

	if _, ok := buf.Get("missing"); ok {
		t.Fatal("missing key reported present")
	}
}
