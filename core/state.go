package core

import (
	"maps"
	"strings"
	"sync"

	"github.com/tiendc/go-deepcopy"
)

// State key prefixes. Unprefixed keys are session-local.
const (
	AppPrefix  = "app:"
	UserPrefix = "user:"
	TempPrefix = "temp:"
)

// Reserved keys written by the auth gate. Callers can never set them through
// the turn payload.
const (
	KeyCustomerID = UserPrefix + "customer_id"
	KeyAuthScope  = UserPrefix + "auth_scope"
)

// Scope identifies where a state key is persisted.
type Scope int

const (
	ScopeSession Scope = iota
	ScopeUser
	ScopeApp
	ScopeTemp
)

// ScopeOf returns the persistence scope of key.
func ScopeOf(key string) Scope {
	switch {
	case strings.HasPrefix(key, AppPrefix):
		return ScopeApp
	case strings.HasPrefix(key, UserPrefix):
		return ScopeUser
	case strings.HasPrefix(key, TempPrefix):
		return ScopeTemp
	default:
		return ScopeSession
	}
}

// IsReservedKey reports whether key belongs to the auth namespace.
func IsReservedKey(key string) bool {
	return key == KeyCustomerID || strings.HasPrefix(key, UserPrefix+"auth_")
}

// ScopedDelta is a state delta partitioned by persistence scope. Temp keys are
// dropped.
type ScopedDelta struct {
	App     map[string]any
	User    map[string]any
	Session map[string]any
}

// SplitDelta partitions delta by scope.
func SplitDelta(delta map[string]any) ScopedDelta {
	sd := ScopedDelta{App: map[string]any{}, User: map[string]any{}, Session: map[string]any{}}
	for k, v := range delta {
		switch ScopeOf(k) {
		case ScopeApp:
			sd.App[k] = v
		case ScopeUser:
			sd.User[k] = v
		case ScopeSession:
			sd.Session[k] = v
		}
	}
	return sd
}

// WithoutTemp returns a copy of delta without temp: keys.
func WithoutTemp(delta map[string]any) map[string]any {
	out := make(map[string]any, len(delta))
	for k, v := range delta {
		if ScopeOf(k) != ScopeTemp {
			out[k] = v
		}
	}
	return out
}

// CopyState deep copies a state map so snapshots never alias store internals.
func CopyState(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	var dst map[string]any
	if err := deepcopy.Copy(&dst, src); err != nil {
		dst = maps.Clone(src)
	}
	if dst == nil {
		dst = map[string]any{}
	}
	return dst
}

// StateBuffer is the turn-local view of session state: a read-only base
// snapshot plus the delta written during the turn. It is shared by every
// agent participating in the turn and safe for concurrent use.
type StateBuffer struct {
	mu    sync.RWMutex
	base  map[string]any
	delta map[string]any
}

// NewStateBuffer creates a buffer over base. base is copied.
func NewStateBuffer(base map[string]any) *StateBuffer {
	return &StateBuffer{base: CopyState(base), delta: map[string]any{}}
}

// Get returns the delta value for key, falling back to the base snapshot.
func (b *StateBuffer) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if v, ok := b.delta[key]; ok {
		return v, true
	}

	v, ok := b.base[key]

	return v, ok
}

// Set stages a value.
func (b *StateBuffer) Set(key string, v any) {
	b.mu.Lock()
	b.delta[key] = v
	b.mu.Unlock()
}

// Apply stages every pair of d.
func (b *StateBuffer) Apply(d map[string]any) {
	b.mu.Lock()
	maps.Copy(b.delta, d)
	b.mu.Unlock()
}

// Delta returns a copy of the staged changes.
func (b *StateBuffer) Delta() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return maps.Clone(b.delta)
}

// Snapshot returns the merged view of base and delta.
func (b *StateBuffer) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]any, len(b.base)+len(b.delta))
	maps.Copy(out, b.base)
	maps.Copy(out, b.delta)

	return out
}
