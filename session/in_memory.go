package session

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/hupe1980/supportmesh/core"
)

type userKey struct{ app, user string }

type sessionEntry struct {
	state   map[string]any
	turns   []core.Turn
	created time.Time
	updated time.Time
}

// InMemoryStore is a volatile SessionStore implementation storing sessions in
// process local maps. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Each returned session is a copy so callers
// can never mutate internal state.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[core.SessionKey]*sessionEntry
	userState map[userKey]map[string]any
	appState  map[string]map[string]any
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[core.SessionKey]*sessionEntry),
		userState: make(map[userKey]map[string]any),
		appState:  make(map[string]map[string]any),
	}
}

// Create returns the existing session or creates one seeded with state.
func (s *InMemoryStore) Create(_ context.Context, key core.SessionKey, state map[string]any) (*core.Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[key]; !ok {
		now := time.Now().UTC()
		entry := &sessionEntry{state: map[string]any{}, created: now, updated: now}
		s.sessions[key] = entry
		s.applyLocked(key, entry, state)
	}

	return s.snapshotLocked(key), nil
}

// Get returns a merged snapshot or core.ErrSessionNotFound.
func (s *InMemoryStore) Get(_ context.Context, key core.SessionKey) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[key]; !ok {
		return nil, core.ErrSessionNotFound
	}

	return s.snapshotLocked(key), nil
}

// AppendTurn appends turn and applies its state delta under one lock.
func (s *InMemoryStore) AppendTurn(_ context.Context, key core.SessionKey, turn core.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[key]
	if !ok {
		return core.ErrSessionNotFound
	}

	turn.StateDelta = core.WithoutTemp(turn.StateDelta)
	turn.Events = append([]core.Event(nil), turn.Events...)

	s.applyLocked(key, entry, turn.StateDelta)
	entry.turns = append(entry.turns, turn)
	entry.updated = time.Now().UTC()

	return nil
}

// applyLocked routes delta to the app, user and session maps. Caller holds
// the write lock.
func (s *InMemoryStore) applyLocked(key core.SessionKey, entry *sessionEntry, delta map[string]any) {
	if len(delta) == 0 {
		return
	}

	sd := core.SplitDelta(core.CopyState(delta))

	if len(sd.App) > 0 {
		if s.appState[key.AppName] == nil {
			s.appState[key.AppName] = map[string]any{}
		}
		maps.Copy(s.appState[key.AppName], sd.App)
	}

	if len(sd.User) > 0 {
		uk := userKey{key.AppName, key.UserID}
		if s.userState[uk] == nil {
			s.userState[uk] = map[string]any{}
		}
		maps.Copy(s.userState[uk], sd.User)
	}

	maps.Copy(entry.state, sd.Session)
}

func (s *InMemoryStore) snapshotLocked(key core.SessionKey) *core.Session {
	entry := s.sessions[key]

	merged := make(map[string]any, len(entry.state))
	maps.Copy(merged, entry.state)
	maps.Copy(merged, s.appState[key.AppName])
	maps.Copy(merged, s.userState[userKey{key.AppName, key.UserID}])

	return &core.Session{
		Key:     key,
		State:   core.CopyState(merged),
		Turns:   append([]core.Turn(nil), entry.turns...),
		Created: entry.created,
		Updated: entry.updated,
	}
}
