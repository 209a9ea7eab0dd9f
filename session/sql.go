package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"

	// SQL drivers
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported SQL dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

const createSessionsSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    id VARCHAR(255) NOT NULL,
    state_json TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    PRIMARY KEY (app_name, user_id, id)
)`

const createAppStatesSchemaSQL = `
CREATE TABLE IF NOT EXISTS app_states (
    app_name VARCHAR(255) PRIMARY KEY,
    state_json TEXT NOT NULL,
    updated_at BIGINT NOT NULL
)`

const createUserStatesSchemaSQL = `
CREATE TABLE IF NOT EXISTS user_states (
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    state_json TEXT NOT NULL,
    updated_at BIGINT NOT NULL,
    PRIMARY KEY (app_name, user_id)
)`

const createTurnsSchemaSQL = `
CREATE TABLE IF NOT EXISTS session_turns (
    id VARCHAR(255) NOT NULL,
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    sequence_num INTEGER NOT NULL,
    agent VARCHAR(255),
    status VARCHAR(32) NOT NULL,
    error_kind VARCHAR(64),
    error_message TEXT,
    input_json TEXT NOT NULL,
    events_json TEXT NOT NULL,
    state_delta_json TEXT,
    started_at BIGINT NOT NULL,
    ended_at BIGINT NOT NULL,
    PRIMARY KEY (app_name, user_id, session_id, id),
    UNIQUE (app_name, user_id, session_id, sequence_num)
)`

// Tables created before the UNIQUE constraint get it through this index.
const createTurnsIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_turns_session_seq ON session_turns(app_name, user_id, session_id, sequence_num)`

// SQLOptions configures a SQLStore.
type SQLOptions struct {
	Logger logging.Logger
}

// SQLStore implements core.SessionStore on database/sql. Every write runs in
// one transaction, so a turn and its state delta become visible together.
type SQLStore struct {
	db      *sql.DB
	dialect string
	logger  logging.Logger
}

// OpenSQLStore opens a database for dialect and initializes the schema.
func OpenSQLStore(dialect, dsn string, optFns ...func(o *SQLOptions)) (*SQLStore, error) {
	var driver string

	switch dialect {
	case DialectSQLite, "sqlite3":
		dialect, driver = DialectSQLite, "sqlite"
	case DialectPostgres:
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, sqlite)", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)

		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("sqlite pragma %q: %w", pragma, err)
			}
		}
	}

	store, err := NewSQLStore(db, dialect, optFns...)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// NewSQLStore wraps an open database and creates the schema if needed.
func NewSQLStore(db *sql.DB, dialect string, optFns ...func(o *SQLOptions)) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, sqlite)", dialect)
	}

	opts := SQLOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &SQLStore{db: db, dialect: dialect, logger: opts.Logger}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range []string{
		createSessionsSchemaSQL,
		createAppStatesSchemaSQL,
		createUserStatesSchemaSQL,
		createTurnsSchemaSQL,
		createTurnsIndexSQL,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error { return s.db.Close() }

// Create inserts the session unless it exists. Seed state is only applied
// when the session is new.
func (s *SQLStore) Create(ctx context.Context, key core.SessionKey, state map[string]any) (*core.Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	now := time.Now().UTC().UnixMilli()

	res, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO sessions (app_name, user_id, id, state_json, created_at, updated_at)
        VALUES (?, ?, ?, '{}', ?, ?) ON CONFLICT DO NOTHING`),
		key.AppName, key.UserID, key.SessionID, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 1 && len(state) > 0 {
		if err := s.applyDeltaTx(ctx, tx, key, state); err != nil {
			return nil, err
		}

		s.logger.Debug("session.create", "session", key.String(), "seed_keys", len(state))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.Get(ctx, key)
}

// Get loads the merged snapshot of a session.
func (s *SQLStore) Get(ctx context.Context, key core.SessionKey) (*core.Session, error) {
	var (
		stateJSON        string
		created, updated int64
	)

	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT state_json, created_at, updated_at FROM sessions
        WHERE app_name = ? AND user_id = ? AND id = ?`),
		key.AppName, key.UserID, key.SessionID).Scan(&stateJSON, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	merged, err := decodeState(stateJSON)
	if err != nil {
		return nil, err
	}

	appState, err := s.loadState(ctx, s.db, `SELECT state_json FROM app_states WHERE app_name = ?`, key.AppName)
	if err != nil {
		return nil, fmt.Errorf("failed to get app state: %w", err)
	}

	userState, err := s.loadState(ctx, s.db, `SELECT state_json FROM user_states WHERE app_name = ? AND user_id = ?`, key.AppName, key.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user state: %w", err)
	}

	maps.Copy(merged, appState)
	maps.Copy(merged, userState)

	turns, err := s.loadTurns(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get turns: %w", err)
	}

	return &core.Session{
		Key:     key,
		State:   merged,
		Turns:   turns,
		Created: time.UnixMilli(created).UTC(),
		Updated: time.UnixMilli(updated).UTC(),
	}, nil
}

// AppendTurn persists turn and its state delta in one transaction.
func (s *SQLStore) AppendTurn(ctx context.Context, key core.SessionKey, turn core.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	// The session row lock serializes appends to one session, which keeps the
	// sequence number and the session state merge consistent.
	var exists int
	if err := tx.QueryRowContext(ctx, s.rebind(s.forUpdate(`SELECT 1 FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`)),
		key.AppName, key.UserID, key.SessionID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrSessionNotFound
		}

		return fmt.Errorf("failed to check session: %w", err)
	}

	turn.StateDelta = core.WithoutTemp(turn.StateDelta)

	if err := s.applyDeltaTx(ctx, tx, key, turn.StateDelta); err != nil {
		return err
	}

	var seq int
	if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM session_turns
        WHERE app_name = ? AND user_id = ? AND session_id = ?`),
		key.AppName, key.UserID, key.SessionID).Scan(&seq); err != nil {
		return fmt.Errorf("failed to get sequence number: %w", err)
	}

	inputJSON, err := json.Marshal(turn.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}

	eventsJSON, err := json.Marshal(turn.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	deltaJSON, err := json.Marshal(turn.StateDelta)
	if err != nil {
		return fmt.Errorf("failed to marshal state delta: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO session_turns (
            id, app_name, user_id, session_id, sequence_num, agent, status, error_kind, error_message,
            input_json, events_json, state_delta_json, started_at, ended_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		turn.ID, key.AppName, key.UserID, key.SessionID, seq, turn.Agent, string(turn.Status),
		string(turn.ErrorKind), turn.Error, string(inputJSON), string(eventsJSON), string(deltaJSON),
		turn.Started.UnixMilli(), turn.Ended.UnixMilli()); err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE sessions SET updated_at = ? WHERE app_name = ? AND user_id = ? AND id = ?`),
		time.Now().UTC().UnixMilli(), key.AppName, key.UserID, key.SessionID); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) loadState(ctx context.Context, q queryer, query string, args ...any) (map[string]any, error) {
	var stateJSON string

	err := q.QueryRowContext(ctx, s.rebind(query), args...).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}

	if err != nil {
		return nil, err
	}

	return decodeState(stateJSON)
}

func (s *SQLStore) applyDeltaTx(ctx context.Context, tx *sql.Tx, key core.SessionKey, delta map[string]any) error {
	if len(delta) == 0 {
		return nil
	}

	sd := core.SplitDelta(delta)
	now := time.Now().UTC().UnixMilli()

	if len(sd.App) > 0 {
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO app_states (app_name, state_json, updated_at) VALUES (?, '{}', ?)
            ON CONFLICT (app_name) DO NOTHING`), key.AppName, now); err != nil {
			return fmt.Errorf("failed to ensure app state: %w", err)
		}

		existing, err := s.loadState(ctx, tx, s.forUpdate(`SELECT state_json FROM app_states WHERE app_name = ?`), key.AppName)
		if err != nil {
			return fmt.Errorf("failed to load app state: %w", err)
		}

		maps.Copy(existing, sd.App)

		b, err := json.Marshal(existing)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO app_states (app_name, state_json, updated_at) VALUES (?, ?, ?)
            ON CONFLICT (app_name) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`),
			key.AppName, string(b), now); err != nil {
			return fmt.Errorf("failed to save app state: %w", err)
		}
	}

	if len(sd.User) > 0 {
		// User state is shared by all sessions of the user, so the row must
		// exist before it can be locked.
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO user_states (app_name, user_id, state_json, updated_at) VALUES (?, ?, '{}', ?)
            ON CONFLICT (app_name, user_id) DO NOTHING`), key.AppName, key.UserID, now); err != nil {
			return fmt.Errorf("failed to ensure user state: %w", err)
		}

		existing, err := s.loadState(ctx, tx, s.forUpdate(`SELECT state_json FROM user_states WHERE app_name = ? AND user_id = ?`),
			key.AppName, key.UserID)
		if err != nil {
			return fmt.Errorf("failed to load user state: %w", err)
		}

		maps.Copy(existing, sd.User)

		b, err := json.Marshal(existing)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO user_states (app_name, user_id, state_json, updated_at) VALUES (?, ?, ?, ?)
            ON CONFLICT (app_name, user_id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`),
			key.AppName, key.UserID, string(b), now); err != nil {
			return fmt.Errorf("failed to save user state: %w", err)
		}
	}

	if len(sd.Session) > 0 {
		existing, err := s.loadState(ctx, tx, `SELECT state_json FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
			key.AppName, key.UserID, key.SessionID)
		if err != nil {
			return fmt.Errorf("failed to load session state: %w", err)
		}

		maps.Copy(existing, sd.Session)

		b, err := json.Marshal(existing)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE sessions SET state_json = ? WHERE app_name = ? AND user_id = ? AND id = ?`),
			string(b), key.AppName, key.UserID, key.SessionID); err != nil {
			return fmt.Errorf("failed to update session state: %w", err)
		}
	}

	return nil
}

func (s *SQLStore) loadTurns(ctx context.Context, key core.SessionKey) ([]core.Turn, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, agent, status, error_kind, error_message,
        input_json, events_json, state_delta_json, started_at, ended_at
        FROM session_turns WHERE app_name = ? AND user_id = ? AND session_id = ?
        ORDER BY sequence_num ASC`), key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []core.Turn

	for rows.Next() {
		var (
			t                                core.Turn
			agent, status, errKind, errMsg   sql.NullString
			inputJSON, eventsJSON, deltaJSON sql.NullString
			started, ended                   int64
		)

		if err := rows.Scan(&t.ID, &agent, &status, &errKind, &errMsg,
			&inputJSON, &eventsJSON, &deltaJSON, &started, &ended); err != nil {
			return nil, err
		}

		t.Agent = agent.String
		t.Status = core.TurnStatus(status.String)
		t.ErrorKind = core.ErrorKind(errKind.String)
		t.Error = errMsg.String
		t.Started = time.UnixMilli(started).UTC()
		t.Ended = time.UnixMilli(ended).UTC()

		if err := json.Unmarshal([]byte(inputJSON.String), &t.Input); err != nil {
			return nil, fmt.Errorf("decode turn input: %w", err)
		}

		if err := json.Unmarshal([]byte(eventsJSON.String), &t.Events); err != nil {
			return nil, fmt.Errorf("decode turn events: %w", err)
		}

		if deltaJSON.String != "" && deltaJSON.String != "null" {
			if err := json.Unmarshal([]byte(deltaJSON.String), &t.StateDelta); err != nil {
				return nil, fmt.Errorf("decode turn state delta: %w", err)
			}
		}

		turns = append(turns, t)
	}

	return turns, rows.Err()
}

// rebind converts ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder

	b.Grow(len(query) + 20)

	n := 1

	for _, c := range query {
		if c == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteRune(c)
		}
	}

	return b.String()
}

// forUpdate adds a row lock to query on postgres. SQLite runs on a single
// connection and needs none.
func (s *SQLStore) forUpdate(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	return query + " FOR UPDATE"
}

func decodeState(raw string) (map[string]any, error) {
	state := map[string]any{}
	if raw == "" {
		return state, nil
	}

	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}

	if state == nil {
		state = map[string]any{}
	}

	return state, nil
}
