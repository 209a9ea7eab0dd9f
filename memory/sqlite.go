package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/supportmesh/core"
)

const createMemoriesSchemaSQL = `
CREATE TABLE IF NOT EXISTS memories (
    id         TEXT PRIMARY KEY,
    owner      TEXT NOT NULL,
    content    TEXT NOT NULL,
    metadata   TEXT NOT NULL DEFAULT '{}',
    embedding  BLOB,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner, created_at);`

// SQLiteStore is a LongTermMemory persisted in SQLite. Candidates are
// selected by owner in SQL and ranked by cosine similarity in process.
type SQLiteStore struct {
	opts Options
	db   *sql.DB
}

var _ core.LongTermMemory = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at path.
func NewSQLiteStore(path string, optFns ...func(o *Options)) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("memory db pragma: %w", err)
		}
	}

	if _, err := db.Exec(createMemoriesSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory db migrate: %w", err)
	}

	return &SQLiteStore{opts: defaultOptions(optFns), db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Write stores content with its embedding.
func (s *SQLiteStore) Write(ctx context.Context, owner, content string, metadata map[string]string) (string, error) {
	if err := validate(owner, 0); err != nil {
		return "", err
	}

	vec, err := embedOne(ctx, s.opts.Embedder, content)
	if err != nil {
		return "", err
	}

	md, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	id := newRecordID(now)

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, owner, content, metadata, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, owner, content, string(md), float32ToBytes(vec), now.UnixNano()); err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}

	s.opts.Logger.Debug("memory.write", "backend", "sqlite", "owner", owner, "id", id)

	return id, nil
}

// Retrieve ranks owner's records by similarity to query.
func (s *SQLiteStore) Retrieve(ctx context.Context, owner, query string, k int) ([]core.MemoryRecord, error) {
	if err := validate(owner, k); err != nil {
		return nil, err
	}

	if k == 0 {
		return []core.MemoryRecord{}, nil
	}

	qv, err := embedOne(ctx, s.opts.Embedder, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, metadata, embedding, created_at FROM memories WHERE owner = ?`, owner)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []core.MemoryRecord

	for rows.Next() {
		var (
			rec     core.MemoryRecord
			mdJSON  string
			blob    []byte
			created int64
		)

		if err := rows.Scan(&rec.ID, &rec.Content, &mdJSON, &blob, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}

		md := map[string]string{}
		if mdJSON != "" && mdJSON != "null" {
			if err := json.Unmarshal([]byte(mdJSON), &md); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}

		rec.Owner = owner
		rec.Metadata = md
		rec.Created = time.Unix(0, created).UTC()
		rec.Score = cosineSimilarity(qv, bytesToFloat32(blob))

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if out == nil {
		return []core.MemoryRecord{}, nil
	}

	return rankTopK(out, k), nil
}
