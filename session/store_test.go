package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/internal/testutil"
)

// Interface compliance (compile-time assertion)
var (
	_ core.SessionStore = (*InMemoryStore)(nil)
	_ core.SessionStore = (*SQLStore)(nil)
)

func storeFactories(t *testing.T) map[string]func() core.SessionStore {
	return map[string]func() core.SessionStore{
		"memory": func() core.SessionStore { return NewInMemoryStore() },
		"sqlite": func() core.SessionStore {
			s, err := OpenSQLStore(DialectSQLite, filepath.Join(t.TempDir(), "sessions.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func key(session string) core.SessionKey {
	return core.SessionKey{AppName: "support", UserID: "u1", SessionID: session}
}

func sampleTurn(id, prompt, answer string, delta map[string]any) core.Turn {
	return testutil.NewTurn(id).Agent("after_sale_agent").Prompt(prompt).Final(answer).Delta(delta).Build()
}

func TestSessionStore_Contract(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("create is idempotent", func(t *testing.T) {
				store := factory()
				ctx := context.Background()

				first, err := store.Create(ctx, key("s1"), map[string]any{"lang": "en"})
				require.NoError(t, err)
				assert.Equal(t, "en", first.State["lang"])

				require.NoError(t, store.AppendTurn(ctx, key("s1"), sampleTurn("t1", "hi", "hello", map[string]any{"cart": "a"})))

				second, err := store.Create(ctx, key("s1"), map[string]any{"lang": "de"})
				require.NoError(t, err)
				assert.Equal(t, "en", second.State["lang"], "re-creating must not reset state")
				assert.Equal(t, "a", second.State["cart"])
				assert.Len(t, second.Turns, 1)
				assert.Equal(t, first.Created.UnixMilli(), second.Created.UnixMilli())
			})

			t.Run("get unknown session", func(t *testing.T) {
				store := factory()
				_, err := store.Get(context.Background(), key("missing"))
				assert.True(t, errors.Is(err, core.ErrSessionNotFound))

				err = store.AppendTurn(context.Background(), key("missing"), sampleTurn("t", "p", "a", nil))
				assert.True(t, errors.Is(err, core.ErrSessionNotFound))
			})

			t.Run("invalid key", func(t *testing.T) {
				store := factory()
				_, err := store.Create(context.Background(), core.SessionKey{AppName: "support"}, nil)
				assert.True(t, errors.Is(err, core.ErrInvalidRequest))
			})

			t.Run("scoped state", func(t *testing.T) {
				store := factory()
				ctx := context.Background()

				_, err := store.Create(ctx, key("a"), nil)
				require.NoError(t, err)
				_, err = store.Create(ctx, key("b"), nil)
				require.NoError(t, err)

				other := core.SessionKey{AppName: "support", UserID: "u2", SessionID: "c"}
				_, err = store.Create(ctx, other, nil)
				require.NoError(t, err)

				require.NoError(t, store.AppendTurn(ctx, key("a"), sampleTurn("t1", "p", "a", map[string]any{
					"app:promo":        "spring",
					core.KeyCustomerID: "CUST001",
					"temp:scratch":     "x",
					"local":            1,
				})))

				b, err := store.Get(ctx, key("b"))
				require.NoError(t, err)
				assert.Equal(t, "spring", b.State["app:promo"])
				assert.Equal(t, "CUST001", b.State[core.KeyCustomerID], "user state is shared by the user's sessions")
				assert.NotContains(t, b.State, "local")
				assert.NotContains(t, b.State, "temp:scratch")

				c, err := store.Get(ctx, other)
				require.NoError(t, err)
				assert.Equal(t, "spring", c.State["app:promo"])
				assert.NotContains(t, c.State, core.KeyCustomerID, "user state must not leak across users")

				a, err := store.Get(ctx, key("a"))
				require.NoError(t, err)
				assert.EqualValues(t, 1, a.State["local"])
				assert.NotContains(t, a.Turns[0].StateDelta, "temp:scratch")
			})

			t.Run("turn round trip", func(t *testing.T) {
				store := factory()
				ctx := context.Background()

				_, err := store.Create(ctx, key("rt"), nil)
				require.NoError(t, err)

				call := core.FunctionCall{ID: "c1", Name: "query_warranty", Arguments: `{"serial":"XYZ"}`}
				turn := testutil.NewTurn("t1").
					Agent("after_sale_agent").
					Prompt("warranty?").
					ToolCall(call).
					ToolResult(call, nil, &core.IdentityRequiredError{Tool: call.Name, Key: core.KeyCustomerID}).
					Fail(errors.New("model unavailable")).
					Build()
				require.NoError(t, store.AppendTurn(ctx, key("rt"), turn))

				sess, err := store.Get(ctx, key("rt"))
				require.NoError(t, err)
				require.Len(t, sess.Turns, 1)

				got := sess.Turns[0]
				assert.Equal(t, core.TurnError, got.Status)
				assert.Equal(t, core.ErrorKindUpstream, got.ErrorKind)
				assert.Equal(t, "warranty?", got.Input.Text())
				require.Len(t, got.Events, 3)
				assert.Equal(t, "query_warranty", got.Events[0].FunctionCalls()[0].Name)
				assert.Equal(t, core.ErrorKindIdentityRequired, got.Events[1].FunctionResponses()[0].ErrorKind)
				assert.Equal(t, core.EventError, got.Events[2].Kind)
			})

			t.Run("snapshots are isolated", func(t *testing.T) {
				store := factory()
				ctx := context.Background()

				sess, err := store.Create(ctx, key("iso"), map[string]any{"k": "v"})
				require.NoError(t, err)

				sess.State["k"] = "mutated"

				again, err := store.Get(ctx, key("iso"))
				require.NoError(t, err)
				assert.Equal(t, "v", again.State["k"])
			})

			t.Run("concurrent appends are atomic", func(t *testing.T) {
				store := factory()
				ctx := context.Background()

				_, err := store.Create(ctx, key("cc"), nil)
				require.NoError(t, err)

				var wg sync.WaitGroup
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						id := fmt.Sprintf("t%d", i)
						assert.NoError(t, store.AppendTurn(ctx, key("cc"), sampleTurn(id, id, id, map[string]any{id: i})))
					}(i)
				}
				wg.Wait()

				sess, err := store.Get(ctx, key("cc"))
				require.NoError(t, err)
				require.Len(t, sess.Turns, 8)

				for _, turn := range sess.Turns {
					require.Len(t, turn.Events, 1)
					assert.Equal(t, turn.ID, turn.Input.Text())
					assert.Equal(t, turn.ID, turn.FinalText())
					assert.Contains(t, sess.State, turn.ID)
				}
			})
		})
	}
}

func TestSQLStore_Rebind(t *testing.T) {
	s := &SQLStore{dialect: DialectPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", s.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	s.dialect = DialectSQLite
	assert.Equal(t, "a = ?", s.rebind("a = ?"))
}

func TestSQLStore_ForUpdate(t *testing.T) {
	s := &SQLStore{dialect: DialectPostgres}
	assert.Equal(t, "SELECT $1 FOR UPDATE", s.rebind(s.forUpdate("SELECT ?")))

	s.dialect = DialectSQLite
	assert.Equal(t, "SELECT ?", s.forUpdate("SELECT ?"))
}

func TestSQLStore_SequenceNumbersAreUnique(t *testing.T) {
	s, err := OpenSQLStore(DialectSQLite, filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	_, err = s.Create(ctx, key("seq"), nil)
	require.NoError(t, err)
	require.NoError(t, s.AppendTurn(ctx, key("seq"), sampleTurn("t1", "hi", "hello", nil)))

	_, err = s.db.ExecContext(ctx, `INSERT INTO session_turns (
            id, app_name, user_id, session_id, sequence_num, status, input_json, events_json, started_at, ended_at)
            VALUES ('dup', 'support', 'u1', 'seq', 1, 'completed', '{}', '[]', 0, 0)`)
	assert.Error(t, err, "a second turn with the same sequence number must be rejected")
}

func TestSQLStore_ConcurrentUserStateMerge(t *testing.T) {
	s, err := OpenSQLStore(DialectSQLite, filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("s%d", i)
		_, err := s.Create(ctx, key(id), nil)
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AppendTurn(ctx, key(id), sampleTurn("t-"+id, id, id, map[string]any{core.UserPrefix + id: true})))
		}()
	}
	wg.Wait()

	sess, err := s.Get(ctx, key("s0"))
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		assert.Equal(t, true, sess.State[core.UserPrefix+fmt.Sprintf("s%d", i)])
	}
}

func TestOpenSQLStore_UnsupportedDialect(t *testing.T) {
	_, err := OpenSQLStore("oracle", "")
	assert.Error(t, err)
}
