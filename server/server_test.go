package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/supportmesh/agent"
	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/model"
	"github.com/hupe1980/supportmesh/runner"
	"github.com/hupe1980/supportmesh/session"
	"github.com/hupe1980/supportmesh/tool"
)

// streamingAgent emits one partial fragment and then blocks until the turn
// is cancelled.
type streamingAgent struct{}

func (streamingAgent) Name() string                { return "blocking_agent" }
func (streamingAgent) Description() string         { return "blocks" }
func (streamingAgent) SubAgents() []core.Agent     { return nil }
func (streamingAgent) FindAgent(string) core.Agent { return nil }

func (streamingAgent) Run(rc *core.RunContext) (core.Outcome, error) {
	if err := rc.EmitEvent(core.NewPartialTextEvent("blocking_agent", "thinking about it")); err != nil {
		return core.Outcome{}, err
	}

	<-rc.Done()

	return core.Outcome{}, rc.Err()
}

func newSpecialist(t *testing.T, llm model.Model, tools ...tool.Tool) core.Agent {
	t.Helper()

	s, err := agent.NewSpecialist("shopping_guide_agent", llm, func(o *agent.SpecialistOptions) {
		o.Tools = tools
	})
	require.NoError(t, err)

	return s
}

func newTestServer(t *testing.T, root core.Agent, optFns ...func(o *Options)) (*httptest.Server, *runner.Runner) {
	t.Helper()

	r := runner.New(root, func(o *runner.Options) {
		o.SessionStore = session.NewInMemoryStore()
	})

	srv := httptest.NewServer(New(t.Context(), r, optFns...).Handler())
	t.Cleanup(srv.Close)

	return srv, r
}

func invoke(t *testing.T, ctx context.Context, url, prompt string) *http.Response {
	t.Helper()

	body, err := json.Marshal(map[string]string{"prompt": prompt})
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/invoke", strings.NewReader(string(body)))
	require.NoError(t, err)
	req.Header.Set(HeaderUserID, "u1")
	req.Header.Set(HeaderSessionID, "s1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	return resp
}

// readFrames returns the raw JSON payload of every data frame.
func readFrames(t *testing.T, r io.Reader) []string {
	t.Helper()

	var frames []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
			frames = append(frames, data)
		}
	}

	require.NoError(t, scanner.Err())

	return frames
}

func TestPing(t *testing.T) {
	srv, _ := newTestServer(t, newSpecialist(t, model.NewScriptedModel("m")))

	resp, err := http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong!", string(body))
}

func TestInvoke_StreamsFrames(t *testing.T) {
	catalog := tool.NewFunctionTool("search_products", "Search the catalog", map[string]any{"type": "object"},
		func(*core.ToolContext, map[string]any) (any, error) {
			return map[string]any{"sku": "X-100", "internal_cost": 42}, nil
		})

	llm := model.NewScriptedModel("m",
		model.Call("c1", "search_products", `{"q":"laptop"}`),
		model.Text("The X-100 fits your budget."),
	)

	srv, _ := newTestServer(t, newSpecialist(t, llm, catalog))

	resp := invoke(t, context.Background(), srv.URL, "I need a laptop")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(HeaderTurnID))

	raw := readFrames(t, resp.Body)
	require.Len(t, raw, 3)

	frames := make([]Frame, len(raw))
	for i, r := range raw {
		require.NoError(t, json.Unmarshal([]byte(r), &frames[i]))
		assert.Equal(t, i+1, frames[i].Seq)
		assert.Equal(t, resp.Header.Get(HeaderTurnID), frames[i].TurnID)
	}

	assert.Equal(t, core.EventToolCall, frames[0].Kind)
	assert.Equal(t, "search_products", frames[0].Tool)
	assert.JSONEq(t, `{"q":"laptop"}`, string(frames[0].Arguments))

	assert.Equal(t, core.EventToolResult, frames[1].Kind)
	assert.Equal(t, "ok", frames[1].Status)
	assert.NotContains(t, raw[1], "internal_cost", "tool payloads stay server-side")

	assert.Equal(t, core.EventFinalMessage, frames[2].Kind)
	assert.Equal(t, "The X-100 fits your budget.", frames[2].Text)
}

func TestInvoke_ErrorFrame(t *testing.T) {
	llm := model.NewScriptedModel("m", model.Fail(errors.New("model unavailable")))
	srv, _ := newTestServer(t, newSpecialist(t, llm))

	resp := invoke(t, context.Background(), srv.URL, "hello")
	defer resp.Body.Close()

	raw := readFrames(t, resp.Body)
	require.NotEmpty(t, raw)

	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw[len(raw)-1]), &last))

	require.Len(t, last, 1, "error frame carries only the error message")
	assert.Contains(t, last["error"], "model unavailable")
}

func TestInvoke_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, newSpecialist(t, model.NewScriptedModel("m")))

	tests := []struct {
		name    string
		body    string
		headers map[string]string
	}{
		{"malformed body", `{"prompt":`, map[string]string{HeaderUserID: "u1", HeaderSessionID: "s1"}},
		{"missing session", `{"prompt":"hi"}`, map[string]string{HeaderUserID: "u1"}},
		{"empty prompt", `{"prompt":""}`, map[string]string{HeaderUserID: "u1", HeaderSessionID: "s1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, srv.URL+"/invoke", strings.NewReader(tt.body))
			require.NoError(t, err)

			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var frame ErrorFrame
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&frame))
			assert.NotEmpty(t, frame.Error)
		})
	}
}

func TestInvoke_DisconnectCancelsTurn(t *testing.T) {
	srv, r := newTestServer(t, streamingAgent{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := invoke(t, ctx, srv.URL, "hello")
	defer resp.Body.Close()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "thinking about it")

	cancel()

	key := core.SessionKey{AppName: "customer_support", UserID: "u1", SessionID: "s1"}

	assert.Eventually(t, func() bool {
		sess, err := r.SessionStore().Get(context.Background(), key)
		return err == nil && len(sess.Turns) == 1 && sess.Turns[0].Status == core.TurnCancelled
	}, 5*time.Second, 20*time.Millisecond)
}

func TestMetricsRoute(t *testing.T) {
	root := newSpecialist(t, model.NewScriptedModel("m"))

	t.Run("disabled", func(t *testing.T) {
		srv, _ := newTestServer(t, root)

		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("enabled", func(t *testing.T) {
		srv, _ := newTestServer(t, root, func(o *Options) {
			o.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("supportmesh_turns_total 1"))
			})
		})

		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "supportmesh_turns_total")
	})
}

func TestRateLimit(t *testing.T) {
	llm := model.NewScriptedModel("m")
	llm.Fallback = func(model.Request) model.Step { return model.Text("ok") }

	srv, _ := newTestServer(t, newSpecialist(t, llm), func(o *Options) {
		o.RateLimit = 0.001
		o.RateBurst = 1
	})

	first := invoke(t, context.Background(), srv.URL, "one")
	_, _ = io.Copy(io.Discard, first.Body)
	first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := invoke(t, context.Background(), srv.URL, "two")
	second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)

	ping, err := http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	ping.Body.Close()
	assert.Equal(t, http.StatusOK, ping.StatusCode, "only /invoke is limited")
}

func TestFrameOf_ToolError(t *testing.T) {
	call := core.FunctionCall{ID: "c1", Name: "get_customer_info", Arguments: `{}`}
	ev := core.NewToolResultEvent("after_sale_agent", call, nil, &core.IdentityRequiredError{Tool: call.Name, Key: core.KeyCustomerID})

	f, ok := frameOf(ev).(Frame)
	require.True(t, ok)

	assert.Equal(t, "error", f.Status)
	assert.Equal(t, core.ErrorKindIdentityRequired, f.ErrorKind)
	assert.Equal(t, "c1", f.CallID)
}
