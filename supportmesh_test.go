package supportmesh

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/supportmesh/config"
	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
	"github.com/hupe1980/supportmesh/model"
	"github.com/hupe1980/supportmesh/support"
	"github.com/hupe1980/supportmesh/tool"
)

func testConfig(t *testing.T, raw map[string]any) *config.Config {
	t.Helper()

	cfg, err := config.FromMap(raw)
	require.NoError(t, err)

	return cfg
}

func newTestApp(t *testing.T, routerLLM, specialistLLM model.Model) *App {
	t.Helper()

	app, err := New(t.Context(), testConfig(t, map[string]any{}), func(o *Options) {
		o.Logger = logging.NoOpLogger{}
		o.RouterModel = routerLLM
		o.SpecialistModel = specialistLLM
		o.CRM = support.NewCRM(func(o *support.CRMOptions) {
			o.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
		})
	})
	require.NoError(t, err)

	t.Cleanup(func() { assert.NoError(t, app.Close(context.Background())) })

	return app
}

func transferTo(name string) model.Step {
	return model.Call("route", tool.TransferToAgentName, `{"agent_name":"`+name+`"}`)
}

func TestApp_InvokeSync(t *testing.T) {
	router := model.NewScriptedModel("router", transferTo(support.AfterSaleAgentName))
	specialist := model.NewScriptedModel("specialist",
		model.Call("c1", support.ToolQueryWarranty, `{"serial":"SN-UB14-0001"}`),
		model.Text("Your laptop is covered for another 16 months."),
	)

	app := newTestApp(t, router, specialist)

	res, err := app.InvokeSync(t.Context(), "u1", "s1", "Is my laptop still under warranty?")
	require.NoError(t, err)

	assert.NotEmpty(t, res.TurnID)
	assert.Equal(t, "Your laptop is covered for another 16 months.", res.Text)

	var called bool

	for _, ev := range res.Events {
		for _, fr := range ev.FunctionResponses() {
			if fr.Name == support.ToolQueryWarranty {
				called = true

				assert.False(t, fr.Failed(), fr.Error)
			}
		}
	}

	assert.True(t, called, "warranty tool was not called")

	sess, err := app.Runner().SessionStore().Get(t.Context(), core.SessionKey{AppName: "customer_support", UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, sess.Turns, 1)
}

func TestApp_InvokeSync_TurnError(t *testing.T) {
	router := model.NewScriptedModel("router", model.Fail(errors.New("router model unavailable")))
	app := newTestApp(t, router, model.NewScriptedModel("specialist"))

	res, err := app.InvokeSync(t.Context(), "u1", "s1", "hello")
	require.Error(t, err)
	require.NotNil(t, res)

	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.NotEmpty(t, turnErr.Kind)
	assert.Empty(t, res.Text)
}

func TestApp_InvokeSync_InvalidRequest(t *testing.T) {
	app := newTestApp(t, model.NewScriptedModel("router"), model.NewScriptedModel("specialist"))

	_, err := app.InvokeSync(t.Context(), "u1", "", "hello")
	assert.Error(t, err)
}

func TestApp_Handler(t *testing.T) {
	app := newTestApp(t, model.NewScriptedModel("router"), model.NewScriptedModel("specialist"))

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ping")
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pong!", string(body))

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)

	defer metrics.Body.Close()

	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}

func TestNew_InvalidBackend(t *testing.T) {
	cfg := testConfig(t, map[string]any{})
	cfg.Embedding.Provider = "carrier_pigeon"

	_, err := New(t.Context(), cfg, func(o *Options) {
		o.Logger = logging.NoOpLogger{}
		o.RouterModel = model.NewScriptedModel("router")
		o.SpecialistModel = model.NewScriptedModel("specialist")
	})
	assert.Error(t, err)
}
