package statusapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/fleetflow/pkg/flow"
	"github.com/marmos91/fleetflow/pkg/flow/badgerstore"
	"github.com/marmos91/fleetflow/pkg/flow/memqueue"
	"github.com/marmos91/fleetflow/pkg/statusapi"
)

func newTestRuntime(t *testing.T) statusapi.Runtime {
	t.Helper()
	f, err := badgerstore.Open(badgerstore.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	q := memqueue.New(memqueue.DefaultConfig())
	t.Cleanup(q.Stop)

	return statusapi.Runtime{
		StoreOpen: f,
		Queue:     q,
		Token:     flow.SecurityToken{Username: "tester"},
		Workers:   []string{"q1"},
	}
}

func TestRouter_Healthz(t *testing.T) {
	rt := newTestRuntime(t)
	srv := httptest.NewServer(statusapi.NewRouter(rt))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status  string   `json:"status"`
		Workers []string `json:"workers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, []string{"q1"}, body.Workers)
}

func TestRouter_FlowNotFound(t *testing.T) {
	rt := newTestRuntime(t)
	srv := httptest.NewServer(statusapi.NewRouter(rt))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/flows/q1:0000dead")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_FlowFound(t *testing.T) {
	rt := newTestRuntime(t)

	store := rt.StoreOpen.Open("q1:0000beef", rt.Queue, rt.Token)
	require.NoError(t, store.SaveFlowRecord(context.Background(), &flow.Flow{
		SessionID: "q1:0000beef",
		Name:      "Hunt",
		State:     flow.StateRunning,
	}))

	srv := httptest.NewServer(statusapi.NewRouter(rt))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/flows/q1:0000beef")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fl flow.Flow
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fl))
	assert.Equal(t, "Hunt", fl.Name)
	assert.Equal(t, flow.StateRunning, fl.State)
}
