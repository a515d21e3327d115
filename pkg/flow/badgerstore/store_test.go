package badgerstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/fleetflow/pkg/flow"
	"github.com/marmos91/fleetflow/pkg/flow/badgerstore"
	"github.com/marmos91/fleetflow/pkg/flow/memqueue"
)

func newTestFactory(t *testing.T) *badgerstore.Factory {
	t.Helper()
	f, err := badgerstore.Open(badgerstore.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestSessionStore_QueueAndFetchRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)
	q := memqueue.New(memqueue.DefaultConfig())
	t.Cleanup(q.Stop)

	store := f.Open("q1:00000001", q, flow.SecurityToken{Username: "tester"})

	rs := flow.RequestState{ID: 1, SessionID: "q1:00000001", ClientID: "client-a", NextState: "Next"}
	store.QueueRequest(rs)
	store.QueueResponse(flow.Message{SessionID: "q1:00000001", RequestID: 1, ResponseID: 1, Type: flow.MessageTypeStatus})
	require.NoError(t, store.Flush(ctx))

	pairs, moreData, err := store.FetchRequestsAndResponses(ctx)
	require.NoError(t, err)
	assert.False(t, moreData)
	require.Len(t, pairs, 1)
	assert.Equal(t, uint64(1), pairs[0].Request.ID)
	require.Len(t, pairs[0].Responses, 1)
	assert.True(t, pairs[0].Responses[0].IsStatus())
}

func TestSessionStore_DeleteFlowRequestStates(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)
	q := memqueue.New(memqueue.DefaultConfig())
	t.Cleanup(q.Stop)

	store := f.Open("q1:00000002", q, flow.SecurityToken{})

	rs := flow.RequestState{ID: 7, SessionID: "q1:00000002", ClientID: "client-a"}
	msg := flow.Message{SessionID: "q1:00000002", RequestID: 7, ResponseID: 1, Type: flow.MessageTypeStatus}
	store.QueueRequest(rs)
	store.QueueResponse(msg)
	require.NoError(t, store.Flush(ctx))

	store.DeleteFlowRequestStates(rs, []flow.Message{msg})
	require.NoError(t, store.Flush(ctx))

	pairs, _, err := store.FetchRequestsAndResponses(ctx)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestSessionStore_FlowRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)
	q := memqueue.New(memqueue.DefaultConfig())
	t.Cleanup(q.Stop)

	store := f.Open("q1:00000003", q, flow.SecurityToken{})

	_, err := store.LoadFlowRecord(ctx)
	require.Error(t, err)

	fl := &flow.Flow{SessionID: "q1:00000003", Name: "Hunt", State: flow.StateRunning}
	require.NoError(t, store.SaveFlowRecord(ctx, fl))

	loaded, err := store.LoadFlowRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, fl.Name, loaded.Name)
	assert.Equal(t, fl.State, loaded.State)
}

func TestSessionStore_DestroyFlowStates(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)
	q := memqueue.New(memqueue.DefaultConfig())
	t.Cleanup(q.Stop)

	store := f.Open("q1:00000004", q, flow.SecurityToken{})
	store.QueueRequest(flow.RequestState{ID: 1, SessionID: "q1:00000004"})
	store.QueueResponse(flow.Message{SessionID: "q1:00000004", RequestID: 1, ResponseID: 1, Type: flow.MessageTypeStatus})
	require.NoError(t, store.Flush(ctx))

	require.NoError(t, store.DestroyFlowStates(ctx))
	require.NoError(t, store.Flush(ctx))

	pairs, _, err := store.FetchRequestsAndResponses(ctx)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}
