package flow_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/fleetflow/pkg/flow"
	"github.com/marmos91/fleetflow/pkg/flow/badgerstore"
	"github.com/marmos91/fleetflow/pkg/flow/memqueue"
)

// testMetrics counts every MetricsRecorder call, guarded by a mutex so hunt
// tests can dispatch concurrently without racing on the counters.
type testMetrics struct {
	mu                sync.Mutex
	dispatch          int
	retransmit        int
	retransmitExhaust int
	outOfOrder        int
	flushError        int
}

func (m *testMetrics) DispatchTotal(string, string) {
	m.mu.Lock()
	m.dispatch++
	m.mu.Unlock()
}
func (m *testMetrics) RetransmitTotal(string) {
	m.mu.Lock()
	m.retransmit++
	m.mu.Unlock()
}
func (m *testMetrics) RetransmitExhaustedTotal(string) {
	m.mu.Lock()
	m.retransmitExhaust++
	m.mu.Unlock()
}
func (m *testMetrics) OutOfOrderTotal(string) {
	m.mu.Lock()
	m.outOfOrder++
	m.mu.Unlock()
}
func (m *testMetrics) FlushErrorTotal(string) {
	m.mu.Lock()
	m.flushError++
	m.mu.Unlock()
}
func (m *testMetrics) QueueDepth(string, int)        {}
func (m *testMetrics) WorkerPoolUtilization(float64) {}

// newTestEngine wires a Factory against an in-memory badgerstore and a
// memqueue, the same backing pair pkg/statusapi's router tests use.
func newTestEngine(t *testing.T, registry *flow.ClassRegistry, metrics flow.MetricsRecorder) (*flow.Factory, flow.TaskQueue) {
	t.Helper()
	store, err := badgerstore.Open(badgerstore.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	queue := memqueue.New(memqueue.DefaultConfig())
	t.Cleanup(queue.Stop)

	return flow.NewFactory(registry, store, queue, metrics, 5), queue
}

// runCycle performs one worker hop: load, process completed requests, save.
// It mirrors Worker.processOne without depending on its unexported internals.
func runCycle(t *testing.T, f *flow.Factory, sessionID string, token flow.SecurityToken) *flow.Context {
	t.Helper()
	fc, err := f.LoadFlow(context.Background(), sessionID, token)
	require.NoError(t, err)
	require.NoError(t, fc.ProcessCompletedRequests(context.Background()))
	require.NoError(t, f.SaveFlow(context.Background(), fc))
	return fc
}

// respond writes a completed (request, responses) pair directly into the
// session's own FlowStore, simulating an external client's delivery.
func respond(t *testing.T, f *flow.Factory, sessionID string, token flow.SecurityToken, requestID uint64, msgs ...flow.Message) {
	t.Helper()
	store := (&storeOpener{f}).open(sessionID, token)
	for i, m := range msgs {
		m.SessionID = sessionID
		m.RequestID = requestID
		m.ResponseID = i + 1
		store.QueueResponse(m)
	}
	require.NoError(t, store.Flush(context.Background()))
}

// storeOpener exposes Factory's StoreOpen to tests without reaching into
// unexported fields.
type storeOpener struct{ f *flow.Factory }

func (s *storeOpener) open(sessionID string, token flow.SecurityToken) flow.Store {
	return s.f.StoreOpen.Open(sessionID, s.f.Queue, token)
}

// echoClass models scenario 1: Start calls CallClient("Echo", ..., "Done"),
// Done records what it received, End is a terminal no-op.
func echoClass(t *testing.T, done chan<- []flow.Message) *flow.ClassDef {
	return &flow.ClassDef{
		Name:    "Echo",
		Ordered: true,
		New:     func() *flow.Flow { return &flow.Flow{} },
		States: map[string]flow.StateHandler{
			"Start": func(ctx context.Context, fc *flow.Context, fl *flow.Flow, req flow.RequestState, resps []flow.Message) error {
				_, err := fc.CallClient("Echo", map[string]any{"payload": "x"}, "Done", nil, fl.ClientID)
				return err
			},
			"Done": func(ctx context.Context, fc *flow.Context, fl *flow.Flow, req flow.RequestState, resps []flow.Message) error {
				done <- resps
				return nil
			},
			"End": func(ctx context.Context, fc *flow.Context, fl *flow.Flow, req flow.RequestState, resps []flow.Message) error {
				return nil
			},
		},
	}
}

func TestProcessCompletedRequests_LinearFlow(t *testing.T) {
	done := make(chan []flow.Message, 1)
	registry := flow.NewClassRegistry()
	registry.Register(echoClass(t, done))
	metrics := &testMetrics{}
	f, _ := newTestEngine(t, registry, metrics)
	token := flow.SecurityToken{Username: "tester"}

	sessionID, err := f.StartFlow(context.Background(), flow.StartFlowOptions{
		ClientID: "q1",
		FlowName: "Echo",
		Token:    token,
	})
	require.NoError(t, err)

	// Start allocated outbound id 1, not 0 (the well-known sentinel).
	fc, err := f.LoadFlow(context.Background(), sessionID, token)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), fc.Flow.NextOutboundID)
	assert.Equal(t, uint64(1), fc.Flow.NextProcessedRequest)

	respond(t, f, sessionID, token, 1,
		flow.Message{Type: flow.MessageTypeMessage, Args: map[string]any{"payload": "x"}},
		flow.Message{Type: flow.MessageTypeStatus},
	)

	runCycle(t, f, sessionID, token)

	select {
	case resps := <-done:
		require.Len(t, resps, 2)
		assert.False(t, resps[0].IsStatus())
		assert.True(t, resps[1].IsStatus())
	default:
		t.Fatal("Done state was never dispatched")
	}

	final, err := f.LoadFlow(context.Background(), sessionID, token)
	require.NoError(t, err)
	assert.Equal(t, flow.StateTerminated, final.Flow.State)
	assert.Equal(t, 1, metrics.dispatch)
}

func TestProcessCompletedRequests_OutOfOrder(t *testing.T) {
	var mu sync.Mutex
	var order []uint64
	registry := flow.NewClassRegistry()
	registry.Register(&flow.ClassDef{
		Name:    "TwoCalls",
		Ordered: true,
		New:     func() *flow.Flow { return &flow.Flow{} },
		States: map[string]flow.StateHandler{
			"Start": func(ctx context.Context, fc *flow.Context, fl *flow.Flow, req flow.RequestState, resps []flow.Message) error {
				if _, err := fc.CallClient("A", nil, "Got", nil, fl.ClientID); err != nil {
					return err
				}
				_, err := fc.CallClient("B", nil, "Got", nil, fl.ClientID)
				return err
			},
			"Got": func(ctx context.Context, fc *flow.Context, fl *flow.Flow, req flow.RequestState, resps []flow.Message) error {
				mu.Lock()
				order = append(order, req.ID)
				mu.Unlock()
				return nil
			},
			"End": func(ctx context.Context, fc *flow.Context, fl *flow.Flow, req flow.RequestState, resps []flow.Message) error {
				return nil
			},
		},
	})
	metrics := &testMetrics{}
	f, _ := newTestEngine(t, registry, metrics)
	token := flow.SecurityToken{Username: "tester"}

	sessionID, err := f.StartFlow(context.Background(), flow.StartFlowOptions{ClientID: "q1", FlowName: "TwoCalls", Token: token})
	require.NoError(t, err)

	// Respond to request 2 before request 1.
	respond(t, f, sessionID, token, 2, flow.Message{Type: flow.MessageTypeStatus})
	runCycle(t, f, sessionID, token)
	mu.Lock()
	assert.Empty(t, order, "dispatch must wait for request 1 before dispatching request 2")
	mu.Unlock()

	respond(t, f, sessionID, token, 1, flow.Message{Type: flow.MessageTypeStatus})
	runCycle(t, f, sessionID, token)

	mu.Lock()
	assert.Equal(t, []uint64{1, 2}, order)
	mu.Unlock()
}

func TestProcessCompletedRequests_RetransmitThenAbandon(t *testing.T) {
	dispatched := 0
	registry := flow.NewClassRegistry()
	registry.Register(&flow.ClassDef{
		Name:    "Gappy",
		Ordered: true,
		New:     func() *flow.Flow { return &flow.Flow{} },
		States: map[string]flow.StateHandler{
			"Start": func(ctx context.Context, fc *flow.Context, fl *flow.Flow, req flow.RequestState, resps []flow.Message) error {
				_, err := fc.CallClient("Ping", nil, "Got", nil, fl.ClientID)
				return err
			},
			"Got": func(ctx context.Context, fc *flow.Context, fl *flow.Flow, req flow.RequestState, resps []flow.Message) error {
				dispatched++
				return nil
			},
			"End": func(ctx context.Context, fc *flow.Context, fl *flow.Flow, req flow.RequestState, resps []flow.Message) error {
				return nil
			},
		},
	})
	metrics := &testMetrics{}
	f, _ := newTestEngine(t, registry, metrics)
	token := flow.SecurityToken{Username: "tester"}

	sessionID, err := f.StartFlow(context.Background(), flow.StartFlowOptions{ClientID: "q1", FlowName: "Gappy", Token: token})
	require.NoError(t, err)

	// Response 1 present, response 2 missing, response 3 (STATUS) present —
	// a gap. Each cycle re-seeds it, modeling a client that keeps
	// retransmitting the same incomplete answer.
	seedGap := func() {
		store := (&storeOpener{f}).open(sessionID, token)
		store.QueueResponse(flow.Message{SessionID: sessionID, RequestID: 1, ResponseID: 1, Type: flow.MessageTypeMessage})
		store.QueueResponse(flow.Message{SessionID: sessionID, RequestID: 1, ResponseID: 3, Type: flow.MessageTypeStatus})
		require.NoError(t, store.Flush(context.Background()))
	}

	// 5 gap cycles retransmit (transmission_count 0->5); the 6th abandons.
	for i := 0; i < 6; i++ {
		seedGap()
		runCycle(t, f, sessionID, token)
	}

	assert.Equal(t, 0, dispatched, "a request stuck in a permanent gap must never dispatch")
	assert.Equal(t, 5, metrics.retransmit)
	assert.GreaterOrEqual(t, metrics.retransmitExhaust, 1)

	final, err := f.LoadFlow(context.Background(), sessionID, token)
	require.NoError(t, err)
	assert.Equal(t, flow.StateRunning, final.Flow.State, "an abandoned request must not terminate the flow")
}

func TestDispatch_StateMethodError(t *testing.T) {
	registry := flow.NewClassRegistry()
	registry.Register(&flow.ClassDef{
		Name:    "Faulty",
		Ordered: true,
		New:     func() *flow.Flow { return &flow.Flow{} },
		States: map[string]flow.StateHandler{
			"Start": func(ctx context.Context, fc *flow.Context, fl *flow.Flow, req flow.RequestState, resps []flow.Message) error {
				return errors.New("boom")
			},
		},
	})
	metrics := &testMetrics{}
	f, queue := newTestEngine(t, registry, metrics)
	token := flow.SecurityToken{Username: "tester"}

	sessionID, err := f.StartFlow(context.Background(), flow.StartFlowOptions{ClientID: "q1", FlowName: "Faulty", Token: token})
	require.NoError(t, err)

	fc, err := f.LoadFlow(context.Background(), sessionID, token)
	require.NoError(t, err)
	assert.Equal(t, flow.StateError, fc.Flow.State)
	assert.Contains(t, fc.Flow.Backtrace, "boom")

	sessions, err := queue.Lease(context.Background(), "FlowStatus")
	require.NoError(t, err)
	assert.Contains(t, sessions, sessionID)
}

func TestDispatch_PanicIsRecovered(t *testing.T) {
	registry := flow.NewClassRegistry()
	registry.Register(&flow.ClassDef{
		Name:    "Panicky",
		Ordered: true,
		New:     func() *flow.Flow { return &flow.Flow{} },
		States: map[string]flow.StateHandler{
			"Start": func(ctx context.Context, fc *flow.Context, fl *flow.Flow, req flow.RequestState, resps []flow.Message) error {
				panic("kaboom")
			},
		},
	})
	f, _ := newTestEngine(t, registry, &testMetrics{})
	token := flow.SecurityToken{Username: "tester"}

	sessionID, err := f.StartFlow(context.Background(), flow.StartFlowOptions{ClientID: "q1", FlowName: "Panicky", Token: token})
	require.NoError(t, err)

	fc, err := f.LoadFlow(context.Background(), sessionID, token)
	require.NoError(t, err)
	assert.Equal(t, flow.StateError, fc.Flow.State)
	assert.Contains(t, fc.Flow.Backtrace, "kaboom")
}
