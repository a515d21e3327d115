package flow_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/fleetflow/pkg/flow"
	"github.com/marmos91/fleetflow/pkg/flow/badgerstore"
	"github.com/marmos91/fleetflow/pkg/flow/memqueue"
	"github.com/marmos91/fleetflow/pkg/flow/workerpool"
)

// TestHuntContext_DispatchesOutOfOrderConcurrently models spec scenario 5:
// HuntContext drops id ordering and fans completed requests out across a
// worker pool, so responses delivered in scrambled order still all
// dispatch, and at least some of them genuinely overlap in time.
func TestHuntContext_DispatchesOutOfOrderConcurrently(t *testing.T) {
	const n = 24

	storeFactory, err := badgerstore.Open(badgerstore.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storeFactory.Close() })

	queue := memqueue.New(memqueue.DefaultConfig())
	t.Cleanup(queue.Stop)

	pool := workerpool.New(workerpool.Config{Workers: 6})
	t.Cleanup(func() { pool.Stop(2 * time.Second) })

	var mu sync.Mutex
	seen := make(map[uint64]bool)
	concurrent, maxConcurrent := 0, 0

	class := &flow.ClassDef{
		Name:    "Hunt",
		Ordered: false,
		New:     func() *flow.Flow { return &flow.Flow{} },
		States: map[string]flow.StateHandler{
			"Got": func(ctx context.Context, fc *flow.Context, fl *flow.Flow, req flow.RequestState, resps []flow.Message) error {
				mu.Lock()
				concurrent++
				if concurrent > maxConcurrent {
					maxConcurrent = concurrent
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				seen[req.ID] = true
				concurrent--
				mu.Unlock()
				return nil
			},
			"End": func(ctx context.Context, fc *flow.Context, fl *flow.Flow, req flow.RequestState, resps []flow.Message) error {
				return nil
			},
		},
	}

	token := flow.SecurityToken{Username: "tester"}
	fl := &flow.Flow{
		SessionID:            "hunt:00000001",
		Name:                 "Hunt",
		State:                flow.StateRunning,
		NextProcessedRequest: 1,
		NextOutboundID:       1,
	}

	hc := flow.NewHuntContext(fl, class, storeFactory, queue, token, 5, pool)

	for i := uint64(1); i <= n; i++ {
		_, err := hc.CallClient(fmt.Sprintf("Ping%d", i), nil, "Got", nil, "hunt")
		require.NoError(t, err)
	}
	require.NoError(t, hc.FlushMessages(context.Background()))

	// Deliver the n STATUS responses in a scrambled (non-ascending) order —
	// Ordered dispatch would stall on the first gap; Hunt must not.
	order := make([]uint64, n)
	for i := range order {
		order[i] = uint64(i + 1)
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		if i%2 == 0 {
			order[i], order[j] = order[j], order[i]
		}
	}

	store := storeFactory.Open(fl.SessionID, queue, token)
	for _, id := range order {
		store.QueueResponse(flow.Message{SessionID: fl.SessionID, RequestID: id, ResponseID: 1, Type: flow.MessageTypeStatus})
	}
	require.NoError(t, store.Flush(context.Background()))

	require.NoError(t, hc.ProcessCompletedRequests(context.Background()))

	assert.Len(t, seen, n)
	assert.Greater(t, maxConcurrent, 1, "hunt dispatch must run handlers concurrently, not one at a time")
	assert.Equal(t, 0, fl.OutstandingRequests)
	assert.Equal(t, flow.StateTerminated, fl.State)
}
