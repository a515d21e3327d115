package flow

import (
	"context"
	"sync"

	"github.com/marmos91/fleetflow/pkg/flow/workerpool"
)

// HuntContext is the unordered variant of Context described in §4.D: it
// drops request-id ordering and dispatches each completed request to a
// worker pool instead of inline, so independent client responses can be
// processed in parallel. An error in one dispatch never blocks its
// siblings — dispatchSync's panic/error handling already isolates each
// call, HuntContext just runs them concurrently.
type HuntContext struct {
	*Context
	Pool *workerpool.Pool
}

// NewHuntContext constructs an unordered FlowContext bound to flow,
// dispatching completed requests through pool.
func NewHuntContext(flow *Flow, class *ClassDef, storeOpen StoreFactory, queue TaskQueue, token SecurityToken, retransmitLimit int, pool *workerpool.Pool) *HuntContext {
	fc := NewContext(flow, class, storeOpen, queue, token, retransmitLimit)
	fc.Ordered = false

	hc := &HuntContext{Context: fc, Pool: pool}

	// wg tracks dispatches submitted during the current
	// ProcessCompletedRequests call; fc.wait blocks until they all signal
	// completion, per §4.D ("ProcessCompletedRequests waits on all
	// signals before returning").
	wg := &sync.WaitGroup{}

	fc.dispatch = func(ctx context.Context, req RequestState, responses []Message) {
		wg.Add(1)
		hc.Pool.Submit(func() {
			defer wg.Done()
			fc.dispatchSync(ctx, req, responses)
		})
	}
	fc.wait = wg.Wait

	return hc
}
