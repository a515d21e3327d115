package flow

import "context"

// RequestLimit and ResponseLimit bound the two range scans
// FetchRequestsAndResponses performs per call, per §4.A.
const (
	RequestLimit  = 10_000
	ResponseLimit = 100_000
)

// Pair joins a RequestState with its responses in ascending response-id
// order, as yielded by FetchRequestsAndResponses.
type Pair struct {
	Request   RequestState
	Responses []Message
}

// Store is a FlowStore handle scoped to a single session. Callers obtain
// one via StoreFactory.Open, perform operations, and must call Flush on
// every exit path (success or failure) so buffered writes/deletes land.
//
// Two backends implement this interface: package badgerstore (embedded,
// default) and package sqlstore (gorm/postgres).
type Store interface {
	// FetchRequestsAndResponses yields (RequestState, []Message) pairs in
	// ascending request-id order. If either the request or response scan
	// hits its bound (RequestLimit / ResponseLimit), the returned moreData
	// is true: the caller has already received everything fetched so far
	// and should treat the scan as incomplete, not failed.
	FetchRequestsAndResponses(ctx context.Context) (pairs []Pair, moreData bool, err error)

	// QueueRequest buffers a RequestState for the next Flush. Multiple
	// calls for the same session append.
	QueueRequest(rs RequestState)

	// QueueResponse buffers a Message for the next Flush.
	QueueResponse(msg Message)

	// DeleteFlowRequestStates marks a request and all of its responses for
	// deletion on the next Flush, and records the request's ts_id/client_id
	// so Flush can dequeue the corresponding outbound task.
	DeleteFlowRequestStates(rs RequestState, responses []Message)

	// DestroyFlowStates iterates every request/response key for the
	// session, records every ts_id for dequeue, and marks the whole
	// session subject for deletion.
	DestroyFlowStates(ctx context.Context) error

	// Flush performs one atomic multi-write + multi-delete against the
	// durable store, then calls TaskQueue.Delete for every ts_id recorded
	// by DeleteFlowRequestStates/DestroyFlowStates. Errors from the
	// durable store are swallowed (best-effort, logged); errors from the
	// TaskQueue are returned.
	Flush(ctx context.Context) error

	// LoadFlowRecord reads the persisted Flow record under this session's
	// "task:<session_id>:state" subject.
	LoadFlowRecord(ctx context.Context) (*Flow, error)

	// SaveFlowRecord writes the Flow record under this session's
	// "task:<session_id>:state" subject.
	SaveFlowRecord(ctx context.Context, flow *Flow) error
}

// StoreFactory opens a session-scoped Store handle against a backend.
type StoreFactory interface {
	Open(sessionID string, queue TaskQueue, token SecurityToken) Store
}
