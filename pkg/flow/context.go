package flow

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/fleetflow/internal/logger"
	"github.com/marmos91/fleetflow/pkg/flowerrors"
)

// DefaultRetransmitLimit is the fallback used when no retransmit limit is
// configured. See config.RetransmitConfig.MaxTransmissions.
const DefaultRetransmitLimit = 5

// Context is the per-session state machine described in §4.C: it owns
// outstanding requests, invokes state handlers, and enforces ordering.
// A Context is transient — it is re-created by FlowFactory.LoadFlow on
// every worker hop and must never be serialized alongside its Flow.
type Context struct {
	Flow  *Flow
	Class *ClassDef

	Store      Store
	StoreOpen  StoreFactory
	Queue      TaskQueue
	Token      SecurityToken
	Metrics    MetricsRecorder

	Ordered         bool
	RetransmitLimit int

	// dispatch performs (or schedules) invocation of the named state
	// handler for a completed request. Context's default is synchronous;
	// HuntContext replaces it with a worker-pool submission plus a
	// completion wait at the end of ProcessCompletedRequests.
	dispatch func(ctx context.Context, req RequestState, responses []Message)

	// wait blocks until every dispatch submitted during the current
	// ProcessCompletedRequests call has completed. Context's default is a
	// no-op (dispatch is synchronous); HuntContext waits on its pool.
	wait func()

	outboundMu sync.Mutex
	pending    []RequestState
}

// newBaseContext builds a Context with sane defaults; callers (FlowFactory)
// fill in Flow/Class/Store/Queue/Token before use.
func newBaseContext() *Context {
	fc := &Context{
		Metrics:         NoopMetrics{},
		RetransmitLimit: DefaultRetransmitLimit,
	}
	fc.dispatch = fc.dispatchSync
	fc.wait = func() {}
	return fc
}

// NewContext constructs an ordered FlowContext bound to flow.
func NewContext(flow *Flow, class *ClassDef, storeOpen StoreFactory, queue TaskQueue, token SecurityToken, retransmitLimit int) *Context {
	fc := newBaseContext()
	fc.Flow = flow
	fc.Class = class
	fc.StoreOpen = storeOpen
	fc.Queue = queue
	fc.Token = token
	fc.Ordered = true
	if retransmitLimit > 0 {
		fc.RetransmitLimit = retransmitLimit
	}
	fc.Store = storeOpen.Open(flow.SessionID, queue, token)
	return fc
}

// PendingBuffer exposes the outbound-pending buffer so FlowFactory.StartFlow
// can splice a child flow's Start-state requests into its parent's buffer,
// per §4.E ("if invoked as a child, reuses the parent's pending buffer").
func (fc *Context) PendingBuffer() *[]RequestState {
	return &fc.pending
}

// SetPendingBuffer seeds this context's pending buffer with the current
// contents of shared. It copies the slice rather than aliasing it, so
// StartFlow writes the buffer back to *shared after the child's Start
// state has run; both flows' outbound requests then publish together.
func (fc *Context) SetPendingBuffer(shared *[]RequestState) {
	fc.pending = *shared
}

// CallClient allocates an outbound request id and buffers a RequestState
// addressed to clientID, to be flushed by FlushMessages.
func (fc *Context) CallClient(action string, args map[string]any, nextState string, requestData []byte, clientID string) (uint64, error) {
	fc.outboundMu.Lock()
	defer fc.outboundMu.Unlock()

	if fc.Ordered && !fc.Class.HasState(nextState) {
		return 0, flowerrors.NewInvalidStateTransitionError(fc.Flow.SessionID, nextState)
	}

	id := fc.Flow.NextOutboundID
	fc.Flow.NextOutboundID++

	msg := &Message{
		SessionID: fc.Flow.SessionID,
		Name:      action,
		RequestID: id,
		Type:      MessageTypeMessage,
		AuthState: AuthStateAuthenticated,
		Args:      args,
	}
	rs := RequestState{
		ID:        id,
		SessionID: fc.Flow.SessionID,
		ClientID:  clientID,
		NextState: nextState,
		Data:      requestData,
		Request:   msg,
	}
	fc.pending = append(fc.pending, rs)
	fc.Flow.OutstandingRequests++
	return id, nil
}

// CallFlow allocates an outbound request id tracking a child flow call and
// invokes factory.StartFlow to create the child synchronously, splicing
// its own flush into this context's pending buffer.
func (fc *Context) CallFlow(ctx context.Context, factory *Factory, flowName, nextState string, requestData []byte, clientID string, args map[string]any) (string, error) {
	fc.outboundMu.Lock()
	if fc.Ordered && !fc.Class.HasState(nextState) {
		fc.outboundMu.Unlock()
		return "", flowerrors.NewInvalidStateTransitionError(fc.Flow.SessionID, nextState)
	}
	id := fc.Flow.NextOutboundID
	fc.Flow.NextOutboundID++
	rs := RequestState{
		ID:        id,
		SessionID: fc.Flow.SessionID,
		ClientID:  clientID,
		NextState: nextState,
		FlowName:  flowName,
		Data:      requestData,
	}
	fc.outboundMu.Unlock()

	childSessionID, err := factory.StartFlow(ctx, StartFlowOptions{
		ClientID:          clientID,
		FlowName:          flowName,
		Args:              args,
		ParentRequestState: &rs,
		ParentPendingBuffer: &fc.pending,
	})
	if err != nil {
		return "", err
	}

	fc.outboundMu.Lock()
	fc.pending = append(fc.pending, rs)
	fc.Flow.OutstandingRequests++
	fc.Flow.Children = append(fc.Flow.Children, childSessionID)
	fc.outboundMu.Unlock()

	return childSessionID, nil
}

// CallState is a self-dispatch: it builds a RequestState addressed to this
// flow's own session, persists it and its responses immediately (unlike
// CallClient/CallFlow, which defer to FlushMessages), schedules the
// terminal STATUS on the flow's own worker queue, and notifies it.
func (fc *Context) CallState(ctx context.Context, messages []Message, nextState string, clientID string) error {
	fc.outboundMu.Lock()
	if fc.Ordered && !fc.Class.HasState(nextState) {
		fc.outboundMu.Unlock()
		return flowerrors.NewInvalidStateTransitionError(fc.Flow.SessionID, nextState)
	}
	id := fc.Flow.NextOutboundID
	fc.Flow.NextOutboundID++
	fc.Flow.OutstandingRequests++
	fc.outboundMu.Unlock()

	if len(messages) == 0 || !messages[len(messages)-1].IsStatus() {
		messages = append(messages, Message{Type: MessageTypeStatus})
	}
	for i := range messages {
		messages[i].SessionID = fc.Flow.SessionID
		messages[i].RequestID = id
		messages[i].ResponseID = i + 1
		messages[i].AuthState = AuthStateAuthenticated
	}

	rs := RequestState{
		ID:        id,
		SessionID: fc.Flow.SessionID,
		ClientID:  clientID,
		NextState: nextState,
	}

	fc.Store.QueueRequest(rs)
	for _, m := range messages {
		fc.Store.QueueResponse(m)
	}
	if err := fc.Store.Flush(ctx); err != nil {
		return err
	}

	status := messages[len(messages)-1]
	task := Task{Queue: fc.Flow.SessionID, Value: encodeMessage(status)}
	scheduled, err := fc.Queue.Schedule(ctx, []Task{task}, true, fc.Token)
	if err != nil {
		return err
	}
	if len(scheduled) > 0 {
		rs.TSID = scheduled[0].ID
	}
	return fc.Queue.Notify(ctx, sessionQueue(fc.Flow.SessionID), fc.Flow.SessionID, fc.Token)
}

// SendReply delivers payload to this flow's parent, if any. It is a no-op
// if the flow has no parent.
func (fc *Context) SendReply(ctx context.Context, payload Message) error {
	if !fc.Flow.IsChild() {
		return nil
	}
	parentRS := fc.Flow.RequestState
	parentRS.ResponseCount++

	msg := payload
	msg.SessionID = parentRS.SessionID
	msg.RequestID = parentRS.ID
	msg.ResponseID = parentRS.ResponseCount
	msg.AuthState = AuthStateAuthenticated

	parentStore := fc.StoreOpen.Open(parentRS.SessionID, fc.Queue, fc.Token)

	parentQueue := sessionQueue(parentRS.SessionID)
	if msg.IsStatus() {
		msg.CPUTimeUsedMicros = fc.Flow.CPUUsed.UserMicros + fc.Flow.CPUUsed.SystemMicros
		msg.NetworkBytesSent = fc.Flow.NetworkBytesSent
		msg.ChildSessionID = fc.Flow.SessionID

		if _, err := fc.Queue.Schedule(ctx, []Task{{Queue: parentQueue, Value: encodeMessage(msg)}}, true, fc.Token); err != nil {
			return err
		}
	}
	parentStore.QueueResponse(msg)

	if err := parentStore.Flush(ctx); err != nil {
		return err
	}
	return fc.Queue.Notify(ctx, parentQueue, parentRS.SessionID, fc.Token)
}

// FlushMessages publishes every buffered outbound request: client-directed
// requests are scheduled on the client's queue, and every request is
// persisted to its owning session's FlowStore. Called at the end of each
// state-dispatch cycle.
func (fc *Context) FlushMessages(ctx context.Context) error {
	fc.outboundMu.Lock()
	batch := fc.pending
	fc.pending = nil
	fc.outboundMu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	byClient := make(map[string][]int)
	for i, rs := range batch {
		if rs.ClientID == "" || rs.Request == nil || rs.Request.Name == "" {
			continue
		}
		byClient[rs.ClientID] = append(byClient[rs.ClientID], i)
	}

	for clientID, idxs := range byClient {
		tasks := make([]Task, len(idxs))
		for j, i := range idxs {
			tasks[j] = Task{Queue: clientID, Value: encodeMessage(*batch[i].Request)}
		}
		scheduled, err := fc.Queue.Schedule(ctx, tasks, true, fc.Token)
		if err != nil {
			return fmt.Errorf("flow: schedule client tasks: %w", err)
		}
		for j, i := range idxs {
			if j < len(scheduled) {
				batch[i].TSID = scheduled[j].ID
			}
		}
	}

	bySession := make(map[string][]int)
	for i, rs := range batch {
		bySession[rs.SessionID] = append(bySession[rs.SessionID], i)
	}

	for sessionID, idxs := range bySession {
		store := fc.StoreOpen.Open(sessionID, fc.Queue, fc.Token)
		for _, i := range idxs {
			store.QueueRequest(batch[i])
		}
		if err := store.Flush(ctx); err != nil {
			if flowerrors.IsMoreDataError(err) {
				continue
			}
			fc.Metrics.FlushErrorTotal("flush_messages")
			logger.ErrorCtx(ctx, "flush messages failed", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// ProcessCompletedRequests is the heart of the engine (§4.C). It fetches
// completed (request, responses) pairs from the FlowStore, enforces
// ordering for Context (HuntContext overrides dispatch only, not the
// fetch/claim loop), retransmits incomplete requests up to RetransmitLimit,
// and dispatches complete ones to their named state handler.
func (fc *Context) ProcessCompletedRequests(ctx context.Context) error {
	if fc.Flow.State != StateRunning {
		pairs, _, err := fc.Store.FetchRequestsAndResponses(ctx)
		if err != nil {
			return err
		}
		for _, p := range pairs {
			fc.Store.DeleteFlowRequestStates(p.Request, p.Responses)
		}
		return fc.Store.Flush(ctx)
	}

	pairs, moreData, err := fc.Store.FetchRequestsAndResponses(ctx)
	if err != nil {
		return err
	}

	// OutstandingRequests is transient (§ types.go) and must be re-derived
	// from the store on every load: it starts as the number of requests
	// currently pending for this session, then this pass's dispatches (and
	// any new CallClient/CallFlow calls they make) adjust it from there.
	fc.Flow.OutstandingRequests = len(pairs)

	var retransmits []RequestState

	for _, p := range pairs {
		req, resps := p.Request, p.Responses
		if req.ID == 0 || len(resps) == 0 {
			continue
		}
		if fc.Ordered {
			if req.ID > fc.Flow.NextProcessedRequest {
				break
			}
			if req.ID < fc.Flow.NextProcessedRequest {
				fc.Metrics.OutOfOrderTotal(fc.Flow.Name)
				fc.Store.DeleteFlowRequestStates(req, resps)
				continue
			}
		}
		last := resps[len(resps)-1]
		if !last.IsStatus() {
			continue
		}
		fc.Store.DeleteFlowRequestStates(req, resps)

		if len(resps) != last.ResponseID {
			if req.TransmissionCount < fc.RetransmitLimit {
				req.TransmissionCount++
				fc.Metrics.RetransmitTotal(fc.Flow.Name)
				retransmits = append(retransmits, req)
			} else {
				fc.Metrics.RetransmitExhaustedTotal(fc.Flow.Name)
			}
			break
		}

		if fc.Flow.State != StateRunning {
			break
		}
		fc.Metrics.DispatchTotal(fc.Flow.Name, req.NextState)
		fc.dispatch(ctx, req, resps)
		if fc.Ordered {
			fc.Flow.NextProcessedRequest++
		}
		fc.Flow.OutstandingRequests--
	}

	fc.wait()

	fc.outboundMu.Lock()
	fc.pending = append(fc.pending, retransmits...)
	fc.outboundMu.Unlock()

	// Commit this cycle's claims (the deletes recorded above) before
	// republishing anything: a retransmit reuses the same request id, and
	// flushing it first would let this stale delete marker undo it.
	if err := fc.Store.Flush(ctx); err != nil {
		logger.ErrorCtx(ctx, "process completed requests flush failed", "session_id", fc.Flow.SessionID, "error", err)
	}

	// The End dispatch runs before FlushMessages so that any CallClient/
	// CallFlow it issues is flushed in the same pass, not dropped.
	if !moreData && fc.Flow.OutstandingRequests == 0 && fc.Flow.State == StateRunning && fc.Flow.CurrentState != "End" {
		fc.safeDispatchNamed(ctx, "End", RequestState{}, nil)
	}

	// FlushMessages publishes retransmits and every request the dispatched
	// handlers (and End, above) buffered via CallClient/CallFlow; it must
	// run before Save so the pending buffer is empty by the time the
	// worker persists the flow (§4.E, §9).
	if err := fc.FlushMessages(ctx); err != nil {
		logger.ErrorCtx(ctx, "process completed requests flush messages failed", "session_id", fc.Flow.SessionID, "error", err)
	}

	if moreData {
		return fc.Queue.Notify(ctx, sessionQueue(fc.Flow.SessionID), fc.Flow.SessionID, fc.Token)
	}

	if fc.Flow.OutstandingRequests == 0 {
		return fc.Terminate(ctx)
	}
	return nil
}

// dispatchSync is Context's default dispatch: invoke the handler directly.
func (fc *Context) dispatchSync(ctx context.Context, req RequestState, responses []Message) {
	fc.safeDispatchNamed(ctx, req.NextState, req, responses)
}

// safeDispatchNamed looks up stateName on the flow's class and invokes it,
// converting a handler error or panic into a flow-level ERROR per §4.C's
// "Dispatch" rule.
func (fc *Context) safeDispatchNamed(ctx context.Context, stateName string, req RequestState, responses []Message) {
	handler, ok := fc.Class.States[stateName]
	if !ok {
		fc.fail(ctx, flowerrors.NewInvalidStateTransitionError(fc.Flow.SessionID, stateName))
		return
	}
	fc.Flow.CurrentState = stateName

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("flow: panic in state %q: %v", stateName, r)
			}
		}()
		return handler(ctx, fc, fc.Flow, req, responses)
	}()
	if err != nil {
		fc.fail(ctx, err)
	}
}

// fail converts a dispatch error into a flow-level ERROR: records the
// backtrace, replies STATUS(GENERIC_ERROR) to the parent if present, and
// notifies a well-known status sink.
func (fc *Context) fail(ctx context.Context, cause error) {
	fc.Flow.State = StateError
	fc.Flow.Backtrace = cause.Error()
	logger.ErrorCtx(ctx, "flow dispatch failed", "session_id", fc.Flow.SessionID, "error", cause)

	if fc.Flow.IsChild() {
		_ = fc.SendReply(ctx, Message{
			Type: MessageTypeStatus,
			Args: map[string]any{"error": "GENERIC_ERROR", "detail": cause.Error()},
		})
	}
	_ = fc.Queue.Notify(ctx, "FlowStatus", fc.Flow.SessionID, fc.Token)
}

// Terminate dequeues all residual client tasks, deletes all session
// records, and transitions the flow to TERMINATED.
func (fc *Context) Terminate(ctx context.Context) error {
	if err := fc.Store.DestroyFlowStates(ctx); err != nil {
		return err
	}
	if err := fc.Store.Flush(ctx); err != nil {
		logger.ErrorCtx(ctx, "terminate flush failed", "session_id", fc.Flow.SessionID, "error", err)
	}
	if fc.Flow.State == StateRunning {
		fc.Flow.State = StateTerminated
	}
	return nil
}

// sessionQueue extracts the worker-queue name from a session id, falling
// back to the raw id if it cannot be parsed (well-known sinks).
func sessionQueue(sessionID string) string {
	s, err := ParseSession(sessionID)
	if err != nil {
		return sessionID
	}
	return s.Queue
}
