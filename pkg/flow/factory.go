package flow

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/fleetflow/internal/logger"
	"github.com/marmos91/fleetflow/pkg/flowerrors"
)

// Factory creates, locks, loads, saves, and destroys flows, and resolves
// state-method dispatch through a ClassRegistry (§4.E).
type Factory struct {
	Registry  *ClassRegistry
	StoreOpen StoreFactory
	Queue     TaskQueue
	Metrics   MetricsRecorder

	RetransmitLimit int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewFactory builds a Factory. retransmitLimit <= 0 falls back to
// DefaultRetransmitLimit.
func NewFactory(registry *ClassRegistry, storeOpen StoreFactory, queue TaskQueue, metrics MetricsRecorder, retransmitLimit int) *Factory {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Factory{
		Registry:        registry,
		StoreOpen:       storeOpen,
		Queue:           queue,
		Metrics:         metrics,
		RetransmitLimit: retransmitLimit,
		locks:           make(map[string]*sync.Mutex),
	}
}

// StartFlowOptions configures Factory.StartFlow.
type StartFlowOptions struct {
	ClientID string
	FlowName string
	Args     map[string]any
	Creator  string
	EventID  string
	Priority int

	// ParentRequestState, if set, marks this as a child flow: it is
	// embedded into the child's persisted record and its responses are
	// delivered back to the parent via SendReply.
	ParentRequestState *RequestState

	// ParentPendingBuffer, if set, is spliced into the child's context so
	// the child's Start-state requests flush alongside the parent's own
	// pending buffer in a single FlushMessages call.
	ParentPendingBuffer *[]RequestState

	// Token authorizes the store/queue operations StartFlow performs.
	Token SecurityToken
}

// StartFlow instantiates a flow of the named class, runs its Start state
// synchronously, and flushes messages (§4.E).
func (f *Factory) StartFlow(ctx context.Context, opts StartFlowOptions) (string, error) {
	class, ok := f.Registry.Lookup(opts.FlowName)
	if !ok {
		return "", flowerrors.NewInvalidArgumentError(fmt.Sprintf("unknown flow class %q", opts.FlowName))
	}

	queueName := opts.ClientID
	if queueName == "" {
		queueName = "hunt"
	}
	sessionID, err := f.newSessionID(ctx, queueName)
	if err != nil {
		return "", err
	}

	flow := class.New()
	flow.SessionID = sessionID
	flow.Name = opts.FlowName
	flow.Creator = opts.Creator
	flow.EventID = opts.EventID
	flow.ClientID = opts.ClientID
	flow.Priority = opts.Priority
	flow.Args = opts.Args
	flow.State = StateRunning
	flow.CreateTime = time.Now().UnixMicro()
	flow.RequestState = opts.ParentRequestState
	// Both cursors start at 1, not 0: 0 is the "no request" sentinel
	// ProcessCompletedRequests checks for (req.ID == 0), so a fresh flow's
	// first allocated outbound id and first expected request id must skip it.
	flow.NextProcessedRequest = 1
	flow.NextOutboundID = 1

	fc := NewContext(flow, class, f.StoreOpen, f.Queue, opts.Token, f.RetransmitLimit)
	fc.Ordered = class.Ordered
	if opts.ParentPendingBuffer != nil {
		fc.SetPendingBuffer(opts.ParentPendingBuffer)
	}

	fc.safeDispatchNamed(ctx, "Start", RequestState{}, nil)

	if opts.ParentPendingBuffer != nil {
		*opts.ParentPendingBuffer = fc.pending
	} else if err := fc.FlushMessages(ctx); err != nil {
		return "", err
	}

	if err := f.SaveFlow(ctx, fc); err != nil {
		return "", err
	}

	logger.InfoCtx(ctx, "flow started", "session_id", sessionID, "flow_name", opts.FlowName)
	return sessionID, nil
}

// LoadFlow materializes a flow from the store, re-binding its transient
// context to a fresh store handle and outbound lock.
func (f *Factory) LoadFlow(ctx context.Context, sessionID string, token SecurityToken) (*Context, error) {
	store := f.StoreOpen.Open(sessionID, f.Queue, token)
	raw, err := store.LoadFlowRecord(ctx)
	if err != nil {
		return nil, err
	}

	class, ok := f.Registry.Lookup(raw.Name)
	if !ok {
		return nil, flowerrors.NewInvalidArgumentError(fmt.Sprintf("unknown flow class %q", raw.Name))
	}

	fc := NewContext(raw, class, f.StoreOpen, f.Queue, token, f.RetransmitLimit)
	fc.Ordered = class.Ordered
	fc.Metrics = f.Metrics
	return fc, nil
}

// SaveFlow serializes the flow. Transient fields are zeroed by
// EncodeFlow's json:"-" tags; the pending buffer must be empty at this
// point because FlushMessages always runs before Save (§4.E, §9).
func (f *Factory) SaveFlow(ctx context.Context, fc *Context) error {
	if len(fc.pending) != 0 {
		logger.WarnCtx(ctx, "saving flow with non-empty pending buffer", "session_id", fc.Flow.SessionID, "pending", len(fc.pending))
	}
	return fc.Store.SaveFlowRecord(ctx, fc.Flow)
}

// DestroyFlow tears down a flow's durable records and worker queue tasks.
func (f *Factory) DestroyFlow(ctx context.Context, fc *Context) error {
	return fc.Terminate(ctx)
}

// Lock acquires the per-session mutex serializing mutation of a flow,
// returning an unlock function. Flows must only be mutated while this
// lock is held (§5).
func (f *Factory) Lock(sessionID string) (unlock func()) {
	f.locksMu.Lock()
	m, ok := f.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		f.locks[sessionID] = m
	}
	f.locksMu.Unlock()

	m.Lock()
	return m.Unlock
}

// newSessionID draws a uniform random 32-bit id from a wider crypto/rand
// source, rejecting values at or below WellKnownSessionThreshold, and
// checks it does not already exist in the store before accepting it (per
// spec.md's Open Question #3 — an explicit collision check against the
// FlowStore and retry, rather than the source's bare reject-and-hope loop).
func (f *Factory) newSessionID(ctx context.Context, queue string) (string, error) {
	for attempt := 0; attempt < 8; attempt++ {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return "", fmt.Errorf("flow: generate session id: %w", err)
		}
		id := binary.BigEndian.Uint64(buf[:])
		candidate := uint32(id)
		if uint32(candidate) <= WellKnownSessionThreshold {
			continue
		}
		sessionID := NewSession(queue, candidate).String()

		store := f.StoreOpen.Open(sessionID, f.Queue, SecurityToken{})
		if _, err := store.LoadFlowRecord(ctx); err != nil && flowerrors.IsNotFoundError(err) {
			return sessionID, nil
		}
	}
	return "", flowerrors.NewAlreadyExistsError(fmt.Sprintf("%s:<exhausted>", queue))
}
