// Package flow implements the flow execution core: durable, resumable
// state machines that drive remote clients through a sequence of
// request/response exchanges, with ordered (Context) and unordered
// (HuntContext) dispatch variants.
package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// State is the lifecycle state of a Flow.
type State string

const (
	StateRunning    State = "RUNNING"
	StateTerminated State = "TERMINATED"
	StateError      State = "ERROR"
)

// MessageType distinguishes a terminal STATUS response from an ordinary
// MESSAGE carrying payload data.
type MessageType string

const (
	MessageTypeMessage MessageType = "MESSAGE"
	MessageTypeStatus  MessageType = "STATUS"
)

// AuthState is stamped on every server-originated Message.
type AuthState string

const AuthStateAuthenticated AuthState = "AUTHENTICATED"

// WellKnownSessionThreshold is the upper bound (inclusive) of the reserved
// session id range. Session ids at or below this value name well-known
// flows whose requests/responses bypass the normal id pairing.
const WellKnownSessionThreshold uint32 = 100

// Session identifies a flow instance as "<queue>:<HEX32>". The queue
// prefix names the worker pool that services the flow.
type Session struct {
	Queue string
	ID    uint32
}

// NewSession builds a Session for the given queue and numeric id.
func NewSession(queue string, id uint32) Session {
	return Session{Queue: queue, ID: id}
}

// String renders the session id in its wire form, "<queue>:<UPPER_HEX32>".
func (s Session) String() string {
	return fmt.Sprintf("%s:%08X", s.Queue, s.ID)
}

// IsWellKnown reports whether this session names a well-known (system)
// flow rather than an ordinary client-driven one.
func (s Session) IsWellKnown() bool {
	return s.ID <= WellKnownSessionThreshold
}

// ParseSession parses a session id previously produced by Session.String.
func ParseSession(raw string) (Session, error) {
	idx := strings.LastIndex(raw, ":")
	if idx < 0 || idx == len(raw)-1 {
		return Session{}, fmt.Errorf("flow: malformed session id %q", raw)
	}
	queue, hexPart := raw[:idx], raw[idx+1:]
	if queue == "" {
		return Session{}, fmt.Errorf("flow: malformed session id %q: empty queue", raw)
	}
	id, err := strconv.ParseUint(hexPart, 16, 32)
	if err != nil {
		return Session{}, fmt.Errorf("flow: malformed session id %q: %w", raw, err)
	}
	return Session{Queue: queue, ID: uint32(id)}, nil
}

// CPUUsage mirrors the source's cpu_used = {user, system} pair, both in
// microseconds of accumulated CPU time.
type CPUUsage struct {
	UserMicros   int64 `json:"user_micros"`
	SystemMicros int64 `json:"system_micros"`
}

// Flow is the persisted record of a single flow instance. Fields marked
// transient are never serialized by FlowFactory.SaveFlow; LoadFlow leaves
// them zero until ProcessCompletedRequests and dispatch set them again.
type Flow struct {
	SessionID  string         `json:"session_id"`
	Name       string         `json:"name"`
	Creator    string         `json:"creator"`
	EventID    string         `json:"event_id"`
	CreateTime int64          `json:"create_time"` // microseconds since epoch
	State      State          `json:"state"`
	Status     string         `json:"status,omitempty"`
	Priority   int            `json:"priority"`
	ClientID   string         `json:"client_id,omitempty"`
	Args       map[string]any `json:"args,omitempty"`

	// RequestState is the parent request this flow reports to, if any.
	// Its presence implies this Flow is a child flow.
	RequestState *RequestState `json:"request_state,omitempty"`
	Children     []string      `json:"children,omitempty"`

	CPUUsed          CPUUsage `json:"cpu_used"`
	NetworkBytesSent int64    `json:"network_bytes_sent"`
	Backtrace        string   `json:"backtrace,omitempty"`

	// CurrentState and OutstandingRequests are transient: SaveFlow zeros
	// them (json:"-"). On the next worker hop ProcessCompletedRequests
	// re-derives OutstandingRequests from the fetched pairs, and
	// CurrentState is set again by the next dispatch.
	// NextProcessedRequest and NextOutboundID are persisted cursors: they
	// carry the flow's dispatch progress across worker hops.
	CurrentState         string `json:"-"`
	NextProcessedRequest uint64 `json:"next_processed_request"`
	NextOutboundID       uint64 `json:"next_outbound_id"`
	OutstandingRequests  int    `json:"-"`
}

// IsChild reports whether this flow reports results to a parent.
func (f *Flow) IsChild() bool {
	return f.RequestState != nil
}

// RequestState records a single outstanding outbound call: the embedded
// Message describes what was sent (if anything was sent to a client at
// all — CallFlow requests have no outbound message).
type RequestState struct {
	ID                uint64   `json:"id"`
	SessionID         string   `json:"session_id"`
	ClientID          string   `json:"client_id,omitempty"`
	NextState         string   `json:"next_state"`
	FlowName          string   `json:"flow_name,omitempty"` // set for CallFlow requests
	ResponseCount     int      `json:"response_count"`
	Data              []byte   `json:"data,omitempty"`
	Request           *Message `json:"request,omitempty"`
	TSID              string   `json:"ts_id,omitempty"` // task id returned by TaskQueue.Schedule
	TransmissionCount int      `json:"transmission_count"`
}

// Key returns the FlowStore key this RequestState is persisted under.
func (rs *RequestState) Key() string {
	return fmt.Sprintf("flow:request:%08X", rs.ID)
}

// Message is either an outbound client action or a response (from a
// client or from a child flow's SendReply).
type Message struct {
	SessionID  string         `json:"session_id"`
	Name       string         `json:"name,omitempty"`
	RequestID  uint64         `json:"request_id"`
	ResponseID int            `json:"response_id,omitempty"` // 1-based, dense
	Type       MessageType    `json:"type"`
	AuthState  AuthState      `json:"auth_state"`
	Priority   int            `json:"priority"`
	Args       map[string]any `json:"args,omitempty"`

	// STATUS-only fields.
	CPUTimeUsedMicros int64  `json:"cpu_time_used_micros,omitempty"`
	NetworkBytesSent  int64  `json:"network_bytes_sent,omitempty"`
	ChildSessionID    string `json:"child_session_id,omitempty"`
}

// Key returns the FlowStore key this response is persisted under.
func (m *Message) Key() string {
	return fmt.Sprintf("flow:response:%08X:%08X", m.RequestID, m.ResponseID)
}

// IsStatus reports whether this message terminates its request.
func (m *Message) IsStatus() bool {
	return m.Type == MessageTypeStatus
}
