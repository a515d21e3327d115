package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Flow & Session
	// ========================================================================
	KeySessionID  = "session_id"  // Flow session identifier "<queue>:<hex>"
	KeyFlowName   = "flow_name"   // Flow class name
	KeyState      = "state"       // Currently dispatched state name
	KeyFlowState  = "flow_state"  // RUNNING, TERMINATED, ERROR
	KeyCreator    = "creator"     // Flow creator identity
	KeyClientID   = "client_id"   // Target client identifier
	KeyParentID   = "parent_id"   // Parent session id (child flows)
	KeyChildID    = "child_id"    // Child session id

	// ========================================================================
	// Requests & Messages
	// ========================================================================
	KeyRequestID    = "request_id"    // Outbound RequestState id
	KeyResponseID   = "response_id"   // Response id within a request
	KeyResponseCount = "response_count"
	KeyMessageName  = "message_name"  // Client action name
	KeyMessageType  = "message_type"  // MESSAGE, STATUS
	KeyTSID         = "ts_id"         // TaskQueue task id
	KeyTransmission = "transmission_count"

	// ========================================================================
	// Queue & Worker
	// ========================================================================
	KeyQueue      = "queue"       // Named task queue
	KeyWorkerID   = "worker_id"   // Worker goroutine index
	KeyOutstanding = "outstanding_requests"

	// ========================================================================
	// Client Identification
	// ========================================================================
	KeyUsername = "username" // Security token username

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorCode  = "error_code"  // Numeric error code
	KeySource     = "source"      // Data source: badger, sql, memqueue
	KeyOperation  = "operation"    // Sub-operation type for complex operations

	// ========================================================================
	// Store
	// ========================================================================
	KeyStoreType = "store_type" // badger, sql, memory
)

// ----------------------------------------------------------------------------
// Field constructors for type safety
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// SessionID returns a slog.Attr for the flow session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// FlowName returns a slog.Attr for the flow class name
func FlowName(name string) slog.Attr {
	return slog.String(KeyFlowName, name)
}

// State returns a slog.Attr for the currently dispatched state name
func State(name string) slog.Attr {
	return slog.String(KeyState, name)
}

// FlowState returns a slog.Attr for the flow lifecycle state
func FlowState(state string) slog.Attr {
	return slog.String(KeyFlowState, state)
}

// ClientID returns a slog.Attr for the target client identifier
func ClientID(id string) slog.Attr {
	return slog.String(KeyClientID, id)
}

// ParentID returns a slog.Attr for the parent session id
func ParentID(id string) slog.Attr {
	return slog.String(KeyParentID, id)
}

// ChildID returns a slog.Attr for the child session id
func ChildID(id string) slog.Attr {
	return slog.String(KeyChildID, id)
}

// RequestID returns a slog.Attr for the outbound request id
func RequestID(id uint64) slog.Attr {
	return slog.Uint64(KeyRequestID, id)
}

// ResponseID returns a slog.Attr for the response id within a request
func ResponseID(id uint64) slog.Attr {
	return slog.Uint64(KeyResponseID, id)
}

// MessageName returns a slog.Attr for the client action name
func MessageName(name string) slog.Attr {
	return slog.String(KeyMessageName, name)
}

// MessageType returns a slog.Attr for the message type (MESSAGE, STATUS)
func MessageType(t string) slog.Attr {
	return slog.String(KeyMessageType, t)
}

// TransmissionCount returns a slog.Attr for the retransmission counter
func TransmissionCount(n int) slog.Attr {
	return slog.Int(KeyTransmission, n)
}

// Queue returns a slog.Attr for the named task queue
func Queue(name string) slog.Attr {
	return slog.String(KeyQueue, name)
}

// WorkerID returns a slog.Attr for the worker goroutine index
func WorkerID(id int) slog.Attr {
	return slog.Int(KeyWorkerID, id)
}

// Outstanding returns a slog.Attr for the outstanding request counter
func Outstanding(n int) slog.Attr {
	return slog.Int(KeyOutstanding, n)
}

// Username returns a slog.Attr for the security token username
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Source returns a slog.Attr for the data source
func Source(src string) slog.Attr {
	return slog.String(KeySource, src)
}

// Operation returns a slog.Attr for the sub-operation type
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// StoreType returns a slog.Attr for the FlowStore backend type
func StoreType(t string) slog.Attr {
	return slog.String(KeyStoreType, t)
}
