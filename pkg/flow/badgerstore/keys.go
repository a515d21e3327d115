package badgerstore

import (
	"encoding/json"
	"fmt"

	"github.com/marmos91/fleetflow/pkg/flow"
)

// Key Namespace
//
// Data Type      Key Format                                  Value
// ===========================================================================
// Flow record    task:<session>:state                        Flow (JSON)
// RequestState   <session>:flow:request:<REQID_HEX8>          RequestState (JSON)
// Message        <session>:flow:response:<REQID_HEX8>:<RESPID_HEX8>  Message (JSON)
//
// Every key is namespaced by session id so range scans over a session's
// requests/responses never cross into another session's data.

const (
	prefixFlowState = "task:"
	suffixFlowState = ":state"
	prefixRequest   = "flow:request:"
	prefixResponse  = "flow:response:"
)

func keyFlowState(sessionID string) []byte {
	return []byte(prefixFlowState + sessionID + suffixFlowState)
}

func keyRequest(sessionID string, reqID uint64) []byte {
	return []byte(fmt.Sprintf("%s:%s%08X", sessionID, prefixRequest, reqID))
}

func keyRequestPrefix(sessionID string) []byte {
	return []byte(sessionID + ":" + prefixRequest)
}

func keyResponse(sessionID string, reqID uint64, respID int) []byte {
	return []byte(fmt.Sprintf("%s:%s%08X:%08X", sessionID, prefixResponse, reqID, respID))
}

func keyResponsePrefix(sessionID string, reqID uint64) []byte {
	return []byte(fmt.Sprintf("%s:%s%08X:", sessionID, prefixResponse, reqID))
}

func keyResponseScanPrefix(sessionID string) []byte {
	return []byte(sessionID + ":" + prefixResponse)
}

func encodeRequestState(rs flow.RequestState) ([]byte, error) {
	b, err := json.Marshal(rs)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: encode request state: %w", err)
	}
	return b, nil
}

func decodeRequestState(raw []byte) (flow.RequestState, error) {
	var rs flow.RequestState
	if err := json.Unmarshal(raw, &rs); err != nil {
		return flow.RequestState{}, fmt.Errorf("badgerstore: decode request state: %w", err)
	}
	return rs, nil
}
