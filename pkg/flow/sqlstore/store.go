package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/marmos91/fleetflow/internal/logger"
	"github.com/marmos91/fleetflow/pkg/flow"
	"github.com/marmos91/fleetflow/pkg/flowerrors"
)

type dequeueEntry struct {
	queue string
	id    string
}

// sessionStore is a Store handle scoped to a single session, buffering
// writes and deletes until Flush (§4.A), mirroring badgerstore's shape
// over a relational backend.
type sessionStore struct {
	db        *gorm.DB
	sessionID string
	queue     flow.TaskQueue
	token     flow.SecurityToken

	queuedRequests  []flow.RequestState
	queuedResponses []flow.Message

	deleteRequestIDs map[uint64]bool
	destroyAll       bool

	dequeues []dequeueEntry
}

// FetchRequestsAndResponses implements flow.Store.
func (s *sessionStore) FetchRequestsAndResponses(ctx context.Context) ([]flow.Pair, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var reqRows []requestRecord
	reqErr := s.db.WithContext(ctx).
		Where("session_id = ?", s.sessionID).
		Order("request_id ASC").
		Limit(flow.RequestLimit + 1).
		Find(&reqRows).Error
	if reqErr != nil {
		return nil, false, fmt.Errorf("sqlstore: fetch requests: %w", reqErr)
	}
	moreData := len(reqRows) > flow.RequestLimit
	if moreData {
		reqRows = reqRows[:flow.RequestLimit]
	}

	var respRows []responseRecord
	respErr := s.db.WithContext(ctx).
		Where("session_id = ?", s.sessionID).
		Order("request_id ASC, response_id ASC").
		Limit(flow.ResponseLimit + 1).
		Find(&respRows).Error
	if respErr != nil {
		return nil, false, fmt.Errorf("sqlstore: fetch responses: %w", respErr)
	}
	if len(respRows) > flow.ResponseLimit {
		respRows = respRows[:flow.ResponseLimit]
		moreData = true
	}

	responsesByRequest := make(map[uint64][]flow.Message)
	for _, row := range respRows {
		msg, err := flow.DecodeMessage(row.Data)
		if err != nil {
			return nil, false, err
		}
		responsesByRequest[row.RequestID] = append(responsesByRequest[row.RequestID], msg)
	}

	pairs := make([]flow.Pair, 0, len(reqRows))
	for _, row := range reqRows {
		var rs flow.RequestState
		if err := json.Unmarshal(row.Data, &rs); err != nil {
			return nil, false, fmt.Errorf("sqlstore: decode request state: %w", err)
		}
		resps := responsesByRequest[rs.ID]
		sort.Slice(resps, func(i, j int) bool { return resps[i].ResponseID < resps[j].ResponseID })
		pairs = append(pairs, flow.Pair{Request: rs, Responses: resps})
	}

	return pairs, moreData, nil
}

// QueueRequest implements flow.Store.
func (s *sessionStore) QueueRequest(rs flow.RequestState) {
	s.queuedRequests = append(s.queuedRequests, rs)
}

// QueueResponse implements flow.Store.
func (s *sessionStore) QueueResponse(msg flow.Message) {
	s.queuedResponses = append(s.queuedResponses, msg)
}

// DeleteFlowRequestStates implements flow.Store.
func (s *sessionStore) DeleteFlowRequestStates(rs flow.RequestState, responses []flow.Message) {
	if s.deleteRequestIDs == nil {
		s.deleteRequestIDs = make(map[uint64]bool)
	}
	s.deleteRequestIDs[rs.ID] = true
	if rs.TSID != "" {
		s.dequeues = append(s.dequeues, dequeueEntry{queue: rs.ClientID, id: rs.TSID})
	}
}

// DestroyFlowStates implements flow.Store.
func (s *sessionStore) DestroyFlowStates(ctx context.Context) error {
	pairs, _, err := s.FetchRequestsAndResponses(ctx)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		s.DeleteFlowRequestStates(p.Request, p.Responses)
	}
	s.destroyAll = true
	return nil
}

// Flush implements flow.Store.
func (s *sessionStore) Flush(ctx context.Context) error {
	storeErr := withRetryableTransaction(ctx, s.db, func(tx *gorm.DB) error {
		for _, rs := range s.queuedRequests {
			data, err := json.Marshal(rs)
			if err != nil {
				return fmt.Errorf("sqlstore: encode request state: %w", err)
			}
			row := requestRecord{SessionID: s.sessionID, RequestID: rs.ID, Data: data}
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}
		for _, msg := range s.queuedResponses {
			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("sqlstore: encode message: %w", err)
			}
			row := responseRecord{SessionID: s.sessionID, RequestID: msg.RequestID, ResponseID: msg.ResponseID, Data: data}
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}
		for reqID := range s.deleteRequestIDs {
			if err := tx.Where("session_id = ? AND request_id = ?", s.sessionID, reqID).Delete(&requestRecord{}).Error; err != nil {
				return err
			}
			if err := tx.Where("session_id = ? AND request_id = ?", s.sessionID, reqID).Delete(&responseRecord{}).Error; err != nil {
				return err
			}
		}
		if s.destroyAll {
			if err := tx.Where("session_id = ?", s.sessionID).Delete(&flowRecord{}).Error; err != nil {
				return err
			}
		}
		return nil
	})

	s.queuedRequests = nil
	s.queuedResponses = nil
	s.deleteRequestIDs = nil
	s.destroyAll = false

	if storeErr != nil {
		logger.ErrorCtx(ctx, "sqlstore flush failed", "session_id", s.sessionID, "error", storeErr)
	}

	if len(s.dequeues) == 0 {
		return nil
	}

	byQueue := make(map[string][]string)
	for _, d := range s.dequeues {
		if d.queue == "" || d.id == "" {
			continue
		}
		byQueue[d.queue] = append(byQueue[d.queue], d.id)
	}
	s.dequeues = nil

	for queue, ids := range byQueue {
		if err := s.queue.Delete(ctx, queue, ids, s.token); err != nil {
			return fmt.Errorf("sqlstore: dequeue tasks: %w", err)
		}
	}
	return nil
}

// LoadFlowRecord implements flow.Store.
func (s *sessionStore) LoadFlowRecord(ctx context.Context) (*flow.Flow, error) {
	var row flowRecord
	err := s.db.WithContext(ctx).Where("session_id = ?", s.sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, flowerrors.NewNotFoundError(s.sessionID, "flow")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load flow record: %w", err)
	}
	return flow.DecodeFlow(row.Data)
}

// SaveFlowRecord implements flow.Store.
func (s *sessionStore) SaveFlowRecord(ctx context.Context, f *flow.Flow) error {
	data, err := flow.EncodeFlow(f)
	if err != nil {
		return err
	}
	row := flowRecord{SessionID: s.sessionID, Data: data}
	return s.db.WithContext(ctx).Save(&row).Error
}
