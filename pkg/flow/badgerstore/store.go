package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/fleetflow/internal/logger"
	"github.com/marmos91/fleetflow/pkg/flow"
	"github.com/marmos91/fleetflow/pkg/flowerrors"
)

// dequeueEntry records a client-queue task id that must be dequeued once
// its owning RequestState/Message is durably deleted.
type dequeueEntry struct {
	queue string
	id    string
}

// sessionStore is a Store handle scoped to a single session, buffering
// writes and deletes until Flush (§4.A).
type sessionStore struct {
	db        *badger.DB
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

	requests := make(map[uint64]flow.RequestState)
	var reqMoreData bool

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyRequestPrefix(s.sessionID)
		it := txn.NewIterator(opts)
		defer it.Close()

		count := 0
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			if count >= flow.RequestLimit {
				reqMoreData = true
				break
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				rs, err := decodeRequestState(val)
				if err != nil {
					return err
				}
				requests[rs.ID] = rs
				return nil
			})
			if err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("badgerstore: fetch requests: %w", err)
	}

	responses := make(map[uint64][]flow.Message)
	var respMoreData bool

	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyResponseScanPrefix(s.sessionID)
		it := txn.NewIterator(opts)
		defer it.Close()

		count := 0
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			if count >= flow.ResponseLimit {
				respMoreData = true
				break
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				msg, err := flow.DecodeMessage(val)
				if err != nil {
					return err
				}
				responses[msg.RequestID] = append(responses[msg.RequestID], msg)
				return nil
			})
			if err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("badgerstore: fetch responses: %w", err)
	}

	ids := make([]uint64, 0, len(requests))
	for id := range requests {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	pairs := make([]flow.Pair, 0, len(ids))
	for _, id := range ids {
		resps := responses[id]
		sort.Slice(resps, func(i, j int) bool { return resps[i].ResponseID < resps[j].ResponseID })
		pairs = append(pairs, flow.Pair{Request: requests[id], Responses: resps})
	}

	return pairs, reqMoreData || respMoreData, nil
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
	if err := ctx.Err(); err != nil {
		return err
	}
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
	storeErr := s.db.Update(func(txn *badger.Txn) error {
		for _, rs := range s.queuedRequests {
			b, err := encodeRequestState(rs)
			if err != nil {
				return err
			}
			if err := txn.Set(keyRequest(s.sessionID, rs.ID), b); err != nil {
				return err
			}
		}
		for _, msg := range s.queuedResponses {
			b, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("badgerstore: encode message: %w", err)
			}
			if err := txn.Set(keyResponse(s.sessionID, msg.RequestID, msg.ResponseID), b); err != nil {
				return err
			}
		}
		for reqID := range s.deleteRequestIDs {
			if err := txn.Delete(keyRequest(s.sessionID, reqID)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
			if err := deletePrefix(txn, keyResponsePrefix(s.sessionID, reqID)); err != nil {
				return err
			}
		}
		if s.destroyAll {
			if err := txn.Delete(keyFlowState(s.sessionID)); err != nil && err != badger.ErrKeyNotFound {
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
		logger.ErrorCtx(ctx, "badgerstore flush failed", "session_id", s.sessionID, "error", storeErr)
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
			return fmt.Errorf("badgerstore: dequeue tasks: %w", err)
		}
	}
	return nil
}

// LoadFlowRecord implements flow.Store.
func (s *sessionStore) LoadFlowRecord(ctx context.Context) (*flow.Flow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyFlowState(s.sessionID))
		if err == badger.ErrKeyNotFound {
			return flowerrors.NewNotFoundError(s.sessionID, "flow")
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return flow.DecodeFlow(raw)
}

// SaveFlowRecord implements flow.Store.
func (s *sessionStore) SaveFlowRecord(ctx context.Context, f *flow.Flow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := flow.EncodeFlow(f)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyFlowState(s.sessionID), b)
	})
}

// deletePrefix removes every key under prefix within txn.
func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, append([]byte{}, it.Item().Key()...))
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
