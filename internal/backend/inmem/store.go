// Package inmem provides the reference in-memory storage driver. It holds
// everything in nested in-process maps guarded by a single RWMutex and hands
// out deep copies, so callers can never alias committed state.
package inmem

import (
	"context"
	"sync"

	"dbio/pkg/dbio"
)

// Compile-time contract assertion.
var _ dbio.Store = (*Store)(nil)

// Store is the in-memory driver. Each service instance owns its own Store;
// nothing is process-global, so parallel tests and embedded services do not
// interfere.
type Store struct {
	mu        sync.RWMutex
	records   map[string]map[string]*dbio.Record // collection -> id -> record
	sequences map[string]int                     // shoulder -> next unissued
	actions   map[string][]dbio.Action           // subject -> live log
	histories map[string][]dbio.History          // subject -> archived entries
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		records:   make(map[string]map[string]*dbio.Record),
		sequences: make(map[string]int),
		actions:   make(map[string][]dbio.Action),
		histories: make(map[string][]dbio.History),
	}
}

func (s *Store) Driver() dbio.Driver { return dbio.DriverInMem }

// Close is a no-op for the in-memory driver.
func (s *Store) Close() error { return nil }

// SaveRecord upserts a deep copy of the record.
func (s *Store) SaveRecord(ctx context.Context, collection string, rec *dbio.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.records[collection]
	if !ok {
		coll = make(map[string]*dbio.Record)
		s.records[collection] = coll
	}
	coll[rec.ID] = rec.Clone()
	return nil
}

// ReadRecord returns a copy of the stored record.
func (s *Store) ReadRecord(ctx context.Context, collection, id string) (*dbio.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[collection][id]
	if !ok {
		return nil, dbio.ObjectNotFoundError{Collection: collection, ID: id}
	}
	return rec.Clone(), nil
}

// FindByName scans the collection for the (owner, name) pair; a miss returns
// nil without error.
func (s *Store) FindByName(ctx context.Context, collection, owner, name string) (*dbio.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records[collection] {
		if rec.Owner == owner && rec.Name == name {
			return rec.Clone(), nil
		}
	}
	return nil, nil
}

// SelectRecords returns copies of every record matching the filter.
func (s *Store) SelectRecords(ctx context.Context, collection string, filter *dbio.Filter) ([]*dbio.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*dbio.Record
	for _, rec := range s.records[collection] {
		if filter.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// DeleteRecord removes the record and reports whether it was present.
func (s *Store) DeleteRecord(ctx context.Context, collection, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.records[collection]
	if _, ok := coll[id]; !ok {
		return false, nil
	}
	delete(coll, id)
	return true, nil
}

// NextSequence issues the next integer for the shoulder counter under the
// store lock.
func (s *Store) NextSequence(ctx context.Context, collection, shoulder string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := s.sequences[shoulder]
	if !ok {
		next = 1
	}
	s.sequences[shoulder] = next + 1
	return next, nil
}

// PushBackSequence reclaims n only when it was the most recent issue.
func (s *Store) PushBackSequence(ctx context.Context, collection, shoulder string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next, ok := s.sequences[shoulder]; ok && n == next-1 {
		s.sequences[shoulder] = n
	}
	return nil
}

// AppendAction appends to the subject's live log.
func (s *Store) AppendAction(ctx context.Context, subject string, action dbio.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[subject] = append(s.actions[subject], action)
	return nil
}

// ReadActions returns the subject's live log in append order.
func (s *Store) ReadActions(ctx context.Context, subject string) ([]dbio.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]dbio.Action(nil), s.actions[subject]...), nil
}

// ClearActions empties the subject's live log.
func (s *Store) ClearActions(ctx context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actions, subject)
	return nil
}

// AppendHistory pushes an entry onto the subject's history sequence.
func (s *Store) AppendHistory(ctx context.Context, subject string, entry dbio.History) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[subject] = append(s.histories[subject], entry)
	return nil
}

// ReadHistory returns the subject's archived entries in order.
func (s *Store) ReadHistory(ctx context.Context, subject string) ([]dbio.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]dbio.History(nil), s.histories[subject]...), nil
}
