// Package fsbased provides the filesystem storage driver. The on-disk layout
// is one JSON file per record, one bare-integer counter file per shoulder,
// one newline-delimited action log per subject, and one JSON-array history
// file per subject:
//
//	root/<collection>/<url-safe-id>.json
//	root/nextnum/<shoulder>.json
//	root/prov_action_log/<subject>.lis
//	root/history/<subject>.json
//
// Every write goes through a temp file followed by a rename, so a concurrent
// reader (or a reader after a crash) never observes a partially written
// document.
package fsbased

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"dbio/pkg/dbio"
)

// Compile-time contract assertion.
var _ dbio.Store = (*Store)(nil)

const (
	nextnumDir = "nextnum"
	actionDir  = "prov_action_log"
	historyDir = "history"
)

// Store is the filesystem driver rooted at a directory.
type Store struct {
	root string
	mu   sync.RWMutex
}

// NewStore opens (creating if needed) a filesystem store rooted at the given
// directory.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, dbio.ConfigurationError{Param: "fs_root", Message: "filesystem driver requires a root directory"}
	}
	for _, dir := range []string{root, filepath.Join(root, nextnumDir), filepath.Join(root, actionDir), filepath.Join(root, historyDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dirs: %w", err)
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) Driver() dbio.Driver { return dbio.DriverFSBased }

// Close is a no-op for the filesystem driver.
func (s *Store) Close() error { return nil }

// safeName makes an identifier safe to use as a file name.
func safeName(id string) string {
	return url.QueryEscape(id)
}

func (s *Store) recordPath(collection, id string) string {
	return filepath.Join(s.root, safeName(collection), safeName(id)+".json")
}

func (s *Store) counterPath(shoulder string) string {
	return filepath.Join(s.root, nextnumDir, safeName(shoulder)+".json")
}

func (s *Store) actionPath(subject string) string {
	return filepath.Join(s.root, actionDir, safeName(subject)+".lis")
}

func (s *Store) historyPath(subject string) string {
	return filepath.Join(s.root, historyDir, safeName(subject)+".json")
}

// writeAtomic writes data to path via a temp file in the same directory plus
// a rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// SaveRecord writes the record document atomically.
func (s *Store) SaveRecord(ctx context.Context, collection string, rec *dbio.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return writeAtomic(s.recordPath(collection, rec.ID), data)
}

// ReadRecord loads a record document from disk.
func (s *Store) ReadRecord(ctx context.Context, collection, id string) (*dbio.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readRecordLocked(collection, id)
}

func (s *Store) readRecordLocked(collection, id string) (*dbio.Record, error) {
	data, err := os.ReadFile(s.recordPath(collection, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, dbio.ObjectNotFoundError{Collection: collection, ID: id}
	}
	if err != nil {
		return nil, dbio.DBIOError{Op: "read record", Err: err}
	}
	var rec dbio.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, dbio.DBIOError{Op: "decode record", Err: err}
	}
	return &rec, nil
}

// FindByName scans the collection directory for the (owner, name) pair.
func (s *Store) FindByName(ctx context.Context, collection, owner, name string) (*dbio.Record, error) {
	recs, err := s.SelectRecords(ctx, collection, nil)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec.Owner == owner && rec.Name == name {
			return rec, nil
		}
	}
	return nil, nil
}

// SelectRecords loads every record in the collection and applies the filter
// in memory.
func (s *Store) SelectRecords(ctx context.Context, collection string, filter *dbio.Filter) ([]*dbio.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dir := filepath.Join(s.root, safeName(collection))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, dbio.DBIOError{Op: "list collection", Err: err}
	}
	var out []*dbio.Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}
		raw, err := url.QueryUnescape(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		rec, err := s.readRecordLocked(collection, raw)
		if err != nil {
			var missing dbio.ObjectNotFoundError
			if errors.As(err, &missing) {
				continue // deleted between listing and read
			}
			return nil, err
		}
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// DeleteRecord removes the record file, reporting whether it existed.
func (s *Store) DeleteRecord(ctx context.Context, collection, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.recordPath(collection, id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, dbio.DBIOError{Op: "delete record", Err: err}
	}
	return true, nil
}

// NextSequence reads, increments, and atomically rewrites the shoulder's
// counter file under the store lock.
func (s *Store) NextSequence(ctx context.Context, collection, shoulder string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.readCounter(shoulder)
	if err != nil {
		return 0, err
	}
	if err := s.writeCounter(shoulder, next+1); err != nil {
		return 0, err
	}
	return next, nil
}

// PushBackSequence rewinds the counter only when n was the most recent issue.
func (s *Store) PushBackSequence(ctx context.Context, collection, shoulder string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.readCounter(shoulder)
	if err != nil {
		return err
	}
	if n != next-1 {
		return nil
	}
	return s.writeCounter(shoulder, n)
}

func (s *Store) readCounter(shoulder string) (int, error) {
	data, err := os.ReadFile(s.counterPath(shoulder))
	if errors.Is(err, fs.ErrNotExist) {
		return 1, nil
	}
	if err != nil {
		return 0, dbio.DBIOError{Op: "read counter", Err: err}
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, dbio.DBIOError{Op: "decode counter", Err: err}
	}
	return n, nil
}

func (s *Store) writeCounter(shoulder string, n int) error {
	return writeAtomic(s.counterPath(shoulder), []byte(strconv.Itoa(n)+"\n"))
}

// AppendAction rewrites the subject's log with the new entry appended. The
// rewrite keeps the append atomic at the file level.
func (s *Store) AppendAction(ctx context.Context, subject string, action dbio.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	actions, err := s.readActionsLocked(subject)
	if err != nil {
		return err
	}
	actions = append(actions, action)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, a := range actions {
		if err := enc.Encode(a); err != nil {
			return fmt.Errorf("encode action: %w", err)
		}
	}
	return writeAtomic(s.actionPath(subject), buf.Bytes())
}

// ReadActions parses the subject's newline-delimited log.
func (s *Store) ReadActions(ctx context.Context, subject string) ([]dbio.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readActionsLocked(subject)
}

func (s *Store) readActionsLocked(subject string) ([]dbio.Action, error) {
	file, err := os.Open(s.actionPath(subject))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, dbio.DBIOError{Op: "read action log", Err: err}
	}
	defer func() { _ = file.Close() }()
	var actions []dbio.Action
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var a dbio.Action
		if err := json.Unmarshal([]byte(line), &a); err != nil {
			return nil, dbio.DBIOError{Op: "decode action log", Err: err}
		}
		actions = append(actions, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, dbio.DBIOError{Op: "scan action log", Err: err}
	}
	return actions, nil
}

// ClearActions removes the subject's log file.
func (s *Store) ClearActions(ctx context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.actionPath(subject))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return dbio.DBIOError{Op: "clear action log", Err: err}
	}
	return nil
}

// AppendHistory rewrites the subject's history array with the entry appended.
func (s *Store) AppendHistory(ctx context.Context, subject string, entry dbio.History) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.readHistoryLocked(subject)
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return writeAtomic(s.historyPath(subject), data)
}

// ReadHistory parses the subject's history array.
func (s *Store) ReadHistory(ctx context.Context, subject string) ([]dbio.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readHistoryLocked(subject)
}

func (s *Store) readHistoryLocked(subject string) ([]dbio.History, error) {
	data, err := os.ReadFile(s.historyPath(subject))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, dbio.DBIOError{Op: "read history", Err: err}
	}
	var entries []dbio.History
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, dbio.DBIOError{Op: "decode history", Err: err}
	}
	return entries, nil
}
