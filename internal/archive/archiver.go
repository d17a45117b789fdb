package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"dbio/pkg/dbio"
)

// Scheme prefixes locators resolved by the archive restorer:
// "dbio_archive:<key>".
const Scheme = "dbio_archive"

// recordContentType is the content type stamped on archived documents.
const recordContentType = "application/json"

// Archiver writes record snapshots and history bundles into a blob store and
// reads them back. Keys are deterministic, so archiving the same snapshot
// twice fails on the store's create-only Put.
type Archiver struct {
	store Store
}

// NewArchiver wraps a blob store.
func NewArchiver(store Store) *Archiver {
	return &Archiver{store: store}
}

// Store exposes the underlying blob store.
func (a *Archiver) Store() Store { return a.store }

// RecordKey names a record snapshot: "<collection>/<id>.json". The id's colon
// is kept verbatim; every driver treats keys as opaque.
func RecordKey(collection, id string) string {
	return fmt.Sprintf("%s/%s.json", collection, id)
}

// HistoryKey names an archived history entry under its subject.
func HistoryKey(subject, entryID string) string {
	return fmt.Sprintf("history/%s/%s.json", subject, entryID)
}

// Locator renders an archive key as a restore locator.
func Locator(key string) string {
	return Scheme + ":" + key
}

// ArchiveRecord stores a snapshot of the record and returns its locator.
func (a *Archiver) ArchiveRecord(ctx context.Context, collection string, rec *dbio.Record) (string, error) {
	key := RecordKey(collection, rec.ID)
	if err := a.putJSON(ctx, key, rec); err != nil {
		return "", err
	}
	return Locator(key), nil
}

// ArchiveHistory stores a closed history bundle and returns its locator.
func (a *Archiver) ArchiveHistory(ctx context.Context, entry dbio.History) (string, error) {
	key := HistoryKey(entry.Subject, entry.ID)
	if err := a.putJSON(ctx, key, entry); err != nil {
		return "", err
	}
	return Locator(key), nil
}

func (a *Archiver) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return dbio.DBIOError{Op: "archive encode", Err: err}
	}
	if _, err := a.store.Put(ctx, key, bytes.NewReader(raw), PutOptions{ContentType: recordContentType}); err != nil {
		return dbio.DBIOError{Op: "archive put", Err: err}
	}
	return nil
}

// FetchRecord reads an archived record snapshot back by key.
func (a *Archiver) FetchRecord(ctx context.Context, key string) (*dbio.Record, error) {
	raw, err := a.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	var rec dbio.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, dbio.DBIOError{Op: "archive decode", Err: err}
	}
	return &rec, nil
}

// FetchHistory reads an archived history entry back by key.
func (a *Archiver) FetchHistory(ctx context.Context, key string) (dbio.History, error) {
	raw, err := a.fetch(ctx, key)
	if err != nil {
		return dbio.History{}, err
	}
	var entry dbio.History
	if err := json.Unmarshal(raw, &entry); err != nil {
		return dbio.History{}, dbio.DBIOError{Op: "archive decode", Err: err}
	}
	return entry, nil
}

// Restorer resolves "dbio_archive:<key>" locators against the archiver. It
// satisfies the restore registry's Restorer interface.
type Restorer struct {
	Archiver *Archiver
}

// Fetch reads the archived record snapshot the locator names.
func (r *Restorer) Fetch(ctx context.Context, locator string) (*dbio.Record, error) {
	key, ok := cutScheme(locator)
	if !ok {
		return nil, dbio.ConfigurationError{Param: "locator", Message: fmt.Sprintf("not a %s locator: %q", Scheme, locator)}
	}
	return r.Archiver.FetchRecord(ctx, key)
}

func cutScheme(locator string) (string, bool) {
	prefix := Scheme + ":"
	if len(locator) <= len(prefix) || locator[:len(prefix)] != prefix {
		return "", false
	}
	return locator[len(prefix):], true
}

func (a *Archiver) fetch(ctx context.Context, key string) ([]byte, error) {
	_, body, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, dbio.ObjectNotFoundError{Collection: "archive", ID: key}
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, dbio.DBIOError{Op: "archive read", Err: err}
	}
	return raw, nil
}
