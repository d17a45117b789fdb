// Package docdb provides the document-database storage driver on top of
// database/sql. Records are rows holding the full JSON document plus the
// indexed identity columns; provenance logs and history sequences are
// append-only tables keyed by subject. Two dialects are supported: postgres
// (via the pgx stdlib driver) and embedded sqlite.
package docdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"dbio/pkg/dbio"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

// Compile-time contract assertion.
var _ dbio.Store = (*Store)(nil)

// Dialect names accepted by NewStore.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const defaultSQLitePath = "dbio.db"

// Store is the document-database driver.
type Store struct {
	db  *sql.DB
	dia dialect
	mu  sync.Mutex // serializes counter read-modify-write on sqlite
}

// NewStore opens a document store for the named dialect and connection
// string, creating the schema when absent.
func NewStore(dialectName, dsn string) (*Store, error) {
	var dia dialect
	switch dialectName {
	case DialectPostgres:
		dia = pgDialect{}
	case DialectSQLite, "":
		dia = liteDialect{}
		if dsn == "" {
			dsn = defaultSQLitePath
		}
	default:
		return nil, dbio.ConfigurationError{Param: "db_dialect", Message: fmt.Sprintf("unknown document-database dialect %q", dialectName)}
	}
	if dsn == "" {
		return nil, dbio.ConfigurationError{Param: "db_dsn", Message: "document-database driver requires a connection string"}
	}
	db, err := sql.Open(dia.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dia.driverName(), err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, dbio.DBIOError{Op: "ping document database", Err: err}
	}
	s := &Store{db: db, dia: dia}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Driver() dbio.Driver { return dbio.DriverDocDB }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for integration-test hooks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range s.dia.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return dbio.DBIOError{Op: "create schema", Err: err}
		}
	}
	return nil
}

// SaveRecord upserts the record row and its document payload.
func (s *Store) SaveRecord(ctx context.Context, collection string, rec *dbio.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	q := s.dia.rebind(`INSERT INTO records(collection, id, name, owner, doc) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET name = excluded.name, owner = excluded.owner, doc = excluded.doc`)
	if _, err := s.db.ExecContext(ctx, q, collection, rec.ID, rec.Name, rec.Owner, string(doc)); err != nil {
		return dbio.DBIOError{Op: "save record", Err: err}
	}
	return nil
}

// ReadRecord loads one record document.
func (s *Store) ReadRecord(ctx context.Context, collection, id string) (*dbio.Record, error) {
	q := s.dia.rebind(`SELECT doc FROM records WHERE collection = ? AND id = ?`)
	var doc []byte
	err := s.db.QueryRowContext(ctx, q, collection, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, dbio.ObjectNotFoundError{Collection: collection, ID: id}
	}
	if err != nil {
		return nil, dbio.DBIOError{Op: "read record", Err: err}
	}
	return decodeRecord(doc)
}

// FindByName resolves the (owner, name) pair through the identity columns.
func (s *Store) FindByName(ctx context.Context, collection, owner, name string) (*dbio.Record, error) {
	q := s.dia.rebind(`SELECT doc FROM records WHERE collection = ? AND owner = ? AND name = ?`)
	var doc []byte
	err := s.db.QueryRowContext(ctx, q, collection, owner, name).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbio.DBIOError{Op: "find record by name", Err: err}
	}
	return decodeRecord(doc)
}

// SelectRecords translates the filter tree into a native WHERE clause over
// the JSON document column.
func (s *Store) SelectRecords(ctx context.Context, collection string, filter *dbio.Filter) ([]*dbio.Record, error) {
	query := `SELECT doc FROM records WHERE collection = ?`
	args := []any{collection}
	if filter != nil {
		clause, clauseArgs, err := translateFilter(s.dia, filter)
		if err != nil {
			return nil, err
		}
		query += " AND " + clause
		args = append(args, clauseArgs...)
	}
	rows, err := s.db.QueryContext(ctx, s.dia.rebind(query+" ORDER BY id"), args...)
	if err != nil {
		return nil, dbio.DBIOError{Op: "select records", Err: err}
	}
	defer func() { _ = rows.Close() }()
	var out []*dbio.Record
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, dbio.DBIOError{Op: "scan record", Err: err}
		}
		rec, err := decodeRecord(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dbio.DBIOError{Op: "iterate records", Err: err}
	}
	return out, nil
}

// DeleteRecord removes the record row.
func (s *Store) DeleteRecord(ctx context.Context, collection, id string) (bool, error) {
	q := s.dia.rebind(`DELETE FROM records WHERE collection = ? AND id = ?`)
	res, err := s.db.ExecContext(ctx, q, collection, id)
	if err != nil {
		return false, dbio.DBIOError{Op: "delete record", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbio.DBIOError{Op: "delete record", Err: err}
	}
	return n > 0, nil
}

// NextSequence issues the next counter value with a single upsert, relying
// on the database for atomicity across processes.
func (s *Store) NextSequence(ctx context.Context, collection, shoulder string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.dia.rebind(`INSERT INTO nextnum(shoulder, n) VALUES(?, 2)
		ON CONFLICT(shoulder) DO UPDATE SET n = n + 1 RETURNING n`)
	var next int
	if err := s.db.QueryRowContext(ctx, q, shoulder).Scan(&next); err != nil {
		return 0, dbio.DBIOError{Op: "next sequence", Err: err}
	}
	return next - 1, nil
}

// PushBackSequence rewinds the counter only when n was the most recent issue.
func (s *Store) PushBackSequence(ctx context.Context, collection, shoulder string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.dia.rebind(`UPDATE nextnum SET n = n - 1 WHERE shoulder = ? AND n = ?`)
	if _, err := s.db.ExecContext(ctx, q, shoulder, n+1); err != nil {
		return dbio.DBIOError{Op: "push back sequence", Err: err}
	}
	return nil
}

// AppendAction inserts into the subject's append-only log table.
func (s *Store) AppendAction(ctx context.Context, subject string, action dbio.Action) error {
	doc, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	q := s.dia.rebind(`INSERT INTO prov_action_log(subject, doc) VALUES(?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, subject, string(doc)); err != nil {
		return dbio.DBIOError{Op: "append action", Err: err}
	}
	return nil
}

// ReadActions returns the subject's log in insertion order.
func (s *Store) ReadActions(ctx context.Context, subject string) ([]dbio.Action, error) {
	q := s.dia.rebind(`SELECT doc FROM prov_action_log WHERE subject = ? ORDER BY seq`)
	rows, err := s.db.QueryContext(ctx, q, subject)
	if err != nil {
		return nil, dbio.DBIOError{Op: "read action log", Err: err}
	}
	defer func() { _ = rows.Close() }()
	var actions []dbio.Action
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, dbio.DBIOError{Op: "scan action", Err: err}
		}
		var a dbio.Action
		if err := json.Unmarshal(doc, &a); err != nil {
			return nil, dbio.DBIOError{Op: "decode action", Err: err}
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, dbio.DBIOError{Op: "iterate action log", Err: err}
	}
	return actions, nil
}

// ClearActions deletes the subject's log rows.
func (s *Store) ClearActions(ctx context.Context, subject string) error {
	q := s.dia.rebind(`DELETE FROM prov_action_log WHERE subject = ?`)
	if _, err := s.db.ExecContext(ctx, q, subject); err != nil {
		return dbio.DBIOError{Op: "clear action log", Err: err}
	}
	return nil
}

// AppendHistory inserts into the subject's history sequence.
func (s *Store) AppendHistory(ctx context.Context, subject string, entry dbio.History) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	q := s.dia.rebind(`INSERT INTO history(subject, doc) VALUES(?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, subject, string(doc)); err != nil {
		return dbio.DBIOError{Op: "append history", Err: err}
	}
	return nil
}

// ReadHistory returns the subject's archived entries in insertion order.
func (s *Store) ReadHistory(ctx context.Context, subject string) ([]dbio.History, error) {
	q := s.dia.rebind(`SELECT doc FROM history WHERE subject = ? ORDER BY seq`)
	rows, err := s.db.QueryContext(ctx, q, subject)
	if err != nil {
		return nil, dbio.DBIOError{Op: "read history", Err: err}
	}
	defer func() { _ = rows.Close() }()
	var entries []dbio.History
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, dbio.DBIOError{Op: "scan history", Err: err}
		}
		var h dbio.History
		if err := json.Unmarshal(doc, &h); err != nil {
			return nil, dbio.DBIOError{Op: "decode history", Err: err}
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, dbio.DBIOError{Op: "iterate history", Err: err}
	}
	return entries, nil
}

func decodeRecord(doc []byte) (*dbio.Record, error) {
	var rec dbio.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, dbio.DBIOError{Op: "decode record", Err: err}
	}
	return &rec, nil
}
