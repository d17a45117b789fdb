package dbio

import "context"

// Driver identifies a concrete storage implementation.
type Driver string

// Supported storage drivers.
const (
	DriverInMem   Driver = "inmem"   // in-process maps (tests / ephemeral)
	DriverFSBased Driver = "fsbased" // one JSON file per record under a root dir
	DriverDocDB   Driver = "docdb"   // document table in postgres or sqlite
)

// Store is the low-level persistence contract implemented identically by the
// in-memory, filesystem, and document-database drivers. It moves whole record
// documents, provenance entries, and sequence counters; authorization,
// minting policy, and lifecycle semantics live above it and are shared by
// every driver, which is what keeps the backends behaviorally
// indistinguishable.
type Store interface {
	// SaveRecord upserts a record document within a collection.
	SaveRecord(ctx context.Context, collection string, rec *Record) error
	// ReadRecord returns the record or an ObjectNotFoundError.
	ReadRecord(ctx context.Context, collection, id string) (*Record, error)
	// FindByName returns the record with the (owner, name) pair, or nil on a
	// miss; misses are not errors.
	FindByName(ctx context.Context, collection, owner, name string) (*Record, error)
	// SelectRecords returns the records of a collection matching the filter
	// tree; a nil filter matches everything.
	SelectRecords(ctx context.Context, collection string, filter *Filter) ([]*Record, error)
	// DeleteRecord removes a record, reporting whether it existed.
	DeleteRecord(ctx context.Context, collection, id string) (bool, error)

	// NextSequence atomically issues the next unused integer for a shoulder
	// counter, starting from 1. Counters are keyed by shoulder alone within
	// a store; the collection argument scopes locking and lets a driver
	// namespace counters should two collections ever share a shoulder.
	NextSequence(ctx context.Context, collection, shoulder string) (int, error)
	// PushBackSequence reclaims n when and only when it was the most recent
	// number issued; otherwise it is a silent no-op.
	PushBackSequence(ctx context.Context, collection, shoulder string, n int) error

	// AppendAction appends to the subject's append-only provenance log.
	AppendAction(ctx context.Context, subject string, action Action) error
	// ReadActions returns the subject's live provenance log in append order.
	ReadActions(ctx context.Context, subject string) ([]Action, error)
	// ClearActions empties the subject's live provenance log.
	ClearActions(ctx context.Context, subject string) error

	// AppendHistory pushes an entry onto the subject's append-only history
	// sequence. History is never removed, not even when the record is.
	AppendHistory(ctx context.Context, subject string, entry History) error
	// ReadHistory returns the subject's archived history entries in order.
	ReadHistory(ctx context.Context, subject string) ([]History, error)

	// Driver reports which implementation this is.
	Driver() Driver
	// Close releases any underlying resources.
	Close() error
}
