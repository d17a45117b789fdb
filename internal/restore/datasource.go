package restore

import (
	"context"
	"sync"

	"dbio/pkg/dbio"
)

// DataSource is a lazy handle on one restorable document. The first GetData
// fetches through the registry and caches the result; Free drops the cache so
// a later GetData re-fetches.
type DataSource struct {
	locator  string
	registry *Registry

	mu     sync.Mutex
	cached *dbio.Record
}

// NewDataSource binds a locator to a registry without fetching anything.
func NewDataSource(locator string, registry *Registry) *DataSource {
	return &DataSource{locator: locator, registry: registry}
}

// Locator returns the source locator.
func (d *DataSource) Locator() string { return d.locator }

// GetData returns the document, fetching it on first use. Callers get a
// private clone; the cached copy is never aliased out.
func (d *DataSource) GetData(ctx context.Context) (*dbio.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached == nil {
		rec, err := d.registry.Fetch(ctx, d.locator)
		if err != nil {
			return nil, err
		}
		d.cached = rec
	}
	return d.cached.Clone(), nil
}

// RestoreInto writes the document into the target store under the given
// collection, fetching it first if needed. With thenFree the cache is dropped
// after a successful write, so one-shot restores do not pin the document.
func (d *DataSource) RestoreInto(ctx context.Context, target dbio.Store, collection string, thenFree bool) error {
	rec, err := d.GetData(ctx)
	if err != nil {
		return err
	}
	if err := target.SaveRecord(ctx, collection, rec); err != nil {
		return err
	}
	if thenFree {
		d.Free()
	}
	return nil
}

// Free discards the cached document.
func (d *DataSource) Free() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
