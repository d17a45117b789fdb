// Package restore recovers record documents from out-of-band locations: a
// mirror store holding snapshots, or an archive reachable over HTTP. A
// locator string names the source; its scheme selects the fetch strategy.
package restore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"dbio/internal/archive"
	"dbio/pkg/dbio"
)

// StoreScheme prefixes locators that resolve against a mirror store:
// "dbio_store:<collection>/<id>".
const StoreScheme = "dbio_store"

// maxDocumentBytes caps how much of a remote response is read.
const maxDocumentBytes = 16 << 20

// Restorer fetches one record document from wherever its locator points.
type Restorer interface {
	Fetch(ctx context.Context, locator string) (*dbio.Record, error)
}

// Registry dispatches locators to restorers by scheme.
type Registry struct {
	mu        sync.RWMutex
	restorers map[string]Restorer
}

// NewRegistry returns an empty scheme registry.
func NewRegistry() *Registry {
	return &Registry{restorers: make(map[string]Restorer)}
}

// Register binds a scheme ("dbio_store", "https") to a restorer. Later
// registrations replace earlier ones.
func (r *Registry) Register(scheme string, restorer Restorer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restorers[scheme] = restorer
}

// Fetch resolves a locator through the restorer registered for its scheme.
func (r *Registry) Fetch(ctx context.Context, locator string) (*dbio.Record, error) {
	scheme, _, ok := strings.Cut(locator, ":")
	if !ok {
		return nil, dbio.ConfigurationError{Param: "locator", Message: fmt.Sprintf("no scheme in %q", locator)}
	}
	r.mu.RLock()
	restorer, found := r.restorers[scheme]
	r.mu.RUnlock()
	if !found {
		return nil, dbio.ConfigurationError{Param: "locator", Message: fmt.Sprintf("no restorer for scheme %q", scheme)}
	}
	return restorer.Fetch(ctx, locator)
}

// DefaultRegistry wires the standard schemes: a snapshot restorer over the
// given mirror store and an archive restorer over the given archiver (each
// when non-nil), plus http and https.
func DefaultRegistry(mirror dbio.Store, arch *archive.Archiver) *Registry {
	reg := NewRegistry()
	if mirror != nil {
		reg.Register(StoreScheme, &SnapshotRestorer{Mirror: mirror})
	}
	if arch != nil {
		reg.Register(archive.Scheme, &archive.Restorer{Archiver: arch})
	}
	web := &URLRestorer{}
	reg.Register("http", web)
	reg.Register("https", web)
	return reg
}

// SnapshotRestorer resolves "dbio_store:<collection>/<id>" locators against a
// mirror store that holds archived snapshots.
type SnapshotRestorer struct {
	Mirror dbio.Store
}

// Fetch reads the named snapshot from the mirror.
func (s *SnapshotRestorer) Fetch(ctx context.Context, locator string) (*dbio.Record, error) {
	rest, ok := strings.CutPrefix(locator, StoreScheme+":")
	if !ok {
		return nil, dbio.ConfigurationError{Param: "locator", Message: fmt.Sprintf("not a %s locator: %q", StoreScheme, locator)}
	}
	collection, id, ok := strings.Cut(rest, "/")
	if !ok || collection == "" || id == "" {
		return nil, dbio.ConfigurationError{Param: "locator", Message: fmt.Sprintf("want %s:<collection>/<id>, got %q", StoreScheme, locator)}
	}
	return s.Mirror.ReadRecord(ctx, collection, id)
}

// URLRestorer resolves http and https locators by fetching a JSON record
// document.
type URLRestorer struct {
	// Client defaults to a client with a 30s timeout.
	Client *http.Client
}

func (u *URLRestorer) client() *http.Client {
	if u.Client != nil {
		return u.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Fetch downloads and decodes the document. HTTP status codes map onto the
// package's error taxonomy: 404 means not found, 401/403/406 mean not
// authorized, anything else non-2xx is a wrapped transfer error.
func (u *URLRestorer) Fetch(ctx context.Context, locator string) (*dbio.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, dbio.DBIOError{Op: "restore fetch", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := u.client().Do(req)
	if err != nil {
		return nil, dbio.DBIOError{Op: "restore fetch", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, dbio.ObjectNotFoundError{Collection: "remote", ID: locator}
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotAcceptable:
		return nil, dbio.NotAuthorizedError{Principal: "restore", Operation: "fetch " + locator}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, dbio.DBIOError{Op: "restore fetch", Err: fmt.Errorf("%s returned %s", locator, resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, dbio.DBIOError{Op: "restore fetch", Err: err}
	}
	var rec dbio.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, dbio.DBIOError{Op: "restore decode", Err: err}
	}
	if rec.ID == "" {
		return nil, dbio.DBIOError{Op: "restore decode", Err: fmt.Errorf("document from %s has no id", locator)}
	}
	return &rec, nil
}
