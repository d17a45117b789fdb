package restore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"dbio/internal/archive"
	"dbio/internal/backend/inmem"
	"dbio/pkg/dbio"
)

func TestSnapshotRestorerReadsMirror(t *testing.T) {
	mirror := inmem.NewStore()
	ctx := context.Background()
	rec := dbio.NewRecord("pdr0:0001", "thesis", "alice")
	if err := mirror.SaveRecord(ctx, "projects", rec); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}
	reg := DefaultRegistry(mirror, nil)

	got, err := reg.Fetch(ctx, "dbio_store:projects/pdr0:0001")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.ID != "pdr0:0001" || got.Owner != "alice" {
		t.Fatalf("wrong record: %+v", got)
	}

	var missing dbio.ObjectNotFoundError
	if _, err := reg.Fetch(ctx, "dbio_store:projects/pdr0:9999"); !errors.As(err, &missing) {
		t.Fatalf("expected ObjectNotFoundError, got %v", err)
	}
}

func TestSnapshotRestorerRejectsMalformedLocator(t *testing.T) {
	reg := DefaultRegistry(inmem.NewStore(), nil)
	ctx := context.Background()
	for _, bad := range []string{"dbio_store:no-slash", "dbio_store:/id", "dbio_store:coll/"} {
		var cfgErr dbio.ConfigurationError
		if _, err := reg.Fetch(ctx, bad); !errors.As(err, &cfgErr) {
			t.Fatalf("%s: expected ConfigurationError, got %v", bad, err)
		}
	}
}

func TestDefaultRegistryResolvesArchiveLocators(t *testing.T) {
	arch := archive.NewArchiver(archive.NewMemoryStore())
	ctx := context.Background()
	rec := dbio.NewRecord("pdr0:0001", "thesis", "alice")
	locator, err := arch.ArchiveRecord(ctx, "projects", rec)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}

	reg := DefaultRegistry(nil, arch)
	got, err := reg.Fetch(ctx, locator)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.ID != rec.ID || got.Name != "thesis" {
		t.Fatalf("wrong record: %+v", got)
	}

	// without an archiver the scheme stays unregistered
	var cfgErr dbio.ConfigurationError
	if _, err := DefaultRegistry(nil, nil).Fetch(ctx, locator); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestRegistryRequiresKnownScheme(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	var cfgErr dbio.ConfigurationError
	if _, err := reg.Fetch(ctx, "noscheme"); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for schemeless locator, got %v", err)
	}
	if _, err := reg.Fetch(ctx, "gopher://x"); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for unknown scheme, got %v", err)
	}
}

func TestURLRestorerStatusMapping(t *testing.T) {
	rec := dbio.NewRecord("pdr0:0001", "thesis", "alice")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_ = json.NewEncoder(w).Encode(rec)
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		case "/locked":
			w.WriteHeader(http.StatusForbidden)
		case "/flaky":
			w.WriteHeader(http.StatusBadGateway)
		case "/garbage":
			_, _ = w.Write([]byte("{not json"))
		case "/anonymous":
			_, _ = w.Write([]byte("{}"))
		}
	}))
	defer srv.Close()

	reg := DefaultRegistry(nil, nil)
	ctx := context.Background()

	got, err := reg.Fetch(ctx, srv.URL+"/ok")
	if err != nil {
		t.Fatalf("fetch ok: %v", err)
	}
	if got.ID != rec.ID {
		t.Fatalf("wrong record: %+v", got)
	}

	var missing dbio.ObjectNotFoundError
	if _, err := reg.Fetch(ctx, srv.URL+"/gone"); !errors.As(err, &missing) {
		t.Fatalf("404 must map to ObjectNotFoundError, got %v", err)
	}
	var denied dbio.NotAuthorizedError
	if _, err := reg.Fetch(ctx, srv.URL+"/locked"); !errors.As(err, &denied) {
		t.Fatalf("403 must map to NotAuthorizedError, got %v", err)
	}
	var backendErr dbio.DBIOError
	if _, err := reg.Fetch(ctx, srv.URL+"/flaky"); !errors.As(err, &backendErr) {
		t.Fatalf("5xx must map to DBIOError, got %v", err)
	}
	if _, err := reg.Fetch(ctx, srv.URL+"/garbage"); !errors.As(err, &backendErr) {
		t.Fatalf("undecodable body must map to DBIOError, got %v", err)
	}
	if _, err := reg.Fetch(ctx, srv.URL+"/anonymous"); !errors.As(err, &backendErr) {
		t.Fatalf("document without id must map to DBIOError, got %v", err)
	}
}

func TestDataSourceCachesUntilFreed(t *testing.T) {
	hits := 0
	rec := dbio.NewRecord("pdr0:0001", "thesis", "alice")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_ = json.NewEncoder(w).Encode(rec)
	}))
	defer srv.Close()

	ds := NewDataSource(srv.URL+"/doc", DefaultRegistry(nil, nil))
	ctx := context.Background()

	first, err := ds.GetData(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := ds.GetData(ctx); err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected one fetch, got %d", hits)
	}
	// callers get clones, not the cache
	first.Data["tamper"] = true
	again, err := ds.GetData(ctx)
	if err != nil {
		t.Fatalf("get after tamper: %v", err)
	}
	if _, leaked := again.Data["tamper"]; leaked {
		t.Fatalf("cache aliased out to caller")
	}

	ds.Free()
	if _, err := ds.GetData(ctx); err != nil {
		t.Fatalf("refetch after free: %v", err)
	}
	if hits != 2 {
		t.Fatalf("free must force a refetch, got %d hits", hits)
	}
}

func TestDataSourceRestoreInto(t *testing.T) {
	mirror := inmem.NewStore()
	ctx := context.Background()
	rec := dbio.NewRecord("pdr0:0001", "thesis", "alice")
	if err := mirror.SaveRecord(ctx, "projects", rec); err != nil {
		t.Fatalf("seed: %v", err)
	}

	target := inmem.NewStore()
	ds := NewDataSource("dbio_store:projects/pdr0:0001", DefaultRegistry(mirror, nil))
	if err := ds.RestoreInto(ctx, target, "projects", true); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := target.ReadRecord(ctx, "projects", "pdr0:0001")
	if err != nil {
		t.Fatalf("read restored: %v", err)
	}
	if got.Name != "thesis" {
		t.Fatalf("wrong restored record: %+v", got)
	}
}
