package archive

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"dbio/pkg/dbio"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("open fs archive: %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(),
		"fs":     fsStore,
	}
}

func TestStorePutGetHeadDelete(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			body := []byte(`{"id":"pdr0:0001"}`)
			info, err := store.Put(ctx, "projects/pdr0:0001.json", bytes.NewReader(body), PutOptions{ContentType: "application/json", Metadata: map[string]string{"origin": "test"}})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if info.Size != int64(len(body)) || info.ContentType != "application/json" {
				t.Fatalf("wrong info: %+v", info)
			}

			// archive objects are create-only
			if _, err := store.Put(ctx, "projects/pdr0:0001.json", bytes.NewReader(body), PutOptions{}); err == nil {
				t.Fatalf("second put to same key must fail")
			}

			got, rc, err := store.Get(ctx, "projects/pdr0:0001.json")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			data, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil || !bytes.Equal(data, body) {
				t.Fatalf("content mismatch: %q %v", data, err)
			}
			if got.Metadata["origin"] != "test" {
				t.Fatalf("metadata lost: %+v", got.Metadata)
			}

			head, err := store.Head(ctx, "projects/pdr0:0001.json")
			if err != nil || head.Size != int64(len(body)) {
				t.Fatalf("head: %+v %v", head, err)
			}

			deleted, err := store.Delete(ctx, "projects/pdr0:0001.json")
			if err != nil || !deleted {
				t.Fatalf("delete: %v %v", deleted, err)
			}
			deleted, err = store.Delete(ctx, "projects/pdr0:0001.json")
			if err != nil || deleted {
				t.Fatalf("second delete must be a miss: %v %v", deleted, err)
			}
		})
	}
}

func TestStoreListByPrefix(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			keys := []string{"projects/a.json", "projects/b.json", "history/x/y.json"}
			for _, key := range keys {
				if _, err := store.Put(ctx, key, strings.NewReader("{}"), PutOptions{}); err != nil {
					t.Fatalf("put %s: %v", key, err)
				}
			}
			infos, err := store.List(ctx, "projects/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(infos) != 2 || infos[0].Key != "projects/a.json" || infos[1].Key != "projects/b.json" {
				t.Fatalf("unexpected listing: %+v", infos)
			}
			all, err := store.List(ctx, "")
			if err != nil || len(all) != 3 {
				t.Fatalf("full listing: %+v %v", all, err)
			}
		})
	}
}

func TestFSStoreRejectsTraversalKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	for _, bad := range []string{"", "/abs", "../escape", "a/../../b"} {
		if _, err := store.Put(ctx, bad, strings.NewReader("x"), PutOptions{}); err == nil {
			t.Fatalf("key %q must be rejected", bad)
		}
	}
}

func TestArchiverRecordRoundTrip(t *testing.T) {
	arch := NewArchiver(NewMemoryStore())
	ctx := context.Background()
	rec := dbio.NewRecord("pdr0:0001", "thesis", "alice")
	rec.Data["title"] = "Geomagnetism"

	locator, err := arch.ArchiveRecord(ctx, "projects", rec)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if locator != "dbio_archive:projects/pdr0:0001.json" {
		t.Fatalf("unexpected locator %s", locator)
	}
	got, err := arch.FetchRecord(ctx, RecordKey("projects", rec.ID))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.ID != rec.ID || got.Data["title"] != "Geomagnetism" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}

	// snapshots are immutable
	if _, err := arch.ArchiveRecord(ctx, "projects", rec); err == nil {
		t.Fatalf("re-archiving the same snapshot must fail")
	}
}

func TestArchiverHistoryRoundTrip(t *testing.T) {
	arch := NewArchiver(NewMemoryStore())
	ctx := context.Background()
	entry := dbio.NewHistory("pdr0:0001",
		[]dbio.Action{dbio.NewAction(dbio.ActionCreate, "pdr0:0001", "alice", "")},
		dbio.NewAction(dbio.ActionSubmit, "pdr0:0001", "alice", "done"),
		map[string]any{"milestone": "v1"}, []string{"alice"})

	locator, err := arch.ArchiveHistory(ctx, entry)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if locator != Locator(HistoryKey("pdr0:0001", entry.ID)) {
		t.Fatalf("unexpected locator %s", locator)
	}
	got, err := arch.FetchHistory(ctx, HistoryKey("pdr0:0001", entry.ID))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.ID != entry.ID || len(got.Actions) != 1 || got.Extra["milestone"] != "v1" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestArchiveRestorerResolvesLocators(t *testing.T) {
	arch := NewArchiver(NewMemoryStore())
	ctx := context.Background()
	rec := dbio.NewRecord("pdr0:0001", "thesis", "alice")
	locator, err := arch.ArchiveRecord(ctx, "projects", rec)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}

	restorer := &Restorer{Archiver: arch}
	got, err := restorer.Fetch(ctx, locator)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.ID != rec.ID {
		t.Fatalf("wrong record: %+v", got)
	}
	if _, err := restorer.Fetch(ctx, "https://elsewhere/x"); err == nil {
		t.Fatalf("foreign scheme must be rejected")
	}
	if _, err := restorer.Fetch(ctx, Locator("projects/absent.json")); err == nil {
		t.Fatalf("missing object must error")
	}
}
