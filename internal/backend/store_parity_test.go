package backend

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"dbio/internal/backend/docdb"
	"dbio/internal/backend/fsbased"
	"dbio/internal/backend/inmem"
	"dbio/pkg/dbio"
)

// openTestStores builds one store per driver so every contract test below
// runs against all three backends.
func openTestStores(t *testing.T) map[string]dbio.Store {
	t.Helper()
	fsStore, err := fsbased.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("open fsbased store: %v", err)
	}
	dbStore, err := docdb.NewStore(docdb.DialectSQLite, filepath.Join(t.TempDir(), "parity.db"))
	if err != nil {
		t.Fatalf("open docdb store: %v", err)
	}
	stores := map[string]dbio.Store{
		"inmem":   inmem.NewStore(),
		"fsbased": fsStore,
		"docdb":   dbStore,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func forEachStore(t *testing.T, fn func(t *testing.T, store dbio.Store)) {
	for name, store := range openTestStores(t) {
		t.Run(name, func(t *testing.T) { fn(t, store) })
	}
}

func TestStoreRecordRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, store dbio.Store) {
		ctx := context.Background()
		rec := dbio.NewRecord("pdr0:0001", "thesis", "alice")
		rec.Data["title"] = "Geomagnetism"
		if err := store.SaveRecord(ctx, "projects", rec); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := store.ReadRecord(ctx, "projects", "pdr0:0001")
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.Name != "thesis" || got.Owner != "alice" || got.Data["title"] != "Geomagnetism" {
			t.Fatalf("roundtrip mismatch: %+v", got)
		}
		if got.Status == nil || got.Status.State != dbio.StateEdit {
			t.Fatalf("status lost in roundtrip: %+v", got.Status)
		}

		// upsert replaces
		rec.Data["title"] = "Paleomagnetism"
		if err := store.SaveRecord(ctx, "projects", rec); err != nil {
			t.Fatalf("resave: %v", err)
		}
		got, err = store.ReadRecord(ctx, "projects", "pdr0:0001")
		if err != nil {
			t.Fatalf("reread: %v", err)
		}
		if got.Data["title"] != "Paleomagnetism" {
			t.Fatalf("upsert did not replace: %+v", got.Data)
		}
	})
}

func TestStoreReadMissIsTypedError(t *testing.T) {
	forEachStore(t, func(t *testing.T, store dbio.Store) {
		_, err := store.ReadRecord(context.Background(), "projects", "pdr0:9999")
		var missing dbio.ObjectNotFoundError
		if !errors.As(err, &missing) {
			t.Fatalf("expected ObjectNotFoundError, got %v", err)
		}
		if missing.ID != "pdr0:9999" {
			t.Fatalf("error carries wrong id: %+v", missing)
		}
	})
}

func TestStoreFindByName(t *testing.T) {
	forEachStore(t, func(t *testing.T, store dbio.Store) {
		ctx := context.Background()
		if err := store.SaveRecord(ctx, "projects", dbio.NewRecord("pdr0:0001", "thesis", "alice")); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := store.FindByName(ctx, "projects", "alice", "thesis")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if got == nil || got.ID != "pdr0:0001" {
			t.Fatalf("expected hit, got %+v", got)
		}
		// misses return nil, not an error
		got, err = store.FindByName(ctx, "projects", "bob", "thesis")
		if err != nil || got != nil {
			t.Fatalf("owner mismatch must be a nil miss: %v %v", got, err)
		}
		got, err = store.FindByName(ctx, "projects", "alice", "absent")
		if err != nil || got != nil {
			t.Fatalf("name miss must be nil: %v %v", got, err)
		}
	})
}

func TestStoreSelectWithFilter(t *testing.T) {
	forEachStore(t, func(t *testing.T, store dbio.Store) {
		ctx := context.Background()
		a := dbio.NewRecord("pdr0:0001", "alpha", "alice")
		a.Data["kind"] = "survey"
		b := dbio.NewRecord("pdr0:0002", "beta", "bob")
		b.Data["kind"] = "model"
		for _, rec := range []*dbio.Record{a, b} {
			if err := store.SaveRecord(ctx, "projects", rec); err != nil {
				t.Fatalf("save: %v", err)
			}
		}
		all, err := store.SelectRecords(ctx, "projects", nil)
		if err != nil {
			t.Fatalf("select all: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("expected two records, got %d", len(all))
		}
		filter, err := dbio.ParseFilter(map[string]any{"data.kind": "survey"})
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		matched, err := store.SelectRecords(ctx, "projects", filter)
		if err != nil {
			t.Fatalf("select filtered: %v", err)
		}
		if len(matched) != 1 || matched[0].ID != "pdr0:0001" {
			t.Fatalf("filter mismatch: %+v", matched)
		}
	})
}

func TestStoreDeleteReportsExistence(t *testing.T) {
	forEachStore(t, func(t *testing.T, store dbio.Store) {
		ctx := context.Background()
		if err := store.SaveRecord(ctx, "projects", dbio.NewRecord("pdr0:0001", "thesis", "alice")); err != nil {
			t.Fatalf("save: %v", err)
		}
		deleted, err := store.DeleteRecord(ctx, "projects", "pdr0:0001")
		if err != nil || !deleted {
			t.Fatalf("expected delete hit: %v %v", deleted, err)
		}
		deleted, err = store.DeleteRecord(ctx, "projects", "pdr0:0001")
		if err != nil || deleted {
			t.Fatalf("second delete must be a clean miss: %v %v", deleted, err)
		}
	})
}

func TestStoreSequenceMintAndPushBack(t *testing.T) {
	forEachStore(t, func(t *testing.T, store dbio.Store) {
		ctx := context.Background()
		n1, err := store.NextSequence(ctx, "projects", "pdr0")
		if err != nil {
			t.Fatalf("first mint: %v", err)
		}
		if n1 != 1 {
			t.Fatalf("counters start at 1, got %d", n1)
		}
		n2, err := store.NextSequence(ctx, "projects", "pdr0")
		if err != nil || n2 != 2 {
			t.Fatalf("expected 2, got %d (%v)", n2, err)
		}

		// pushing back the latest issue reclaims it
		if err := store.PushBackSequence(ctx, "projects", "pdr0", n2); err != nil {
			t.Fatalf("push back: %v", err)
		}
		n3, err := store.NextSequence(ctx, "projects", "pdr0")
		if err != nil || n3 != 2 {
			t.Fatalf("reclaimed number not reissued: %d (%v)", n3, err)
		}

		// pushing back a stale number is a silent no-op
		if err := store.PushBackSequence(ctx, "projects", "pdr0", n1); err != nil {
			t.Fatalf("stale push back: %v", err)
		}
		n4, err := store.NextSequence(ctx, "projects", "pdr0")
		if err != nil || n4 != 3 {
			t.Fatalf("stale push back must not rewind: %d (%v)", n4, err)
		}

		// shoulders have independent counters
		g1, err := store.NextSequence(ctx, "projects", "grp0")
		if err != nil || g1 != 1 {
			t.Fatalf("independent shoulder counter: %d (%v)", g1, err)
		}
	})
}

func TestStoreActionLog(t *testing.T) {
	forEachStore(t, func(t *testing.T, store dbio.Store) {
		ctx := context.Background()
		subject := "pdr0:0001"
		for _, verb := range []string{dbio.ActionCreate, dbio.ActionPatch, dbio.ActionComment} {
			if err := store.AppendAction(ctx, subject, dbio.NewAction(verb, subject, "alice", "")); err != nil {
				t.Fatalf("append %s: %v", verb, err)
			}
		}
		actions, err := store.ReadActions(ctx, subject)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(actions) != 3 {
			t.Fatalf("expected three actions, got %d", len(actions))
		}
		if actions[0].Type != dbio.ActionCreate || actions[2].Type != dbio.ActionComment {
			t.Fatalf("append order not preserved: %+v", actions)
		}
		if err := store.ClearActions(ctx, subject); err != nil {
			t.Fatalf("clear: %v", err)
		}
		actions, err = store.ReadActions(ctx, subject)
		if err != nil {
			t.Fatalf("read after clear: %v", err)
		}
		if len(actions) != 0 {
			t.Fatalf("log not cleared: %+v", actions)
		}
	})
}

func TestStoreHistorySurvivesRecordDeletion(t *testing.T) {
	forEachStore(t, func(t *testing.T, store dbio.Store) {
		ctx := context.Background()
		subject := "pdr0:0001"
		if err := store.SaveRecord(ctx, "projects", dbio.NewRecord(subject, "thesis", "alice")); err != nil {
			t.Fatalf("save: %v", err)
		}
		entry := dbio.NewHistory(subject,
			[]dbio.Action{dbio.NewAction(dbio.ActionCreate, subject, "alice", "")},
			dbio.NewAction(dbio.ActionDelete, subject, "alice", "closing"),
			nil, []string{"alice"})
		if err := store.AppendHistory(ctx, subject, entry); err != nil {
			t.Fatalf("append history: %v", err)
		}
		if _, err := store.DeleteRecord(ctx, "projects", subject); err != nil {
			t.Fatalf("delete: %v", err)
		}
		entries, err := store.ReadHistory(ctx, subject)
		if err != nil {
			t.Fatalf("read history: %v", err)
		}
		if len(entries) != 1 || entries[0].ID != entry.ID {
			t.Fatalf("history lost after record deletion: %+v", entries)
		}
		if entries[0].CloseAction.Message != "closing" {
			t.Fatalf("close action not preserved: %+v", entries[0])
		}
	})
}
