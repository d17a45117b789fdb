package inmem

import (
	"context"
	"testing"

	"dbio/pkg/dbio"
)

func TestCloneOnReadAndWrite(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	rec := dbio.NewRecord("pdr0:0001", "thesis", "alice")
	rec.Data["k"] = "v"
	if err := store.SaveRecord(ctx, "projects", rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	// mutating the caller's record after save must not reach the store
	rec.Data["k"] = "changed"
	got, err := store.ReadRecord(ctx, "projects", "pdr0:0001")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Data["k"] != "v" {
		t.Fatalf("store aliased the saved record: %+v", got.Data)
	}

	// mutating a read result must not reach the store either
	got.Data["k"] = "tampered"
	again, err := store.ReadRecord(ctx, "projects", "pdr0:0001")
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	if again.Data["k"] != "v" {
		t.Fatalf("store aliased the read result: %+v", again.Data)
	}
}

func TestCollectionsAreIndependent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	if err := store.SaveRecord(ctx, "projects", dbio.NewRecord("pdr0:0001", "a", "alice")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.ReadRecord(ctx, "groups", "pdr0:0001"); err == nil {
		t.Fatalf("record leaked across collections")
	}
	recs, err := store.SelectRecords(ctx, "groups", nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("unexpected records in empty collection: %+v", recs)
	}
}
