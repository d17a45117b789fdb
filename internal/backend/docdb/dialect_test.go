package docdb

import (
	"testing"

	"dbio/pkg/dbio"
)

func TestPostgresRebind(t *testing.T) {
	got := pgDialect{}.rebind(`SELECT doc FROM records WHERE collection = ? AND id = ?`)
	want := `SELECT doc FROM records WHERE collection = $1 AND id = $2`
	if got != want {
		t.Fatalf("rebind:\n got %s\nwant %s", got, want)
	}
}

func TestSQLiteRebindIsIdentity(t *testing.T) {
	q := `SELECT doc FROM records WHERE id = ?`
	if got := (liteDialect{}).rebind(q); got != q {
		t.Fatalf("sqlite rebind changed the query: %s", got)
	}
}

func TestPostgresJSONEqualsComparesExtractedValue(t *testing.T) {
	clause, args, err := pgDialect{}.jsonEquals("data.contact.email", "a@b.c")
	if err != nil {
		t.Fatalf("jsonEquals: %v", err)
	}
	// strict equality on the extracted value: a scalar literal must not match
	// inside an array-valued field the way containment would
	if clause != "doc #> '{data,contact,email}' = ?::jsonb" {
		t.Fatalf("unexpected clause %s", clause)
	}
	if len(args) != 1 || args[0] != `"a@b.c"` {
		t.Fatalf("unexpected literal %v", args)
	}

	clause, args, err = pgDialect{}.jsonEquals("data.gone", nil)
	if err != nil {
		t.Fatalf("jsonEquals nil: %v", err)
	}
	want := "(doc #> '{data,gone}' IS NULL OR doc #> '{data,gone}' = 'null'::jsonb)"
	if clause != want || len(args) != 0 {
		t.Fatalf("nil translation wrong: %s %v", clause, args)
	}
}

func TestSQLiteJSONEquals(t *testing.T) {
	clause, args, err := liteDialect{}.jsonEquals("data.year", 2024)
	if err != nil {
		t.Fatalf("jsonEquals: %v", err)
	}
	if clause != "json_extract(doc, '$.data.year') = ?" {
		t.Fatalf("unexpected clause %s", clause)
	}
	if len(args) != 1 || args[0] != 2024 {
		t.Fatalf("unexpected args %v", args)
	}

	// booleans compare against json_extract's 0/1
	clause, args, err = liteDialect{}.jsonEquals("data.open", true)
	if err != nil {
		t.Fatalf("jsonEquals bool: %v", err)
	}
	if clause != "json_extract(doc, '$.data.open') = ?" || len(args) != 1 || args[0] != 1 {
		t.Fatalf("bool translation wrong: %s %v", clause, args)
	}

	// nil uses IS NULL with no binding
	clause, args, err = liteDialect{}.jsonEquals("data.gone", nil)
	if err != nil {
		t.Fatalf("jsonEquals nil: %v", err)
	}
	if clause != "json_extract(doc, '$.data.gone') IS NULL" || len(args) != 0 {
		t.Fatalf("nil translation wrong: %s %v", clause, args)
	}
}

func TestTranslateFilterComposesBooleans(t *testing.T) {
	tree, err := dbio.ParseFilter(map[string]any{
		"$or": []any{
			map[string]any{"owner": "alice"},
			map[string]any{
				"$and": []any{
					map[string]any{"data.kind": "survey"},
					map[string]any{"data.year": 2024},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	clause, args, err := translateFilter(liteDialect{}, tree)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	want := "(json_extract(doc, '$.owner') = ? OR (json_extract(doc, '$.data.kind') = ? AND json_extract(doc, '$.data.year') = ?))"
	if clause != want {
		t.Fatalf("clause:\n got %s\nwant %s", clause, want)
	}
	if len(args) != 3 {
		t.Fatalf("expected three bound args, got %v", args)
	}
}

func TestNewStoreRejectsUnknownDialect(t *testing.T) {
	if _, err := NewStore("oracle", "dsn"); err == nil {
		t.Fatalf("expected configuration error")
	}
}
