package docdb

import (
	"encoding/json"
	"fmt"
	"strings"

	"dbio/pkg/dbio"
)

// dialect abstracts the SQL differences between the supported engines:
// placeholder style, schema DDL, and how a dotted-path equality test is
// expressed against the JSON document column.
type dialect interface {
	driverName() string
	schema() []string
	// rebind rewrites ? placeholders into the engine's native style.
	rebind(query string) string
	// jsonEquals renders a predicate testing the dotted path for equality
	// with the literal, returning the SQL fragment and its bound arguments.
	jsonEquals(path string, value any) (string, []any, error)
}

type pgDialect struct{}

func (pgDialect) driverName() string { return "pgx" }

func (pgDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS records (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			owner TEXT NOT NULL,
			doc JSONB NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS records_owner_name ON records(collection, owner, name)`,
		`CREATE TABLE IF NOT EXISTS nextnum (
			shoulder TEXT PRIMARY KEY,
			n BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS prov_action_log (
			seq BIGSERIAL PRIMARY KEY,
			subject TEXT NOT NULL,
			doc JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS prov_action_log_subject ON prov_action_log(subject)`,
		`CREATE TABLE IF NOT EXISTS history (
			seq BIGSERIAL PRIMARY KEY,
			subject TEXT NOT NULL,
			doc JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS history_subject ON history(subject)`,
	}
}

func (pgDialect) rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// jsonEquals extracts the dotted path with #> and compares the jsonb value
// for strict equality, matching the other drivers on array-valued fields,
// where containment would also accept element membership. The path is
// embedded, not bound, which is safe because filter parsing restricts path
// characters to [A-Za-z0-9_.-].
func (pgDialect) jsonEquals(path string, value any) (string, []any, error) {
	expr := fmt.Sprintf("doc #> '{%s}'", strings.Join(strings.Split(path, "."), ","))
	if value == nil {
		// a missing path and an explicit JSON null both count as nil
		return fmt.Sprintf("(%s IS NULL OR %s = 'null'::jsonb)", expr, expr), nil, nil
	}
	lit, err := json.Marshal(value)
	if err != nil {
		return "", nil, dbio.FilterSyntaxError{Key: path, Message: "unencodable literal"}
	}
	return expr + " = ?::jsonb", []any{string(lit)}, nil
}

type liteDialect struct{}

func (liteDialect) driverName() string { return "sqlite" }

func (liteDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS records (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			owner TEXT NOT NULL,
			doc TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS records_owner_name ON records(collection, owner, name)`,
		`CREATE TABLE IF NOT EXISTS nextnum (
			shoulder TEXT PRIMARY KEY,
			n INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS prov_action_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			subject TEXT NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS prov_action_log_subject ON prov_action_log(subject)`,
		`CREATE TABLE IF NOT EXISTS history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			subject TEXT NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS history_subject ON history(subject)`,
	}
}

func (liteDialect) rebind(query string) string { return query }

// jsonEquals extracts the dotted path with json_extract and compares the
// scalar directly. The path is embedded, not bound, which is safe because
// filter parsing restricts path characters to [A-Za-z0-9_.-].
func (liteDialect) jsonEquals(path string, value any) (string, []any, error) {
	expr := fmt.Sprintf("json_extract(doc, '$.%s')", path)
	switch v := value.(type) {
	case bool:
		// json_extract yields 0/1 for JSON booleans
		n := 0
		if v {
			n = 1
		}
		return expr + " = ?", []any{n}, nil
	case nil:
		return expr + " IS NULL", nil, nil
	default:
		return expr + " = ?", []any{value}, nil
	}
}

// translateFilter renders a parsed filter tree as a WHERE-clause fragment.
func translateFilter(dia dialect, f *dbio.Filter) (string, []any, error) {
	switch f.Op {
	case dbio.OpAnd, dbio.OpOr:
		joiner := " AND "
		if f.Op == dbio.OpOr {
			joiner = " OR "
		}
		var parts []string
		var args []any
		for _, sub := range f.Subs {
			clause, subArgs, err := translateFilter(dia, sub)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, clause)
			args = append(args, subArgs...)
		}
		return "(" + strings.Join(parts, joiner) + ")", args, nil
	default:
		return dia.jsonEquals(f.Path, f.Value)
	}
}
