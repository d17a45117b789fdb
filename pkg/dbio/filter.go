package dbio

import (
	"encoding/json"
	"strings"
)

// FilterOp is the operator at a filter-tree node.
type FilterOp string

// Filter node operators: boolean combinators plus leaf equality.
const (
	OpAnd FilterOp = "$and"
	OpOr  FilterOp = "$or"
	OpEq  FilterOp = "eq"
)

// Filter is a parsed boolean expression over stored-document fields. Interior
// nodes combine sub-expressions with AND/OR; leaves test a dotted field path
// for equality with a literal.
type Filter struct {
	Op    FilterOp
	Subs  []*Filter
	Path  string
	Value any
}

// SelectQuery is the wire form accepted by advanced-selection endpoints.
type SelectQuery struct {
	Filter      map[string]any   `json:"filter"`
	Permissions []PermissionKind `json:"permissions"`
}

// ParseFilter validates and compiles a raw filter tree. Malformed operator
// or field keys fail here, before any record is consulted. A map with
// several keys is an implicit AND of its entries.
func ParseFilter(tree map[string]any) (*Filter, error) {
	if len(tree) == 0 {
		return nil, FilterSyntaxError{Message: "empty filter expression"}
	}
	var subs []*Filter
	for key, raw := range tree {
		node, err := parseEntry(key, raw)
		if err != nil {
			return nil, err
		}
		subs = append(subs, node)
	}
	if len(subs) == 1 {
		return subs[0], nil
	}
	return &Filter{Op: OpAnd, Subs: subs}, nil
}

func parseEntry(key string, raw any) (*Filter, error) {
	if strings.HasPrefix(key, "$") {
		op := FilterOp(key)
		if op != OpAnd && op != OpOr {
			return nil, FilterSyntaxError{Key: key, Message: "unsupported operator"}
		}
		list, ok := raw.([]any)
		if !ok {
			return nil, FilterSyntaxError{Key: key, Message: "operator requires a list of sub-expressions"}
		}
		if len(list) == 0 {
			return nil, FilterSyntaxError{Key: key, Message: "operator requires at least one sub-expression"}
		}
		node := &Filter{Op: op}
		for _, sub := range list {
			subtree, ok := sub.(map[string]any)
			if !ok {
				return nil, FilterSyntaxError{Key: key, Message: "sub-expression must be an object"}
			}
			parsed, err := ParseFilter(subtree)
			if err != nil {
				return nil, err
			}
			node.Subs = append(node.Subs, parsed)
		}
		return node, nil
	}
	if err := validateFieldPath(key); err != nil {
		return nil, err
	}
	switch raw.(type) {
	case map[string]any, []any:
		return nil, FilterSyntaxError{Key: key, Message: "leaf value must be a scalar literal"}
	}
	return &Filter{Op: OpEq, Path: key, Value: raw}, nil
}

func validateFieldPath(path string) error {
	if path == "" {
		return FilterSyntaxError{Key: path, Message: "empty field path"}
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return FilterSyntaxError{Key: path, Message: "empty path segment"}
		}
		for _, r := range seg {
			if !isFieldRune(r) {
				return FilterSyntaxError{Key: path, Message: "illegal character in field path"}
			}
		}
	}
	return nil
}

func isFieldRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}

// Matches evaluates the filter against a record. Field paths dereference the
// record's JSON document form, so "owner" reaches the top-level attribute and
// "data.title" descends into the domain payload.
func (f *Filter) Matches(rec *Record) bool {
	if f == nil {
		return true
	}
	return f.matchesDoc(rec.AsDocument())
}

func (f *Filter) matchesDoc(doc map[string]any) bool {
	switch f.Op {
	case OpAnd:
		for _, sub := range f.Subs {
			if !sub.matchesDoc(doc) {
				return false
			}
		}
		return true
	case OpOr:
		for _, sub := range f.Subs {
			if sub.matchesDoc(doc) {
				return true
			}
		}
		return false
	default:
		got, ok := derefPath(doc, f.Path)
		if !ok {
			return false
		}
		return scalarEqual(got, f.Value)
	}
}

// AsDocument renders the record in its wire/document shape, the form field
// paths are resolved against.
func (r *Record) AsDocument() map[string]any {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return doc
}

func derefPath(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// scalarEqual compares two JSON scalars, normalizing numeric types so that an
// int literal matches a decoded float64.
func scalarEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
