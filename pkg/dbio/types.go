// Package dbio defines the persistent record model, access-control values,
// lifecycle status machinery, and pure query primitives shared by every
// storage backend.
package dbio

import (
	"time"
)

// PermissionKind names one of the access-control list buckets on a record.
type PermissionKind string

// Supported permission kinds. OwnPermission is shorthand for holding all four.
const (
	ReadPermission   PermissionKind = "read"
	WritePermission  PermissionKind = "write"
	AdminPermission  PermissionKind = "admin"
	DeletePermission PermissionKind = "delete"
	// OwnPermission expands to read+write+admin+delete during checks; it is
	// never stored as a bucket of its own.
	OwnPermission PermissionKind = "own"
)

// OwnKinds lists the concrete kinds that OwnPermission expands to.
var OwnKinds = []PermissionKind{ReadPermission, WritePermission, AdminPermission, DeletePermission}

// GroupsCollection is the reserved collection holding group records.
const GroupsCollection = "groups"

// PublicGroup is the well-known group every principal implicitly belongs to.
const PublicGroup = "grp0:public"

// GroupShoulder is the identifier shoulder used when minting group ids.
const GroupShoulder = "grp0"

// ACLs maps a permission kind to the ordered list of principals granted it.
// Principals may be user ids or group ids.
type ACLs map[PermissionKind][]string

// NewACLs returns ACLs granting the owner all four concrete kinds.
func NewACLs(owner string) ACLs {
	acls := ACLs{}
	for _, kind := range OwnKinds {
		acls[kind] = []string{owner}
	}
	return acls
}

// Grant adds principals to the named bucket, skipping ones already present.
// OwnPermission grants all four concrete kinds.
func (a ACLs) Grant(kind PermissionKind, principals ...string) {
	if kind == OwnPermission {
		for _, k := range OwnKinds {
			a.Grant(k, principals...)
		}
		return
	}
	for _, p := range principals {
		if !contains(a[kind], p) {
			a[kind] = append(a[kind], p)
		}
	}
}

// Revoke removes principals from the named bucket. OwnPermission revokes all
// four concrete kinds.
func (a ACLs) Revoke(kind PermissionKind, principals ...string) {
	if kind == OwnPermission {
		for _, k := range OwnKinds {
			a.Revoke(k, principals...)
		}
		return
	}
	kept := a[kind][:0:0]
	for _, p := range a[kind] {
		if !contains(principals, p) {
			kept = append(kept, p)
		}
	}
	a[kind] = kept
}

// Holders returns the principals in the named bucket.
func (a ACLs) Holders(kind PermissionKind) []string {
	return append([]string(nil), a[kind]...)
}

// Clone returns a deep copy.
func (a ACLs) Clone() ACLs {
	if a == nil {
		return nil
	}
	out := make(ACLs, len(a))
	for kind, principals := range a {
		out[kind] = append([]string(nil), principals...)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Record is the unit of storage: a project draft or a group, addressed by an
// immutable minted id within a collection. Data carries the domain payload;
// Meta is reserved for internal bookkeeping and never exposed to clients.
type Record struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Owner    string         `json:"owner"`
	Data     map[string]any `json:"data"`
	Meta     map[string]any `json:"meta"`
	ACLs     ACLs           `json:"acls"`
	Status   *RecordStatus  `json:"status,omitempty"`
	Created  float64        `json:"created"`
	Modified float64        `json:"modified"`
}

// NewRecord initializes a record with owner-only ACLs and an EDIT status.
func NewRecord(id, name, owner string) *Record {
	now := Now()
	return &Record{
		ID:       id,
		Name:     name,
		Owner:    owner,
		Data:     map[string]any{},
		Meta:     map[string]any{},
		ACLs:     NewACLs(owner),
		Status:   NewRecordStatus(now),
		Created:  now,
		Modified: now,
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Data = cloneDoc(r.Data)
	cp.Meta = cloneDoc(r.Meta)
	cp.ACLs = r.ACLs.Clone()
	cp.Status = r.Status.Clone()
	return &cp
}

// Members returns the member principal list of a group record.
func (r *Record) Members() []string {
	raw, ok := r.Data["members"]
	if !ok {
		return nil
	}
	switch list := raw.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, v := range list {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// SetMembers replaces the member principal list of a group record.
func (r *Record) SetMembers(members []string) {
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	r.Data["members"] = append([]string(nil), members...)
}

// cloneDoc deep-copies a nested JSON-style document.
func cloneDoc(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return cloneDoc(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), tv...)
	default:
		return v
	}
}

// Now returns the current time as fractional epoch seconds, the timestamp
// representation used throughout stored documents.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
