package backend

import (
	"context"
	"sort"

	"dbio/pkg/dbio"
)

// GroupClient manages group records: membership lists that may nest other
// groups. It is a Client bound to the reserved groups collection, so group
// records inherit the full record machinery (minted ids, ACLs, provenance).
type GroupClient struct {
	*Client
}

// CreateGroup mints a group record owned by the given principal (the acting
// principal when empty). Only superusers may create groups for others.
func (g *GroupClient) CreateGroup(ctx context.Context, name, owner string) (rec *dbio.Record, err error) {
	done := g.svc.instrument("create_group")
	defer func() { done(err) }()

	if owner == "" {
		owner = g.who
	}
	if owner != g.who && !g.svc.cfg.IsSuperuser(g.who) {
		return nil, dbio.NotAuthorizedError{Principal: g.who, Operation: "create a group owned by " + owner}
	}
	owned := g.svc.Client(dbio.GroupsCollection, owner)
	rec, err = owned.Create(ctx, name, map[string]any{"members": []string{}}, g.svc.cfg.GroupShoulder)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// AddMember appends a principal to the group's member list; already-present
// members are left alone. The acting principal needs WRITE on the group.
func (g *GroupClient) AddMember(ctx context.Context, groupID, member string) error {
	rec, err := g.Get(ctx, groupID, dbio.WritePermission)
	if err != nil {
		return err
	}
	members := rec.Members()
	for _, m := range members {
		if m == member {
			return nil
		}
	}
	rec.SetMembers(append(members, member))
	return g.Update(ctx, rec)
}

// RemoveMember drops a principal from the group's member list.
func (g *GroupClient) RemoveMember(ctx context.Context, groupID, member string) error {
	rec, err := g.Get(ctx, groupID, dbio.WritePermission)
	if err != nil {
		return err
	}
	members := rec.Members()
	kept := members[:0:0]
	for _, m := range members {
		if m != member {
			kept = append(kept, m)
		}
	}
	rec.SetMembers(kept)
	return g.Update(ctx, rec)
}

// IsMember reports whether the principal appears directly in the group's
// member list. Transitive membership is the resolver's business.
func (g *GroupClient) IsMember(ctx context.Context, groupID, principal string) (bool, error) {
	rec, err := g.Get(ctx, groupID, dbio.ReadPermission)
	if err != nil {
		return false, err
	}
	for _, m := range rec.Members() {
		if m == principal {
			return true, nil
		}
	}
	return false, nil
}

// SelectIDsForUser returns the sorted resolved group set for a principal:
// every group reachable through nested membership, plus the public group.
func (g *GroupClient) SelectIDsForUser(ctx context.Context, principal string) ([]string, error) {
	resolved, err := g.svc.ResolveGroupsFor(ctx, principal)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resolved))
	for gid := range resolved {
		out = append(out, gid)
	}
	sort.Strings(out)
	return out, nil
}
