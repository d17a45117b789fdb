package backend

import (
	"context"

	"dbio/pkg/dbio"
)

// Authorized reports whether the acting principal holds every one of the
// requested permission kinds on the record, directly or through resolved
// group membership. OWN expands to all four kinds. Configured superusers
// bypass the check entirely.
func (c *Client) Authorized(ctx context.Context, rec *dbio.Record, kinds ...dbio.PermissionKind) (bool, error) {
	if c.svc.cfg.IsSuperuser(c.who) {
		return true, nil
	}
	identities, err := c.identities(ctx)
	if err != nil {
		return false, err
	}
	return c.authorizedFor(rec, identities, kinds...), nil
}

// identities returns the acting principal unioned with its resolved group
// set.
func (c *Client) identities(ctx context.Context) (map[string]bool, error) {
	groups, err := c.svc.ResolveGroupsFor(ctx, c.who)
	if err != nil {
		return nil, err
	}
	groups[c.who] = true
	return groups, nil
}

// authorizedFor checks the record's ACL buckets against a pre-resolved
// identity set. Every requested kind must be satisfied (conjunction); an
// empty request defaults to READ.
func (c *Client) authorizedFor(rec *dbio.Record, identities map[string]bool, kinds ...dbio.PermissionKind) bool {
	if c.svc.cfg.IsSuperuser(c.who) {
		return true
	}
	if len(kinds) == 0 {
		kinds = []dbio.PermissionKind{dbio.ReadPermission}
	}
	expanded := make([]dbio.PermissionKind, 0, len(kinds))
	for _, kind := range kinds {
		if kind == dbio.OwnPermission {
			expanded = append(expanded, dbio.OwnKinds...)
			continue
		}
		expanded = append(expanded, kind)
	}
	for _, kind := range expanded {
		if !holdsAny(rec.ACLs[kind], identities) {
			return false
		}
	}
	return true
}

func holdsAny(granted []string, identities map[string]bool) bool {
	for _, principal := range granted {
		if identities[principal] {
			return true
		}
	}
	return false
}

// ResolveGroupsFor computes the transitive closure of groups the principal
// belongs to: groups that list it directly, plus groups that list an
// already-found group, iterated with a visited set so membership cycles
// terminate. The well-known public group is always part of the result.
func (s *Service) ResolveGroupsFor(ctx context.Context, principal string) (map[string]bool, error) {
	resolved := map[string]bool{dbio.PublicGroup: true}
	groups, err := s.store.SelectRecords(ctx, dbio.GroupsCollection, nil)
	if err != nil {
		return nil, err
	}

	// membership edges: member principal -> group ids listing it
	memberOf := make(map[string][]string)
	for _, g := range groups {
		for _, member := range g.Members() {
			memberOf[member] = append(memberOf[member], g.ID)
		}
	}

	frontier := []string{principal}
	visited := map[string]bool{principal: true}
	for len(frontier) > 0 {
		next := frontier[:0:0]
		for _, node := range frontier {
			for _, gid := range memberOf[node] {
				if visited[gid] {
					continue
				}
				visited[gid] = true
				resolved[gid] = true
				next = append(next, gid)
			}
		}
		frontier = next
	}
	return resolved, nil
}
