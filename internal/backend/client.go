package backend

import (
	"context"
	"errors"
	"fmt"

	"dbio/pkg/dbio"
)

// mintRetries bounds the id-collision retry loop during create. A collision
// only happens when an external process wrote a record under an id this
// store's counter has not issued yet.
const mintRetries = 5

// Client is the per-(collection, identity) façade over the backend. Every
// operation runs as the bound principal and is access-checked accordingly.
type Client struct {
	svc        *Service
	collection string
	who        string
}

// Collection returns the collection this client is bound to.
func (c *Client) Collection() string { return c.collection }

// UserID returns the acting principal.
func (c *Client) UserID() string { return c.who }

// Create mints an id and stores a new record named for the acting principal.
// The (owner, name) pair must be free in the collection; shoulder selects the
// id namespace, defaulting to the configured one.
func (c *Client) Create(ctx context.Context, name string, data map[string]any, shoulder string) (rec *dbio.Record, err error) {
	done := c.svc.instrument("create")
	defer func() { done(err) }()

	if name == "" {
		return nil, fmt.Errorf("create: record name required")
	}
	if shoulder == "" {
		shoulder = c.svc.cfg.DefaultShoulder
	}
	if c.collection != dbio.GroupsCollection && !c.svc.cfg.ShoulderAllowed(shoulder) {
		return nil, dbio.NotAuthorizedError{Principal: c.who, Operation: fmt.Sprintf("mint ids under shoulder %q", shoulder)}
	}
	if existing, err := c.svc.store.FindByName(ctx, c.collection, c.who, name); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, dbio.AlreadyExistsError{Collection: c.collection, Key: c.who + "/" + name}
	}

	id, err := c.mintFreeID(ctx, shoulder)
	if err != nil {
		return nil, err
	}

	rec = dbio.NewRecord(id, name, c.who)
	if data != nil {
		rec.Data = data
	}
	if err := c.svc.store.SaveRecord(ctx, c.collection, rec); err != nil {
		// the minted id went unused; reclaim it when still the newest
		_ = c.svc.PushBackID(ctx, c.collection, id)
		return nil, err
	}
	unlock := c.svc.subjectMu.lock(id)
	err = c.svc.store.AppendAction(ctx, id, dbio.NewAction(dbio.ActionCreate, id, c.who, ""))
	unlock()
	if err != nil {
		return nil, err
	}
	c.svc.notify("create", c.collection, id)
	return rec, nil
}

// mintFreeID mints ids until one does not collide with an existing record.
func (c *Client) mintFreeID(ctx context.Context, shoulder string) (string, error) {
	for i := 0; i < mintRetries; i++ {
		id, err := c.svc.MintID(ctx, c.collection, shoulder)
		if err != nil {
			return "", err
		}
		_, err = c.svc.store.ReadRecord(ctx, c.collection, id)
		var missing dbio.ObjectNotFoundError
		if errors.As(err, &missing) {
			return id, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", dbio.DBIOError{Op: "mint id", Err: fmt.Errorf("no free id under shoulder %q after %d attempts", shoulder, mintRetries)}
}

// Get returns the record when the acting principal holds the required
// permission, directly or through resolved group membership.
func (c *Client) Get(ctx context.Context, id string, perm dbio.PermissionKind) (rec *dbio.Record, err error) {
	done := c.svc.instrument("get")
	defer func() { done(err) }()

	rec, err = c.svc.store.ReadRecord(ctx, c.collection, id)
	if err != nil {
		return nil, err
	}
	ok, err := c.Authorized(ctx, rec, perm)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dbio.NotAuthorizedError{Principal: c.who, Operation: string(perm) + " " + id}
	}
	return rec, nil
}

// GetByName looks a record up by its (owner, name) pair; owner defaults to
// the acting principal. A miss — including a record the principal cannot
// read — returns nil without error.
func (c *Client) GetByName(ctx context.Context, name string, owner ...string) (rec *dbio.Record, err error) {
	done := c.svc.instrument("get_by_name")
	defer func() { done(err) }()

	ownerID := c.who
	if len(owner) > 0 && owner[0] != "" {
		ownerID = owner[0]
	}
	rec, err = c.svc.store.FindByName(ctx, c.collection, ownerID, name)
	if err != nil || rec == nil {
		return nil, err
	}
	ok, err := c.Authorized(ctx, rec, dbio.ReadPermission)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return rec, nil
}

// Select yields every record of the collection the acting principal can
// access under all of the given permission kinds (READ when none given).
func (c *Client) Select(ctx context.Context, perms ...dbio.PermissionKind) (recs []*dbio.Record, err error) {
	done := c.svc.instrument("select")
	defer func() { done(err) }()
	return c.selectWhere(ctx, nil, perms)
}

// SelectByIDs yields the subset of ids the acting principal can access under
// the given permission kinds. Absent ids are skipped, not errors.
func (c *Client) SelectByIDs(ctx context.Context, ids []string, perms ...dbio.PermissionKind) (recs []*dbio.Record, err error) {
	done := c.svc.instrument("select_by_ids")
	defer func() { done(err) }()

	identities, err := c.identities(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		rec, err := c.svc.store.ReadRecord(ctx, c.collection, id)
		var missing dbio.ObjectNotFoundError
		if errors.As(err, &missing) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if c.authorizedFor(rec, identities, perms...) {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// AdvancedSelect evaluates a boolean filter tree over the collection,
// intersected with the ACL filter: a query never returns a record the
// acting principal cannot access under the requested permissions. The tree
// is validated before any record is consulted.
func (c *Client) AdvancedSelect(ctx context.Context, tree map[string]any, perms ...dbio.PermissionKind) (recs []*dbio.Record, err error) {
	done := c.svc.instrument("advanced_select")
	defer func() { done(err) }()

	filter, err := dbio.ParseFilter(tree)
	if err != nil {
		return nil, err
	}
	return c.selectWhere(ctx, filter, perms)
}

func (c *Client) selectWhere(ctx context.Context, filter *dbio.Filter, perms []dbio.PermissionKind) ([]*dbio.Record, error) {
	identities, err := c.identities(ctx)
	if err != nil {
		return nil, err
	}
	candidates, err := c.svc.store.SelectRecords(ctx, c.collection, filter)
	if err != nil {
		return nil, err
	}
	var out []*dbio.Record
	for _, rec := range candidates {
		if c.authorizedFor(rec, identities, perms...) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Update persists changes to an existing record. The acting principal must
// hold WRITE on the stored version; the id, owner, and creation time are
// immutable and restored from the stored version if altered.
func (c *Client) Update(ctx context.Context, rec *dbio.Record) (err error) {
	done := c.svc.instrument("update")
	defer func() { done(err) }()

	current, err := c.svc.store.ReadRecord(ctx, c.collection, rec.ID)
	if err != nil {
		return err
	}
	ok, err := c.Authorized(ctx, current, dbio.WritePermission)
	if err != nil {
		return err
	}
	if !ok {
		return dbio.NotAuthorizedError{Principal: c.who, Operation: "write " + rec.ID}
	}
	rec.Owner = current.Owner
	rec.Created = current.Created
	rec.Modified = dbio.Now()
	if err := c.svc.store.SaveRecord(ctx, c.collection, rec); err != nil {
		return err
	}
	if c.svc.cfg.NotifyOnUpdate {
		c.svc.notify("update", c.collection, rec.ID)
	}
	return nil
}

// Delete removes a record the acting principal holds DELETE on, along with
// its live action log. Archived history is never removed. It reports whether
// a record was deleted; a miss is not an error.
func (c *Client) Delete(ctx context.Context, id string) (deleted bool, err error) {
	done := c.svc.instrument("delete")
	defer func() { done(err) }()

	rec, err := c.svc.store.ReadRecord(ctx, c.collection, id)
	var missing dbio.ObjectNotFoundError
	if errors.As(err, &missing) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ok, err := c.Authorized(ctx, rec, dbio.DeletePermission)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, dbio.NotAuthorizedError{Principal: c.who, Operation: "delete " + id}
	}
	deleted, err = c.svc.store.DeleteRecord(ctx, c.collection, id)
	if err != nil {
		return false, err
	}
	if err := c.svc.store.ClearActions(ctx, id); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// Publish drives the record's terminal transition to PUBLISHED and persists
// it, stamping the public identifier and version on its status. With no
// explicit archivedAt and an archiver attached, a snapshot of the published
// record is archived and its locator recorded.
func (c *Client) Publish(ctx context.Context, id, publishedAs, version, archivedAt string) (rec *dbio.Record, err error) {
	done := c.svc.instrument("publish")
	defer func() { done(err) }()

	rec, err = c.Get(ctx, id, dbio.WritePermission)
	if err != nil {
		return nil, err
	}
	if rec.Status == nil {
		rec.Status = dbio.NewRecordStatus(rec.Created)
	}
	if err := rec.Status.Publish(publishedAs, version, archivedAt, 0); err != nil {
		return nil, err
	}
	rec.Status.Act(dbio.ActionPublish, "published as "+publishedAs, 0)
	if rec.Status.ArchivedAt == "" && c.svc.archiver != nil {
		locator, err := c.svc.archiver.ArchiveRecord(ctx, c.collection, rec)
		if err != nil {
			return nil, err
		}
		rec.Status.ArchivedAt = locator
	}
	if err := c.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
