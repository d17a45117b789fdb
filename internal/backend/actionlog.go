package backend

import (
	"context"
	"errors"

	"dbio/pkg/dbio"
)

// RecordAction appends a provenance action to its subject's live log. The
// subject record must exist and the acting principal must hold WRITE on it
// or be its owner. The append takes the subject lock, so it cannot land
// between CloseActionLog's read and clear and be lost.
func (c *Client) RecordAction(ctx context.Context, action dbio.Action) (err error) {
	done := c.svc.instrument("record_action")
	defer func() { done(err) }()

	rec, err := c.svc.store.ReadRecord(ctx, c.collection, action.Subject)
	if err != nil {
		return err
	}
	ok, err := c.Authorized(ctx, rec, dbio.WritePermission)
	if err != nil {
		return err
	}
	if !ok && rec.Owner != c.who {
		return dbio.NotAuthorizedError{Principal: c.who, Operation: "record actions on " + action.Subject}
	}
	if action.Agent == "" {
		action.Agent = c.who
	}
	if action.Timestamp <= 0 {
		action.Timestamp = dbio.Now()
	}
	unlock := c.svc.subjectMu.lock(action.Subject)
	defer unlock()
	return c.svc.store.AppendAction(ctx, action.Subject, action)
}

// Actions returns the subject's live provenance log; the acting principal
// needs READ on the record.
func (c *Client) Actions(ctx context.Context, id string) (actions []dbio.Action, err error) {
	done := c.svc.instrument("actions")
	defer func() { done(err) }()

	if _, err = c.Get(ctx, id, dbio.ReadPermission); err != nil {
		return nil, err
	}
	return c.svc.store.ReadActions(ctx, id)
}

// CloseActionLog bundles the record's live action log, the closing action,
// caller-supplied extra fields, and a snapshot of the record's READ ACL into
// one immutable History entry, then — when archive is set — clears the live
// log. Only the record's owner (or a superuser) may close a log. Closing an
// empty log still appends a minimal entry. The read-bundle-clear sequence
// holds a per-subject lock so a concurrent RecordAction cannot interleave.
func (c *Client) CloseActionLog(ctx context.Context, id string, closing dbio.Action, extra map[string]any, archive bool) (entry dbio.History, err error) {
	done := c.svc.instrument("close_action_log")
	defer func() { done(err) }()

	rec, err := c.svc.store.ReadRecord(ctx, c.collection, id)
	if err != nil {
		return dbio.History{}, err
	}
	if rec.Owner != c.who && !c.svc.cfg.IsSuperuser(c.who) {
		return dbio.History{}, dbio.NotAuthorizedError{Principal: c.who, Operation: "close the action log of " + id}
	}

	unlock := c.svc.subjectMu.lock(id)
	defer unlock()

	actions, err := c.svc.store.ReadActions(ctx, id)
	if err != nil {
		return dbio.History{}, err
	}
	if closing.Subject == "" {
		closing.Subject = id
	}
	if closing.Agent == "" {
		closing.Agent = c.who
	}
	if closing.Timestamp <= 0 {
		closing.Timestamp = dbio.Now()
	}
	entry = dbio.NewHistory(id, actions, closing, extra, rec.ACLs.Holders(dbio.ReadPermission))
	if err := c.svc.store.AppendHistory(ctx, id, entry); err != nil {
		return dbio.History{}, err
	}
	if archive {
		// mirror the bundle out of band before the live log is cleared
		if c.svc.archiver != nil {
			if _, err := c.svc.archiver.ArchiveHistory(ctx, entry); err != nil {
				return dbio.History{}, err
			}
		}
		if err := c.svc.store.ClearActions(ctx, id); err != nil {
			return dbio.History{}, err
		}
	}
	return entry, nil
}

// History returns the subject's archived entries; the acting principal needs
// READ on the record when it still exists. History of a deleted record stays
// readable by anyone who can name it, since deletion never removes history.
func (c *Client) History(ctx context.Context, id string) (entries []dbio.History, err error) {
	done := c.svc.instrument("history")
	defer func() { done(err) }()

	rec, err := c.svc.store.ReadRecord(ctx, c.collection, id)
	if err != nil {
		var missing dbio.ObjectNotFoundError
		if !errors.As(err, &missing) {
			return nil, err
		}
	} else {
		ok, err := c.Authorized(ctx, rec, dbio.ReadPermission)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, dbio.NotAuthorizedError{Principal: c.who, Operation: "read the history of " + id}
		}
	}
	return c.svc.store.ReadHistory(ctx, id)
}
