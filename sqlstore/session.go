package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/jacentio/graft/merge"
	"github.com/jacentio/graft/relation"
)

// Collection is the set of rows whose back-reference column holds the owner's id.
type Collection struct {
	sess    *Session
	ownerID string
	owner   string
	rel     relation.Relationship
	loaded  bool
	members []merge.Entity
}

// Relationship implements merge.Collection.
func (c *Collection) Relationship() relation.Relationship { return c.rel }

// IsLoaded implements merge.Collection.
func (c *Collection) IsLoaded() bool { return c.loaded }

// Members implements merge.Collection.
func (c *Collection) Members() []merge.Entity { return c.members }

// Load implements merge.Collection.
func (c *Collection) Load(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	tx, err := c.sess.transaction()
	if err != nil {
		return err
	}
	s := c.sess.store
	table, err := s.identifier(s.Table(c.rel.DependentType))
	if err != nil {
		return err
	}
	column, err := s.identifier(c.rel.BackRef)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ? ORDER BY rowid`, s.config.IDColumn, table, column)
	rows, err := tx.QueryContext(ctx, query, c.ownerID)
	if err != nil {
		return fmt.Errorf("sqlstore: loading %s.%s: %w", c.owner, c.rel.Name, err)
	}
	defer rows.Close()

	var members []merge.Entity
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("sqlstore: scanning %s: %w", table, err)
		}
		members = append(members, Row{Type: c.rel.DependentType, ID: id})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlstore: loading %s.%s: %w", c.owner, c.rel.Name, err)
	}

	c.members = members
	c.loaded = true
	return nil
}

func (c *Collection) remove(ref string) {
	for i, m := range c.members {
		if m.EntityRef() == ref {
			c.members = append(c.members[:i], c.members[i+1:]...)
			return
		}
	}
}

// Session is a unit of work backed by one transaction.
type Session struct {
	id          string
	store       *Store
	tx          *sql.Tx
	collections map[string]*Collection
	deleted     map[string]bool
}

func newSession(s *Store, tx *sql.Tx) *Session {
	return &Session{
		id:          uuid.NewString(),
		store:       s,
		tx:          tx,
		collections: make(map[string]*Collection),
		deleted:     make(map[string]bool),
	}
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

func (s *Session) transaction() (*sql.Tx, error) {
	if s.tx == nil {
		return nil, ErrSessionClosed
	}
	return s.tx, nil
}

// ResolveCollection implements merge.Session.
func (s *Session) ResolveCollection(ctx context.Context, owner merge.Entity, name string) (merge.Collection, bool, error) {
	if _, err := s.transaction(); err != nil {
		return nil, false, err
	}
	rel, ok := s.store.registry.Lookup(owner.EntityType(), name)
	if !ok {
		return nil, false, nil
	}
	key := owner.EntityRef() + "/" + name
	if c, ok := s.collections[key]; ok {
		return c, true, nil
	}
	c := &Collection{sess: s, ownerID: entityID(owner), owner: owner.EntityRef(), rel: rel}
	s.collections[key] = c
	return c, true, nil
}

// SetBackReference implements merge.Session by updating the dependent's back-reference column.
func (s *Session) SetBackReference(ctx context.Context, dependent merge.Entity, rel relation.Relationship, owner merge.Entity) error {
	tx, err := s.transaction()
	if err != nil {
		return err
	}
	table, err := s.store.identifier(s.store.Table(dependent.EntityType()))
	if err != nil {
		return err
	}
	column, err := s.store.identifier(rel.BackRef)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE %s = ?`, table, column, s.store.config.IDColumn)
	res, err := tx.ExecContext(ctx, query, entityID(owner), entityID(dependent))
	if err != nil {
		return fmt.Errorf("sqlstore: re-parenting %s: %w", dependent.EntityRef(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, dependent.EntityRef())
	}

	ref := dependent.EntityRef()
	for _, c := range s.collections {
		if !c.loaded || c.rel.BackRef != rel.BackRef || c.rel.DependentType != dependent.EntityType() {
			continue
		}
		if c.owner == owner.EntityRef() {
			c.members = append(c.members, dependent)
		} else {
			c.remove(ref)
		}
	}
	return nil
}

// MarkDeleted implements merge.Session by deleting the row inside the transaction.
func (s *Session) MarkDeleted(ctx context.Context, e merge.Entity) error {
	tx, err := s.transaction()
	if err != nil {
		return err
	}
	ref := e.EntityRef()
	if s.deleted[ref] {
		return nil
	}
	table, err := s.store.identifier(s.store.Table(e.EntityType()))
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, s.store.config.IDColumn)
	res, err := tx.ExecContext(ctx, query, entityID(e))
	if err != nil {
		return fmt.Errorf("sqlstore: deleting %s: %w", ref, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	s.deleted[ref] = true
	for _, c := range s.collections {
		if c.loaded {
			c.remove(ref)
		}
	}
	return nil
}

// Commit implements merge.Session. The session cannot be used afterwards.
func (s *Session) Commit(ctx context.Context) error {
	tx, err := s.transaction()
	if err != nil {
		return err
	}
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Rolling back a closed session is a no-op.
func (s *Session) Rollback() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("sqlstore: rollback: %w", err)
	}
	return nil
}
