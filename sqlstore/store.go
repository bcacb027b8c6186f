// Package sqlstore implements merge.Session on SQLite.
//
// Every entity type maps to a table with a text primary key; a relationship's
// back-reference is a column on the dependent's table holding the owner's id.
// A session's unit of work is one SQL transaction: re-parenting and deletion
// statements run inside it and become visible to other connections on Commit.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jacentio/graft/relation"
)

var (
	// ErrNotFound is returned when a row doesn't exist.
	ErrNotFound = errors.New("sqlstore: row not found")

	// ErrInvalidIdentifier is returned when a configured table or column name is not a plain SQL identifier.
	ErrInvalidIdentifier = errors.New("sqlstore: invalid identifier")

	// ErrSessionClosed is returned when a committed or rolled back session is used.
	ErrSessionClosed = errors.New("sqlstore: session is closed")
)

var reIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Row is an entity stored in a table.
type Row struct {
	Type string
	ID   string
}

// EntityType implements merge.Entity.
func (r Row) EntityType() string { return r.Type }

// EntityRef implements merge.Entity.
func (r Row) EntityRef() string { return r.Type + "#" + r.ID }

// EntityID returns the primary key value.
func (r Row) EntityID() string { return r.ID }

// Store wraps a SQLite database.
type Store struct {
	db       *sql.DB
	config   Config
	registry *relation.Registry
}

// Open opens the database at cfg.Path. Relationships resolve through reg.
func Open(cfg Config, reg *relation.Registry) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlstore: path is required")
	}
	cfg.validate()
	if !reIdentifier.MatchString(cfg.IDColumn) {
		return nil, fmt.Errorf("%w: id column %q", ErrInvalidIdentifier, cfg.IDColumn)
	}
	if reg == nil {
		reg = relation.NewRegistry()
	}

	pragmas := []string{
		"_pragma=foreign_keys(1)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", cfg.BusyTimeoutMS),
	}
	if !cfg.inMemory() {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(cfg.Path, "?") {
		sep = "&"
	}

	db, err := sql.Open("sqlite", cfg.Path+sep+strings.Join(pragmas, "&"))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if cfg.inMemory() {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite database: %w", err)
	}

	return &Store{db: db, config: cfg, registry: reg}, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Table returns the table that holds entities of the given type.
func (s *Store) Table(entityType string) string {
	if t, ok := s.config.Tables[entityType]; ok {
		return t
	}
	for _, rel := range s.registry.AllRelationships() {
		if rel.DependentType == entityType && rel.Table != "" {
			return rel.Table
		}
	}
	return entityType + "s"
}

// Exists reports whether a row exists.
func (s *Store) Exists(ctx context.Context, entityType, id string) (bool, error) {
	table, err := s.identifier(s.Table(entityType))
	if err != nil {
		return false, err
	}
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = ?`, table, s.config.IDColumn)
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return false, fmt.Errorf("sqlstore: counting %s: %w", table, err)
	}
	return n > 0, nil
}

// OwnerOf returns the owner id held in row's back-reference column.
func (s *Store) OwnerOf(ctx context.Context, row Row, backRef string) (string, error) {
	table, err := s.identifier(s.Table(row.Type))
	if err != nil {
		return "", err
	}
	column, err := s.identifier(backRef)
	if err != nil {
		return "", err
	}

	var owner sql.NullString
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, column, table, s.config.IDColumn)
	err = s.db.QueryRowContext(ctx, query, row.ID).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", ErrNotFound, row.EntityRef())
	}
	if err != nil {
		return "", fmt.Errorf("sqlstore: reading %s.%s: %w", table, column, err)
	}
	return owner.String, nil
}

// Begin opens a session backed by a new transaction.
func (s *Store) Begin(ctx context.Context) (*Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: begin: %w", err)
	}
	return newSession(s, tx), nil
}

func (s *Store) identifier(name string) (string, error) {
	if !reIdentifier.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return name, nil
}

// entityID returns the primary key of e: EntityID() when available, else the
// part of EntityRef after the first '#'.
func entityID(e interface{ EntityRef() string }) string {
	if withID, ok := e.(interface{ EntityID() string }); ok {
		return withID.EntityID()
	}
	ref := e.EntityRef()
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
