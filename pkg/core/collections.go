package core

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/liliang-cn/sqdata/internal/encoding"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ValidateCollectionName checks that name can be used as a collection
func ValidateCollectionName(name string) error {
	if !encoding.ValidIdentifier(name) || strings.HasPrefix(strings.ToLower(name), "sqlite_") {
		return fmt.Errorf("%w: collection %q", ErrInvalidName, name)
	}
	return nil
}

// CreateCollection creates an empty collection
func (s *Store) CreateCollection(ctx context.Context, name string) error {
	release, err := s.acquire("create_collection")
	if err != nil {
		return err
	}
	defer release()

	s.ddl.Lock()
	defer s.ddl.Unlock()

	return wrapError("create_collection", createCollection(ctx, s.db, name, false))
}

// EnsureCollection creates the collection when it does not exist yet
func (s *Store) EnsureCollection(ctx context.Context, name string) error {
	release, err := s.acquire("ensure_collection")
	if err != nil {
		return err
	}
	defer release()

	s.ddl.Lock()
	defer s.ddl.Unlock()

	return wrapError("ensure_collection", createCollection(ctx, s.db, name, true))
}

// DropCollection removes a collection and all its records
func (s *Store) DropCollection(ctx context.Context, name string) error {
	release, err := s.acquire("drop_collection")
	if err != nil {
		return err
	}
	defer release()

	s.ddl.Lock()
	defer s.ddl.Unlock()

	return wrapError("drop_collection", dropCollection(ctx, s.db, name))
}

// HasCollection reports whether the collection exists
func (s *Store) HasCollection(ctx context.Context, name string) (bool, error) {
	release, err := s.acquire("has_collection")
	if err != nil {
		return false, err
	}
	defer release()

	ok, err := hasCollection(ctx, s.db, name)
	return ok, wrapError("has_collection", err)
}

// ListCollections lists collection names in lexical order
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	release, err := s.acquire("list_collections")
	if err != nil {
		return nil, err
	}
	defer release()

	names, err := listCollections(ctx, s.db)
	return names, wrapError("list_collections", err)
}

// EnsureIndex creates an index over one or more document fields
func (s *Store) EnsureIndex(ctx context.Context, collection string, unique bool, fields ...string) error {
	release, err := s.acquire("ensure_index")
	if err != nil {
		return err
	}
	defer release()

	s.ddl.Lock()
	defer s.ddl.Unlock()

	return wrapError("ensure_index", ensureIndex(ctx, s.db, collection, unique, fields))
}

func createCollection(ctx context.Context, q querier, name string, ifNotExists bool) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	exists, err := hasCollection(ctx, q, name)
	if err != nil {
		return err
	}
	if exists {
		if ifNotExists {
			return nil
		}
		return fmt.Errorf("collection '%s' %w", name, ErrAlreadyExists)
	}

	_, err = q.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		doc TEXT NOT NULL
	)`, quoteIdent(name)))
	if err != nil {
		return fmt.Errorf("failed to create collection '%s': %w", name, err)
	}
	return nil
}

func dropCollection(ctx context.Context, q querier, name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	exists, err := hasCollection(ctx, q, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("collection '%s' %w", name, ErrNotFound)
	}

	if _, err := q.ExecContext(ctx, "DROP TABLE "+quoteIdent(name)); err != nil {
		return fmt.Errorf("failed to drop collection '%s': %w", name, err)
	}
	return nil
}

func hasCollection(ctx context.Context, q querier, name string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)", name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}
	return exists, nil
}

func listCollections(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}

func ensureIndex(ctx context.Context, q querier, collection string, unique bool, fields []string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: index needs at least one field", ErrInvalidArgument)
	}

	exprs := make([]string, len(fields))
	for i, f := range fields {
		expr, err := fieldExpr(f)
		if err != nil {
			return err
		}
		exprs[i] = expr
	}

	indexName := "idx_" + collection + "_" + strings.ReplaceAll(strings.Join(fields, "_"), ".", "_")
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}

	stmt := fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)",
		kind, quoteIdent(indexName), quoteIdent(collection), strings.Join(exprs, ", "))
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return classifyError(fmt.Errorf("failed to create index on %s(%s): %w", collection, strings.Join(fields, ","), err))
	}
	return nil
}

// fieldExpr renders a validated json_extract expression. The path is inlined
// so that expression indexes match the queries that use them.
func fieldExpr(field string) (string, error) {
	if !encoding.ValidFieldPath(field) {
		return "", fmt.Errorf("%w: field path %q", ErrInvalidName, field)
	}
	return fmt.Sprintf("json_extract(doc, '$.%s')", field), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// classifyError maps SQLite failures onto the package's sentinel errors
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such table"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	default:
		return err
	}
}
