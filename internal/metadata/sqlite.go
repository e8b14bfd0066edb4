package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// sqliteMaxParams bounds the number of owner ids bound in one IN clause.
const sqliteMaxParams = 500

// SQLiteSource implements ReferenceSource over a SQLite database using the
// pure-Go modernc driver. Column values are read as text; JSON array
// columns are not expanded.
type SQLiteSource struct {
	db *sql.DB
}

// NewSQLiteSource opens the SQLite database at dsn for reading references.
func NewSQLiteSource(dsn string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	// query_only is per-connection; a single connection keeps it applied.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA query_only = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", p, err)
		}
	}
	return &SQLiteSource{db: db}, nil
}

// Ping verifies the database can be reached.
func (s *SQLiteSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// Values streams non-null values of d.Column.
func (s *SQLiteSource) Values(ctx context.Context, d Descriptor, fn func(Value) error) error {
	if err := d.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL",
		quoteIdent(d.Column), quoteIdent(d.Table), quoteIdent(d.Column))
	return s.scan(ctx, query, nil, fn)
}

// OwnedValues streams values of rows whose owner column is in owners.
func (s *SQLiteSource) OwnedValues(ctx context.Context, d Descriptor, owners []string, fn func(Value) error) error {
	if d.OwnerColumn == "" || len(owners) == 0 {
		return nil
	}
	if err := d.Validate(); err != nil {
		return err
	}
	for _, chunk := range chunkStrings(owners, sqliteMaxParams) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL AND %s IN (%s)",
			quoteIdent(d.Column), quoteIdent(d.Table), quoteIdent(d.Column),
			quoteIdent(d.OwnerColumn), placeholders)
		args := make([]any, len(chunk))
		for i, o := range chunk {
			args[i] = o
		}
		if err := s.scan(ctx, query, args, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteSource) scan(ctx context.Context, query string, args []any, fn func(Value) error) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying references: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return fmt.Errorf("scanning reference row: %w", err)
		}
		if !v.Valid {
			continue
		}
		if err := fn(Text(v.String)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Ensure SQLiteSource implements ReferenceSource at compile time.
var _ ReferenceSource = (*SQLiteSource)(nil)
