package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// poolAcquireTimeout bounds waiting for a pooled connection.
const poolAcquireTimeout = 10 * time.Second

// PostgresOptions configures the PostgreSQL connection pool.
type PostgresOptions struct {
	// DSN is a libpq connection string or URL.
	DSN string
	// MaxConns caps the pool size. Zero keeps the pgx default.
	MaxConns int32
}

// PostgresSource implements ReferenceSource over PostgreSQL via pgxpool.
// Text array columns are expanded element-wise.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource creates a connection pool and verifies connectivity.
func NewPostgresSource(ctx context.Context, opts PostgresOptions) (*PostgresSource, error) {
	poolCfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, poolAcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	slog.Info("PostgreSQL reference source initialized",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"max_conns", poolCfg.MaxConns,
	)
	return &PostgresSource{pool: pool}, nil
}

// Ping verifies the pool can reach the server.
func (s *PostgresSource) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}

// Values streams non-null values of d.Column, which must be text or a
// text array.
func (s *PostgresSource) Values(ctx context.Context, d Descriptor, fn func(Value) error) error {
	if err := d.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL",
		quoteIdent(d.Column), quoteIdent(d.Table), quoteIdent(d.Column))
	return s.scan(ctx, query, fn)
}

// OwnedValues streams values of rows whose owner column matches one of
// owners, compared as text.
func (s *PostgresSource) OwnedValues(ctx context.Context, d Descriptor, owners []string, fn func(Value) error) error {
	if d.OwnerColumn == "" || len(owners) == 0 {
		return nil
	}
	if err := d.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL AND %s::text = ANY($1)",
		quoteIdent(d.Column), quoteIdent(d.Table), quoteIdent(d.Column), quoteIdent(d.OwnerColumn))
	return s.scan(ctx, query, fn, owners)
}

func (s *PostgresSource) scan(ctx context.Context, query string, fn func(Value) error, args ...any) error {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying references: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return fmt.Errorf("reading reference row: %w", err)
		}
		if len(values) == 0 {
			continue
		}
		if err := emitValue(values[0], fn); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Ensure PostgresSource implements ReferenceSource at compile time.
var _ ReferenceSource = (*PostgresSource)(nil)
