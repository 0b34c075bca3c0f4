// Package postgres implements the remote store interfaces over a Postgres
// backend using pgx. The connection pool serves CRUD and lease operations;
// change-stream subscriptions each hold a dedicated connection because
// LISTEN binds to a database session.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mlevkov/tasksync/internal/logging"
	"github.com/mlevkov/tasksync/internal/remote/postgres/migrations"
)

// Client is the pgx-backed implementation of remote.Store, remote.LeaseStore
// and remote.Listener.
type Client struct {
	pool   *pgxpool.Pool
	dsn    string
	logger logging.Logger
}

// Open connects the pool. The schema is expected to be migrated already
// (see RunMigrations / the migrate CLI command).
func Open(ctx context.Context, dsn string, logger logging.Logger) (*Client, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect remote store: %w", err)
	}
	return &Client{pool: pool, dsn: dsn, logger: logger.With("module", "remote_postgres")}, nil
}

func (c *Client) Close() {
	c.pool.Close()
}

// Ping checks connectivity; used by the engine as a cheap online probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// connect opens a dedicated (non-pooled) session, used by subscriptions.
func (c *Client) connect(ctx context.Context) (*pgx.Conn, error) {
	return pgx.Connect(ctx, c.dsn)
}

// gooseUpContext is a seam for testing RunMigrations.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded remote-schema migrations over a
// database/sql connection (pgx stdlib driver).
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// MigrateDSN opens dsn with the stdlib driver, migrates and closes.
func MigrateDSN(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open for migration: %w", err)
	}
	defer db.Close()
	return RunMigrations(ctx, db)
}
