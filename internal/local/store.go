// Package local owns the embedded SQLite store: opening the database,
// running the goose migrations and vending repository implementations,
// bound either to the shared connection or to a transaction.
package local

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/mlevkov/tasksync/internal/dbx"
	"github.com/mlevkov/tasksync/internal/local/logs"
	"github.com/mlevkov/tasksync/internal/local/migrations"
	"github.com/mlevkov/tasksync/internal/local/selections"
	"github.com/mlevkov/tasksync/internal/local/syncmeta"
	"github.com/mlevkov/tasksync/internal/local/tasks"
)

// Stores vends repositories bound to a DBTX. Passing nil binds to the
// store's shared connection; passing a transaction handle scopes the
// repository to that transaction. WithTx wraps dbx.WithTx over the shared
// connection.
type Stores interface {
	Tasks(db dbx.DBTX) tasks.Repository
	Selections(db dbx.DBTX) selections.Repository
	Logs(db dbx.DBTX) logs.Repository
	Meta(db dbx.DBTX) syncmeta.Repository
	WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error
}

// Store is the SQLite-backed Stores implementation.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at dsn and brings the
// schema up to date.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Serialized access; sqlite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate local store: %w", err)
	}

	return &Store{db: db}, nil
}

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// DB exposes the underlying handle for callers that manage transactions.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Tasks(db dbx.DBTX) tasks.Repository {
	return tasks.NewSQLiteRepository(s.orDB(db))
}

func (s *Store) Selections(db dbx.DBTX) selections.Repository {
	return selections.NewSQLiteRepository(s.orDB(db))
}

func (s *Store) Logs(db dbx.DBTX) logs.Repository {
	return logs.NewSQLiteRepository(s.orDB(db))
}

func (s *Store) Meta(db dbx.DBTX) syncmeta.Repository {
	return syncmeta.NewSQLiteRepository(s.orDB(db))
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return dbx.WithTx(ctx, s.db, nil, fn)
}

func (s *Store) orDB(db dbx.DBTX) dbx.DBTX {
	if db == nil {
		return s.db
	}
	return db
}
