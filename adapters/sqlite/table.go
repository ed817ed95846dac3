// Package sqlite implements tipstore.Table on SQLite using the pure Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // dialect registration
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/codewandler/evstore/core/tipstore"
	"github.com/codewandler/evstore/internal/sqltable"
)

const schema = `CREATE TABLE IF NOT EXISTS %[1]s (
	stream TEXT    NOT NULL,
	i      INTEGER NOT NULL,
	base   INTEGER NOT NULL,
	n      INTEGER NOT NULL,
	etag   TEXT    NOT NULL DEFAULT '',
	doc    BLOB    NOT NULL,
	PRIMARY KEY (stream, i)
) WITHOUT ROWID`

type Config struct {
	// Path is the database file. ":memory:" opens a private in-memory
	// database.
	Path      string
	TableName string
	Log       *slog.Logger
}

// Table is a tipstore.Table in a SQLite database.
type Table struct {
	*sqltable.Table
	db *sql.DB
}

// Open opens the database at cfg.Path and creates the batch table.
func Open(ctx context.Context, cfg Config) (*Table, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	name := cfg.TableName
	if name == "" {
		name = sqltable.DefaultTableName
	}

	dsn := "file:" + cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if cfg.Path == ":memory:" {
		// every connection would get a database of its own
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, fmt.Sprintf(schema, name)); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create table %s: %w", name, err)
	}

	table, err := sqltable.New(sqltable.Config{
		DB:        &db{sqlDB: sqlDB},
		Dialect:   "sqlite3",
		TableName: name,
		Log:       cfg.Log,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &Table{Table: table, db: sqlDB}, nil
}

// Close closes the SQLite handle.
func (t *Table) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	return t.db.Close()
}

type db struct {
	sqlDB *sql.DB
}

func (d *db) Query(ctx context.Context, query string, args ...any) (sqltable.Rows, error) {
	return d.sqlDB.QueryContext(ctx, query, args...)
}

func (d *db) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return exec(ctx, d.sqlDB, query, args...)
}

func (d *db) InTx(ctx context.Context, fn func(sqltable.Querier) error) error {
	tx, err := d.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(txQuerier{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (d *db) IsUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

type txQuerier struct {
	tx *sql.Tx
}

func (q txQuerier) Query(ctx context.Context, query string, args ...any) (sqltable.Rows, error) {
	return q.tx.QueryContext(ctx, query, args...)
}

func (q txQuerier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return exec(ctx, q.tx, query, args...)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func exec(ctx context.Context, e execer, query string, args ...any) (int64, error) {
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ tipstore.Table = (*Table)(nil)
