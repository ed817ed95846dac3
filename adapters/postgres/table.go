// Package postgres implements tipstore.Table on PostgreSQL using a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codewandler/evstore/core/tipstore"
	"github.com/codewandler/evstore/internal/sqltable"
)

const uniqueViolation = "23505"

const schema = `CREATE TABLE IF NOT EXISTS %[1]s (
	stream TEXT   NOT NULL,
	i      BIGINT NOT NULL,
	base   BIGINT NOT NULL,
	n      BIGINT NOT NULL,
	etag   TEXT   NOT NULL DEFAULT '',
	doc    JSONB  NOT NULL,
	PRIMARY KEY (stream, i)
)`

type Config struct {
	Pool      *pgxpool.Pool
	TableName string
	Log       *slog.Logger
	// CreateSchema creates the batch table if it does not exist.
	CreateSchema bool
}

// Table is a tipstore.Table in a PostgreSQL database.
type Table struct {
	*sqltable.Table
}

func NewTable(ctx context.Context, cfg Config) (*Table, error) {
	if cfg.Pool == nil {
		return nil, errors.New("pool is required")
	}
	name := cfg.TableName
	if name == "" {
		name = sqltable.DefaultTableName
	}
	if cfg.CreateSchema {
		if _, err := cfg.Pool.Exec(ctx, fmt.Sprintf(schema, pgx.Identifier{name}.Sanitize())); err != nil {
			return nil, fmt.Errorf("create table %s: %w", name, err)
		}
	}
	table, err := sqltable.New(sqltable.Config{
		DB:        &db{pool: cfg.Pool},
		Dialect:   "postgres",
		TableName: name,
		Log:       cfg.Log,
	})
	if err != nil {
		return nil, err
	}
	return &Table{Table: table}, nil
}

type db struct {
	pool *pgxpool.Pool
}

func (d *db) Query(ctx context.Context, query string, args ...any) (sqltable.Rows, error) {
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgxRows{rows: rows}, nil
}

func (d *db) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := d.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (d *db) InTx(ctx context.Context, fn func(sqltable.Querier) error) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		return fn(txQuerier{tx: tx})
	})
}

func (d *db) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type txQuerier struct {
	tx pgx.Tx
}

func (q txQuerier) Query(ctx context.Context, query string, args ...any) (sqltable.Rows, error) {
	rows, err := q.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgxRows{rows: rows}, nil
}

func (q txQuerier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := q.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// pgxRows wraps pgx.Rows to implement sqltable.Rows.
type pgxRows struct {
	rows pgx.Rows
}

func (p pgxRows) Next() bool             { return p.rows.Next() }
func (p pgxRows) Scan(dest ...any) error { return p.rows.Scan(dest...) }
func (p pgxRows) Err() error             { return p.rows.Err() }

func (p pgxRows) Close() error {
	p.rows.Close()
	return nil
}

var _ tipstore.Table = (*Table)(nil)
