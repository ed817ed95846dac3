// Package sqltable implements tipstore.Table on a relational database.
// Drivers plug in through DB; statements are built with goqu for the
// driver's dialect.
//
// Each batch is one row keyed by (stream, i). The tip row has
// i = tipstore.TipIndex and carries the precondition columns n and etag.
// Events, unfolds and calved bytes are stored as a JSON document.
package sqltable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/codewandler/evstore/core/tipstore"
	"github.com/codewandler/evstore/internal/codec"
)

const (
	DefaultTableName = "evstore_batches"

	colStream = "stream"
	colIndex  = "i"
	colBase   = "base"
	colN      = "n"
	colEtag   = "etag"
	colDoc    = "doc"
)

// Rows is the result of a query.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Querier runs statements, either directly or inside a transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	Exec(ctx context.Context, query string, args ...any) (rowsAffected int64, err error)
}

// DB is a database handle the table runs on.
type DB interface {
	Querier
	// InTx runs fn in a transaction that is committed when fn returns nil.
	InTx(ctx context.Context, fn func(Querier) error) error
	// IsUniqueViolation reports whether err is a primary key violation.
	IsUniqueViolation(err error) bool
}

type Config struct {
	DB        DB
	Dialect   string
	TableName string
	Log       *slog.Logger
}

type Table struct {
	db    DB
	d     goqu.DialectWrapper
	table exp.IdentifierExpression
	codec codec.Codec
	log   *slog.Logger
}

type doc struct {
	Events      []tipstore.Event  `json:"e"`
	Unfolds     []tipstore.Unfold `json:"u,omitempty"`
	CalvedBytes int64             `json:"b,omitempty"`
}

func New(cfg Config) (*Table, error) {
	if cfg.DB == nil {
		return nil, errors.New("db is required")
	}
	if cfg.Dialect == "" {
		return nil, errors.New("dialect is required")
	}
	name := cfg.TableName
	if name == "" {
		name = DefaultTableName
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Table{
		db:    cfg.DB,
		d:     goqu.Dialect(cfg.Dialect),
		table: goqu.T(name),
		codec: codec.JSONCodec{},
		log:   log.With(slog.String("table", name), slog.String("dialect", cfg.Dialect)),
	}, nil
}

func (t *Table) ReadTip(ctx context.Context, stream string, _ bool) (*tipstore.Batch, error) {
	query, args, err := t.d.From(t.table).
		Select(colBase, colN, colEtag, colDoc).
		Where(goqu.C(colStream).Eq(stream), goqu.C(colIndex).Eq(int64(tipstore.TipIndex))).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build tip query: %w", err)
	}
	batches, err := t.scan(ctx, t.db, query, args)
	if err != nil {
		return nil, fmt.Errorf("read tip %s: %w", stream, err)
	}
	if len(batches) == 0 {
		return nil, nil
	}
	return &batches[0], nil
}

func (t *Table) QueryBatches(ctx context.Context, stream string, q tipstore.BatchQuery) (tipstore.BatchPage, error) {
	hi := min(q.Hi, tipstore.TipIndex)
	if q.Lo >= hi {
		return tipstore.BatchPage{}, nil
	}

	where := []exp.Expression{
		goqu.C(colStream).Eq(stream),
		goqu.C(colIndex).Gte(int64(q.Lo)),
		goqu.C(colIndex).Lt(int64(hi)),
	}
	if q.MinN > 0 {
		where = append(where, goqu.C(colN).Gt(int64(q.MinN)))
	}
	order := goqu.C(colIndex).Asc()
	if q.Backward {
		order = goqu.C(colIndex).Desc()
	}
	sel := t.d.From(t.table).
		Select(colBase, colN, colEtag, colDoc).
		Where(where...).
		Order(order)
	if q.Limit > 0 {
		// one extra row tells whether another page follows
		sel = sel.Limit(uint(q.Limit + 1))
	}
	query, args, err := sel.Prepared(true).ToSQL()
	if err != nil {
		return tipstore.BatchPage{}, fmt.Errorf("build batch query: %w", err)
	}

	batches, err := t.scan(ctx, t.db, query, args)
	if err != nil {
		return tipstore.BatchPage{}, fmt.Errorf("query %s: %w", stream, err)
	}
	var page tipstore.BatchPage
	if q.Limit > 0 && len(batches) > q.Limit {
		batches = batches[:q.Limit]
		last := batches[len(batches)-1].Base
		page.Next = &last
	}
	page.Batches = batches
	return page, nil
}

func (t *Table) WriteTip(ctx context.Context, stream string, w tipstore.TipWrite) error {
	err := t.db.InTx(ctx, func(tx Querier) error {
		if err := t.writeTip(ctx, tx, stream, w); err != nil {
			return err
		}
		for _, c := range w.Calves {
			if err := t.insertCalf(ctx, tx, stream, c); err != nil {
				return err
			}
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tipstore.ErrConditionFailed):
		return err
	case t.db.IsUniqueViolation(err):
		return tipstore.ErrConditionFailed
	default:
		return fmt.Errorf("write tip %s: %w", stream, err)
	}
}

func (t *Table) record(stream string, index uint64, b tipstore.Batch) (goqu.Record, error) {
	data, err := t.codec.Marshal(doc{Events: b.Events, Unfolds: b.Unfolds, CalvedBytes: b.CalvedBytes})
	if err != nil {
		return nil, err
	}
	return goqu.Record{
		colStream: stream,
		colIndex:  int64(index),
		colBase:   int64(b.Base),
		colN:      int64(b.N),
		colEtag:   b.Etag,
		colDoc:    data,
	}, nil
}

// writeTip inserts or conditionally updates the tip row. An update that
// matches no row means the precondition failed.
func (t *Table) writeTip(ctx context.Context, tx Querier, stream string, w tipstore.TipWrite) error {
	rec, err := t.record(stream, tipstore.TipIndex, w.Tip)
	if err != nil {
		return fmt.Errorf("encode tip: %w", err)
	}

	var query string
	var args []any
	if w.Expected.Kind == tipstore.ExpectNotExists {
		query, args, err = t.d.Insert(t.table).Rows(rec).Prepared(true).ToSQL()
	} else {
		cond := goqu.C(colN).Eq(int64(w.Expected.Index))
		if w.Expected.Kind == tipstore.ExpectEtag {
			cond = goqu.C(colEtag).Eq(w.Expected.Etag)
		}
		delete(rec, colStream)
		delete(rec, colIndex)
		query, args, err = t.d.Update(t.table).
			Set(rec).
			Where(goqu.C(colStream).Eq(stream), goqu.C(colIndex).Eq(int64(tipstore.TipIndex)), cond).
			Prepared(true).
			ToSQL()
	}
	if err != nil {
		return fmt.Errorf("build tip write: %w", err)
	}

	affected, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if affected == 0 {
		return tipstore.ErrConditionFailed
	}
	return nil
}

// insertCalf inserts c unless a row exists at its base. An existing row
// with the same n is the same calf; any other row is a conflict.
func (t *Table) insertCalf(ctx context.Context, tx Querier, stream string, c tipstore.Batch) error {
	rec, err := t.record(stream, c.Base, c)
	if err != nil {
		return fmt.Errorf("encode calf: %w", err)
	}
	query, args, err := t.d.Insert(t.table).Rows(rec).OnConflict(goqu.DoNothing()).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build calf insert: %w", err)
	}
	affected, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	query, args, err = t.d.From(t.table).
		Select(colBase, colN, colEtag, colDoc).
		Where(goqu.C(colStream).Eq(stream), goqu.C(colIndex).Eq(int64(c.Base))).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build calf query: %w", err)
	}
	existing, err := t.scan(ctx, tx, query, args)
	if err != nil {
		return err
	}
	if len(existing) == 0 || existing[0].N != c.N {
		t.log.Debug("calf collision", slog.String("stream", stream), slog.Uint64("base", c.Base))
		return tipstore.ErrConditionFailed
	}
	return nil
}

func (t *Table) scan(ctx context.Context, q Querier, query string, args []any) (out []tipstore.Batch, err error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var (
			base, n int64
			etag    string
			data    []byte
		)
		if err := rows.Scan(&base, &n, &etag, &data); err != nil {
			return nil, err
		}
		var d doc
		if err := t.codec.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decode batch %d: %w", base, err)
		}
		out = append(out, tipstore.Batch{
			Base:        uint64(base),
			N:           uint64(n),
			Etag:        etag,
			Events:      d.Events,
			Unfolds:     d.Unfolds,
			CalvedBytes: d.CalvedBytes,
		})
	}
	return out, rows.Err()
}

var _ tipstore.Table = (*Table)(nil)
