package nats

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/evstore/core/tipstore"
	"github.com/codewandler/evstore/internal/codec"
)

const defaultBucket = "evstore"

type TableConfig struct {
	Connect Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Bucket  string       // Bucket is the KV bucket holding all streams (default: evstore)
	Log     *slog.Logger // Log for diagnostics (optional)

	// Storage selects file or memory storage for the bucket.
	Storage jetstream.StorageType
	// Replicas is the replication factor of the bucket (default: 1).
	Replicas int
	// MaxBytes caps the bucket size. Zero means unlimited.
	MaxBytes int64
}

// Table is a tipstore.Table on a JetStream KV bucket.
//
// KV has no multi-key transactions, so a write commits by swapping the tip
// key at its last revision. Calves are written first under keys unique to
// the write and are linked from the tip: the tip names its newest calf and
// every calf names the one below it. Calves of a write whose swap failed
// are never linked and thus never read.
type Table struct {
	kv    jetstream.KeyValue
	close closeFunc
	codec codec.Codec
	log   *slog.Logger
}

type tipDoc struct {
	tipstore.Batch
	Link string `json:"l,omitempty"`
}

type calfDoc struct {
	tipstore.Batch
	Prev string `json:"p,omitempty"`
}

func NewTable(cfg TableConfig) (*Table, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	nc, closeConn, err := doConnect()
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeConn()
		return nil, err
	}

	kv, err := js.CreateOrUpdateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket:   bucket,
		History:  1,
		Storage:  cfg.Storage,
		Replicas: cfg.Replicas,
		MaxBytes: cfg.MaxBytes,
	})
	if err != nil {
		closeConn()
		return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
	}

	return &Table{
		kv:    kv,
		close: closeConn,
		codec: codec.JSONCodec{},
		log:   log.With(slog.String("table", "nats"), slog.String("bucket", bucket)),
	}, nil
}

// Close releases the connection.
func (t *Table) Close() { t.close() }

func streamKey(stream string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(stream))
}

func tipKey(stream string) string { return streamKey(stream) + ".tip" }

func calfKey(stream string, base uint64, id string) string {
	return fmt.Sprintf("%s.c.%d.%s", streamKey(stream), base, id)
}

// ReadTip ignores consistent; KV reads are served by the stream leader.
func (t *Table) ReadTip(ctx context.Context, stream string, _ bool) (*tipstore.Batch, error) {
	doc, _, err := t.readTip(ctx, stream)
	if err != nil || doc == nil {
		return nil, err
	}
	return &doc.Batch, nil
}

func (t *Table) readTip(ctx context.Context, stream string) (*tipDoc, uint64, error) {
	entry, err := t.kv.Get(ctx, tipKey(stream))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("get tip %s: %w", stream, err)
	}
	var doc tipDoc
	if err := t.codec.Unmarshal(entry.Value(), &doc); err != nil {
		return nil, 0, fmt.Errorf("decode tip %s: %w", stream, err)
	}
	return &doc, entry.Revision(), nil
}

func (t *Table) readCalf(ctx context.Context, key string) (*calfDoc, error) {
	entry, err := t.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get calf %s: %w", key, err)
	}
	var doc calfDoc
	if err := t.codec.Unmarshal(entry.Value(), &doc); err != nil {
		return nil, fmt.Errorf("decode calf %s: %w", key, err)
	}
	return &doc, nil
}

// walk follows the calf chain from link downwards and calls fn for each
// calf until fn returns false or the chain ends.
func (t *Table) walk(ctx context.Context, link string, fn func(*calfDoc) bool) error {
	for link != "" {
		calf, err := t.readCalf(ctx, link)
		if err != nil {
			return err
		}
		if !fn(calf) {
			return nil
		}
		link = calf.Prev
	}
	return nil
}

func (t *Table) QueryBatches(ctx context.Context, stream string, q tipstore.BatchQuery) (tipstore.BatchPage, error) {
	if q.Lo >= q.Hi {
		return tipstore.BatchPage{}, nil
	}
	tip, _, err := t.readTip(ctx, stream)
	if err != nil || tip == nil {
		return tipstore.BatchPage{}, err
	}

	// the chain is ordered newest first; a backward page can stop early
	want := -1
	if q.Backward && q.Limit > 0 {
		want = q.Limit + 1
	}
	var matched []tipstore.Batch
	err = t.walk(ctx, tip.Link, func(c *calfDoc) bool {
		if c.Base < q.Lo || c.N <= q.MinN {
			return false
		}
		if c.Base < q.Hi {
			matched = append(matched, c.Batch)
		}
		return want < 0 || len(matched) < want
	})
	if err != nil {
		return tipstore.BatchPage{}, err
	}
	if !q.Backward {
		slices.Reverse(matched)
	}

	var page tipstore.BatchPage
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
		last := matched[len(matched)-1].Base
		page.Next = &last
	}
	page.Batches = matched
	return page, nil
}

// WriteTip replaces the whole tip value; w.Appended is not used.
func (t *Table) WriteTip(ctx context.Context, stream string, w tipstore.TipWrite) error {
	cur, rev, err := t.readTip(ctx, stream)
	if err != nil {
		return err
	}
	var curBatch *tipstore.Batch
	if cur != nil {
		curBatch = &cur.Batch
	}
	if !w.Expected.Holds(curBatch) {
		return tipstore.ErrConditionFailed
	}

	id := w.Tip.Etag
	if id == "" {
		if id, err = gonanoid.New(); err != nil {
			return err
		}
	}

	var (
		link    string
		chained map[uint64]uint64
	)
	if cur != nil {
		link = cur.Link
	}
	for _, c := range w.Calves {
		if cur != nil && c.Base < cur.Base {
			// already below the tip: must match the linked calf
			if chained == nil {
				if chained, err = t.chainIndex(ctx, cur.Link); err != nil {
					return err
				}
			}
			if n, ok := chained[c.Base]; !ok || n != c.N {
				return tipstore.ErrConditionFailed
			}
			continue
		}
		key := calfKey(stream, c.Base, id)
		if err := t.createCalf(ctx, key, calfDoc{Batch: c, Prev: link}); err != nil {
			return err
		}
		link = key
	}

	data, err := t.codec.Marshal(tipDoc{Batch: w.Tip, Link: link})
	if err != nil {
		return fmt.Errorf("encode tip %s: %w", stream, err)
	}
	if cur == nil {
		_, err = t.kv.Create(ctx, tipKey(stream), data)
	} else {
		_, err = t.kv.Update(ctx, tipKey(stream), data, rev)
	}
	if err != nil {
		if isWrongRevision(err) {
			t.log.Debug("tip swap lost", slog.String("stream", stream), slog.Uint64("revision", rev))
			return tipstore.ErrConditionFailed
		}
		return fmt.Errorf("write tip %s: %w", stream, err)
	}
	return nil
}

// createCalf writes doc unless key exists. An existing calf with the same
// range was left by an earlier attempt of this write and is accepted.
func (t *Table) createCalf(ctx context.Context, key string, doc calfDoc) error {
	data, err := t.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode calf %s: %w", key, err)
	}
	_, err = t.kv.Create(ctx, key, data)
	if err == nil {
		return nil
	}
	if !isWrongRevision(err) {
		return fmt.Errorf("create calf %s: %w", key, err)
	}
	existing, err := t.readCalf(ctx, key)
	if err != nil {
		return err
	}
	if existing.N != doc.N {
		return tipstore.ErrConditionFailed
	}
	return nil
}

func (t *Table) chainIndex(ctx context.Context, link string) (map[uint64]uint64, error) {
	out := make(map[uint64]uint64)
	err := t.walk(ctx, link, func(c *calfDoc) bool {
		out[c.Base] = c.N
		return true
	})
	return out, err
}

func isWrongRevision(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

var _ tipstore.Table = (*Table)(nil)
