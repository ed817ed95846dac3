package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/codewandler/evstore/core/es"
	"github.com/codewandler/evstore/core/tipstore"
	"github.com/codewandler/evstore/internal/codec"
)

var errStreamNotFound = errors.New("stream not found")

type dumpOptions struct {
	// Forward lists calves oldest first.
	Forward     bool
	PageSize    int
	HeadersOnly bool
}

type eventView struct {
	Index         uint64    `json:"index"`
	Timestamp     time.Time `json:"timestamp"`
	Type          string    `json:"type"`
	Data          any       `json:"data,omitempty"`
	Meta          any       `json:"meta,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CausationID   string    `json:"causation_id,omitempty"`
}

type batchView struct {
	Kind        string      `json:"kind"`
	Base        uint64      `json:"base"`
	N           uint64      `json:"n"`
	Etag        string      `json:"etag,omitempty"`
	CalvedBytes int64       `json:"calved_bytes,omitempty"`
	Events      []eventView `json:"events,omitempty"`
	Unfolds     []eventView `json:"unfolds,omitempty"`
}

// payload keeps JSON payloads readable; anything else is printed as base64.
func payload(data []byte) any {
	switch {
	case len(data) == 0:
		return nil
	case codec.Valid(data):
		return jsoniter.RawMessage(data)
	default:
		return data
	}
}

func viewOf(kind string, b tipstore.Batch, headersOnly bool) batchView {
	v := batchView{Kind: kind, Base: b.Base, N: b.N, Etag: b.Etag, CalvedBytes: b.CalvedBytes}
	if headersOnly {
		return v
	}
	for i, e := range b.Events {
		v.Events = append(v.Events, eventView{
			Index:         b.Base + uint64(i),
			Timestamp:     e.Timestamp,
			Type:          e.Type,
			Data:          payload(e.Data),
			Meta:          payload(e.Meta),
			CorrelationID: e.CorrelationID,
			CausationID:   e.CausationID,
		})
	}
	for _, u := range b.Unfolds {
		v.Unfolds = append(v.Unfolds, eventView{
			Index:     u.Index,
			Timestamp: u.Timestamp,
			Type:      u.Type,
			Data:      payload(u.Data),
			Meta:      payload(u.Meta),
		})
	}
	return v
}

// dump writes the tip of stream followed by its calves.
func dump(ctx context.Context, w io.Writer, table tipstore.Table, stream string, opts dumpOptions) error {
	if _, err := es.ParseStreamName(stream); err != nil {
		return err
	}
	tip, err := table.ReadTip(ctx, stream, true)
	if err != nil {
		return err
	}
	if tip == nil {
		return fmt.Errorf("%w: %s", errStreamNotFound, stream)
	}

	pretty := codec.PrettyJSONCodec{}
	write := func(v batchView) error {
		data, err := pretty.Marshal(v)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
	if err := write(viewOf("tip", *tip, opts.HeadersOnly)); err != nil {
		return err
	}

	cur := tipstore.NewCursor(table, stream, tipstore.BatchQuery{
		Hi:         tipstore.TipIndex,
		Backward:   !opts.Forward,
		Limit:      opts.PageSize,
		Consistent: true,
	}, 0)
	for {
		batches, ok, err := cur.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		for _, b := range batches {
			if err := write(viewOf("calf", b, opts.HeadersOnly)); err != nil {
				return err
			}
		}
	}
}
