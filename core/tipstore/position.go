package tipstore

import (
	"log/slog"

	"github.com/codewandler/evstore/core/es"
)

// Position is what a loaded token remembers about the tip it was read from.
// It is enough to plan the next write without reading the tip again.
type Position struct {
	// Index is the stream version, the index the next event will receive.
	Index        uint64
	Etag         string
	CalvedBytes  int64
	BaseBytes    int64
	UnfoldsBytes int64
	// Events are the events held by the tip, the last one at Index-1.
	Events []Event
}

func positionOf(tip *Batch) *Position {
	return &Position{
		Index:        tip.N,
		Etag:         tip.Etag,
		CalvedBytes:  tip.CalvedBytes,
		BaseBytes:    tip.EventBytes(),
		UnfoldsBytes: tip.UnfoldBytes(),
		Events:       tip.Events,
	}
}

// Base is the index of the first event held by the tip.
func (p *Position) Base() uint64 { return p.Index - uint64(len(p.Events)) }

func (p *Position) SlogAttr() slog.Attr {
	if p == nil {
		return slog.Group("pos", slog.Bool("exists", false))
	}
	return slog.Group("pos",
		slog.Uint64("index", p.Index),
		slog.String("etag", p.Etag),
		slog.Int("tip_events", len(p.Events)),
	)
}

// Token wraps pos into an es.StreamToken. A nil pos stands for a stream
// that does not exist yet.
func Token(pos *Position) es.StreamToken {
	if pos == nil {
		return es.StreamToken{Version: 0, StreamBytes: 0, Value: (*Position)(nil)}
	}
	return es.StreamToken{
		Version:     es.Version(pos.Index),
		StreamBytes: pos.CalvedBytes + pos.BaseBytes,
		Value:       pos,
	}
}

// PositionOf extracts the Position from a token produced by this package.
// It returns nil for empty tokens and tokens of other stores.
func PositionOf(token es.StreamToken) *Position {
	pos, _ := token.Value.(*Position)
	return pos
}

// Supersedes reports whether candidate describes a newer tip than current:
// a higher version, or the same version written under a different etag.
func Supersedes(current, candidate es.StreamToken) bool {
	if candidate.Version != current.Version {
		return candidate.Version > current.Version
	}
	cur, cand := PositionOf(current), PositionOf(candidate)
	switch {
	case cand == nil:
		return false
	case cur == nil:
		return true
	default:
		return cand.Etag != cur.Etag
	}
}
