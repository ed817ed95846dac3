package es

import "log/slog"

// Version is the number of events in a stream, which is also the index the
// next appended event will receive. An empty stream has version 0.
type Version uint64

func (v Version) Uint64() uint64                         { return uint64(v) }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }

// StreamToken is the opaque cursor a Category hands out with every loaded
// state. Value is owned by the store implementation.
type StreamToken struct {
	Version Version
	// StreamBytes is the storage cost of all events in the stream, or -1
	// when the store cannot tell.
	StreamBytes int64
	Value       any
}

func (t StreamToken) SlogAttr() slog.Attr {
	return slog.Group("token", t.Version.SlogAttr(), slog.Int64("bytes", t.StreamBytes))
}
