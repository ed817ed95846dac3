package es

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const streamNameSeparator = "-"

var ErrInvalidStreamName = errors.New("invalid stream name")

// StreamName identifies one stream: "{category}-{id}". The category must not
// contain the separator, the id may.
type StreamName struct {
	category string
	id       string
}

func NewStreamName(category, id string) (StreamName, error) {
	switch {
	case category == "":
		return StreamName{}, fmt.Errorf("%w: category is empty", ErrInvalidStreamName)
	case strings.Contains(category, streamNameSeparator):
		return StreamName{}, fmt.Errorf("%w: category %q contains %q", ErrInvalidStreamName, category, streamNameSeparator)
	case id == "":
		return StreamName{}, fmt.Errorf("%w: id is empty", ErrInvalidStreamName)
	}
	return StreamName{category: category, id: id}, nil
}

func MustStreamName(category, id string) StreamName {
	sn, err := NewStreamName(category, id)
	if err != nil {
		panic(err)
	}
	return sn
}

// ParseStreamName splits s at the first separator.
func ParseStreamName(s string) (StreamName, error) {
	category, id, ok := strings.Cut(s, streamNameSeparator)
	if !ok {
		return StreamName{}, fmt.Errorf("%w: %q has no category separator", ErrInvalidStreamName, s)
	}
	return NewStreamName(category, id)
}

func (s StreamName) Category() string { return s.category }
func (s StreamName) ID() string       { return s.id }
func (s StreamName) IsZero() bool     { return s.category == "" && s.id == "" }
func (s StreamName) String() string   { return s.category + streamNameSeparator + s.id }

func (s StreamName) SlogAttr() slog.Attr {
	return slog.Group("stream", slog.String("category", s.category), slog.String("id", s.id))
}
