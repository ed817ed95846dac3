// Package codec provides an es.Codec that stores events as JSON, tagged
// with a registered type name.
package codec

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/codewandler/evstore/core/es"
	"github.com/codewandler/evstore/core/reflector"
	jsoniter "github.com/json-iterator/go"
)

var ErrUnregisteredType = errors.New("codec: unregistered event type")

// Registration binds one concrete event type to its type tag.
type Registration struct {
	name string
	info reflector.TypeInfo
}

// Type registers T under its Go type name.
func Type[T any]() Registration {
	info := reflector.TypeInfoFor[T]()
	return Registration{name: info.ShortName, info: info}
}

// Named registers T under name.
func Named[T any](name string) Registration {
	return Registration{name: name, info: reflector.TypeInfoFor[T]()}
}

// JSON encodes the members of the event union E, usually an interface, as
// JSON. Events of unregistered types fail to encode and are skipped on
// decode, as are payloads that no longer unmarshal.
type JSON[E any] struct {
	api    jsoniter.API
	byName map[string]reflector.TypeInfo
	byType map[reflect.Type]string
}

func NewJSON[E any](types ...Registration) *JSON[E] {
	c := &JSON[E]{
		api:    jsoniter.ConfigCompatibleWithStandardLibrary,
		byName: make(map[string]reflector.TypeInfo, len(types)),
		byType: make(map[reflect.Type]string, len(types)),
	}
	for _, r := range types {
		c.byName[r.name] = r.info
		c.byType[r.info.Type] = r.name
	}
	return c
}

func (c *JSON[E]) Encode(event E, ctx es.EncodeContext) (es.EventData, error) {
	info := reflector.TypeInfoOf(event)
	name, ok := c.byType[info.Type]
	if !ok {
		return es.EventData{}, fmt.Errorf("%w: %s", ErrUnregisteredType, info.Name)
	}
	data, err := c.api.Marshal(event)
	if err != nil {
		return es.EventData{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return es.EventData{
		Type:          name,
		Data:          data,
		CorrelationID: ctx.CorrelationID,
		CausationID:   ctx.CausationID,
	}, nil
}

func (c *JSON[E]) Decode(event es.TimelineEvent) (out E, ok bool) {
	info, ok := c.byName[event.Type]
	if !ok {
		return out, false
	}
	ptr := info.New()
	if len(event.Data) > 0 {
		if err := c.api.Unmarshal(event.Data, ptr.Interface()); err != nil {
			return out, false
		}
	}
	out, ok = info.Value(ptr).(E)
	return out, ok
}

var _ es.Codec[any] = (*JSON[any])(nil)
