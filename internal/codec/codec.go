// Package codec serializes the items adapters store as documents.
package codec

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec writes compact JSON.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

// PrettyJSONCodec writes indented JSON for humans.
type PrettyJSONCodec struct{}

func (PrettyJSONCodec) Marshal(v any) ([]byte, error)   { return json.MarshalIndent(v, "", "  ") }
func (PrettyJSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

// Valid reports whether data is well-formed JSON.
func Valid(data []byte) bool { return json.Valid(data) }

var (
	_ Codec = JSONCodec{}
	_ Codec = PrettyJSONCodec{}
)
