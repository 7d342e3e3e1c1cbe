// Package binder maps loosely shaped bus payloads onto a handler's declared
// parameter list.
//
// Handlers describe their parameters once, at registration time, as a Shape.
// Inbound payloads arrive as one of the Payload kinds and Bind decides, without
// reflection, which raw value goes to which parameter. Decoding a bound value
// into a concrete Go type happens later, in the handler adapter.
package binder

import (
	"encoding/json"
	"sort"
)

// Value is a single undecoded JSON value taken from an envelope.
type Value = json.RawMessage

// Kind enumerates the payload shapes a caller can send.
type Kind int

const (
	KindAbsent Kind = iota
	KindScalar
	KindSequence
	KindMapping
	KindMixed
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	case KindMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// Payload is the tagged union handed to Bind. Only the fields that belong to
// Kind are meaningful.
type Payload struct {
	Kind     Kind
	Scalar   Value
	Sequence []Value
	Mapping  map[string]Value
}

// Absent returns an empty payload.
func Absent() Payload { return Payload{Kind: KindAbsent} }

// Scalar wraps a single value. Opaque typed blobs are bound as scalars.
func Scalar(v Value) Payload { return Payload{Kind: KindScalar, Scalar: v} }

// Sequence wraps positional arguments.
func Sequence(values ...Value) Payload { return Payload{Kind: KindSequence, Sequence: values} }

// Mapping wraps keyword arguments.
func Mapping(values map[string]Value) Payload { return Payload{Kind: KindMapping, Mapping: values} }

// FromParts classifies the args/kwargs/payload triple carried by an envelope.
// A non-empty blob wins; callers are expected to reject blobs combined with
// args or kwargs before getting here.
func FromParts(args []Value, kwargs map[string]Value, blob Value) Payload {
	switch {
	case len(blob) > 0:
		return Scalar(blob)
	case len(args) > 0 && len(kwargs) > 0:
		return Payload{Kind: KindMixed, Sequence: args, Mapping: kwargs}
	case len(args) > 0:
		return Sequence(args...)
	case len(kwargs) > 0:
		return Mapping(kwargs)
	default:
		return Absent()
	}
}

// Keys returns the mapping keys in sorted order, mainly for log fields.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p.Mapping))
	for k := range p.Mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
