// Package bencode implements the bencode value tree and its wire format:
// encode/decode between a tagged union of {integer, byte-string, ordered
// list, ordered dict} and the bencode byte grammar defined by BEP 3.
package bencode

import "fmt"

// Kind identifies which variant of Value is populated.
type Kind int

const (
	KindInt Kind = iota
	KindBytes
	KindList
	KindDict
)

// Value is a bencode value: exactly one of the fields matching Kind is
// meaningful. A zero Value is the integer 0.
type Value struct {
	Kind  Kind
	Int   int64
	Bytes []byte
	List  []Value
	// Dict is ordered by DictKeys to preserve decode order separately
	// from the ascending order Encode always emits.
	Dict     map[string]Value
	DictKeys []string
}

// Int64 returns i as an integer Value.
func Int64(i int64) Value { return Value{Kind: KindInt, Int: i} }

// Bytestring returns b as a byte-string Value.
func Bytestring(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// Str returns s as a byte-string Value holding its UTF-8 bytes.
func Str(s string) Value { return Value{Kind: KindBytes, Bytes: []byte(s)} }

// NewList returns vs as a list Value.
func NewList(vs ...Value) Value { return Value{Kind: KindList, List: vs} }

// NewDict returns an empty dict Value ready for Set.
func NewDict() Value {
	return Value{Kind: KindDict, Dict: make(map[string]Value)}
}

// Set inserts or replaces key in a dict Value, recording first-insertion
// order in DictKeys. Panics if v is not a dict; callers construct dicts
// with NewDict.
func (v *Value) Set(key string, val Value) {
	if v.Kind != KindDict {
		panic("bencode: Set on non-dict Value")
	}
	if _, exists := v.Dict[key]; !exists {
		v.DictKeys = append(v.DictKeys, key)
	}
	v.Dict[key] = val
}

// Get looks up key in a dict Value.
func (v *Value) Get(key string) (Value, bool) {
	if v.Kind != KindDict {
		return Value{}, false
	}
	val, ok := v.Dict[key]
	return val, ok
}

// GetString looks up key in a dict Value and requires it to be a
// byte-string, returning it as a Go string.
func (v *Value) GetString(key string) (string, error) {
	val, ok := v.Get(key)
	if !ok {
		return "", fmt.Errorf("bencode: missing key %q", key)
	}
	if val.Kind != KindBytes {
		return "", fmt.Errorf("bencode: key %q is not a byte-string", key)
	}
	return string(val.Bytes), nil
}

// GetInt looks up key in a dict Value and requires it to be an integer.
func (v *Value) GetInt(key string) (int64, error) {
	val, ok := v.Get(key)
	if !ok {
		return 0, fmt.Errorf("bencode: missing key %q", key)
	}
	if val.Kind != KindInt {
		return 0, fmt.Errorf("bencode: key %q is not an integer", key)
	}
	return val.Int, nil
}

// GetDict looks up key in a dict Value and requires it to be a dict.
func (v *Value) GetDict(key string) (Value, error) {
	val, ok := v.Get(key)
	if !ok {
		return Value{}, fmt.Errorf("bencode: missing key %q", key)
	}
	if val.Kind != KindDict {
		return Value{}, fmt.Errorf("bencode: key %q is not a dict", key)
	}
	return val, nil
}

// Equal reports whether v and other represent the same bencode value.
// Dict comparison ignores insertion order, matching bencode's semantics
// that a dict is a mapping, not a sequence.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.Int == other.Int
	case KindBytes:
		return string(v.Bytes) == string(other.Bytes)
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case KindDict:
		if len(v.Dict) != len(other.Dict) {
			return false
		}
		for k, val := range v.Dict {
			ov, ok := other.Dict[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
