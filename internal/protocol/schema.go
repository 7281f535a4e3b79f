package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ArgKind is the JSON shape an operation argument must have.
type ArgKind int

const (
	ArgString ArgKind = iota + 1
	ArgBool
	ArgInt
	// ArgBytes accepts a base64 string or an array of octets.
	ArgBytes
)

func (k ArgKind) String() string {
	switch k {
	case ArgString:
		return "string"
	case ArgBool:
		return "bool"
	case ArgInt:
		return "int"
	case ArgBytes:
		return "bytes"
	default:
		return fmt.Sprintf("ArgKind(%d)", int(k))
	}
}

// ArgSpec describes one positional argument.
type ArgSpec struct {
	Name     string
	Kind     ArgKind
	Optional bool
}

// Schema is the ordered argument list of an operation. Optional arguments
// must come last.
type Schema []ArgSpec

// Args holds arguments that passed schema validation.
type Args struct {
	values  []any
	present []bool
}

// NewArgs builds Args directly from Go values, for in-process callers.
// A nil value marks the argument as absent.
func NewArgs(values ...any) Args {
	a := Args{values: make([]any, len(values)), present: make([]bool, len(values))}
	for i, v := range values {
		if v == nil {
			continue
		}
		a.values[i] = v
		a.present[i] = true
	}
	return a
}

// Len returns the number of positions, present or not.
func (a Args) Len() int { return len(a.values) }

// Has reports whether position i was supplied.
func (a Args) Has(i int) bool { return i < len(a.present) && a.present[i] }

func (a Args) String(i int) string {
	if !a.Has(i) {
		return ""
	}
	s, _ := a.values[i].(string)
	return s
}

func (a Args) Bool(i int) bool {
	if !a.Has(i) {
		return false
	}
	b, _ := a.values[i].(bool)
	return b
}

func (a Args) Int(i int) int64 {
	if !a.Has(i) {
		return 0
	}
	switch n := a.values[i].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func (a Args) Bytes(i int) []byte {
	if !a.Has(i) {
		return nil
	}
	switch b := a.values[i].(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	}
	return nil
}

// Bind validates raw JSON arguments against the schema.
func (s Schema) Bind(raw []json.RawMessage) (Args, error) {
	if len(raw) > len(s) {
		return Args{}, Errorf(KindInvalidArguments, "expected at most %d arguments, got %d", len(s), len(raw))
	}
	args := Args{values: make([]any, len(s)), present: make([]bool, len(s))}
	for i, param := range s {
		if i >= len(raw) || isNull(raw[i]) {
			if !param.Optional {
				return Args{}, Errorf(KindInvalidArguments, "missing required argument %q", param.Name)
			}
			continue
		}
		v, err := decodeArg(param.Kind, raw[i])
		if err != nil {
			return Args{}, Errorf(KindInvalidArguments, "argument %q: expected %s: %v", param.Name, param.Kind, err)
		}
		args.values[i] = v
		args.present[i] = true
	}
	return args, nil
}

// Check validates Args built in-process against the schema.
func (s Schema) Check(a Args) error {
	if a.Len() > len(s) {
		return Errorf(KindInvalidArguments, "expected at most %d arguments, got %d", len(s), a.Len())
	}
	for i, param := range s {
		if !a.Has(i) {
			if !param.Optional {
				return Errorf(KindInvalidArguments, "missing required argument %q", param.Name)
			}
			continue
		}
		ok := false
		switch a.values[i].(type) {
		case string:
			ok = param.Kind == ArgString || param.Kind == ArgBytes
		case bool:
			ok = param.Kind == ArgBool
		case int, int64:
			ok = param.Kind == ArgInt
		case []byte:
			ok = param.Kind == ArgBytes
		}
		if !ok {
			return Errorf(KindInvalidArguments, "argument %q: expected %s, got %T", param.Name, param.Kind, a.values[i])
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func decodeArg(kind ArgKind, raw json.RawMessage) (any, error) {
	switch kind {
	case ArgString:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case ArgBool:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	case ArgInt:
		var n int64
		err := json.Unmarshal(raw, &n)
		return n, err
	case ArgBytes:
		return decodeBytes(raw)
	default:
		return nil, fmt.Errorf("unsupported argument kind %d", int(kind))
	}
}

func decodeBytes(raw json.RawMessage) ([]byte, error) {
	t := bytes.TrimSpace(raw)
	if len(t) > 0 && t[0] == '"' {
		var s string
		if err := json.Unmarshal(t, &s); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(s)
	}
	var octets []int
	if err := json.Unmarshal(t, &octets); err != nil {
		return nil, err
	}
	out := make([]byte, len(octets))
	for i, o := range octets {
		if o < 0 || o > 255 {
			return nil, fmt.Errorf("byte %d out of range: %d", i, o)
		}
		out[i] = byte(o)
	}
	return out, nil
}
