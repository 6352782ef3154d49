package etl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ── Record ─────────────────────────────────────────────────
// Common intermediate data format.
// All sources emit Documents, the destination consumes Documents.

// IDField is the destination primary-key column. Its value comes from the
// source record's own identifier, never from the document body.
const IDField = "id"

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindMap
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a dynamically-typed document field.
// Exactly one of the payload fields is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	Str  string // KindString; decimal text for KindNumber
	Bool bool
	Map  map[string]Value
	List []Value
}

func Null() Value { return Value{Kind: KindNull} }
func String(s string) Value { return Value{Kind: KindString, Str: s} }
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }
func Int(n int64) Value { return Number(strconv.FormatInt(n, 10)) }

// Number holds decimal text. Text that is not a JSON number (NaN, Infinity,
// hex) is kept as a String so every Value encodes as JSON.
func Number(n string) Value {
	if !isJSONNumber(n) {
		return String(n)
	}
	return Value{Kind: KindNumber, Str: n}
}

// Float maps NaN and ±Inf to Null; JSON and SQL numeric columns have no
// representation for them.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return Number(strconv.FormatFloat(f, 'g', -1, 64))
}

func isJSONNumber(s string) bool {
	if s == "" || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return false
	}
	return json.Valid([]byte(s))
}
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }
func List(l []Value) Value { return Value{Kind: KindList, List: l} }

// FromAny converts a decoded JSON/BSON-ish value into a Value.
// Unknown scalar types are kept as their fmt representation.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case json.Number:
		return Number(t.String())
	case float64:
		return Float(t)
	case float32:
		return Float(float64(t))
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromAny(e)
		}
		return Map(m)
	case []any:
		l := make([]Value, len(t))
		for i, e := range t {
			l[i] = FromAny(e)
		}
		return List(l)
	default:
		return String(fmt.Sprint(t))
	}
}

// Interface converts a Value back into plain Go values suitable for encoding/json.
func (v Value) Interface() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return json.Number(v.Str)
	case KindBool:
		return v.Bool
	case KindMap:
		m := make(map[string]any, len(v.Map))
		for k, e := range v.Map {
			m[k] = e.Interface()
		}
		return m
	case KindList:
		l := make([]any, len(v.List))
		for i, e := range v.List {
			l[i] = e.Interface()
		}
		return l
	default:
		return nil
	}
}

// SQLArg returns the database/sql argument for the value.
// Nested structures that survived normalization are stored as JSON text.
// Integers wider than int64 are passed as their decimal text.
func (v Value) SQLArg() (any, error) {
	switch v.Kind {
	case KindNull:
		return nil, nil
	case KindString:
		return v.Str, nil
	case KindBool:
		return v.Bool, nil
	case KindNumber:
		n, err := strconv.ParseInt(v.Str, 10, 64)
		if err == nil {
			return n, nil
		}
		if errors.Is(err, strconv.ErrRange) {
			return v.Str, nil
		}
		if f, err := strconv.ParseFloat(v.Str, 64); err == nil {
			return f, nil
		}
		return v.Str, nil
	default:
		return EncodeJSON(v)
	}
}

// EncodeJSON renders v as compact UTF-8 JSON. Non-ASCII characters and
// HTML-significant characters are written literally; map keys are sorted.
func EncodeJSON(v Value) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v.Interface()); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Document is a single source record flowing through the pipeline.
type Document struct {
	ID     string
	Fields map[string]Value
}

// Clone returns a shallow copy whose field map can be modified independently.
func (d Document) Clone() Document {
	fields := make(map[string]Value, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	return Document{ID: d.ID, Fields: fields}
}
