// Package canon implements WeftEnd's canonical JSON serialization and
// digest discipline (spec §4.1, §6.1). Every trust-relevant object in
// the system is hashed over exactly the bytes canon.Marshal produces —
// never over encoding/json's default output, which does not guarantee
// key order or NFC normalization across platforms.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Value is the canonical in-memory shape canon.Marshal walks: maps become
// sorted key/value pairs, slices preserve order, everything else is a
// scalar. Callers build this from Go values via ToValue, or hand-build it
// directly when they need exact control over field presence.
type Value = any

// ErrCycle is returned when a cyclic structure is handed to ToValue.
type ErrCycle struct{ Path string }

func (e *ErrCycle) Error() string { return fmt.Sprintf("canon: CYCLE_IN_CANONICAL at %s", e.Path) }

// Marshal produces the canonical byte sequence for v: lexicographic
// (code-point) key order, NFC-assumed UTF-8 strings, no NaN/Infinity, no
// trailing whitespace. Functions, channels, and non-finite numbers
// collapse to null, as do missing/nil values.
func Marshal(v any) ([]byte, error) {
	cv, err := ToValue(v)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	if err := encode(&b, cv); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// MustMarshal panics on error; reserved for call sites operating on
// values already validated upstream, where the caller has already
// proved the marshal cannot fail.
func MustMarshal(v any) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// DigestFamily identifies which hash algorithm produced a digest string.
type DigestFamily string

const (
	FamilyFNV1a32 DigestFamily = "fnv1a32"
	FamilySHA256  DigestFamily = "sha256"
)

// Digest hashes canonical bytes with the requested family and returns the
// algorithm-prefixed string form spec.md §4.1 requires, e.g.
// "sha256:9f86d0...".
func Digest(family DigestFamily, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return DigestBytes(family, data), nil
}

// DigestBytes hashes already-canonical bytes directly, for callers that
// need to digest a sub-document they canonicalized themselves (e.g. a
// manifestBody with its releaseId field physically absent).
func DigestBytes(family DigestFamily, data []byte) string {
	switch family {
	case FamilyFNV1a32:
		h := fnv.New32a()
		_, _ = h.Write(data)
		return string(FamilyFNV1a32) + ":" + hex.EncodeToString(h.Sum(nil))
	default:
		sum := sha256.Sum256(data)
		return string(FamilySHA256) + ":" + hex.EncodeToString(sum[:])
	}
}

// WithoutField marshals v as a map with key omitted — the standard way to
// compute a self-referential digest field (evidenceId, releaseId,
// mintDigest, ...) per spec's "digest of the object with the digest field
// absent" rule. v must marshal to a JSON object (struct or map).
func WithoutField(v any, key string) ([]byte, error) {
	cv, err := ToValue(v)
	if err != nil {
		return nil, err
	}
	m, ok := cv.(orderedMap)
	if !ok {
		return nil, fmt.Errorf("canon: WithoutField requires an object, got %T", v)
	}
	delete(m, key)
	var b strings.Builder
	if err := encode(&b, m); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// orderedMap is the canonical representation of a JSON object: keys are
// sorted at encode time, never at insertion time, so construction order
// never leaks into the digest.
type orderedMap map[string]any

// ToValue converts an arbitrary Go value (struct, map, slice, scalar) into
// the canonical Value tree, resolving json struct tags the same way
// encoding/json would (field name, omitempty, "-") so canon.Marshal stays
// a drop-in replacement for json.Marshal at every existing call site.
func ToValue(v any) (Value, error) {
	return toValue(reflect.ValueOf(v), make(map[uintptr]bool), "$")
}

func toValue(rv reflect.Value, seen map[uintptr]bool, path string) (Value, error) {
	if !rv.IsValid() {
		return nil, nil
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		ptr := uintptr(0)
		if rv.Kind() == reflect.Ptr {
			ptr = rv.Pointer()
			if seen[ptr] {
				return nil, &ErrCycle{Path: path}
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		return toValue(rv.Elem(), seen, path)

	case reflect.Struct:
		return structToValue(rv, seen, path)

	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		out := make(orderedMap, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprintf("%v", iter.Key().Interface())
			cv, err := toValue(iter.Value(), seen, path+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}
		return out, nil

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			cv, err := toValue(rv.Index(i), seen, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil

	case reflect.String:
		s := rv.String()
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("canon: invalid UTF-8 at %s", path)
		}
		return s, nil

	case reflect.Bool:
		return rv.Bool(), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil

	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, nil
		}
		return f, nil

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, nil

	default:
		return nil, fmt.Errorf("canon: unsupported kind %s at %s", rv.Kind(), path)
	}
}

func structToValue(rv reflect.Value, seen map[uintptr]bool, path string) (Value, error) {
	rt := rv.Type()
	out := make(orderedMap, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" && !field.Anonymous {
			continue // unexported
		}
		name, omitempty, skip := jsonTag(field)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if omitempty && isEmptyValue(fv) {
			continue
		}
		cv, err := toValue(fv, seen, path+"."+name)
		if err != nil {
			return nil, err
		}
		out[name] = cv
	}
	return out, nil
}

func jsonTag(field reflect.StructField) (name string, omitempty bool, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = field.Name
	if tag != "" {
		parts := strings.Split(tag, ",")
		if parts[0] != "" {
			name = parts[0]
		}
		for _, opt := range parts[1:] {
			if opt == "omitempty" {
				omitempty = true
			}
		}
	}
	return name, omitempty, false
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	}
	return false
}

// encode writes the canonical byte form of a Value tree: objects emit
// keys in strict code-point order, arrays keep their given order, strings
// are JSON-escaped without HTML escaping, numbers print in the shortest
// round-trippable decimal form.
func encode(b *strings.Builder, v Value) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case orderedMap:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeString(b, k)
			b.WriteByte(':')
			if err := encode(b, t[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case []Value:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encode(b, e); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case string:
		encodeString(b, t)
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	case uint64:
		b.WriteString(strconv.FormatUint(t, 10))
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			b.WriteString(strconv.FormatInt(int64(t), 10))
		} else {
			b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
		}
	default:
		return fmt.Errorf("canon: cannot encode %T", v)
	}
	return nil
}

func encodeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}
