// Package canonical renders value trees into a stable byte form and hashes
// them. The byte form is the system's content-addressing primitive: the bank
// hash, the signature payload, and the replay comparison key are all SHA-256
// digests of canonical bytes.
//
// The representable tree is deliberately small:
//
//	null | bool | int64 | string | list | map[string]value
//
// Maps serialize with keys sorted by Unicode code point; lists keep their
// order; no insignificant whitespace is emitted. Floats, NaN and cycles are
// not representable and fail with E_BANK_DEFECT. Strings must already be in
// NFC form so that visually-identical artifacts cannot hash differently.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/rawblock/persona-engine/pkg/models"
)

// Value is a node of the canonical tree. Exactly one of the concrete kinds
// below implements it.
type Value interface {
	append(dst *bytes.Buffer)
}

type Null struct{}

type Bool bool

type Int int64

type String string

type List []Value

// Map holds object entries; serialization sorts keys, so insertion order is
// irrelevant.
type Map map[string]Value

func (Null) append(dst *bytes.Buffer) { dst.WriteString("null") }

func (b Bool) append(dst *bytes.Buffer) {
	if b {
		dst.WriteString("true")
	} else {
		dst.WriteString("false")
	}
}

func (i Int) append(dst *bytes.Buffer) {
	dst.WriteString(strconv.FormatInt(int64(i), 10))
}

func (s String) append(dst *bytes.Buffer) { appendQuoted(dst, string(s)) }

func (l List) append(dst *bytes.Buffer) {
	dst.WriteByte('[')
	for i, v := range l {
		if i > 0 {
			dst.WriteByte(',')
		}
		v.append(dst)
	}
	dst.WriteByte(']')
}

func (m Map) append(dst *bytes.Buffer) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Plain byte sort: UTF-8 byte order equals code-point order.
	sort.Strings(keys)

	dst.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			dst.WriteByte(',')
		}
		appendQuoted(dst, k)
		dst.WriteByte(':')
		m[k].append(dst)
	}
	dst.WriteByte('}')
}

// appendQuoted writes a JSON string with the minimal escape set: quote,
// backslash, and control characters as \u00XX (plus the two-character forms
// for the common controls). Everything else passes through as UTF-8.
func appendQuoted(dst *bytes.Buffer, s string) {
	dst.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			dst.WriteString(`\"`)
		case '\\':
			dst.WriteString(`\\`)
		case '\b':
			dst.WriteString(`\b`)
		case '\f':
			dst.WriteString(`\f`)
		case '\n':
			dst.WriteString(`\n`)
		case '\r':
			dst.WriteString(`\r`)
		case '\t':
			dst.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(dst, `\u%04x`, r)
			} else {
				dst.WriteRune(r)
			}
		}
	}
	dst.WriteByte('"')
}

// Bytes renders v into its canonical byte form.
func Bytes(v Value) []byte {
	var buf bytes.Buffer
	v.append(&buf)
	return buf.Bytes()
}

// Hash returns the lowercase hex SHA-256 of the canonical bytes of v.
func Hash(v Value) string {
	sum := sha256.Sum256(Bytes(v))
	return hex.EncodeToString(sum[:])
}

// FromJSON parses raw JSON into the canonical tree, enforcing the
// representability rules: integers only, NFC strings, valid UTF-8.
func FromJSON(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, models.Errf(models.ErrBankDefect, "artifact is not well-formed JSON: %v", err)
	}
	// Trailing garbage after the document is a corruption signal.
	if dec.More() {
		return nil, models.Errf(models.ErrBankDefect, "trailing data after JSON document")
	}
	return fromAny(root)
}

// FromGo converts a value produced by encoding/json round-tripping (the
// final-snapshot path) into the canonical tree.
func FromGo(v any) (Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, models.Errf(models.ErrBankDefect, "value not serializable: %v", err)
	}
	return FromJSON(raw)
}

// HashJSON is the one-call form used for snapshot hashing.
func HashJSON(raw []byte) (string, error) {
	v, err := FromJSON(raw)
	if err != nil {
		return "", err
	}
	return Hash(v), nil
}

func fromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(t), nil
	case json.Number:
		n, err := strconv.ParseInt(t.String(), 10, 64)
		if err != nil {
			return nil, models.Errf(models.ErrBankDefect, "non-integer number %q", t.String())
		}
		return Int(n), nil
	case string:
		if err := checkString(t); err != nil {
			return nil, err
		}
		return String(t), nil
	case []any:
		out := make(List, len(t))
		for i, e := range t {
			ce, err := fromAny(e)
			if err != nil {
				return nil, err
			}
			out[i] = ce
		}
		return out, nil
	case map[string]any:
		out := make(Map, len(t))
		for k, e := range t {
			if err := checkString(k); err != nil {
				return nil, err
			}
			ce, err := fromAny(e)
			if err != nil {
				return nil, err
			}
			out[k] = ce
		}
		return out, nil
	default:
		return nil, models.Errf(models.ErrBankDefect, "non-representable value of type %T", v)
	}
}

func checkString(s string) error {
	if !utf8.ValidString(s) {
		return models.Errf(models.ErrBankDefect, "string is not valid UTF-8")
	}
	if !norm.NFC.IsNormalString(s) {
		return models.Errf(models.ErrBankDefect, "string %q is not NFC-normalized", s)
	}
	return nil
}
