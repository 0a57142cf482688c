// Package canonicalize produces the deterministic byte representation used
// for hashing and signing. Identical logical content always yields
// byte-identical output regardless of key insertion order, numeric
// representation, or collection iteration order (RFC 8785 / JCS).
package canonicalize

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// SerializationError reports input that cannot be canonically serialized:
// cyclic structures, channels, functions, NaN/Inf floats. Canonicalize never
// returns partial output alongside it.
type SerializationError struct {
	cause error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("canonicalize: unsupported input: %v", e.cause)
}

func (e *SerializationError) Unwrap() error { return e.cause }

// Canonicalize returns the RFC 8785 canonical JSON bytes of v.
//
// Pipeline: v is marshaled to intermediate JSON (respecting struct tags),
// decoded generically with json.Number to avoid float drift, every string is
// normalized to Unicode NFC, then the result is run through JCS for sorted
// keys and ES6 number formatting. The output carries no trailing newline.
func Canonicalize(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{cause: err}
	}

	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, &SerializationError{cause: err}
	}

	normalized := normalizeStrings(generic)

	// Re-marshal without HTML escaping before handing to JCS.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, &SerializationError{cause: err}
	}

	out, err := jcs.Transform(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
	if err != nil {
		return nil, &SerializationError{cause: err}
	}
	return out, nil
}

// normalizeStrings rewrites every string (keys and values) to Unicode NFC so
// that composed and decomposed representations of the same text hash
// identically.
func normalizeStrings(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case []any:
		for i, elem := range t {
			t[i] = normalizeStrings(elem)
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[norm.NFC.String(k)] = normalizeStrings(val)
		}
		return out
	default:
		return v
	}
}
