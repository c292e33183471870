package minute

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"unicode/utf8"
)

// Canonical returns the canonical byte serialization of a payload: JSON with
// lexicographically sorted object keys, no insignificant whitespace, UTF-8
// text, and deterministic number formatting (integers without a fraction,
// other values in shortest round-trip form). The result is identical for any
// two semantically equal payloads and is stable under parse/re-serialize, so
// it is safe to hash and sign.
func Canonical(p Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	// Normalise through the generic JSON data model so that a payload built
	// in memory and a payload parsed off the wire canonicalize identically.
	q := p
	q.TS = q.TS.UTC()
	raw, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	return AppendCanonical(nil, v)
}

// AppendCanonical appends the canonical serialization of a decoded JSON value
// (the encoding/json generic data model) to dst. Object keys are emitted in
// lexicographic byte order. Non-finite numbers are rejected.
func AppendCanonical(dst []byte, v any) ([]byte, error) {
	var err error
	switch x := v.(type) {
	case nil:
		dst = append(dst, "null"...)
	case bool:
		if x {
			dst = append(dst, "true"...)
		} else {
			dst = append(dst, "false"...)
		}
	case string:
		dst = appendCanonicalString(dst, x)
	case float64:
		dst, err = appendCanonicalNumber(dst, x)
		if err != nil {
			return nil, err
		}
	case json.Number:
		f, perr := x.Float64()
		if perr != nil {
			return nil, fmt.Errorf("canonical: bad number %q: %w", x.String(), perr)
		}
		dst, err = appendCanonicalNumber(dst, f)
		if err != nil {
			return nil, err
		}
	case []any:
		dst = append(dst, '[')
		for i, e := range x {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst, err = AppendCanonical(dst, e)
			if err != nil {
				return nil, err
			}
		}
		dst = append(dst, ']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dst = append(dst, '{')
		for i, k := range keys {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = appendCanonicalString(dst, k)
			dst = append(dst, ':')
			dst, err = AppendCanonical(dst, x[k])
			if err != nil {
				return nil, err
			}
		}
		dst = append(dst, '}')
	default:
		return nil, fmt.Errorf("canonical: unsupported type %T", v)
	}
	return dst, nil
}

// appendCanonicalNumber writes f deterministically: integral values inside
// the exactly-representable range print without a fraction; everything else
// uses the shortest representation that round-trips through float64.
func appendCanonicalNumber(dst []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("canonical: non-finite number")
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.AppendInt(dst, int64(f), 10), nil
	}
	return strconv.AppendFloat(dst, f, 'g', -1, 64), nil
}

const hexDigits = "0123456789abcdef"

// appendCanonicalString writes a JSON string with the minimal escape set:
// quote, backslash, and control characters. Valid UTF-8 passes through
// unescaped; invalid bytes are replaced with U+FFFD so the output is always
// well-formed UTF-8.
func appendCanonicalString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for _, r := range s {
		switch {
		case r == '"':
			dst = append(dst, '\\', '"')
		case r == '\\':
			dst = append(dst, '\\', '\\')
		case r == '\n':
			dst = append(dst, '\\', 'n')
		case r == '\r':
			dst = append(dst, '\\', 'r')
		case r == '\t':
			dst = append(dst, '\\', 't')
		case r < 0x20:
			dst = append(dst, '\\', 'u', '0', '0', hexDigits[r>>4], hexDigits[r&0xf])
		default:
			dst = utf8.AppendRune(dst, r)
		}
	}
	return append(dst, '"')
}
