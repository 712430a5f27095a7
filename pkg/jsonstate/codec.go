package jsonstate

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var jsonNull = json.RawMessage("null")

// EncodeValue renders a native column value as a JSON value for typ.
//
// The second result is false when the column must be skipped entirely, which
// is the case for primary keys. A nil v encodes as JSON null for every other
// type. Accepted natives per type:
//
//   - text types: string, []byte, int, int64, float64 (as decimal text),
//     fmt.Stringer
//   - integer types: all Go integers, bool, integral floats, decimal strings,
//     time.Time (as epoch milliseconds)
//   - blob: []byte, string
func EncodeValue(typ ColumnType, v any) (json.RawMessage, bool, error) {
	switch {
	case typ == ColPrimaryKey:
		return nil, false, nil
	case !typ.Valid():
		return nil, false, fmt.Errorf("%w: %s", ErrUnsupportedType, typ)
	case v == nil:
		return jsonNull, true, nil
	}

	switch typ {
	case ColText, ColTextUnique:
		s, err := textValue(v)
		if err != nil {
			return nil, false, err
		}

		if !utf8.ValidString(s) {
			return nil, false, fmt.Errorf("%w: text is not valid UTF-8", ErrMalformedValue)
		}

		return appendJSONString(nil, s), true, nil

	case ColBlob:
		b, err := blobValue(v)
		if err != nil {
			return nil, false, err
		}

		return appendJSONString(nil, base64.StdEncoding.EncodeToString(b)), true, nil

	default:
		n, err := integerValue(v)
		if err != nil {
			return nil, false, err
		}

		return strconv.AppendInt(nil, n, 10), true, nil
	}
}

// DecodeValue reads column from a parsed row object and returns the native
// value to store for typ.
//
// The second result is false when the column is not written, which is the case
// for primary keys. Results are nil, string, int64 or []byte. A null value or,
// for non-blob types, an absent key decodes to nil. An absent blob key is
// [ErrMalformedValue].
//
// Scalars are coerced the way older backups need: a JSON number in a text
// column is kept as its literal text, and a decimal string in an integer
// column is parsed. Booleans, objects and arrays are never coerced.
func DecodeValue(typ ColumnType, row map[string]json.RawMessage, column string) (any, bool, error) {
	switch {
	case typ == ColPrimaryKey:
		return nil, false, nil
	case !typ.Valid():
		return nil, false, fmt.Errorf("%w: %s", ErrUnsupportedType, typ)
	}

	raw, ok := row[column]
	if !ok {
		if typ == ColBlob {
			return nil, false, fmt.Errorf("%w: blob key is absent", ErrMalformedValue)
		}

		return nil, true, nil
	}

	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return nil, true, nil
	}

	switch typ {
	case ColText, ColTextUnique:
		if isNumber(raw) {
			return string(raw), true, nil
		}

		s, err := decodeString(raw)
		if err != nil {
			return nil, false, err
		}

		return s, true, nil

	case ColBlob:
		s, err := decodeString(raw)
		if err != nil {
			return nil, false, err
		}

		b, err := decodeBase64(s)
		if err != nil {
			return nil, false, err
		}

		return b, true, nil

	default:
		n, err := decodeInteger(raw)
		if err != nil {
			return nil, false, err
		}

		return n, true, nil
	}
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

func isNumber(raw json.RawMessage) bool {
	return len(raw) > 0 && (raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'))
}

func textValue(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	case int:
		return strconv.Itoa(s), nil
	case float64:
		return strconv.FormatFloat(s, 'g', -1, 64), nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return "", fmt.Errorf("%w: cannot render %T as text", ErrMalformedValue, v)
	}
}

func blobValue(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("%w: cannot render %T as blob", ErrMalformedValue, v)
	}
}

//nolint:cyclop // one case per native integer kind
func integerValue(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint:
		return unsignedValue(uint64(n))
	case uint64:
		return unsignedValue(n)
	case bool:
		if n {
			return 1, nil
		}

		return 0, nil
	case float64:
		return floatValue(n)
	case float32:
		return floatValue(float64(n))
	case string:
		return parseDecimal(n)
	case []byte:
		return parseDecimal(string(n))
	case time.Time:
		return n.UnixMilli(), nil
	default:
		return 0, fmt.Errorf("%w: cannot render %T as integer", ErrMalformedValue, v)
	}
}

func unsignedValue(n uint64) (int64, error) {
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d overflows int64", ErrMalformedValue, n)
	}

	return int64(n), nil
}

// float64 can represent up to 2^63 exactly, which is one past MaxInt64.
const twoPow63 = float64(1 << 63)

func floatValue(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < -twoPow63 || f >= twoPow63 {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrMalformedValue, f)
	}

	return int64(f), nil
}

func parseDecimal(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrMalformedValue, s)
	}

	return n, nil
}

func decodeString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", fmt.Errorf("%w: want string, got %s", ErrMalformedValue, kindOf(raw))
	}

	var s string

	err := json.Unmarshal(raw, &s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedValue, err)
	}

	return s, nil
}

func decodeInteger(raw json.RawMessage) (int64, error) {
	if len(raw) > 0 && raw[0] == '"' {
		s, err := decodeString(raw)
		if err != nil {
			return 0, err
		}

		return parseDecimal(s)
	}

	if !isNumber(raw) {
		return 0, fmt.Errorf("%w: want integer, got %s", ErrMalformedValue, kindOf(raw))
	}

	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err == nil {
		return n, nil
	}

	// Integral values may still arrive as 5.0 or 1e3.
	f, ferr := strconv.ParseFloat(string(raw), 64)
	if ferr != nil {
		return 0, fmt.Errorf("%w: %s is not an integer", ErrMalformedValue, raw)
	}

	return floatValue(f)
}

func decodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}

	b, rawErr := base64.RawStdEncoding.DecodeString(s)
	if rawErr != nil {
		return nil, fmt.Errorf("%w: invalid base64: %w", ErrMalformedValue, err)
	}

	return b, nil
}

func kindOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "nothing"
	}

	switch raw[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

// appendJSONString appends s as a JSON string. HTML characters are left as is
// so URLs stay readable in backups.
func appendJSONString(dst []byte, s string) []byte {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	// Encoding a string cannot fail.
	_ = enc.Encode(s)

	return append(dst, bytes.TrimSuffix(buf.Bytes(), []byte("\n"))...)
}
