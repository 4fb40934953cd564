package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
)

// ID is the canonical string identity of a movie. The remote catalog hands
// out numeric ids; they are coerced to their decimal string form.
type ID string

func (id ID) String() string {
	return string(id)
}

// ParseID coerces a numeric or string identifier into its canonical ID.
func ParseID(v any) (ID, error) {
	switch t := v.(type) {
	case ID:
		return t, nil
	case string:
		return ID(t), nil
	case int:
		return ID(strconv.FormatInt(int64(t), 10)), nil
	case int32:
		return ID(strconv.FormatInt(int64(t), 10)), nil
	case int64:
		return ID(strconv.FormatInt(t, 10)), nil
	case uint:
		return ID(strconv.FormatUint(uint64(t), 10)), nil
	case uint32:
		return ID(strconv.FormatUint(uint64(t), 10)), nil
	case uint64:
		return ID(strconv.FormatUint(t, 10)), nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return "", fmt.Errorf("non-integral id %v", t)
		}
		if math.Abs(t) >= 1<<63 {
			return "", fmt.Errorf("id %v out of range", t)
		}
		return ID(strconv.FormatInt(int64(t), 10)), nil
	case json.Number:
		return parseNumber(string(t))
	default:
		return "", fmt.Errorf("unsupported id type %T", v)
	}
}

// MustParseID is like ParseID but panics on failure. Intended for tests and constants.
func MustParseID(v any) ID {
	id, err := ParseID(v)
	if err != nil {
		panic(err)
	}
	return id
}

func parseNumber(s string) (ID, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ID(strconv.FormatInt(n, 10)), nil
	}
	// Integer literals beyond int64 keep every digit.
	if n, ok := new(big.Int).SetString(s, 10); ok {
		return ID(n.String()), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("invalid numeric id %q: %w", s, err)
	}
	return ParseID(f)
}

// UnmarshalJSON accepts both JSON numbers and strings.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	parsed, err := parseNumber(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
