package props

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// ToString accepts strings and byte slices and returns a string.
func ToString(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return nil, fmt.Errorf("value of type %T is not a string type", value)
	}
}

// EqualHex compares two hexadecimal strings by numeric value, so "033f"
// equals "033F" and "33F". Values that do not parse are compared as
// case-insensitive strings.
func EqualHex(desired, current any) bool {
	if desired == nil || current == nil {
		return desired == nil && current == nil
	}
	ds, cs := fmt.Sprint(desired), fmt.Sprint(current)
	dn, derr := parseHex(ds)
	cn, cerr := parseHex(cs)
	if derr != nil || cerr != nil {
		return strings.EqualFold(ds, cs)
	}
	return dn == cn
}

func parseHex(s string) (uint64, error) {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return strconv.ParseUint(s, 16, 64)
}

// Equal is the default structural comparison. Numbers compare by value
// regardless of their Go type, and nil and empty collections are equal.
func Equal(desired, current any) bool {
	return cmp.Equal(normalize(desired), normalize(current), cmpopts.EquateEmpty())
}

// normalize converts numbers to float64 and generic collections recursively,
// since YAML input decodes integers as int while HMC JSON decodes as float64.
func normalize(value any) any {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = normalize(v[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = normalize(item)
		}
		return out
	default:
		return value
	}
}
