package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// args wraps a call's argument map. Planners decode JSON so numbers usually
// arrive as float64, but ints, json.Number and numeric strings are accepted.
type args map[string]any

func (a args) int(key string) (int, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("argument %q: %w", key, err)
	}
	return n, nil
}

func (a args) intOr(key string, def int) (int, error) {
	if v, ok := a[key]; !ok || v == nil {
		return def, nil
	}
	return a.int(key)
}

func (a args) string(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q: expected string, got %T", key, v)
	}
	return s, nil
}

func (a args) bool(key string) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	case float64:
		return v != 0
	case int:
		return v != 0
	default:
		return false
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float32:
		return int(math.Round(float64(n))), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("not a finite number")
		}
		return int(math.Round(n)), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return int(math.Round(f)), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", n)
		}
		return int(math.Round(f)), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
