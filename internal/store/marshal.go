package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/roach88/cqnlower/internal/cqn"
)

// marshalQuery converts a lowered query to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalQuery(q *cqn.Select) (string, error) {
	data, err := cqn.MarshalCanonical(q)
	if err != nil {
		return "", fmt.Errorf("marshal query: %w", err)
	}
	return string(data), nil
}

// marshalParams converts SQL parameters to canonical JSON TEXT.
func marshalParams(params []any) (string, error) {
	arr := make([]any, len(params))
	for i, p := range params {
		v, err := jsonScalar(p)
		if err != nil {
			return "", fmt.Errorf("marshal params: %w", err)
		}
		arr[i] = v
	}
	data, err := cqn.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	return string(data), nil
}

// jsonScalar narrows a parameter to a type canonical JSON accepts.
func jsonScalar(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, int64, float64:
		return val, nil
	case []byte:
		return string(val), nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	case float32:
		return cast.ToFloat64E(val)
	default:
		return cast.ToInt64E(val)
	}
}

// columnValue converts a seed value to a SQL argument. Objects and lists
// are stored as canonical JSON TEXT.
func columnValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, int64, float64, []byte, time.Time:
		return val, nil
	case int, int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		return cast.ToInt64E(val)
	case float32:
		return cast.ToFloat64E(val)
	case map[string]any, []any:
		data, err := cqn.MarshalCanonical(val)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// scanValue normalizes a value read from SQLite.
func scanValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// unmarshalParams parses the canonical JSON parameter array. Whole numbers
// come back as int64 so they bind as INTEGER.
func unmarshalParams(data string) ([]any, error) {
	var params []any
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	for i, p := range params {
		n, ok := p.(json.Number)
		if !ok {
			continue
		}
		if v, err := n.Int64(); err == nil {
			params[i] = v
		} else if v, err := n.Float64(); err == nil {
			params[i] = v
		}
	}
	return params, nil
}
