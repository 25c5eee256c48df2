package docstore

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// serverValue marshals to the placeholder the store swaps for its own clock.
type serverValue struct{}

func (serverValue) MarshalJSON() ([]byte, error) {
	return []byte(`{".sv":"timestamp"}`), nil
}

// ServerTimestamp is replaced at write time by the store's clock, in
// milliseconds since the epoch. Callers never supply their own timestamps for
// store-stamped fields.
var ServerTimestamp any = serverValue{}

// Normalize converts v into its JSON-decoded form. Unset values become nil,
// integers become float64, structs become maps.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}

// NormalizeDocument resolves ServerTimestamp placeholders against now (epoch
// milliseconds) and normalizes the result. Caller data that merely looks like
// a placeholder once encoded is stored as given.
func NormalizeDocument(doc map[string]any, now int64) (map[string]any, error) {
	n, err := Normalize(stampServerValues(doc, now))
	if err != nil {
		return nil, err
	}
	m, ok := n.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	return m, nil
}

func stampServerValues(v any, now int64) any {
	switch t := v.(type) {
	case serverValue:
		return now
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = stampServerValues(child, now)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = stampServerValues(child, now)
		}
		return out
	default:
		return v
	}
}

// Clone deep-copies a normalized value so callers cannot mutate stored state.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = Clone(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = Clone(child)
		}
		return out
	default:
		return v
	}
}

// NewPushKey returns a time-ordered child key.
func NewPushKey() string {
	return uuid.Must(uuid.NewV7()).String()
}

// HasServerValues reports whether doc carries a placeholder the store must
// resolve at write time.
func HasServerValues(doc map[string]any) bool {
	for _, v := range doc {
		switch t := v.(type) {
		case serverValue:
			return true
		case map[string]any:
			if HasServerValues(t) {
				return true
			}
		}
	}
	return false
}
