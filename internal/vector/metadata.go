package vector

import (
	"encoding/json"
	"fmt"
)

// CleanMetadata flattens metadata to scalar values. Strings, bools and
// numbers pass through, nils are dropped, and anything structured is
// serialized to a JSON string so the store never sees a nested value.
func CleanMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cleaned := make(map[string]any, len(metadata))
	for k, v := range metadata {
		switch t := v.(type) {
		case nil:
			continue
		case string, bool:
			cleaned[k] = t
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			cleaned[k] = t
		case float32, float64:
			cleaned[k] = t
		default:
			if b, err := json.Marshal(t); err == nil {
				cleaned[k] = string(b)
			} else {
				cleaned[k] = fmt.Sprintf("%v", t)
			}
		}
	}
	return cleaned
}
