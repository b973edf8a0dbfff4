package document

import (
	"encoding/json"
	"strconv"
)

// Flatten encodes typed metadata into the string-only form the vector
// store persists: bools and numbers via strconv, slices and maps as
// JSON, nil values dropped. The Field helpers reverse the encoding.
func Flatten(meta map[string]any) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			out[k] = t
		case bool:
			out[k] = strconv.FormatBool(t)
		case int:
			out[k] = strconv.Itoa(t)
		case int64:
			out[k] = strconv.FormatInt(t, 10)
		case float64:
			out[k] = strconv.FormatFloat(t, 'g', -1, 64)
		case float32:
			out[k] = strconv.FormatFloat(float64(t), 'g', -1, 32)
		default:
			b, err := json.Marshal(t)
			if err != nil {
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

// Expand lifts stored string metadata back into the map[string]any
// shape the Field helpers read.
func Expand(meta map[string]string) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
