package tasks

import "maps"

// UnsavedID is the id of a task the backend has not confirmed yet.
const UnsavedID = -1

// Config is the variant-specific configuration of a task. Keys are flattened
// into the task's wire representation next to "type" and "source".
type Config map[string]any

// Clone returns a deep copy of c. Nested maps and slices are copied so the
// clone can be mutated without affecting the original.
func (c Config) Clone() Config {
	if c == nil {
		return nil
	}
	out := make(Config, len(c))
	for key, value := range c {
		out[key] = cloneValue(value)
	}
	return out
}

// Merge returns a copy of c with updates applied on top.
func (c Config) Merge(updates Config) Config {
	out := c.Clone()
	if out == nil {
		out = Config{}
	}
	maps.Copy(out, updates.Clone())
	return out
}

// String returns the string stored under key, or "" when it is missing or of
// another type.
func (c Config) String(key string) string {
	value, ok := c[key].(string)
	if !ok {
		return ""
	}
	return value
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return map[string]any(Config(v).Clone())
	case Config:
		return v.Clone()
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = cloneValue(v[i])
		}
		return out
	default:
		return v
	}
}
