package stage

import (
	"math"
	"time"
)

// Config helpers for stage factories. Stage configuration arrives as
// map[string]any decoded from YAML, so numeric values may be int, int64 or
// float64 depending on how they were written.

// GetString extracts a string value with a default fallback.
func GetString(config map[string]any, key, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

// GetInt extracts an integer value with a default fallback.
func GetInt(config map[string]any, key string, defaultValue int) int {
	if value, exists := config[key]; exists {
		switch v := value.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return defaultValue
			}
			if float64(int(v)) != v {
				return defaultValue
			}
			return int(v)
		}
	}
	return defaultValue
}

// GetBool extracts a boolean value with a default fallback.
func GetBool(config map[string]any, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
	}
	return defaultValue
}

// GetFloat64 extracts a float value with a default fallback.
func GetFloat64(config map[string]any, key string, defaultValue float64) float64 {
	if value, exists := config[key]; exists {
		switch v := value.(type) {
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return defaultValue
			}
			return v
		case float32:
			return float64(v)
		case int:
			return float64(v)
		case int64:
			return float64(v)
		}
	}
	return defaultValue
}

// GetDuration extracts a duration given either a Go duration string
// ("250ms") or a number of seconds.
func GetDuration(config map[string]any, key string, defaultValue time.Duration) time.Duration {
	if value, exists := config[key]; exists {
		switch v := value.(type) {
		case string:
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
		case int:
			return time.Duration(v) * time.Second
		case float64:
			return time.Duration(v * float64(time.Second))
		}
	}
	return defaultValue
}

// GetStringSlice extracts a list of strings, tolerating []any from YAML.
func GetStringSlice(config map[string]any, key string, defaultValue []string) []string {
	value, exists := config[key]
	if !exists {
		return defaultValue
	}
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return defaultValue
			}
			out = append(out, s)
		}
		return out
	}
	return defaultValue
}
