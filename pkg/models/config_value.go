package models

import (
	"strconv"
	"strings"
)

// Config maps come straight from editor-authored JSON, where numbers arrive
// as float64 or quoted strings and keyword lists arrive as a string or an
// array. These helpers coerce the loose forms the way the product has always
// accepted them.

func configString(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}

	return ""
}

func configInt(config map[string]any, key string) (int, bool) {
	switch v := config[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}

		return n, true
	default:
		return 0, false
	}
}

// configStrings accepts a single string, a comma-separated string, or a list.
func configStrings(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case string:
		return splitTrimmed(v)
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))

		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}

		return out
	default:
		return nil
	}
}

func configMap(config map[string]any, key string) map[string]any {
	if v, ok := config[key].(map[string]any); ok {
		return v
	}

	return nil
}

func splitTrimmed(s string) []string {
	var out []string

	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}
