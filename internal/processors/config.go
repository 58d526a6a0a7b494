package processors

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jonathan/pipeline-orchestrator/internal/errclass"
)

// Template resolution turns every placeholder into a string, so numeric and
// boolean settings arrive either typed (literal in the definition) or as text.

func stringValue(config map[string]any, key string) string {
	switch v := config[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func requireString(processor string, config map[string]any, key string) (string, error) {
	s := strings.TrimSpace(stringValue(config, key))
	if s == "" {
		return "", errclass.Validation("%s: config.%s is required", processor, key)
	}
	return s, nil
}

func floatValue(config map[string]any, key string, def float64) (float64, error) {
	switch v := config[key].(type) {
	case nil:
		return def, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return def, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, errclass.Validation("config.%s: invalid number %q", key, v)
		}
		return f, nil
	default:
		return 0, errclass.Validation("config.%s: invalid number %v", key, v)
	}
}

func boolValue(config map[string]any, key string) (bool, error) {
	switch v := config[key].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, errclass.Validation("config.%s: invalid boolean %q", key, v)
		}
		return b, nil
	default:
		return false, errclass.Validation("config.%s: invalid boolean %v", key, v)
	}
}

func stringMap(config map[string]any, key string) (map[string]string, error) {
	switch v := config[key].(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return v, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, val := range v {
			out[k] = fmt.Sprint(val)
		}
		return out, nil
	default:
		return nil, errclass.Validation("config.%s: expected a mapping", key)
	}
}

func listValue(config map[string]any, key string) ([]any, error) {
	switch v := config[key].(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	default:
		return nil, errclass.Validation("config.%s: expected a list", key)
	}
}
