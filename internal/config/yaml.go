package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// asJSON returns the raw config bytes ready for the strict JSON decoder.
// Files named *.yaml / *.yml are decoded as YAML and re-marshaled; anything
// else is treated as JSON and passed through untouched.
func asJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	out, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("convert yaml: %w", err)
	}
	return out, nil
}

// stringifyKeys rewrites YAML's map[any]any nodes into map[string]any so the
// document survives json.Marshal. Slices are walked in place.
func stringifyKeys(v any) any {
	switch node := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(node))
		for key, val := range node {
			out[fmt.Sprint(key)] = stringifyKeys(val)
		}
		return out
	case map[string]any:
		for key, val := range node {
			node[key] = stringifyKeys(val)
		}
		return node
	case []any:
		for i := range node {
			node[i] = stringifyKeys(node[i])
		}
		return node
	default:
		return v
	}
}
