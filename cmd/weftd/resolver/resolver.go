package resolver

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// placeholderPattern matches {{dotted.path}} with optional inner whitespace.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Resolve substitutes {{dotted.path}} placeholders in a node config with
// values from the workflow variables. Shared node outputs live under the
// _nodes namespace, trigger payloads under trigger_data, so paths look like
// {{_nodes.scorer.total}} or {{trigger_data.order_id}}.
//
// A string that is exactly one placeholder resolves to the typed value at
// the path; placeholders embedded in a longer string are interpolated as
// text. Paths that resolve to nothing are left verbatim, so configs
// referencing data that only exists on some runs stay usable.
//
// Resolution is a pure function of (config, variables): it reads no engine
// state and config values that contain no placeholders pass through.
func Resolve(config map[string]interface{}, variables map[string]interface{}) (map[string]interface{}, error) {
	if len(config) == 0 {
		return config, nil
	}

	varsJSON, err := json.Marshal(variables)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal variables: %w", err)
	}

	resolved := make(map[string]interface{}, len(config))
	for key, value := range config {
		resolvedValue, err := resolveValue(value, varsJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config key %s: %w", key, err)
		}
		resolved[key] = resolvedValue
	}
	return resolved, nil
}

// resolveValue recursively resolves a value (string, map, array, etc.)
func resolveValue(value interface{}, varsJSON []byte) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return resolveString(v, varsJSON), nil
	case map[string]interface{}:
		return resolveMap(v, varsJSON)
	case []interface{}:
		return resolveArray(v, varsJSON)
	default:
		// Primitives (numbers, bools, nil) pass through.
		return value, nil
	}
}

// resolveString handles placeholder strings. A full-string placeholder keeps
// the looked-up value's type; anything else is text interpolation.
func resolveString(str string, varsJSON []byte) interface{} {
	if !strings.Contains(str, "{{") {
		return str
	}

	if m := placeholderPattern.FindStringSubmatch(str); m != nil && m[0] == strings.TrimSpace(str) {
		result := gjson.GetBytes(varsJSON, m[1])
		if !result.Exists() {
			return str
		}
		return result.Value()
	}

	return placeholderPattern.ReplaceAllStringFunc(str, func(placeholder string) string {
		path := placeholderPattern.FindStringSubmatch(placeholder)[1]
		result := gjson.GetBytes(varsJSON, path)
		if !result.Exists() {
			return placeholder
		}
		return asString(result.Value())
	})
}

func resolveMap(m map[string]interface{}, varsJSON []byte) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(m))
	for key, value := range m {
		resolvedValue, err := resolveValue(value, varsJSON)
		if err != nil {
			return nil, err
		}
		resolved[key] = resolvedValue
	}
	return resolved, nil
}

func resolveArray(arr []interface{}, varsJSON []byte) ([]interface{}, error) {
	resolved := make([]interface{}, len(arr))
	for i, value := range arr {
		resolvedValue, err := resolveValue(value, varsJSON)
		if err != nil {
			return nil, err
		}
		resolved[i] = resolvedValue
	}
	return resolved, nil
}

// asString converts a resolved value to its interpolation text. Complex
// values are marshalled to JSON.
func asString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		jsonBytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(jsonBytes)
	}
}
