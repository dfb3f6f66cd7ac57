package workspace

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// settingsSchema is the JSON Schema for a workspace settings YAML document.
const settingsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Lodestar Workspace Settings",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "preset": {
      "type": "string",
      "enum": ["default", "enterprise-leaning", "growth-led", "support-led", "research-heavy"]
    },
    "weights": {
      "type": "object",
      "additionalProperties": {"type": "number", "minimum": 0, "maximum": 1}
    },
    "recency_bands": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["max_age_days", "factor"],
        "additionalProperties": false,
        "properties": {
          "max_age_days": {"type": "integer", "minimum": 1},
          "factor": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    },
    "target_segments": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    }
  }
}`

// ValidateSettingsYAML validates a settings YAML document against the
// schema. The YAML is first converted to JSON because gojsonschema
// operates on JSON.
func ValidateSettingsYAML(yamlBytes []byte) error {
	var raw interface{}
	if err := yaml.Unmarshal(yamlBytes, &raw); err != nil {
		return fmt.Errorf("parsing YAML for schema validation: %w", err)
	}

	jsonBytes, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return fmt.Errorf("converting YAML to JSON: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(settingsSchema)
	documentLoader := gojsonschema.NewBytesLoader(jsonBytes)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errMsg string
		for _, verr := range result.Errors() {
			errMsg += fmt.Sprintf("- %s\n", verr)
		}
		return fmt.Errorf("settings document invalid:\n%s", errMsg)
	}
	return nil
}

// ParseSettingsYAML validates and parses a settings YAML document for the
// given workspace.
func ParseSettingsYAML(workspaceID string, yamlBytes []byte) (*Settings, error) {
	if err := ValidateSettingsYAML(yamlBytes); err != nil {
		return nil, err
	}
	var settings Settings
	if err := yaml.Unmarshal(yamlBytes, &settings); err != nil {
		return nil, fmt.Errorf("parsing settings YAML: %w", err)
	}
	settings.WorkspaceID = workspaceID
	if _, err := settings.ScoringConfig(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &settings, nil
}

// normalizeYAML converts map[interface{}]interface{} values (which yaml.v3
// can produce for nested maps) into map[string]interface{} so the document
// marshals to JSON.
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, inner := range val {
			m[fmt.Sprintf("%v", k)] = normalizeYAML(inner)
		}
		return m
	case map[string]interface{}:
		for k, inner := range val {
			val[k] = normalizeYAML(inner)
		}
		return val
	case []interface{}:
		for i, inner := range val {
			val[i] = normalizeYAML(inner)
		}
		return val
	default:
		return v
	}
}
