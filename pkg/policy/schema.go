package policy

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Config schemas enforced at PutGuard time. Absent optional fields are legal
// (an enabled guard with no limit is inert), but present fields must have the
// right shape: a negative limit or a non-string address is a configuration
// error, not an inert rule.
var configSchemas = map[GuardType]string{
	TypeBudget: `{
		"type": "object",
		"properties": {
			"limit": {"type": ["number", "string"]},
			"period": {"enum": ["day", "hour"]}
		},
		"additionalProperties": false
	}`,
	TypeSingleTx: `{
		"type": "object",
		"properties": {
			"limit": {"type": ["number", "string"]}
		},
		"additionalProperties": false
	}`,
	TypeRateLimit: `{
		"type": "object",
		"properties": {
			"limit": {"type": "integer", "minimum": 0},
			"period": {"enum": ["day", "hour"]}
		},
		"additionalProperties": false
	}`,
	TypeAutoApprove: `{
		"type": "object",
		"properties": {
			"threshold": {"type": ["number", "string"]}
		},
		"additionalProperties": false
	}`,
	TypeAllowlist: `{
		"type": "object",
		"properties": {
			"addresses": {"type": "array", "items": {"type": "string"}}
		},
		"additionalProperties": false
	}`,
	TypeBlocklist: `{
		"type": "object",
		"properties": {
			"addresses": {"type": "array", "items": {"type": "string"}}
		},
		"additionalProperties": false
	}`,
	TypeCustom: `{
		"type": "object",
		"properties": {
			"expression": {"type": "string"}
		},
		"additionalProperties": false
	}`,
}

var compiledSchemas = func() map[GuardType]*jsonschema.Schema {
	out := make(map[GuardType]*jsonschema.Schema, len(configSchemas))
	for t, src := range configSchemas {
		out[t] = jsonschema.MustCompileString(fmt.Sprintf("guard_%s.json", t), src)
	}
	return out
}()

// ValidateConfig checks a raw guard config object against the schema for its
// type. It returns an error for malformed shapes; it does not reject absent
// optional fields.
func ValidateConfig(t GuardType, raw json.RawMessage) error {
	schema, ok := compiledSchemas[t]
	if !ok {
		return fmt.Errorf("unknown guard type %q", t)
	}
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%s config is not valid JSON: %w", t, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%s config invalid: %w", t, err)
	}
	return nil
}
