package policy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ruleListSchemaJSON is the JSON Schema that ValidateRuleListDocument checks
// a policy body against. The PUT /agents/{id}/policy and
// PUT /teams/{team}/policy handlers decode their bodies directly and do not
// call ValidateRuleListDocument.
const ruleListSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "$id": "https://agentguard.dev/schemas/policy.json",
  "type": "object",
  "required": ["allow", "deny", "require_approval"],
  "properties": {
    "schema_version": {"type": "string"},
    "allow": {"type": "array", "items": {"$ref": "#/$defs/rule"}},
    "deny": {"type": "array", "items": {"$ref": "#/$defs/rule"}},
    "require_approval": {"type": "array", "items": {"$ref": "#/$defs/rule"}}
  },
  "$defs": {
    "rule": {
      "type": "object",
      "required": ["action"],
      "properties": {
        "action": {"type": "string", "minLength": 1},
        "resource": {"type": "string"},
        "conditions": {
          "type": "object",
          "properties": {
            "env": {"type": "array", "items": {"type": "string"}},
            "day_of_week": {"type": "array", "items": {"type": "string"}},
            "time_range": {
              "type": "object",
              "required": ["start", "end"],
              "properties": {
                "start": {"type": "string", "pattern": "^([01][0-9]|2[0-3]):[0-5][0-9]$"},
                "end":   {"type": "string", "pattern": "^([01][0-9]|2[0-3]):[0-5][0-9]$"}
              }
            }
          }
        }
      }
    }
  }
}`

var ruleListSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("policy.json", bytes.NewReader([]byte(ruleListSchemaJSON))); err != nil {
		panic(fmt.Sprintf("policy: invalid embedded schema: %v", err))
	}
	return compiler.MustCompile("policy.json")
}

// ValidateRuleListDocument validates a raw policy body (agent or team
// shaped identically: allow/deny/require_approval) against the rule list
// schema, and rejects a schema_version this binary can't interpret.
func ValidateRuleListDocument(raw []byte) error {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("policy: invalid json: %w", err)
	}
	if err := ruleListSchema.Validate(doc); err != nil {
		return fmt.Errorf("policy: schema validation failed: %w", err)
	}
	return checkSchemaVersion(doc)
}

func checkSchemaVersion(doc map[string]interface{}) error {
	raw, ok := doc["schema_version"]
	if !ok {
		return nil // absent schema_version is treated as the current one
	}
	versionStr, ok := raw.(string)
	if !ok {
		return fmt.Errorf("policy: schema_version must be a string")
	}
	docVersion, err := semver.NewVersion(versionStr)
	if err != nil {
		return fmt.Errorf("policy: invalid schema_version %q: %w", versionStr, err)
	}
	current, err := semver.NewVersion(CurrentSchemaVersion)
	if err != nil {
		return err
	}
	if docVersion.GreaterThan(current) {
		return fmt.Errorf("policy: schema_version %s is newer than this binary understands (%s)", versionStr, CurrentSchemaVersion)
	}
	return nil
}
