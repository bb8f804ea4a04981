package approval

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// definitionSchema is the wire contract for workflow definition documents
// submitted through the API or the validate command. Structural rules that
// JSON Schema cannot express (contiguous ordering, backward reject targets)
// are enforced by ValidateDefinition afterwards.
const definitionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "nodes"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string", "minLength": 1},
    "active": {"type": "boolean"},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["order_index", "node_type"],
        "properties": {
          "id": {"type": "string"},
          "order_index": {"type": "integer", "minimum": 0},
          "node_type": {"enum": ["start", "approval", "end"]},
          "is_final": {"type": "boolean"},
          "approver_user": {"type": "string"},
          "approver_role": {"type": "string"},
          "approver_ids": {"type": "array", "items": {"type": "string"}},
          "multi_approve_policy": {"enum": ["any", "all"]},
          "reject_target_node_id": {"type": "string"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var compiledDefinitionSchema = jsonschema.MustCompileString("definition.json", definitionSchema)

// DecodeDefinition validates a raw workflow definition document against the
// schema and decodes it. Returned errors wrap ErrValidation.
func DecodeDefinition(data []byte) (WorkflowDefinition, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return WorkflowDefinition{}, fmt.Errorf("definition is not valid json: %v: %w", err, ErrValidation)
	}
	if err := compiledDefinitionSchema.Validate(doc); err != nil {
		return WorkflowDefinition{}, fmt.Errorf("definition rejected by schema: %v: %w", err, ErrValidation)
	}

	var def WorkflowDefinition
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return WorkflowDefinition{}, fmt.Errorf("decode definition: %v: %w", err, ErrValidation)
	}
	return def, nil
}
