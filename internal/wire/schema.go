package wire

import (
	"bytes"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// These schemas are a direct port of dvid_resource_manager/schemas.py,
// used only under --debug: the REQ_EP transport validates each inbound
// message against the union schema, and on a validation failure it
// logs the error and closes that client's connection without sending
// a reply.
const (
	requestSchemaJSON = `{
		"type": "object",
		"required": ["type", "resource", "read", "numopts", "datasize"],
		"properties": {
			"type": {"type": "string", "enum": ["request"]},
			"resource": {"type": "string"},
			"read": {"type": "boolean"},
			"numopts": {"type": "integer"},
			"datasize": {"type": "integer"}
		}
	}`
	holdSchemaJSON = `{
		"type": "object",
		"required": ["type", "id"],
		"properties": {
			"type": {"type": "string", "enum": ["hold"]},
			"id": {"type": "integer"}
		}
	}`
	releaseSchemaJSON = `{
		"type": "object",
		"required": ["type", "id"],
		"properties": {
			"type": {"type": "string", "enum": ["release"]},
			"id": {"type": "integer"}
		}
	}`
	configObjectSchemaJSON = `{
		"type": "object",
		"additionalProperties": false,
		"required": ["read_reqs", "read_data", "write_reqs", "write_data"],
		"properties": {
			"read_reqs": {"type": "integer"},
			"read_data": {"type": "integer"},
			"write_reqs": {"type": "integer"},
			"write_data": {"type": "integer"}
		}
	}`
	configSchemaJSON = `{
		"required": ["type", "config"],
		"properties": {
			"type": {"type": "string", "enum": ["config"]},
			"config": ` + configObjectSchemaJSON + `
		}
	}`
	readConfigSchemaJSON = `{
		"type": "object",
		"required": ["type"],
		"properties": {
			"type": {"type": "string", "enum": ["read-config"]}
		}
	}`
	receivedMessageSchemaJSON = `{
		"oneOf": [` + requestSchemaJSON + `, ` + holdSchemaJSON + `, ` +
		releaseSchemaJSON + `, ` + configSchemaJSON + `, ` + readConfigSchemaJSON + `]
	}`
)

// Validator compiles the union schema once and validates raw inbound
// messages against it. It is only exercised when the broker is run
// with --debug.
type Validator struct {
	received *jsonschema.Schema
	config   *jsonschema.Schema
}

// NewValidator compiles the message and config-file schemas.
func NewValidator() (*Validator, error) {
	received, err := compile("received-message.json", receivedMessageSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compiling received-message schema: %w", err)
	}
	config, err := compile("config.json", configObjectSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compiling config schema: %w", err)
	}
	return &Validator{received: received, config: config}, nil
}

func compile(name, schemaJSON string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(schemaJSON)))
	if err != nil {
		return nil, err
	}
	if err := c.AddResource(name, doc); err != nil {
		return nil, err
	}
	return c.Compile(name)
}

// ValidateReceived validates a raw decoded inbound message (as produced
// by jsonschema.UnmarshalJSON, so integers stay distinguishable from
// floats) against the union of client->broker schemas.
func (v *Validator) ValidateReceived(raw any) error {
	if err := v.received.Validate(raw); err != nil {
		return fmt.Errorf("message failed schema validation: %w", err)
	}
	return nil
}

// ValidateConfig validates a raw decoded config document against the
// four-key config schema, collecting every violation instead of
// stopping at the first.
func (v *Validator) ValidateConfig(raw any) error {
	var result *multierror.Error
	if err := v.config.Validate(raw); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
