package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

type jsonSchema struct {
	Type                 string                        `json:"type"`
	Properties           map[string]jsonSchemaProperty `json:"properties"`
	Required             []string                      `json:"required,omitempty"`
	AdditionalProperties bool                          `json:"additionalProperties"`
}

type jsonSchemaProperty struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// renderSchema turns the declared parameters into a draft-07 object schema.
// Undeclared parameters are tolerated; the planner may pass hints the tool ignores.
func renderSchema(d ToolDescriptor) ([]byte, error) {
	schema := jsonSchema{
		Type:                 "object",
		Properties:           make(map[string]jsonSchemaProperty, len(d.InputSchema)),
		AdditionalProperties: true,
	}
	for _, name := range d.ParamNames() {
		spec := d.InputSchema[name]
		schema.Properties[name] = jsonSchemaProperty{Type: spec.Type, Description: spec.Description}
		if spec.Required {
			schema.Required = append(schema.Required, name)
		}
	}
	return json.Marshal(schema)
}

// JSONSchema returns the input schema of the named tool.
func (c *Catalog) JSONSchema(name string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.tools[name]
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return e.schema, nil
}

// ValidateArgs checks a JSON argument object against the tool's input schema.
func (c *Catalog) ValidateArgs(name string, args json.RawMessage) error {
	schema, err := c.JSONSchema(name)
	if err != nil {
		return err
	}
	if !json.Valid(args) {
		return &ArgumentsError{Tool: name, Violations: []string{"arguments are not valid JSON"}}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		violations = append(violations, e.String())
	}
	return &ArgumentsError{Tool: name, Violations: violations}
}
