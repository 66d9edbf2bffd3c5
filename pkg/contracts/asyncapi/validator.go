package asyncapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// EventTypeKey is the schema extension that binds a payload schema to a
// CloudEvent type.
const EventTypeKey = "x-cloudevent-type"

// EventValidator validates CloudEvent payloads against AsyncAPI component schemas.
type EventValidator struct {
	schemas map[string]*jsonschema.Schema
}

type spec struct {
	AsyncAPI   string `yaml:"asyncapi"`
	Components struct {
		Schemas map[string]map[string]interface{} `yaml:"schemas"`
	} `yaml:"components"`
}

// NewEventValidatorFromBytes compiles every component schema carrying an
// x-cloudevent-type extension.
func NewEventValidatorFromBytes(specBytes []byte) (*EventValidator, error) {
	var doc spec
	if err := yaml.Unmarshal(specBytes, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse AsyncAPI spec: %w", err)
	}

	v := &EventValidator{schemas: make(map[string]*jsonschema.Schema)}
	compiler := jsonschema.NewCompiler()

	names := make([]string, 0, len(doc.Components.Schemas))
	for name := range doc.Components.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		schema := doc.Components.Schemas[name]
		eventType, _ := schema[EventTypeKey].(string)
		if eventType == "" {
			continue
		}

		compiled, err := compile(compiler, "asyncapi://schemas/"+name, schema)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		v.schemas[eventType] = compiled
	}

	return v, nil
}

func compile(compiler *jsonschema.Compiler, uri string, schema interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}
	if err := compiler.AddResource(uri, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	return compiler.Compile(uri)
}

// Validate checks data against the schema registered for eventType. Event
// types without a schema are accepted.
func (v *EventValidator) Validate(eventType string, data interface{}) error {
	schema, ok := v.schemas[eventType]
	if !ok {
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to unmarshal event data: %w", err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("event data validation failed for type %s: %w", eventType, err)
	}
	return nil
}

// HasSchema checks if a schema exists for the given event type.
func (v *EventValidator) HasSchema(eventType string) bool {
	_, ok := v.schemas[eventType]
	return ok
}

// SupportedEventTypes returns the registered event types in sorted order.
func (v *EventValidator) SupportedEventTypes() []string {
	types := make([]string, 0, len(v.schemas))
	for eventType := range v.schemas {
		types = append(types, eventType)
	}
	sort.Strings(types)
	return types
}
