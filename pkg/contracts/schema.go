package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const blueprintSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["initial_conditions"],
  "properties": {
    "name": {"type": "string"},
    "industry": {"enum": ["saas", "d2c", "manufacturing"]},
    "initial_conditions": {
      "type": "object",
      "required": ["cash", "monthly_burn", "headcount"],
      "properties": {
        "cash": {"type": "number"},
        "monthly_burn": {"type": "number", "minimum": 0},
        "headcount": {"type": "integer", "minimum": 0},
        "margins": {
          "type": "object",
          "properties": {"gross": {"type": "number", "minimum": 0, "maximum": 1}}
        },
        "pricing": {"type": "object", "additionalProperties": {"type": "number", "minimum": 0}},
        "capacity": {"type": "object", "additionalProperties": {"type": "number", "minimum": 0}},
        "demand": {"type": "object", "additionalProperties": {"type": "number", "minimum": 0}}
      }
    },
    "constraints": {
      "type": "object",
      "properties": {
        "hiring_velocity_max": {"type": "integer", "minimum": 0},
        "procurement_lead_time_days": {"type": "number", "minimum": 0},
        "working_capital_min": {"type": "number", "minimum": 0},
        "sla_targets": {
          "type": "object",
          "properties": {"min": {"type": "number", "minimum": 0, "maximum": 1}}
        },
        "compliance_strictness": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    "policies": {
      "type": "object",
      "properties": {
        "spend_limit_monthly": {"type": "number", "minimum": 0},
        "approval_threshold": {"type": "number", "minimum": 0},
        "max_percent_change": {"type": "object", "additionalProperties": {"type": "number", "minimum": 0}},
        "risk_appetite": {"type": "number", "minimum": 0, "maximum": 1},
        "min_runway_months": {"type": "number", "minimum": 0},
        "custom_rules": {"type": "array", "items": {"type": "string"}}
      }
    },
    "market_exposure": {"type": "object", "additionalProperties": {"type": "number"}},
    "industry_params": {"type": "object", "additionalProperties": {"type": "number"}}
  }
}`

const eventSchema = `{
  "type": "object",
  "required": ["event_type", "timestamp", "duration_days", "severity"],
  "properties": {
    "id": {"type": "string"},
    "event_type": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string"},
    "duration_days": {"type": "integer", "exclusiveMinimum": 0},
    "severity": {"type": "number", "minimum": 0, "maximum": 1},
    "affected_areas": {"type": "array", "items": {"type": "string"}},
    "parameter_impacts": {"type": "object", "additionalProperties": {"type": "number"}},
    "description": {"type": "string"},
    "signals": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "release_time"],
        "properties": {
          "id": {"type": "string"},
          "type": {"type": "string", "minLength": 1},
          "release_time": {"type": "string"},
          "strength": {"type": "number", "minimum": 0, "maximum": 1},
          "content": {"type": "object"}
        }
      }
    }
  }
}`

const timelineSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["start_date", "end_date"],
  "properties": {
    "start_date": {"type": "string"},
    "end_date": {"type": "string"},
    "events": {"type": "array", "items": {"$ref": "event.schema.json"}}
  }
}`

const eventPackSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["events"],
  "properties": {
    "name": {"type": "string"},
    "events": {"type": "array", "items": {"$ref": "event.schema.json"}}
  }
}`

// Validator holds the compiled input schemas. Validation is fail-closed:
// anything a schema rejects never reaches the engine.
type Validator struct {
	blueprint *jsonschema.Schema
	timeline  *jsonschema.Schema
	eventPack *jsonschema.Schema
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	bp, err := compileSchema("blueprint", blueprintSchema)
	if err != nil {
		return nil, err
	}
	tl, err := compileSchema("timeline", timelineSchema)
	if err != nil {
		return nil, err
	}
	ep, err := compileSchema("event-pack", eventPackSchema)
	if err != nil {
		return nil, err
	}
	return &Validator{blueprint: bp, timeline: tl, eventPack: ep}, nil
}

func compileSchema(name, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	eventURL := "https://chronicle.schemas.local/event.schema.json"
	if err := c.AddResource(eventURL, strings.NewReader(eventSchema)); err != nil {
		return nil, fmt.Errorf("event schema load failed: %w", err)
	}

	schemaURL := fmt.Sprintf("https://chronicle.schemas.local/%s.schema.json", name)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("%s schema load failed: %w", name, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("%s schema compile failed: %w", name, err)
	}
	return compiled, nil
}

// ValidateBlueprintJSON checks raw blueprint bytes against the schema.
func (v *Validator) ValidateBlueprintJSON(raw []byte) error {
	return validateJSON(v.blueprint, raw, "blueprint")
}

// ValidateTimelineJSON checks raw timeline bytes against the schema.
func (v *Validator) ValidateTimelineJSON(raw []byte) error {
	return validateJSON(v.timeline, raw, "timeline")
}

// ValidateEventPackJSON checks raw event-pack bytes against the schema.
func (v *Validator) ValidateEventPackJSON(raw []byte) error {
	return validateJSON(v.eventPack, raw, "event pack")
}

func validateJSON(schema *jsonschema.Schema, raw []byte, what string) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return &ValidationError{Field: what, Detail: fmt.Sprintf("not valid JSON: %v", err)}
	}
	if err := schema.Validate(doc); err != nil {
		return &ValidationError{Field: what, Detail: err.Error()}
	}
	return nil
}

// LoadBlueprint reads, validates, and decodes a blueprint file.
func LoadBlueprint(path string) (Blueprint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Blueprint{}, fmt.Errorf("failed to read blueprint: %w", err)
	}
	return ParseBlueprint(raw)
}

// ParseBlueprint validates and decodes blueprint bytes.
func ParseBlueprint(raw []byte) (Blueprint, error) {
	v, err := NewValidator()
	if err != nil {
		return Blueprint{}, err
	}
	if err := v.ValidateBlueprintJSON(raw); err != nil {
		return Blueprint{}, err
	}
	var bp Blueprint
	if err := json.Unmarshal(raw, &bp); err != nil {
		return Blueprint{}, &ValidationError{Field: "blueprint", Detail: err.Error()}
	}
	if err := bp.Validate(); err != nil {
		return Blueprint{}, err
	}
	return bp, nil
}

// LoadTimeline reads, validates, and decodes a timeline file.
func LoadTimeline(path string) (Timeline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Timeline{}, fmt.Errorf("failed to read timeline: %w", err)
	}
	return ParseTimeline(raw)
}

// ParseTimeline validates and decodes timeline bytes.
func ParseTimeline(raw []byte) (Timeline, error) {
	v, err := NewValidator()
	if err != nil {
		return Timeline{}, err
	}
	if err := v.ValidateTimelineJSON(raw); err != nil {
		return Timeline{}, err
	}
	var tl Timeline
	if err := json.Unmarshal(raw, &tl); err != nil {
		return Timeline{}, &ValidationError{Field: "timeline", Detail: err.Error()}
	}
	if err := tl.Validate(); err != nil {
		return Timeline{}, err
	}
	return tl, nil
}
