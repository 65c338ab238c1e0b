package model

import (
	"encoding/json"
	"fmt"
)

// ValueKind discriminates the three-way Value sum type (spec.md §3.2, §9 —
// "the union of Literal|Conditional|Derived is a three-way sum; implementers
// should not model it as an open class hierarchy").
type ValueKind string

const (
	KindLiteral     ValueKind = "literal"
	KindConditional ValueKind = "conditional"
	KindDerived     ValueKind = "derived"
)

// ConditionalRule is one (when, then) pair of a conditional value.
type ConditionalRule struct {
	When Condition   `json:"when"`
	Then json.RawMessage `json:"then"`
}

// Value is a tagged variant: Literal | Conditional | Derived.
type Value struct {
	Kind ValueKind `json:"kind"`

	// Literal
	Literal json.RawMessage `json:"literal,omitempty"`
	DataType DataType       `json:"data_type,omitempty"`

	// Conditional
	Rules   []ConditionalRule `json:"rules,omitempty"`
	Default json.RawMessage  `json:"default,omitempty"`
}

// IsLiteral reports whether this value is a statically known literal.
func (v Value) IsLiteral() bool {
	return v.Kind == KindLiteral
}

// LiteralJSON returns the literal's raw JSON. Only valid when IsLiteral().
func (v Value) LiteralJSON() json.RawMessage {
	return v.Literal
}

// valueWire is the canonical on-the-wire shape; a bare literal scalar is
// also accepted on read for convenience (a class default commonly stores
// just `50` rather than `{"kind":"literal","literal":50}`).
type valueWire struct {
	Kind     ValueKind         `json:"kind"`
	Literal  json.RawMessage   `json:"literal,omitempty"`
	DataType DataType          `json:"data_type,omitempty"`
	Rules    []ConditionalRule `json:"rules,omitempty"`
	Default  json.RawMessage   `json:"default,omitempty"`
}

// UnmarshalJSON accepts either the tagged wire shape or a bare JSON scalar,
// which is treated as an untyped literal.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w valueWire
	if err := json.Unmarshal(data, &w); err == nil && w.Kind != "" {
		v.Kind = w.Kind
		v.Literal = w.Literal
		v.DataType = w.DataType
		v.Rules = w.Rules
		v.Default = w.Default
		return nil
	}
	// Bare scalar/array/object => implicit literal.
	v.Kind = KindLiteral
	v.Literal = append(json.RawMessage{}, data...)
	return nil
}

// MarshalJSON always emits the tagged wire shape.
func (v Value) MarshalJSON() ([]byte, error) {
	w := valueWire{
		Kind:     v.Kind,
		Literal:  v.Literal,
		DataType: v.DataType,
		Rules:    v.Rules,
		Default:  v.Default,
	}
	return json.Marshal(w)
}

// NewLiteral builds a literal Value from a Go value.
func NewLiteral(dataType DataType, goValue any) (Value, error) {
	raw, err := json.Marshal(goValue)
	if err != nil {
		return Value{}, fmt.Errorf("marshal literal: %w", err)
	}
	return Value{Kind: KindLiteral, DataType: dataType, Literal: raw}, nil
}

// CheckType reports whether raw's JSON shape matches dataType
// (spec.md §3.2 "declared type and stored JSON must match").
func CheckType(dataType DataType, raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty value")
	}
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	switch dataType {
	case TypeString, TypeDate:
		if _, ok := probe.(string); !ok {
			return fmt.Errorf("expected string, got %T", probe)
		}
	case TypeNumber:
		if _, ok := probe.(float64); !ok {
			return fmt.Errorf("expected number, got %T", probe)
		}
	case TypeBoolean:
		if _, ok := probe.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", probe)
		}
	case TypeObject:
		if _, ok := probe.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", probe)
		}
	case TypeArray:
		if _, ok := probe.([]any); !ok {
			return fmt.Errorf("expected array, got %T", probe)
		}
	case TypeStringList:
		list, ok := probe.([]any)
		if !ok {
			return fmt.Errorf("expected string-list, got %T", probe)
		}
		for _, el := range list {
			if _, ok := el.(string); !ok {
				return fmt.Errorf("expected string-list element to be string, got %T", el)
			}
		}
	default:
		return fmt.Errorf("unknown data type %q", dataType)
	}
	return nil
}

// AsFloat64 extracts a JSON number literal as float64.
func AsFloat64(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("value is not numeric: %w", err)
	}
	return f, nil
}
