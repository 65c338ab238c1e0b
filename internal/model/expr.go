package model

import "encoding/json"

// ExprKind discriminates the derived-expression tree (spec.md §3.4).
type ExprKind string

const (
	ExprProp    ExprKind = "prop"
	ExprSum     ExprKind = "sum"
	ExprCount   ExprKind = "count"
	ExprMax     ExprKind = "max"
	ExprMin     ExprKind = "min"
	ExprAdd     ExprKind = "add"
	ExprSub     ExprKind = "sub"
	ExprMul     ExprKind = "mul"
	ExprDiv     ExprKind = "div"
	ExprLiteral ExprKind = "literal"
)

// Expression is a node in the derived-value expression tree.
type Expression struct {
	Kind ExprKind `json:"kind"`

	// Prop
	Prop string `json:"prop,omitempty"`

	// Sum/Count/Max/Min
	Over string `json:"over,omitempty"` // relationship name
	AggProp string `json:"agg_prop,omitempty"`

	// Add/Sub/Mul/Div
	Left  *Expression `json:"left,omitempty"`
	Right *Expression `json:"right,omitempty"`

	// Literal
	Value json.RawMessage `json:"value,omitempty"`
}

type exprWire struct {
	Kind    ExprKind        `json:"kind"`
	Prop    string          `json:"prop,omitempty"`
	Over    string          `json:"over,omitempty"`
	AggProp string          `json:"agg_prop,omitempty"`
	Left    *Expression     `json:"left,omitempty"`
	Right   *Expression     `json:"right,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// UnmarshalJSON decodes the tagged expression wire shape.
func (e *Expression) UnmarshalJSON(data []byte) error {
	var w exprWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Kind = w.Kind
	e.Prop = w.Prop
	e.Over = w.Over
	e.AggProp = w.AggProp
	e.Left = w.Left
	e.Right = w.Right
	e.Value = w.Value
	return nil
}

// MarshalJSON emits the tagged expression wire shape.
func (e Expression) MarshalJSON() ([]byte, error) {
	return json.Marshal(exprWire{
		Kind: e.Kind, Prop: e.Prop, Over: e.Over, AggProp: e.AggProp,
		Left: e.Left, Right: e.Right, Value: e.Value,
	})
}
