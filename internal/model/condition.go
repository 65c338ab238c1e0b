package model

import "encoding/json"

// ConditionKind discriminates the boolean condition tree used by a
// conditional property's `when` clause (spec.md §4.3).
type ConditionKind string

const (
	CondHas ConditionKind = "has"
	CondAll ConditionKind = "all"
	CondAny ConditionKind = "any"
	CondNot ConditionKind = "not"
)

// Condition is a boolean tree whose leaves are Has{rel, ids?} and whose
// internal nodes are all/any/not combinators.
//
// `{all: [r1, r2]}` is shorthand for and(Has{r1}, Has{r2}) per spec.md
// §4.3 point 2 — Sub entries that are bare relationship names (rather
// than full condition nodes) are treated as Has{rel: name} during
// evaluation; unmarshalConditionOrShorthand below materializes that shorthand once at
// unmarshal time so the evaluator only ever sees full Has nodes.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// Has
	Rel string   `json:"rel,omitempty"`
	Ids []string `json:"ids,omitempty"`

	// All/Any
	Sub []Condition `json:"sub,omitempty"`

	// Not
	Operand *Condition `json:"operand,omitempty"`
}

type conditionWire struct {
	Has *struct {
		Rel string   `json:"rel"`
		Ids []string `json:"ids,omitempty"`
	} `json:"has,omitempty"`
	All []json.RawMessage `json:"all,omitempty"`
	Any []json.RawMessage `json:"any,omitempty"`
	Not json.RawMessage   `json:"not,omitempty"`
}

// UnmarshalJSON decodes the `{has:...}` / `{all:[...]}` / `{any:[...]}` /
// `{not:...}` wire shape, expanding the `{all:[relName,...]}` shorthand
// into Has nodes.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var w conditionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.Has != nil:
		c.Kind = CondHas
		c.Rel = w.Has.Rel
		c.Ids = w.Has.Ids
	case w.All != nil:
		c.Kind = CondAll
		c.Sub = make([]Condition, len(w.All))
		for i, raw := range w.All {
			if err := unmarshalConditionOrShorthand(raw, &c.Sub[i]); err != nil {
				return err
			}
		}
	case w.Any != nil:
		c.Kind = CondAny
		c.Sub = make([]Condition, len(w.Any))
		for i, raw := range w.Any {
			if err := unmarshalConditionOrShorthand(raw, &c.Sub[i]); err != nil {
				return err
			}
		}
	case len(w.Not) > 0:
		c.Kind = CondNot
		c.Operand = &Condition{}
		if err := unmarshalConditionOrShorthand(w.Not, c.Operand); err != nil {
			return err
		}
	}
	return nil
}

// unmarshalConditionOrShorthand handles the `{all:[r1, r2]}` shorthand
// where list entries are bare relationship-name strings instead of full
// condition objects.
func unmarshalConditionOrShorthand(raw json.RawMessage, out *Condition) error {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		out.Kind = CondHas
		out.Rel = name
		return nil
	}
	return json.Unmarshal(raw, out)
}

// MarshalJSON emits the tagged wire shape.
func (c Condition) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case CondHas:
		return json.Marshal(struct {
			Has struct {
				Rel string   `json:"rel"`
				Ids []string `json:"ids,omitempty"`
			} `json:"has"`
		}{Has: struct {
			Rel string   `json:"rel"`
			Ids []string `json:"ids,omitempty"`
		}{Rel: c.Rel, Ids: c.Ids}})
	case CondAll:
		return json.Marshal(struct {
			All []Condition `json:"all"`
		}{All: c.Sub})
	case CondAny:
		return json.Marshal(struct {
			Any []Condition `json:"any"`
		}{Any: c.Sub})
	case CondNot:
		return json.Marshal(struct {
			Not *Condition `json:"not"`
		}{Not: c.Operand})
	default:
		return json.Marshal(struct{}{})
	}
}

// PredicateOp is the closed set of leaf comparison operators usable in a
// filter's `where` clause (spec.md §3.3).
type PredicateOp string

const (
	OpPropEq  PredicateOp = "prop_eq"
	OpPropNe  PredicateOp = "prop_ne"
	OpPropLt  PredicateOp = "prop_lt"
	OpPropLte PredicateOp = "prop_lte"
	OpPropGt  PredicateOp = "prop_gt"
	OpPropGte PredicateOp = "prop_gte"
)

// WhereKind discriminates a filter's predicate tree.
type WhereKind string

const (
	WhereAll WhereKind = "all"
	WhereAny WhereKind = "any"
	WhereNot WhereKind = "not"
	WhereLeaf WhereKind = "leaf"
)

// Where is the boolean predicate tree evaluated against a candidate
// instance's literal property values (spec.md §3.3, §4.4 step 6).
type Where struct {
	Kind WhereKind `json:"kind"`

	// Leaf
	Op    PredicateOp     `json:"op,omitempty"`
	Prop  string          `json:"prop,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`

	// All/Any
	Sub []Where `json:"sub,omitempty"`

	// Not
	Operand *Where `json:"operand,omitempty"`
}

type whereWire struct {
	All  []Where         `json:"all,omitempty"`
	Any  []Where         `json:"any,omitempty"`
	Not  *Where          `json:"not,omitempty"`
	Op   PredicateOp     `json:"op,omitempty"`
	Prop string          `json:"prop,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// UnmarshalJSON decodes the `{all:[...]}`/`{any:[...]}`/`{not:...}`/leaf
// wire shape for a Where node.
func (w *Where) UnmarshalJSON(data []byte) error {
	var wire whereWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch {
	case wire.All != nil:
		w.Kind = WhereAll
		w.Sub = wire.All
	case wire.Any != nil:
		w.Kind = WhereAny
		w.Sub = wire.Any
	case wire.Not != nil:
		w.Kind = WhereNot
		w.Operand = wire.Not
	default:
		w.Kind = WhereLeaf
		w.Op = wire.Op
		w.Prop = wire.Prop
		w.Value = wire.Value
	}
	return nil
}

// MarshalJSON emits the current form (spec.md §9 — accept both historical
// `filter` and current `where` forms on read, emit only `where` on write;
// that top-level rename is handled in filter.go, this is the predicate
// tree itself which has always used this shape).
func (w Where) MarshalJSON() ([]byte, error) {
	switch w.Kind {
	case WhereAll:
		return json.Marshal(struct {
			All []Where `json:"all"`
		}{All: w.Sub})
	case WhereAny:
		return json.Marshal(struct {
			Any []Where `json:"any"`
		}{Any: w.Sub})
	case WhereNot:
		return json.Marshal(struct {
			Not *Where `json:"not"`
		}{Not: w.Operand})
	default:
		return json.Marshal(struct {
			Op    PredicateOp     `json:"op"`
			Prop  string          `json:"prop"`
			Value json.RawMessage `json:"value"`
		}{Op: w.Op, Prop: w.Prop, Value: w.Value})
	}
}
