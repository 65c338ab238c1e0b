// Package evaluator computes conditional property values and derived
// expression values over a resolved view (spec.md §4.3). It consults
// internal/resolver for the relationship resolution a `has`/aggregate node
// needs, and keeps a visited-set to detect derived cycles.
package evaluator

import (
	"encoding/json"

	"github.com/ourstudio-se/oat-db/internal/apperrors"
	"github.com/ourstudio-se/oat-db/internal/model"
	"github.com/ourstudio-se/oat-db/internal/resolver"
)

// Evaluator evaluates conditional properties and derived fields against a
// fixed view.
type Evaluator struct {
	view *model.View
	res  *resolver.Resolver
}

// New binds an Evaluator to a view.
func New(view *model.View) *Evaluator {
	return &Evaluator{view: view, res: resolver.New(view)}
}

// EvaluateConditional resolves property prop on instance (spec.md §4.3
// "conditional property evaluation"): the first rule whose `when` is
// satisfied wins; otherwise the default applies.
func (e *Evaluator) EvaluateConditional(instance *model.Instance, prop model.PropertyDefinition, value model.Value) (json.RawMessage, error) {
	if value.Kind != model.KindConditional {
		return nil, apperrors.New(apperrors.BadRequest, "value is not conditional")
	}
	class, ok := e.view.Schema.ClassByID(instance.ClassID)
	if !ok {
		return nil, apperrors.Newf(apperrors.ClassNotFound, "class %q not found", instance.ClassID)
	}
	for _, rule := range value.Rules {
		satisfied, err := e.evalCondition(&rule.When, class, instance)
		if err != nil {
			return nil, err
		}
		if satisfied {
			return rule.Then, nil
		}
	}
	return value.Default, nil
}

// evalCondition evaluates a boolean condition tree against instance's
// resolved relationships (spec.md §4.3 "has" consults the resolver).
func (e *Evaluator) evalCondition(c *model.Condition, class *model.ClassDefinition, instance *model.Instance) (bool, error) {
	switch c.Kind {
	case model.CondHas:
		if _, ok := class.Relationship(c.Rel); !ok {
			return false, apperrors.Newf(apperrors.UndefinedRelationship, "relationship %q not defined on class %q", c.Rel, class.ID)
		}
		resolved, err := e.res.Resolve(instance, c.Rel)
		if err != nil {
			return false, err
		}
		if len(c.Ids) == 0 {
			return len(resolved) > 0, nil
		}
		set := toSet(resolved)
		for _, id := range c.Ids {
			if !set[id] {
				return false, nil
			}
		}
		return true, nil
	case model.CondAll:
		for _, sub := range c.Sub {
			ok, err := e.evalCondition(&sub, class, instance)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case model.CondAny:
		for _, sub := range c.Sub {
			ok, err := e.evalCondition(&sub, class, instance)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case model.CondNot:
		if c.Operand == nil {
			return true, nil
		}
		ok, err := e.evalCondition(c.Operand, class, instance)
		return !ok, err
	default:
		return false, apperrors.Newf(apperrors.BadRequest, "unknown condition kind %q", c.Kind)
	}
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// derivedFrame tracks the (instance, derived name) pairs on the current
// evaluation path, to detect cycles across both same-instance and
// cross-instance aggregate references (spec.md §9 — cycle detection keys
// on (instance_id, derived_name), not derived_name alone).
type derivedFrame struct {
	instanceID string
	name       string
}

// EvaluateDerived walks expr bottom-up for instance's derived field named
// name (spec.md §4.3 "derived evaluation").
func (e *Evaluator) EvaluateDerived(instance *model.Instance, name string, expr *model.Expression) (float64, error) {
	return e.evalExpr(instance, expr, nil)
}

func (e *Evaluator) evalExpr(instance *model.Instance, expr *model.Expression, path []derivedFrame) (float64, error) {
	switch expr.Kind {
	case model.ExprLiteral:
		return model.AsFloat64(expr.Value)
	case model.ExprProp:
		return e.propValue(instance, expr.Prop, path)
	case model.ExprAdd, model.ExprSub, model.ExprMul, model.ExprDiv:
		l, err := e.evalExpr(instance, expr.Left, path)
		if err != nil {
			return 0, err
		}
		r, err := e.evalExpr(instance, expr.Right, path)
		if err != nil {
			return 0, err
		}
		switch expr.Kind {
		case model.ExprAdd:
			return l + r, nil
		case model.ExprSub:
			return l - r, nil
		case model.ExprMul:
			return l * r, nil
		default:
			if r == 0 {
				return 0, apperrors.New(apperrors.BadRequest, "division by zero in derived expression")
			}
			return l / r, nil
		}
	case model.ExprSum, model.ExprCount, model.ExprMax, model.ExprMin:
		return e.evalAggregate(instance, expr, path)
	default:
		return 0, apperrors.Newf(apperrors.BadRequest, "unknown expression kind %q", expr.Kind)
	}
}

// propValue fetches a literal or derived property's numeric value on
// instance, recursing through EvaluateDerived for derived sources while
// extending the cycle-detection path.
func (e *Evaluator) propValue(instance *model.Instance, propName string, path []derivedFrame) (float64, error) {
	class, ok := e.view.Schema.ClassByID(instance.ClassID)
	if !ok {
		return 0, apperrors.Newf(apperrors.ClassNotFound, "class %q not found", instance.ClassID)
	}
	if _, ok := class.DerivedByName(propName); ok {
		return e.evalDerivedByName(instance, propName, path)
	}
	val, ok := instance.Properties[propName]
	if !ok {
		return 0, apperrors.Newf(apperrors.UndefinedProperty, "property %q not found on instance %q", propName, instance.ID)
	}
	if !val.IsLiteral() {
		return 0, apperrors.Newf(apperrors.ValueTypeInconsistency, "property %q is not a statically evaluable literal", propName)
	}
	return model.AsFloat64(val.Literal)
}

func (e *Evaluator) evalDerivedByName(instance *model.Instance, name string, path []derivedFrame) (float64, error) {
	frame := derivedFrame{instanceID: instance.ID, name: name}
	for _, f := range path {
		if f == frame {
			return 0, apperrors.Newf(apperrors.DerivedCycle, "derived cycle detected: %s", cycleChain(append(path, frame)))
		}
	}
	class, _ := e.view.Schema.ClassByID(instance.ClassID)
	def, ok := class.DerivedByName(name)
	if !ok {
		return 0, apperrors.Newf(apperrors.UndefinedProperty, "derived field %q not found on class %q", name, class.ID)
	}
	return e.evalExpr(instance, &def.Expression, append(path, frame))
}

func (e *Evaluator) evalAggregate(instance *model.Instance, expr *model.Expression, path []derivedFrame) (float64, error) {
	class, ok := e.view.Schema.ClassByID(instance.ClassID)
	if !ok {
		return 0, apperrors.Newf(apperrors.ClassNotFound, "class %q not found", instance.ClassID)
	}
	if _, ok := class.Relationship(expr.Over); !ok {
		return 0, apperrors.Newf(apperrors.UndefinedRelationship, "relationship %q not defined on class %q", expr.Over, class.ID)
	}
	ids, err := e.res.Resolve(instance, expr.Over)
	if err != nil {
		return 0, err
	}
	if expr.Kind == model.ExprCount {
		return float64(len(ids)), nil
	}

	var sum float64
	var max, min float64
	first := true
	for _, id := range ids {
		target, ok := e.view.Instance(id)
		if !ok {
			return 0, apperrors.Newf(apperrors.MissingCandidate, "aggregate target %q does not exist", id)
		}
		v, err := e.propValue(target, expr.AggProp, path)
		if err != nil {
			return 0, err
		}
		sum += v
		if first || v > max {
			max = v
		}
		if first || v < min {
			min = v
		}
		first = false
	}
	switch expr.Kind {
	case model.ExprSum:
		return sum, nil
	case model.ExprMax:
		return max, nil
	default:
		return min, nil
	}
}

func cycleChain(path []derivedFrame) string {
	out := ""
	for i, f := range path {
		if i > 0 {
			out += " -> "
		}
		out += f.instanceID + "." + f.name
	}
	return out
}
