// Package validator checks a view for type compliance, relationship
// integrity, conditional/derived soundness, and domain consistency
// (spec.md §4.5). It is pure over a model.View and never mutates state.
package validator

import (
	"fmt"

	"github.com/ourstudio-se/oat-db/internal/apperrors"
	"github.com/ourstudio-se/oat-db/internal/evaluator"
	"github.com/ourstudio-se/oat-db/internal/model"
	"github.com/ourstudio-se/oat-db/internal/resolver"
)

// Severity distinguishes a fatal Error from an advisory Warning.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one validation outcome, error or warning (spec.md §4.5, §7).
type Finding struct {
	Severity     Severity       `json:"severity"`
	Type         apperrors.Type `json:"type"`
	InstanceID   string         `json:"instance_id,omitempty"`
	ClassID      string         `json:"class_id,omitempty"`
	PropertyName string         `json:"property_name,omitempty"`
	Message      string         `json:"message"`
}

// Result is the outcome of validating a view.
type Result struct {
	Errors   []Finding `json:"errors"`
	Warnings []Finding `json:"warnings"`
}

// OK reports whether the view has no fatal errors.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// WarningTypes enumerated by spec.md §4.5 (advisory: warnings never make
// Result.OK report false).
const (
	WarningConditionalPropertySkipped apperrors.Type = "conditional_property_skipped"
	WarningQuantifierUnchecked        apperrors.Type = "quantifier_unchecked"
)

// Validator validates a fixed view.
type Validator struct {
	view *model.View
	res  *resolver.Resolver
	eval *evaluator.Evaluator
}

// New binds a Validator to a view.
func New(view *model.View) *Validator {
	return &Validator{view: view, res: resolver.New(view), eval: evaluator.New(view)}
}

// Validate runs every check in spec.md §4.5 over every instance in the view.
func (v *Validator) Validate() Result {
	var res Result
	for _, inst := range v.view.Instances {
		v.validateInstance(inst, &res)
	}
	return res
}

func (v *Validator) validateInstance(inst *model.Instance, res *Result) {
	class, ok := v.view.Schema.ClassByID(inst.ClassID)
	if !ok {
		res.Errors = append(res.Errors, Finding{
			Severity: SeverityError, Type: apperrors.ClassNotFound, InstanceID: inst.ID,
			Message: fmt.Sprintf("instance references undefined class %q", inst.ClassID),
		})
		return
	}
	v.validateProperties(inst, class, res)
	v.validateRelationships(inst, class, res)
	v.validateDerived(inst, class, res)
	v.validateDomain(inst, class, res)
}

// validateProperties checks type compliance: required properties present,
// literal values match their declared data type, conditional `when`
// clauses reference defined relationships (spec.md §4.5 "type compliance",
// "conditional references").
func (v *Validator) validateProperties(inst *model.Instance, class *model.ClassDefinition, res *Result) {
	for _, propDef := range class.Properties {
		val, present := inst.Properties[propDef.Name]
		if !present {
			if propDef.Required && propDef.DefaultValue == nil {
				res.Errors = append(res.Errors, Finding{
					Severity: SeverityError, Type: apperrors.MissingRequiredProperty,
					InstanceID: inst.ID, ClassID: class.ID, PropertyName: propDef.Name,
					Message: fmt.Sprintf("required property %q is missing", propDef.Name),
				})
			}
			continue
		}
		switch val.Kind {
		case model.KindLiteral:
			if err := model.CheckType(propDef.DataType, val.Literal); err != nil {
				res.Errors = append(res.Errors, Finding{
					Severity: SeverityError, Type: apperrors.TypeMismatch,
					InstanceID: inst.ID, ClassID: class.ID, PropertyName: propDef.Name,
					Message: err.Error(),
				})
			}
		case model.KindConditional:
			v.validateConditionalReferences(class, &val, inst, propDef.Name, res)
			res.Warnings = append(res.Warnings, Finding{
				Severity: SeverityWarning, Type: WarningConditionalPropertySkipped,
				InstanceID: inst.ID, ClassID: class.ID, PropertyName: propDef.Name,
				Message: "conditional value is not statically type-checkable",
			})
		case model.KindDerived:
			// Derived soundness is checked via validateDerived against
			// the class's derived definitions, not per-property here.
		}
	}
	for name := range inst.Properties {
		if _, ok := class.Property(name); !ok {
			res.Errors = append(res.Errors, Finding{
				Severity: SeverityError, Type: apperrors.UndefinedProperty,
				InstanceID: inst.ID, ClassID: class.ID, PropertyName: name,
				Message: fmt.Sprintf("property %q is not defined on class %q", name, class.ID),
			})
		}
	}
}

func (v *Validator) validateConditionalReferences(class *model.ClassDefinition, val *model.Value, inst *model.Instance, propName string, res *Result) {
	for _, rule := range val.Rules {
		v.validateConditionTree(&rule.When, class, inst, propName, res)
	}
}

func (v *Validator) validateConditionTree(c *model.Condition, class *model.ClassDefinition, inst *model.Instance, propName string, res *Result) {
	switch c.Kind {
	case model.CondHas:
		if _, ok := class.Relationship(c.Rel); !ok {
			res.Errors = append(res.Errors, Finding{
				Severity: SeverityError, Type: apperrors.UndefinedRelationship,
				InstanceID: inst.ID, ClassID: class.ID, PropertyName: propName,
				Message: fmt.Sprintf("conditional references undefined relationship %q", c.Rel),
			})
		}
	case model.CondAll, model.CondAny:
		for i := range c.Sub {
			v.validateConditionTree(&c.Sub[i], class, inst, propName, res)
		}
	case model.CondNot:
		if c.Operand != nil {
			v.validateConditionTree(c.Operand, class, inst, propName, res)
		}
	}
}

// validateRelationships checks relationship integrity: selections name
// defined relationships, candidate IDs exist, and the resolved selection
// satisfies the relationship's quantifier (spec.md §4.5 "relationship
// integrity"; `any` is warning-only per spec.md §9 open question).
func (v *Validator) validateRelationships(inst *model.Instance, class *model.ClassDefinition, res *Result) {
	for name := range inst.Relationships {
		if _, ok := class.Relationship(name); !ok {
			res.Errors = append(res.Errors, Finding{
				Severity: SeverityError, Type: apperrors.UndefinedRelationship,
				InstanceID: inst.ID, ClassID: class.ID, PropertyName: name,
				Message: fmt.Sprintf("selection references undefined relationship %q", name),
			})
		}
	}
	for _, rel := range class.Relationships {
		resolved, err := v.res.Resolve(inst, rel.Name)
		if err != nil {
			res.Errors = append(res.Errors, Finding{
				Severity: SeverityError, Type: apperrors.RelationshipError,
				InstanceID: inst.ID, ClassID: class.ID, PropertyName: rel.Name,
				Message: err.Error(),
			})
			continue
		}
		if rel.Quantifier.Kind == model.QuantAny {
			res.Warnings = append(res.Warnings, Finding{
				Severity: SeverityWarning, Type: WarningQuantifierUnchecked,
				InstanceID: inst.ID, ClassID: class.ID, PropertyName: rel.Name,
				Message: "quantifier 'any' is not enforced, resolved count is informational only",
			})
			continue
		}
		if !rel.Quantifier.Satisfied(len(resolved)) {
			res.Errors = append(res.Errors, Finding{
				Severity: SeverityError, Type: apperrors.QuantifierViolation,
				InstanceID: inst.ID, ClassID: class.ID, PropertyName: rel.Name,
				Message: fmt.Sprintf("relationship %q resolved to %d candidates, quantifier %s not satisfied", rel.Name, len(resolved), rel.Quantifier.Kind),
			})
		}
	}
}

// validateDerived checks soundness of every derived field: no cycles,
// aggregates only over relationships defined on the class, arithmetic
// operands evaluate to numbers (spec.md §4.5 "derived soundness").
func (v *Validator) validateDerived(inst *model.Instance, class *model.ClassDefinition, res *Result) {
	for _, d := range class.Derived {
		if _, err := v.eval.EvaluateDerived(inst, d.Name, &d.Expression); err != nil {
			errType, ok := apperrors.TypeOf(err)
			if !ok {
				errType = apperrors.Internal
			}
			res.Errors = append(res.Errors, Finding{
				Severity: SeverityError, Type: errType,
				InstanceID: inst.ID, ClassID: class.ID, PropertyName: d.Name,
				Message: err.Error(),
			})
		}
	}
}

// validateDomain checks that the instance's effective domain intersects
// the class's domain constraint (spec.md §4.5 "domain consistency").
func (v *Validator) validateDomain(inst *model.Instance, class *model.ClassDefinition, res *Result) {
	if inst.DomainOverride == nil || class.DomainConstraint == nil {
		return
	}
	if !inst.DomainOverride.Intersects(*class.DomainConstraint) {
		res.Errors = append(res.Errors, Finding{
			Severity: SeverityError, Type: apperrors.DomainConflict,
			InstanceID: inst.ID, ClassID: class.ID,
			Message: fmt.Sprintf("instance domain [%d,%d] does not intersect class domain [%d,%d]",
				inst.DomainOverride.Lower, inst.DomainOverride.Upper,
				class.DomainConstraint.Lower, class.DomainConstraint.Upper),
		})
	}
}
