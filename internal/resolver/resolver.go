// Package resolver computes, for a given (instance, relationship, view),
// the materialized set of candidate instance IDs (spec.md §4.4). It is pure
// over a model.View: no storage, no suspension, and — per spec.md §4.4 step
// 6 — no expansion of conditional property values, since that would force
// solve-before-solve.
package resolver

import (
	"encoding/json"
	"sort"

	"github.com/ourstudio-se/oat-db/internal/apperrors"
	"github.com/ourstudio-se/oat-db/internal/model"
)

// Resolver resolves relationship pools against a fixed view.
type Resolver struct {
	view *model.View
}

// New binds a Resolver to a view. Callers inside a working commit pass the
// draft view; callers outside pass the committed snapshot (spec.md §4.4
// "Resolution context").
func New(view *model.View) *Resolver {
	return &Resolver{view: view}
}

// Resolve computes the ordered, materialized candidate IDs for instance's
// relationship named relName (spec.md §4.4 algorithm, steps 1-8).
func (r *Resolver) Resolve(instance *model.Instance, relName string) ([]string, error) {
	class, ok := r.view.Schema.ClassByID(instance.ClassID)
	if !ok {
		return nil, apperrors.Newf(apperrors.ClassNotFound, "class %q not found", instance.ClassID)
	}
	rel, ok := class.Relationship(relName)
	if !ok {
		return nil, apperrors.Newf(apperrors.UndefinedRelationship, "relationship %q not defined on class %q", relName, class.ID)
	}

	override := instance.Relationships[relName]

	// Step 3: explicit override Ids bypass the pool entirely.
	if override.Ids != nil && len(override.Ids) > 0 {
		ids := append([]string(nil), override.Ids...)
		if err := r.checkCandidatesExist(ids); err != nil {
			return nil, err
		}
		return ids, nil
	}

	effective, mode := r.effectiveFilter(rel, override)

	// Step 4: mode none (and no override, or effectiveFilter would have
	// promoted mode to filter) -> empty.
	if mode == model.PoolNone {
		return nil, nil
	}

	var candidates []*model.Instance
	switch mode {
	case model.PoolAll:
		candidates = r.view.InstancesOfClasses(rel.TargetClasses)
	case model.PoolFilter:
		candidates = r.candidatesForFilter(effective, rel.TargetClasses)
	default:
		candidates = nil
	}

	if effective.Where != nil {
		filtered := candidates[:0:0]
		for _, c := range candidates {
			ok, err := evalWhere(effective.Where, class, c)
			if err != nil {
				return nil, err
			}
			if ok {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}

	// Candidate collection walks a map; pin a total order by ID before
	// the caller's sort so resolution is deterministic (spec.md §8
	// "resolver determinism") and the caller's sort stays a stable
	// reordering of it.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	applySort(candidates, effective.Sort)

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	if effective.Limit != nil && *effective.Limit >= 0 && *effective.Limit < len(ids) {
		ids = ids[:*effective.Limit]
	}
	return ids, nil
}

// effectiveFilter computes the effective filter and pool mode (spec.md
// §4.4 step 3): an instance pool override layers over the schema default;
// types fall back to the default's when the override doesn't specify them.
func (r *Resolver) effectiveFilter(rel *model.RelationshipDefinition, override model.RelationshipSelection) (model.Filter, model.PoolMode) {
	def := rel.DefaultPool
	baseFilter := model.Filter{}
	if def.Filter != nil {
		baseFilter = *def.Filter
	}
	if override.Pool == nil {
		return baseFilter, def.Mode
	}
	return baseFilter.Merge(*override.Pool), model.PoolFilter
}

func (r *Resolver) candidatesForFilter(f model.Filter, targetClasses []string) []*model.Instance {
	classes := targetClasses
	if len(f.Types) > 0 {
		classes = f.Types
	}
	return r.view.InstancesOfClasses(classes)
}

func (r *Resolver) checkCandidatesExist(ids []string) error {
	for _, id := range ids {
		if _, ok := r.view.Instance(id); !ok {
			return apperrors.Newf(apperrors.MissingCandidate, "candidate instance %q does not exist", id)
		}
	}
	return nil
}

// evalWhere evaluates the predicate tree against candidate's literal
// property values only (spec.md §4.4 step 6). Missing property => false.
func evalWhere(w *model.Where, ownerClass *model.ClassDefinition, candidate *model.Instance) (bool, error) {
	switch w.Kind {
	case model.WhereAll:
		for _, sub := range w.Sub {
			ok, err := evalWhere(&sub, ownerClass, candidate)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case model.WhereAny:
		for _, sub := range w.Sub {
			ok, err := evalWhere(&sub, ownerClass, candidate)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case model.WhereNot:
		if w.Operand == nil {
			return true, nil
		}
		ok, err := evalWhere(w.Operand, ownerClass, candidate)
		return !ok, err
	default:
		return evalLeaf(w, candidate)
	}
}

func evalLeaf(w *model.Where, candidate *model.Instance) (bool, error) {
	val, ok := candidate.Properties[w.Prop]
	if !ok || !val.IsLiteral() {
		return false, nil
	}
	switch w.Op {
	case model.OpPropEq, model.OpPropNe:
		lhs, rhs := string(val.Literal), string(w.Value)
		eq := jsonEqual(lhs, rhs)
		if w.Op == model.OpPropEq {
			return eq, nil
		}
		return !eq, nil
	default:
		var ls, rs string
		if json.Unmarshal(val.Literal, &ls) == nil && json.Unmarshal(w.Value, &rs) == nil {
			switch w.Op {
			case model.OpPropLt:
				return ls < rs, nil
			case model.OpPropLte:
				return ls <= rs, nil
			case model.OpPropGt:
				return ls > rs, nil
			case model.OpPropGte:
				return ls >= rs, nil
			}
		}
		lf, err := model.AsFloat64(val.Literal)
		if err != nil {
			return false, nil
		}
		rf, err := model.AsFloat64(w.Value)
		if err != nil {
			return false, err
		}
		switch w.Op {
		case model.OpPropLt:
			return lf < rf, nil
		case model.OpPropLte:
			return lf <= rf, nil
		case model.OpPropGt:
			return lf > rf, nil
		case model.OpPropGte:
			return lf >= rf, nil
		default:
			return false, apperrors.Newf(apperrors.BadRequest, "unknown predicate op %q", w.Op)
		}
	}
}

// jsonEqual compares two raw JSON scalars by decoded value, not byte form,
// so `"x"` and string-via-different-escaping compare equal, and numbers
// compare by value rather than formatting.
func jsonEqual(a, b string) bool {
	var av, bv any
	if err := unmarshalScalar(a, &av); err != nil {
		return a == b
	}
	if err := unmarshalScalar(b, &bv); err != nil {
		return a == b
	}
	af, aIsNum := av.(float64)
	bf, bIsNum := bv.(float64)
	if aIsNum && bIsNum {
		return af == bf
	}
	return av == bv
}

func unmarshalScalar(s string, out *any) error {
	return json.Unmarshal([]byte(s), out)
}

func applySort(candidates []*model.Instance, specs []model.SortSpec) {
	if len(specs) == 0 {
		return
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		for _, s := range specs {
			vi, oki := candidates[i].Properties[s.Prop]
			vj, okj := candidates[j].Properties[s.Prop]
			cmp := compareLiterals(vi, oki, vj, okj)
			if cmp == 0 {
				continue
			}
			if s.Dir == model.SortDesc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// compareLiterals orders two optional literal values: missing values sort
// last regardless of direction.
func compareLiterals(a model.Value, aok bool, b model.Value, bok bool) int {
	if !aok && !bok {
		return 0
	}
	if !aok {
		return 1
	}
	if !bok {
		return -1
	}
	af, aerr := model.AsFloat64(a.Literal)
	bf, berr := model.AsFloat64(b.Literal)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := string(a.Literal), string(b.Literal)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}
