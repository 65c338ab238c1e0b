// Package merge implements the three-way merge and rebase engine
// (spec.md §4.6): find a common ancestor commit, classify per-entity
// deltas on both sides, resolve non-conflicting changes automatically, and
// surface the rest as conflicts for the caller to resolve.
package merge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ourstudio-se/oat-db/internal/apperrors"
	"github.com/ourstudio-se/oat-db/internal/model"
	"github.com/ourstudio-se/oat-db/internal/validator"
	"github.com/ourstudio-se/oat-db/internal/versioning"
)

// DeltaKind classifies how an entity changed between two commits relative
// to a common ancestor.
type DeltaKind string

const (
	DeltaUnchanged DeltaKind = "unchanged"
	DeltaModified  DeltaKind = "modified"
	DeltaRemoved   DeltaKind = "removed"
)

// Conflict describes one entity that could not be merged automatically
// (spec.md §4.6 step 4).
type Conflict struct {
	EntityKind string          `json:"entity_kind"` // "class" | "instance"
	EntityID   string          `json:"entity_id"`
	SourceSide DeltaKind       `json:"source_side"`
	TargetSide DeltaKind       `json:"target_side"`
	SourceValue any            `json:"source_value,omitempty"`
	TargetValue any            `json:"target_value,omitempty"`
}

// Result is the outcome of a merge or rebase, successful or not.
type Result struct {
	Commit        *versioning.Commit `json:"commit,omitempty"`
	Conflicts     []Conflict         `json:"conflicts,omitempty"`
	ValidationErr *validator.Result  `json:"validation,omitempty"`
}

// Engine runs merges and rebases over a versioning engine's store.
type Engine struct {
	vstore versioning.Store
	verr   *versioning.Engine
}

// New builds a merge Engine atop the same store and versioning engine the
// HTTP layer uses.
func New(store versioning.Store, vengine *versioning.Engine) *Engine {
	return &Engine{vstore: store, verr: vengine}
}

// commonAncestor walks both commits' parent chains to find their nearest
// shared ancestor hash (spec.md §4.6 step 1), grounded on the teacher's
// findCommonAncestor but implemented as a real graph walk since our
// commits retain full parent-hash chains rather than a single base
// pointer.
func (e *Engine) commonAncestor(ctx context.Context, database, a, b string) (string, error) {
	ancestorsOfA := map[string]bool{}
	cur := a
	for cur != "" {
		ancestorsOfA[cur] = true
		c, err := e.vstore.Commits.Get(ctx, database, cur)
		if err != nil || c.ParentHash == nil {
			break
		}
		cur = *c.ParentHash
	}
	cur = b
	for cur != "" {
		if ancestorsOfA[cur] {
			return cur, nil
		}
		c, err := e.vstore.Commits.Get(ctx, database, cur)
		if err != nil || c.ParentHash == nil {
			break
		}
		cur = *c.ParentHash
	}
	return "", apperrors.New(apperrors.NoCommonAncestor, "source and target branches share no common ancestor")
}

// classify computes the DeltaKind of an entity present (or not) in the
// ancestor, identified by equal-by-value comparison against the side's
// version (spec.md §4.6 step 2).
func classify[T any](ancestor *T, side *T, equal func(a, b T) bool) (DeltaKind, *T) {
	switch {
	case ancestor == nil && side == nil:
		return DeltaUnchanged, nil
	case ancestor == nil && side != nil:
		return DeltaModified, side
	case ancestor != nil && side == nil:
		return DeltaRemoved, nil
	case equal(*ancestor, *side):
		return DeltaUnchanged, side
	default:
		return DeltaModified, side
	}
}

func classesEqual(a, b model.ClassDefinition) bool {
	ca, _ := versioning.Canonicalize(&model.View{Schema: model.Schema{Classes: []model.ClassDefinition{a}}})
	cb, _ := versioning.Canonicalize(&model.View{Schema: model.Schema{Classes: []model.ClassDefinition{b}}})
	return string(ca) == string(cb)
}

func instancesEqual(a, b model.Instance) bool {
	ca, _ := versioning.Canonicalize(&model.View{Instances: map[string]*model.Instance{a.ID: &a}})
	cb, _ := versioning.Canonicalize(&model.View{Instances: map[string]*model.Instance{b.ID: &b}})
	return string(ca) == string(cb)
}

// planMerge computes the merged payload and any conflicts between the
// ancestor view and the source/target views (spec.md §4.6 steps 2-3).
func planMerge(ancestorView, sourceView, targetView *model.View) (*model.View, []Conflict) {
	merged := &model.View{Instances: map[string]*model.Instance{}}
	var conflicts []Conflict

	classIDs := map[string]bool{}
	collectClassIDs(ancestorView, classIDs)
	collectClassIDs(sourceView, classIDs)
	collectClassIDs(targetView, classIDs)

	for id := range classIDs {
		anc := classByID(ancestorView, id)
		src := classByID(sourceView, id)
		tgt := classByID(targetView, id)
		kindS, _ := classify(anc, src, classesEqual)
		kindT, _ := classify(anc, tgt, classesEqual)

		resolved, conflict := resolveEntity(kindS, kindT, src, tgt, anc)
		if conflict {
			conflicts = append(conflicts, Conflict{
				EntityKind: "class", EntityID: id,
				SourceSide: kindS, TargetSide: kindT,
				SourceValue: src, TargetValue: tgt,
			})
			continue
		}
		if resolved != nil {
			merged.Schema.Classes = append(merged.Schema.Classes, *resolved)
		}
	}

	instIDs := map[string]bool{}
	for id := range ancestorView.Instances {
		instIDs[id] = true
	}
	for id := range sourceView.Instances {
		instIDs[id] = true
	}
	for id := range targetView.Instances {
		instIDs[id] = true
	}

	for id := range instIDs {
		anc := ancestorView.Instances[id]
		src := sourceView.Instances[id]
		tgt := targetView.Instances[id]
		kindS, _ := classify(anc, src, instancesEqual)
		kindT, _ := classify(anc, tgt, instancesEqual)

		resolved, conflict := resolveEntity(kindS, kindT, src, tgt, anc)
		if conflict {
			conflicts = append(conflicts, Conflict{
				EntityKind: "instance", EntityID: id,
				SourceSide: kindS, TargetSide: kindT,
				SourceValue: src, TargetValue: tgt,
			})
			continue
		}
		if resolved != nil {
			merged.Instances[id] = resolved
		}
	}

	return merged, conflicts
}

// resolveEntity applies spec.md §4.6 step 3's resolution table. T is
// either *model.ClassDefinition or *model.Instance.
func resolveEntity[T any](kindS, kindT DeltaKind, src, tgt, anc *T) (*T, bool) {
	switch {
	case kindS == DeltaUnchanged && kindT == DeltaUnchanged:
		return anc, false
	case kindS == DeltaUnchanged:
		return tgt, false
	case kindT == DeltaUnchanged:
		return src, false
	case kindS == DeltaRemoved && kindT == DeltaRemoved:
		return nil, false
	default:
		// both modified (to the same or different value), or one
		// modified and the other removed.
		if kindS == DeltaModified && kindT == DeltaModified && sameValue(src, tgt) {
			return src, false
		}
		return nil, true
	}
}

func sameValue[T any](a, b *T) bool {
	switch av := any(a).(type) {
	case *model.ClassDefinition:
		bv := any(b).(*model.ClassDefinition)
		if av == nil || bv == nil {
			return av == bv
		}
		return classesEqual(*av, *bv)
	case *model.Instance:
		bv := any(b).(*model.Instance)
		if av == nil || bv == nil {
			return av == bv
		}
		return instancesEqual(*av, *bv)
	default:
		return false
	}
}

func collectClassIDs(v *model.View, set map[string]bool) {
	for _, c := range v.Schema.Classes {
		set[c.ID] = true
	}
}

func classByID(v *model.View, id string) *model.ClassDefinition {
	for i := range v.Schema.Classes {
		if v.Schema.Classes[i].ID == id {
			return &v.Schema.Classes[i]
		}
	}
	return nil
}

// Merge merges source into target, producing a new commit on target
// (spec.md §4.6). If conflicts remain and force is false, it returns them
// without committing. On success the source branch is marked merged.
func (e *Engine) Merge(ctx context.Context, database, source, target, author string, force bool) (*Result, error) {
	return e.merge(ctx, database, source, target, author, force, true)
}

// merge is the shared three-way engine behind Merge and Rebase.
// markSourceMerged flips the source branch to merged status afterwards;
// a rebase reads from its upstream without consuming it, so it passes
// false.
func (e *Engine) merge(ctx context.Context, database, source, target, author string, force, markSourceMerged bool) (*Result, error) {
	srcBranch, err := e.vstore.Branches.Get(ctx, database, source)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.BranchNotFound, err, "source branch not found")
	}
	tgtBranch, err := e.vstore.Branches.Get(ctx, database, target)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.BranchNotFound, err, "target branch not found")
	}
	if srcBranch.CurrentCommitHash == nil || tgtBranch.CurrentCommitHash == nil {
		return nil, apperrors.New(apperrors.NoCommonAncestor, "both branches must have at least one commit to merge")
	}

	ancestorHash, err := e.commonAncestor(ctx, database, *srcBranch.CurrentCommitHash, *tgtBranch.CurrentCommitHash)
	if err != nil {
		return nil, err
	}

	ancestorView, err := e.loadCommitView(ctx, database, ancestorHash)
	if err != nil {
		return nil, err
	}
	srcView, err := e.loadCommitView(ctx, database, *srcBranch.CurrentCommitHash)
	if err != nil {
		return nil, err
	}
	tgtView, err := e.loadCommitView(ctx, database, *tgtBranch.CurrentCommitHash)
	if err != nil {
		return nil, err
	}

	merged, conflicts := planMerge(ancestorView, srcView, tgtView)
	if len(conflicts) > 0 && !force {
		return &Result{Conflicts: conflicts}, nil
	}
	if len(conflicts) > 0 && force {
		// force=true: conflicts resolve in favor of the target side,
		// i.e. target wins over source (spec.md §4.6 step 4 "unless
		// force=true").
		for _, c := range conflicts {
			if c.TargetValue != nil {
				applyForced(merged, c)
			}
		}
	}

	valResult := validator.New(merged).Validate()
	if !valResult.OK() && !force {
		return &Result{ValidationErr: &valResult}, apperrors.New(apperrors.ValidationConflict, "merged payload fails validation")
	}

	commit, err := e.commitMerge(ctx, database, target, tgtBranch, merged, author, fmt.Sprintf("merge %s into %s", source, target))
	if err != nil {
		return nil, err
	}

	if markSourceMerged {
		srcBranch.Status = versioning.BranchMerged
		if err := e.vstore.Branches.Update(ctx, srcBranch); err != nil {
			return nil, errors.Wrap(err, "mark source branch merged")
		}
	}

	return &Result{Commit: commit, ValidationErr: &valResult}, nil
}

func applyForced(merged *model.View, c Conflict) {
	switch c.EntityKind {
	case "class":
		if cls, ok := c.TargetValue.(*model.ClassDefinition); ok && cls != nil {
			replaceOrAppendClass(merged, *cls)
		}
	case "instance":
		if inst, ok := c.TargetValue.(*model.Instance); ok && inst != nil {
			merged.Instances[inst.ID] = inst
		}
	}
}

func replaceOrAppendClass(v *model.View, c model.ClassDefinition) {
	for i := range v.Schema.Classes {
		if v.Schema.Classes[i].ID == c.ID {
			v.Schema.Classes[i] = c
			return
		}
	}
	v.Schema.Classes = append(v.Schema.Classes, c)
}

// Rebase brings upstream's changes into branch by running Merge with the
// arguments mirrored: upstream is three-way merged into branch with the
// same conflict resolution table (spec.md §4.6 "rebase"). The new commit
// is written to branch and its parent commit is branch's previous tip;
// it is not parented on upstream's tip. Upstream is only read from, never
// marked merged; on success the rebased branch records upstream as its
// parent branch.
func (e *Engine) Rebase(ctx context.Context, database, branch, upstream, author string, force bool) (*Result, error) {
	result, err := e.merge(ctx, database, upstream, branch, author, force, false)
	if err != nil || result.Commit == nil {
		return result, err
	}

	rebased, err := e.vstore.Branches.Get(ctx, database, branch)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.BranchNotFound, err, "rebased branch not found")
	}
	rebased.ParentBranchName = &upstream
	if err := e.vstore.Branches.Update(ctx, rebased); err != nil {
		return nil, errors.Wrap(err, "record rebased branch parent")
	}
	return result, nil
}

// ValidateMerge simulates a merge without committing, for dry-run preview
// (spec.md §4.6 "validate-merge").
func (e *Engine) ValidateMerge(ctx context.Context, database, source, target string) (*Result, error) {
	srcBranch, err := e.vstore.Branches.Get(ctx, database, source)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.BranchNotFound, err, "source branch not found")
	}
	tgtBranch, err := e.vstore.Branches.Get(ctx, database, target)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.BranchNotFound, err, "target branch not found")
	}
	if srcBranch.CurrentCommitHash == nil || tgtBranch.CurrentCommitHash == nil {
		return &Result{}, nil
	}
	ancestorHash, err := e.commonAncestor(ctx, database, *srcBranch.CurrentCommitHash, *tgtBranch.CurrentCommitHash)
	if err != nil {
		return nil, err
	}
	ancestorView, err := e.loadCommitView(ctx, database, ancestorHash)
	if err != nil {
		return nil, err
	}
	srcView, err := e.loadCommitView(ctx, database, *srcBranch.CurrentCommitHash)
	if err != nil {
		return nil, err
	}
	tgtView, err := e.loadCommitView(ctx, database, *tgtBranch.CurrentCommitHash)
	if err != nil {
		return nil, err
	}
	merged, conflicts := planMerge(ancestorView, srcView, tgtView)
	if len(conflicts) > 0 {
		return &Result{Conflicts: conflicts}, nil
	}
	valResult := validator.New(merged).Validate()
	return &Result{ValidationErr: &valResult}, nil
}

// ValidateRebase is ValidateMerge with arguments in rebase order.
func (e *Engine) ValidateRebase(ctx context.Context, database, branch, upstream string) (*Result, error) {
	return e.ValidateMerge(ctx, database, upstream, branch)
}

func (e *Engine) loadCommitView(ctx context.Context, database, hash string) (*model.View, error) {
	c, err := e.vstore.Commits.Get(ctx, database, hash)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CommitNotFound, err, "commit not found")
	}
	return &c.Payload, nil
}

func (e *Engine) commitMerge(ctx context.Context, database, targetBranch string, tgt *versioning.Branch, merged *model.View, author, message string) (*versioning.Commit, error) {
	wc := &versioning.WorkingCommit{
		ID:             uuid.New().String(),
		Database:       database,
		Branch:         targetBranch,
		BasedOnHash:    tgt.CurrentCommitHash,
		Author:         author,
		SchemaDraft:    merged.Schema,
		InstancesDraft: merged.Instances,
		Status:         versioning.WCMerging,
	}
	if err := e.vstore.WorkingCommits.Create(ctx, wc); err != nil {
		return nil, errors.Wrap(err, "create merge working commit")
	}
	wc.Status = versioning.WCActive
	if err := e.vstore.WorkingCommits.Update(ctx, wc); err != nil {
		return nil, errors.Wrap(err, "activate merge working commit")
	}
	return e.verr.Commit(ctx, wc.ID, message)
}
