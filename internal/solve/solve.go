// Package solve implements the five-phase solve pipeline that turns a
// resolved view into an immutable Configuration Artifact (spec.md §4.7):
// snapshot, expand, evaluate, validate, compile.
package solve

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ourstudio-se/oat-db/internal/apperrors"
	"github.com/ourstudio-se/oat-db/internal/evaluator"
	"github.com/ourstudio-se/oat-db/internal/model"
	"github.com/ourstudio-se/oat-db/internal/resolver"
	"github.com/ourstudio-se/oat-db/internal/validator"
	"github.com/ourstudio-se/oat-db/internal/versioning"
)

// CrossBranchPolicy governs cross-branch IDs in relationship overrides.
type CrossBranchPolicy string

const (
	CrossBranchReject             CrossBranchPolicy = "reject"
	CrossBranchAllow              CrossBranchPolicy = "allow"
	CrossBranchAllowWithWarnings  CrossBranchPolicy = "allow_with_warnings"
)

// MissingInstancePolicy governs explicit override IDs that don't exist.
type MissingInstancePolicy string

const (
	MissingInstanceFail        MissingInstancePolicy = "fail"
	MissingInstanceSkip        MissingInstancePolicy = "skip"
	MissingInstancePlaceholder MissingInstancePolicy = "placeholder"
)

// EmptySelectionPolicy governs a dynamic filter that yields no candidates.
type EmptySelectionPolicy string

const (
	EmptySelectionFail     EmptySelectionPolicy = "fail"
	EmptySelectionAllow    EmptySelectionPolicy = "allow"
	EmptySelectionFallback EmptySelectionPolicy = "fallback"
)

// Policies is the enumerated policy set a resolution context carries
// (spec.md §4.7 "Input").
type Policies struct {
	CrossBranch       CrossBranchPolicy     `json:"cross_branch_policy"`
	MissingInstance   MissingInstancePolicy `json:"missing_instance_policy"`
	EmptySelection    EmptySelectionPolicy  `json:"empty_selection_policy"`
	MaxSelectionSize  int                   `json:"max_selection_size"`
}

// DefaultPolicies returns the conservative defaults used when a caller
// doesn't specify any.
func DefaultPolicies() Policies {
	return Policies{
		CrossBranch:      CrossBranchReject,
		MissingInstance:  MissingInstanceFail,
		EmptySelection:   EmptySelectionAllow,
		MaxSelectionSize: 10000,
	}
}

// ResolutionContext is the input to a solve (spec.md §4.7 "Input").
type ResolutionContext struct {
	Database string
	Branch   string
	Commit   string
	Policies Policies
	Force    bool
}

// NoteLevel is the severity of a resolution note.
type NoteLevel string

const (
	NoteInfo    NoteLevel = "info"
	NoteWarning NoteLevel = "warning"
	NoteError   NoteLevel = "error"
)

// ResolutionNote records one observation made while expanding a
// relationship selector (spec.md §4.7 phase 2).
type ResolutionNote struct {
	Level   NoteLevel `json:"level"`
	Message string    `json:"message"`
}

// SelectorSnapshot records a relationship's resolution at solve time
// (spec.md §4.7 phase 5 "selector_snapshots"). Placeholders lists the
// subset of ResolvedIDs that do not exist anywhere and hold a slot only
// because missing_instance_policy=placeholder asked for one.
type SelectorSnapshot struct {
	InstanceID      string           `json:"instance_id"`
	Relationship    string           `json:"relationship"`
	OriginalSelector *model.RelationshipSelection `json:"original_selector,omitempty"`
	ResolvedIDs     []string         `json:"resolved_ids"`
	Placeholders    []string         `json:"placeholders,omitempty"`
	Notes           []ResolutionNote `json:"notes,omitempty"`
}

// PhaseTiming records how long one pipeline phase took.
type PhaseTiming struct {
	Phase      string        `json:"phase"`
	DurationNs int64         `json:"duration_ns"`
}

// Metadata carries the pipeline's timing and statistics (spec.md §4.7 phase 5).
type Metadata struct {
	Timings       []PhaseTiming `json:"timings"`
	TotalTimeMs   int64         `json:"total_time_ms"`
	ClassCount    int           `json:"class_count"`
	InstanceCount int           `json:"instance_count"`
}

// Artifact is the immutable Configuration Artifact produced by a solve
// (spec.md §3.1, §4.7 phase 5).
type Artifact struct {
	ID                string                      `json:"id"`
	ResolutionContext ResolutionContext            `json:"resolution_context"`
	SchemaSnapshot    model.Schema                 `json:"schema_snapshot"`
	ResolvedDomains   map[string]model.Domain      `json:"resolved_domains"`
	ResolvedProperties map[string]map[string]any  `json:"resolved_properties"`
	SelectorSnapshots []SelectorSnapshot           `json:"selector_snapshots"`
	Metadata          Metadata                     `json:"metadata"`
	CreatedAt         time.Time                    `json:"created_at"`
}

// ArtifactStore persists Configuration Artifacts (spec.md §6 `artifacts`
// table). Defined here, implemented by internal/store/{memstore,pgstore},
// mirroring the producer-defines-the-interface pattern used by
// internal/versioning.Store.
type ArtifactStore interface {
	Put(ctx context.Context, a *Artifact) error
	Get(ctx context.Context, id string) (*Artifact, error)
	List(ctx context.Context, database string) ([]*Artifact, error)
}

// Pipeline runs the five-phase solve.
type Pipeline struct {
	vengine *versioning.Engine
	store   ArtifactStore
	clock   func() time.Time
}

// New builds a solve Pipeline. clock defaults to time.Now if nil, letting
// tests supply a deterministic clock.
func New(vengine *versioning.Engine, store ArtifactStore, clock func() time.Time) *Pipeline {
	if clock == nil {
		clock = time.Now
	}
	return &Pipeline{vengine: vengine, store: store, clock: clock}
}

// Solve runs the five phases over rc and persists the resulting artifact
// (spec.md §4.7).
func (p *Pipeline) Solve(ctx context.Context, rc ResolutionContext) (*Artifact, error) {
	var timings []PhaseTiming
	timed := func(phase string, fn func() error) error {
		start := p.clock()
		err := fn()
		timings = append(timings, PhaseTiming{Phase: phase, DurationNs: int64(p.clock().Sub(start))})
		return err
	}

	// Phase 1: snapshot.
	var view *model.View
	if err := timed("snapshot", func() error {
		ref := versioning.Ref{Branch: rc.Branch, CommitHash: rc.Commit}
		v, err := p.vengine.ResolveView(ctx, rc.Database, ref)
		if err != nil {
			return err
		}
		view = v
		return nil
	}); err != nil {
		return nil, err
	}

	// Phase 2: expand.
	var snapshots []SelectorSnapshot
	res := resolver.New(view)
	if err := timed("expand", func() error {
		for _, inst := range view.Instances {
			class, ok := view.Schema.ClassByID(inst.ClassID)
			if !ok {
				continue
			}
			for _, rel := range class.Relationships {
				snap, err := p.expandRelationship(ctx, rc, view, res, inst, rel)
				snapshots = append(snapshots, snap)
				if err != nil {
					return err
				}
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	// Phase 3: evaluate.
	resolvedDomains := map[string]model.Domain{}
	resolvedProps := map[string]map[string]any{}
	eval := evaluator.New(view)
	if err := timed("evaluate", func() error {
		for _, inst := range view.Instances {
			class, ok := view.Schema.ClassByID(inst.ClassID)
			if !ok {
				continue
			}
			if d := inst.EffectiveDomain(class); d != nil {
				resolvedDomains[inst.ID] = *d
			}
			props := map[string]any{}
			for _, propDef := range class.Properties {
				val, ok := inst.Properties[propDef.Name]
				if !ok {
					continue
				}
				switch val.Kind {
				case model.KindLiteral:
					var decoded any
					_ = decodeJSON(val.Literal, &decoded)
					props[propDef.Name] = decoded
				case model.KindConditional:
					raw, err := eval.EvaluateConditional(inst, propDef, val)
					if err != nil {
						return err
					}
					var decoded any
					_ = decodeJSON(raw, &decoded)
					props[propDef.Name] = decoded
				}
			}
			for _, d := range class.Derived {
				v, err := eval.EvaluateDerived(inst, d.Name, &d.Expression)
				if err != nil {
					return err
				}
				props[d.Name] = v
			}
			resolvedProps[inst.ID] = props
		}
		return nil
	}); err != nil {
		return nil, err
	}

	// Phase 4: validate.
	var valResult validator.Result
	if err := timed("validate", func() error {
		valResult = validator.New(view).Validate()
		if !valResult.OK() && !rc.Force {
			return apperrors.New(apperrors.QuantifierViolation, "solve aborted: view failed validation")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	// Phase 5: compile.
	artifact := &Artifact{
		ID:                  uuid.New().String(),
		ResolutionContext:   rc,
		SchemaSnapshot:      view.Schema,
		ResolvedDomains:     resolvedDomains,
		ResolvedProperties:  resolvedProps,
		SelectorSnapshots:   snapshots,
		Metadata: Metadata{
			Timings:       timings,
			TotalTimeMs:   totalMs(timings),
			ClassCount:    len(view.Schema.Classes),
			InstanceCount: len(view.Instances),
		},
		CreatedAt: p.clock().UTC(),
	}
	if err := p.store.Put(ctx, artifact); err != nil {
		return nil, err
	}
	return artifact, nil
}

// expandRelationship materializes one relationship's selection under rc's
// policies (spec.md §4.7 phase 2). Unresolvable explicit IDs are
// classified as cross-branch references (present on another branch's head)
// or genuinely missing instances, and each class is handled by its own
// policy; empty dynamic selections honor empty_selection_policy.
func (p *Pipeline) expandRelationship(
	ctx context.Context,
	rc ResolutionContext,
	view *model.View,
	res *resolver.Resolver,
	inst *model.Instance,
	rel model.RelationshipDefinition,
) (SelectorSnapshot, error) {
	snap := SelectorSnapshot{InstanceID: inst.ID, Relationship: rel.Name}
	override, hasOverride := inst.Relationships[rel.Name]
	if hasOverride {
		snap.OriginalSelector = &override
	}

	ids, err := res.Resolve(inst, rel.Name)
	if err != nil {
		if !isMissingCandidate(err) || !hasOverride || len(override.Ids) == 0 {
			snap.Notes = append(snap.Notes, ResolutionNote{Level: NoteError, Message: err.Error()})
			return snap, err
		}
		ids, err = p.resolveExplicitIDs(ctx, rc, view, override.Ids, &snap)
		if err != nil {
			return snap, err
		}
	}

	if len(ids) == 0 {
		switch rc.Policies.EmptySelection {
		case EmptySelectionFail:
			snap.Notes = append(snap.Notes, ResolutionNote{Level: NoteError, Message: "empty selection not permitted by policy"})
			return snap, apperrors.Newf(apperrors.EmptySelection, "relationship %q on instance %q resolved to no candidates", rel.Name, inst.ID)
		case EmptySelectionFallback:
			if hasOverride {
				// The override's pool found nothing; fall back to the
				// relationship's schema default pool.
				bare := *inst
				bare.Relationships = make(map[string]model.RelationshipSelection, len(inst.Relationships))
				for k, v := range inst.Relationships {
					if k != rel.Name {
						bare.Relationships[k] = v
					}
				}
				fallback, ferr := res.Resolve(&bare, rel.Name)
				if ferr == nil && len(fallback) > 0 {
					ids = fallback
					snap.Notes = append(snap.Notes, ResolutionNote{Level: NoteInfo, Message: "override selected nothing, fell back to the default pool"})
				} else {
					snap.Notes = append(snap.Notes, ResolutionNote{Level: NoteWarning, Message: "empty selection and no fallback candidates"})
				}
			} else {
				snap.Notes = append(snap.Notes, ResolutionNote{Level: NoteWarning, Message: "empty selection and no override to fall back from"})
			}
		}
	}

	if rc.Policies.MaxSelectionSize > 0 && len(ids) > rc.Policies.MaxSelectionSize {
		snap.Notes = append(snap.Notes, ResolutionNote{Level: NoteWarning, Message: "selection exceeds max_selection_size, truncated"})
		ids = ids[:rc.Policies.MaxSelectionSize]
	}
	snap.ResolvedIDs = ids
	return snap, nil
}

// resolveExplicitIDs re-walks an explicit ID list that the resolver
// rejected: IDs present in the view pass through, IDs found on another
// branch's head follow cross_branch_policy, and IDs found nowhere follow
// missing_instance_policy.
func (p *Pipeline) resolveExplicitIDs(
	ctx context.Context,
	rc ResolutionContext,
	view *model.View,
	explicit []string,
	snap *SelectorSnapshot,
) ([]string, error) {
	var ids []string
	for _, id := range explicit {
		if _, ok := view.Instance(id); ok {
			ids = append(ids, id)
			continue
		}

		branches, err := p.vengine.BranchesContaining(ctx, rc.Database, id)
		if err != nil {
			return nil, err
		}
		if len(branches) > 0 {
			switch rc.Policies.CrossBranch {
			case CrossBranchReject:
				snap.Notes = append(snap.Notes, ResolutionNote{Level: NoteError,
					Message: fmt.Sprintf("candidate %q lives on branch %q, cross-branch references are rejected", id, branches[0])})
				return nil, apperrors.Newf(apperrors.CrossBranchReference,
					"candidate %q is not in this view but exists on branch %q", id, branches[0])
			case CrossBranchAllowWithWarnings:
				snap.Notes = append(snap.Notes, ResolutionNote{Level: NoteWarning,
					Message: fmt.Sprintf("candidate %q resolved from branch %q", id, branches[0])})
				ids = append(ids, id)
			case CrossBranchAllow:
				snap.Notes = append(snap.Notes, ResolutionNote{Level: NoteInfo,
					Message: fmt.Sprintf("candidate %q resolved from branch %q", id, branches[0])})
				ids = append(ids, id)
			}
			continue
		}

		switch rc.Policies.MissingInstance {
		case MissingInstanceFail:
			snap.Notes = append(snap.Notes, ResolutionNote{Level: NoteError,
				Message: fmt.Sprintf("candidate %q does not exist", id)})
			return nil, apperrors.Newf(apperrors.MissingCandidate, "candidate instance %q does not exist", id)
		case MissingInstanceSkip:
			snap.Notes = append(snap.Notes, ResolutionNote{Level: NoteWarning,
				Message: fmt.Sprintf("candidate %q does not exist, skipped", id)})
		case MissingInstancePlaceholder:
			snap.Notes = append(snap.Notes, ResolutionNote{Level: NoteInfo,
				Message: fmt.Sprintf("candidate %q does not exist, holding a placeholder slot", id)})
			snap.Placeholders = append(snap.Placeholders, id)
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func isMissingCandidate(err error) bool {
	de, ok := err.(*apperrors.DomainError)
	return ok && de.ErrType == apperrors.MissingCandidate
}

func decodeJSON(raw []byte, out *any) error {
	return json.Unmarshal(raw, out)
}

func totalMs(timings []PhaseTiming) int64 {
	var ns int64
	for _, t := range timings {
		ns += t.DurationNs
	}
	return ns / int64(time.Millisecond)
}
