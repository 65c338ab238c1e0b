package solve_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ourstudio-se/oat-db/internal/evaluator"
	"github.com/ourstudio-se/oat-db/internal/merge"
	"github.com/ourstudio-se/oat-db/internal/model"
	"github.com/ourstudio-se/oat-db/internal/resolver"
	"github.com/ourstudio-se/oat-db/internal/solve"
	"github.com/ourstudio-se/oat-db/internal/store/memstore"
	"github.com/ourstudio-se/oat-db/internal/versioning"
)

type bikeStore struct {
	ctx     context.Context
	store   versioning.Store
	arts    solve.ArtifactStore
	vengine *versioning.Engine
	merger  *merge.Engine
	db      *versioning.Database
}

func exactly(n int) model.Quantifier {
	return model.Quantifier{Kind: model.QuantExactly, N: n}
}

func poolAll() model.DefaultPool {
	return model.DefaultPool{Mode: model.PoolAll}
}

func poolNone() model.DefaultPool {
	return model.DefaultPool{Mode: model.PoolNone}
}

func seedBikeStore(t *testing.T) *bikeStore {
	t.Helper()
	ctx := context.Background()
	ms := memstore.New()
	vengine := versioning.New(ms.VersioningStore(), nil)
	merger := merge.New(ms.VersioningStore(), vengine)

	db, err := vengine.CreateDatabase(ctx, "bike-store", "")
	require.NoError(t, err)

	wc, err := vengine.OpenWorkingCommit(ctx, db.ID, "main", "alice")
	require.NoError(t, err)

	color := model.ClassDefinition{ID: "Color", Name: "Color", Properties: []model.PropertyDefinition{
		{ID: "name", Name: "name", DataType: model.TypeString},
		{ID: "price", Name: "price", DataType: model.TypeNumber},
	}}
	wheels := model.ClassDefinition{ID: "Wheels", Name: "Wheels", Properties: []model.PropertyDefinition{
		{ID: "name", Name: "name", DataType: model.TypeString},
	}}
	bike := model.ClassDefinition{ID: "Bike", Name: "Bike",
		Properties: []model.PropertyDefinition{
			{ID: "model", Name: "model", DataType: model.TypeString},
		},
		Relationships: []model.RelationshipDefinition{
			{ID: "color_rel", Name: "color", TargetClasses: []string{"Color"},
				Quantifier: exactly(1), SelectionMode: model.SelectionManual, DefaultPool: poolAll()},
			{ID: "wheels_rel", Name: "wheels", TargetClasses: []string{"Wheels"},
				Quantifier: exactly(1), SelectionMode: model.SelectionManual, DefaultPool: poolAll()},
		},
	}
	for _, c := range []model.ClassDefinition{color, wheels, bike} {
		cc := c
		_, err = vengine.StageChange(ctx, wc.ID, versioning.Delta{ReplaceClass: &cc})
		require.NoError(t, err)
	}

	addColor := func(id string, price float64) {
		name := mustLit(t, model.TypeString, id)
		p := mustLit(t, model.TypeNumber, price)
		_, err := vengine.StageChange(ctx, wc.ID, versioning.Delta{AddInstance: &model.Instance{
			ID: id, ClassID: "Color", Properties: map[string]model.Value{"name": name, "price": p},
		}})
		require.NoError(t, err)
	}
	addColor("red", 50)
	addColor("blue", 75)

	for _, id := range []string{"standard", "premium"} {
		name := mustLit(t, model.TypeString, id)
		_, err := vengine.StageChange(ctx, wc.ID, versioning.Delta{AddInstance: &model.Instance{
			ID: id, ClassID: "Wheels", Properties: map[string]model.Value{"name": name},
		}})
		require.NoError(t, err)
	}

	_, err = vengine.StageChange(ctx, wc.ID, versioning.Delta{AddInstance: &model.Instance{
		ID: "bike1", ClassID: "Bike",
		Properties: map[string]model.Value{"model": mustLit(t, model.TypeString, "city")},
		Relationships: map[string]model.RelationshipSelection{
			"color":  {Ids: []string{"red"}},
			"wheels": {Ids: []string{"standard"}},
		},
	}})
	require.NoError(t, err)

	_, err = vengine.Commit(ctx, wc.ID, "seed bike store")
	require.NoError(t, err)

	return &bikeStore{ctx: ctx, store: ms.VersioningStore(), arts: ms.ArtifactStore(), vengine: vengine, merger: merger, db: db}
}

func (b *bikeStore) addGreenOnBranch(t *testing.T, branch string) {
	t.Helper()
	_, err := b.vengine.CreateBranch(b.ctx, b.db.ID, branch, "main")
	require.NoError(t, err)
	wc, err := b.vengine.OpenWorkingCommit(b.ctx, b.db.ID, branch, "bob")
	require.NoError(t, err)
	name := mustLit(t, model.TypeString, "green")
	price := mustLit(t, model.TypeNumber, 130)
	_, err = b.vengine.StageChange(b.ctx, wc.ID, versioning.Delta{AddInstance: &model.Instance{
		ID: "green", ClassID: "Color", Properties: map[string]model.Value{"name": name, "price": price},
	}})
	require.NoError(t, err)
	_, err = b.vengine.Commit(b.ctx, wc.ID, "add green")
	require.NoError(t, err)
}

func TestBikeStoreExplicitSelectionsResolve(t *testing.T) {
	b := seedBikeStore(t)

	view, err := b.vengine.ResolveView(b.ctx, b.db.ID, versioning.Ref{Branch: "main"})
	require.NoError(t, err)
	bike1, ok := view.Instance("bike1")
	require.True(t, ok)

	res := resolver.New(view)
	ids, err := res.Resolve(bike1, "color")
	require.NoError(t, err)
	assert.Equal(t, []string{"red"}, ids)

	ids, err = res.Resolve(bike1, "wheels")
	require.NoError(t, err)
	assert.Equal(t, []string{"standard"}, ids)
}

func TestBikeStoreMergeWidensColorPool(t *testing.T) {
	b := seedBikeStore(t)
	b.addGreenOnBranch(t, "feat-green")

	result, err := b.merger.Merge(b.ctx, b.db.ID, "feat-green", "main", "bob", false)
	require.NoError(t, err)
	require.Empty(t, result.Conflicts)
	require.NotNil(t, result.Commit)

	// A bike with no override draws from the default pool, which now
	// includes green. Staged only, so the exactly-1 quantifier on the
	// committed state is untouched.
	wc, err := b.vengine.OpenWorkingCommit(b.ctx, b.db.ID, "main", "bob")
	require.NoError(t, err)
	_, err = b.vengine.StageChange(b.ctx, wc.ID, versioning.Delta{AddInstance: &model.Instance{
		ID: "bike2", ClassID: "Bike",
		Properties: map[string]model.Value{"model": mustLit(t, model.TypeString, "trail")},
	}})
	require.NoError(t, err)

	view, err := b.vengine.ResolveView(b.ctx, b.db.ID, versioning.Ref{WorkingCommit: wc.ID})
	require.NoError(t, err)
	bike2, ok := view.Instance("bike2")
	require.True(t, ok)

	ids, err := resolver.New(view).Resolve(bike2, "color")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"red", "blue", "green"}, ids)

	require.NoError(t, b.vengine.Abandon(b.ctx, wc.ID))
}

func TestBikeStoreInstancePoolFilterSelectsByPrice(t *testing.T) {
	b := seedBikeStore(t)
	b.addGreenOnBranch(t, "feat-green")
	_, err := b.merger.Merge(b.ctx, b.db.ID, "feat-green", "main", "bob", false)
	require.NoError(t, err)

	_, err = b.vengine.CreateBranch(b.ctx, b.db.ID, "feat-filter", "main")
	require.NoError(t, err)
	wc, err := b.vengine.OpenWorkingCommit(b.ctx, b.db.ID, "feat-filter", "carol")
	require.NoError(t, err)
	_, err = b.vengine.StageChange(b.ctx, wc.ID, versioning.Delta{
		PatchInstance: &versioning.InstancePatch{
			InstanceID: "bike1",
			Relationships: map[string]model.RelationshipSelection{
				"color": {Pool: &model.Filter{Where: &model.Where{
					Kind: model.WhereLeaf, Op: model.OpPropGt, Prop: "price", Value: json.RawMessage("120"),
				}}},
			},
		},
	})
	require.NoError(t, err)

	view, err := b.vengine.ResolveView(b.ctx, b.db.ID, versioning.Ref{WorkingCommit: wc.ID})
	require.NoError(t, err)
	bike1, ok := view.Instance("bike1")
	require.True(t, ok)

	ids, err := resolver.New(view).Resolve(bike1, "color")
	require.NoError(t, err)
	assert.Equal(t, []string{"green"}, ids)
}

func TestConditionalPricingFirstMatchingRuleWins(t *testing.T) {
	component := model.ClassDefinition{ID: "Component", Name: "Component"}
	rel := func(id, name string) model.RelationshipDefinition {
		return model.RelationshipDefinition{
			ID: id, Name: name, TargetClasses: []string{"Component"},
			Quantifier: model.Quantifier{Kind: model.QuantAny}, SelectionMode: model.SelectionManual,
			DefaultPool: poolNone(),
		}
	}
	priceProp := model.PropertyDefinition{ID: "price", Name: "price", DataType: model.TypeNumber}
	painting := model.ClassDefinition{ID: "Painting", Name: "Painting",
		Properties:    []model.PropertyDefinition{priceProp},
		Relationships: []model.RelationshipDefinition{rel("a_rel", "a"), rel("b_rel", "b"), rel("c_rel", "c")},
	}

	price := model.Value{
		Kind:     model.KindConditional,
		DataType: model.TypeNumber,
		Rules: []model.ConditionalRule{
			{When: model.Condition{Kind: model.CondAll, Sub: []model.Condition{
				{Kind: model.CondHas, Rel: "a"}, {Kind: model.CondHas, Rel: "b"},
			}}, Then: json.RawMessage("100")},
			{When: model.Condition{Kind: model.CondAll, Sub: []model.Condition{
				{Kind: model.CondHas, Rel: "a"}, {Kind: model.CondHas, Rel: "c"},
			}}, Then: json.RawMessage("110")},
		},
		Default: json.RawMessage("0"),
	}

	instances := map[string]*model.Instance{
		"x": {ID: "x", ClassID: "Component"},
		"y": {ID: "y", ClassID: "Component"},
		"p1": {ID: "p1", ClassID: "Painting",
			Properties:    map[string]model.Value{"price": price},
			Relationships: map[string]model.RelationshipSelection{"a": {Ids: []string{"x"}}, "b": {Ids: []string{"y"}}}},
		"p2": {ID: "p2", ClassID: "Painting",
			Properties:    map[string]model.Value{"price": price},
			Relationships: map[string]model.RelationshipSelection{"a": {Ids: []string{"x"}}, "c": {Ids: []string{"y"}}}},
		"p3": {ID: "p3", ClassID: "Painting",
			Properties:    map[string]model.Value{"price": price},
			Relationships: map[string]model.RelationshipSelection{"a": {Ids: []string{"x"}}}},
	}
	view := &model.View{
		Schema:    model.Schema{Classes: []model.ClassDefinition{component, painting}},
		Instances: instances,
	}

	eval := evaluator.New(view)
	for id, want := range map[string]string{"p1": "100", "p2": "110", "p3": "0"} {
		raw, err := eval.EvaluateConditional(instances[id], priceProp, price)
		require.NoError(t, err, id)
		assert.JSONEq(t, want, string(raw), id)
	}
}

func TestDerivedTotalPriceSumsLegPrices(t *testing.T) {
	leg := model.ClassDefinition{ID: "Leg", Name: "Leg", Properties: []model.PropertyDefinition{
		{ID: "price", Name: "price", DataType: model.TypeNumber},
	}}
	totalPrice := model.DerivedDefinition{
		ID: "totalPrice", Name: "totalPrice", DataType: model.TypeNumber,
		Expression: model.Expression{
			Kind: model.ExprAdd,
			Left: &model.Expression{Kind: model.ExprProp, Prop: "basePrice"},
			Right: &model.Expression{Kind: model.ExprSum, Over: "legs", AggProp: "price"},
		},
	}
	table := model.ClassDefinition{ID: "Table", Name: "Table",
		Properties: []model.PropertyDefinition{
			{ID: "basePrice", Name: "basePrice", DataType: model.TypeNumber},
		},
		Relationships: []model.RelationshipDefinition{
			{ID: "legs_rel", Name: "legs", TargetClasses: []string{"Leg"},
				Quantifier: exactly(4), SelectionMode: model.SelectionManual, DefaultPool: poolNone()},
		},
		Derived: []model.DerivedDefinition{totalPrice},
	}

	instances := map[string]*model.Instance{}
	legIDs := []string{"l1", "l2", "l3", "l4"}
	for _, id := range legIDs {
		instances[id] = &model.Instance{ID: id, ClassID: "Leg", Properties: map[string]model.Value{
			"price": mustLit(t, model.TypeNumber, 45),
		}}
	}
	instances["dining"] = &model.Instance{ID: "dining", ClassID: "Table",
		Properties:    map[string]model.Value{"basePrice": mustLit(t, model.TypeNumber, 800)},
		Relationships: map[string]model.RelationshipSelection{"legs": {Ids: legIDs}},
	}
	view := &model.View{
		Schema:    model.Schema{Classes: []model.ClassDefinition{leg, table}},
		Instances: instances,
	}

	got, err := evaluator.New(view).EvaluateDerived(instances["dining"], "totalPrice", &totalPrice.Expression)
	require.NoError(t, err)
	assert.Equal(t, 980.0, got)
}

func TestSolveIsReproducibleOverSameView(t *testing.T) {
	b := seedBikeStore(t)
	pipeline := solve.New(b.vengine, b.arts, time.Now)

	rc := solve.ResolutionContext{Database: b.db.ID, Branch: "main", Policies: solve.DefaultPolicies()}
	first, err := pipeline.Solve(b.ctx, rc)
	require.NoError(t, err)
	second, err := pipeline.Solve(b.ctx, rc)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.ResolvedProperties, second.ResolvedProperties)
	assert.Equal(t, first.ResolvedDomains, second.ResolvedDomains)
}

func (b *bikeStore) patchBikeColor(t *testing.T, branch string, sel model.RelationshipSelection) {
	t.Helper()
	wc, err := b.vengine.OpenWorkingCommit(b.ctx, b.db.ID, branch, "editor")
	require.NoError(t, err)
	_, err = b.vengine.StageChange(b.ctx, wc.ID, versioning.Delta{
		PatchInstance: &versioning.InstancePatch{
			InstanceID:    "bike1",
			Relationships: map[string]model.RelationshipSelection{"color": sel},
		},
	})
	require.NoError(t, err)
	_, err = b.vengine.Commit(b.ctx, wc.ID, "repoint bike1 color")
	require.NoError(t, err)
}

func findSnapshot(t *testing.T, a *solve.Artifact, instID, rel string) solve.SelectorSnapshot {
	t.Helper()
	for _, s := range a.SelectorSnapshots {
		if s.InstanceID == instID && s.Relationship == rel {
			return s
		}
	}
	t.Fatalf("no selector snapshot for %s/%s", instID, rel)
	return solve.SelectorSnapshot{}
}

func TestSolveMissingInstancePolicies(t *testing.T) {
	b := seedBikeStore(t)
	b.patchBikeColor(t, "main", model.RelationshipSelection{Ids: []string{"red", "ghost"}})
	pipeline := solve.New(b.vengine, b.arts, time.Now)

	failPolicies := solve.DefaultPolicies()
	_, err := pipeline.Solve(b.ctx, solve.ResolutionContext{
		Database: b.db.ID, Branch: "main", Policies: failPolicies,
	})
	require.Error(t, err, "missing_instance_policy=fail must abort on a dangling id")

	skipPolicies := solve.DefaultPolicies()
	skipPolicies.MissingInstance = solve.MissingInstanceSkip
	artifact, err := pipeline.Solve(b.ctx, solve.ResolutionContext{
		Database: b.db.ID, Branch: "main", Policies: skipPolicies, Force: true,
	})
	require.NoError(t, err)
	snap := findSnapshot(t, artifact, "bike1", "color")
	assert.Equal(t, []string{"red"}, snap.ResolvedIDs)
	assert.Empty(t, snap.Placeholders)

	placeholderPolicies := solve.DefaultPolicies()
	placeholderPolicies.MissingInstance = solve.MissingInstancePlaceholder
	artifact, err = pipeline.Solve(b.ctx, solve.ResolutionContext{
		Database: b.db.ID, Branch: "main", Policies: placeholderPolicies, Force: true,
	})
	require.NoError(t, err)
	snap = findSnapshot(t, artifact, "bike1", "color")
	assert.Equal(t, []string{"red", "ghost"}, snap.ResolvedIDs)
	assert.Equal(t, []string{"ghost"}, snap.Placeholders)
}

func TestSolveCrossBranchPolicies(t *testing.T) {
	b := seedBikeStore(t)
	b.addGreenOnBranch(t, "feat-green")
	// green exists only on feat-green's head; main points at it anyway.
	b.patchBikeColor(t, "main", model.RelationshipSelection{Ids: []string{"green"}})
	pipeline := solve.New(b.vengine, b.arts, time.Now)

	rejectPolicies := solve.DefaultPolicies()
	_, err := pipeline.Solve(b.ctx, solve.ResolutionContext{
		Database: b.db.ID, Branch: "main", Policies: rejectPolicies,
	})
	require.Error(t, err, "cross_branch_policy=reject must abort")

	warnPolicies := solve.DefaultPolicies()
	warnPolicies.CrossBranch = solve.CrossBranchAllowWithWarnings
	artifact, err := pipeline.Solve(b.ctx, solve.ResolutionContext{
		Database: b.db.ID, Branch: "main", Policies: warnPolicies, Force: true,
	})
	require.NoError(t, err)
	snap := findSnapshot(t, artifact, "bike1", "color")
	assert.Equal(t, []string{"green"}, snap.ResolvedIDs)
	warned := false
	for _, n := range snap.Notes {
		if n.Level == solve.NoteWarning {
			warned = true
		}
	}
	assert.True(t, warned, "allow_with_warnings must leave a warning note")
}

func TestSolveEmptySelectionFallbackUsesDefaultPool(t *testing.T) {
	b := seedBikeStore(t)
	b.patchBikeColor(t, "main", model.RelationshipSelection{
		Pool: &model.Filter{Where: &model.Where{
			Kind: model.WhereLeaf, Op: model.OpPropGt, Prop: "price", Value: json.RawMessage("1000"),
		}},
	})
	pipeline := solve.New(b.vengine, b.arts, time.Now)

	policies := solve.DefaultPolicies()
	policies.EmptySelection = solve.EmptySelectionFallback
	artifact, err := pipeline.Solve(b.ctx, solve.ResolutionContext{
		Database: b.db.ID, Branch: "main", Policies: policies, Force: true,
	})
	require.NoError(t, err)
	snap := findSnapshot(t, artifact, "bike1", "color")
	assert.Equal(t, []string{"blue", "red"}, snap.ResolvedIDs, "override matched nothing, default pool supplies candidates")
}
