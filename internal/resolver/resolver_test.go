package resolver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ourstudio-se/oat-db/internal/model"
)

func numLiteral(t *testing.T, n float64) model.Value {
	t.Helper()
	v, err := model.NewLiteral(model.TypeNumber, n)
	require.NoError(t, err)
	return v
}

func buildView(t *testing.T) *model.View {
	t.Helper()
	engine := model.ClassDefinition{
		ID:   "engine",
		Name: "Engine",
		Properties: []model.PropertyDefinition{
			{ID: "hp", Name: "horsepower", DataType: model.TypeNumber},
		},
	}
	car := model.ClassDefinition{
		ID:   "car",
		Name: "Car",
		Relationships: []model.RelationshipDefinition{
			{
				ID:            "engine_rel",
				Name:          "engine",
				TargetClasses: []string{"engine"},
				Quantifier:    model.Quantifier{Kind: model.QuantExactly, N: 1},
				SelectionMode: model.SelectionQuery,
				DefaultPool: model.DefaultPool{
					Mode: model.PoolFilter,
					Filter: &model.Filter{
						Where: &model.Where{
							Kind:  model.WhereLeaf,
							Op:    model.OpPropGte,
							Prop:  "horsepower",
							Value: json.RawMessage(`100`),
						},
						Sort: []model.SortSpec{{Prop: "horsepower", Dir: model.SortAsc}},
					},
				},
			},
		},
	}
	view := &model.View{
		Schema: model.Schema{Classes: []model.ClassDefinition{engine, car}},
		Instances: map[string]*model.Instance{
			"e1": {ID: "e1", ClassID: "engine", Properties: map[string]model.Value{"horsepower": numLiteral(t, 120)}},
			"e2": {ID: "e2", ClassID: "engine", Properties: map[string]model.Value{"horsepower": numLiteral(t, 80)}},
			"e3": {ID: "e3", ClassID: "engine", Properties: map[string]model.Value{"horsepower": numLiteral(t, 200)}},
			"c1": {ID: "c1", ClassID: "car", Relationships: map[string]model.RelationshipSelection{}},
		},
	}
	return view
}

func TestResolveDefaultPoolFiltersAndSorts(t *testing.T) {
	view := buildView(t)
	res := New(view)
	car := view.Instances["c1"]

	ids, err := res.Resolve(car, "engine")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e3"}, ids, "only horsepower>=100 survives, sorted ascending")
}

func TestResolveOverrideIdsBypassesPool(t *testing.T) {
	view := buildView(t)
	res := New(view)
	car := view.Instances["c1"]
	car.Relationships["engine"] = model.RelationshipSelection{Ids: []string{"e2"}}

	ids, err := res.Resolve(car, "engine")
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, ids, "explicit ids bypass the default pool filter entirely")
}

func TestResolveOverrideIdsMissingCandidateErrors(t *testing.T) {
	view := buildView(t)
	res := New(view)
	car := view.Instances["c1"]
	car.Relationships["engine"] = model.RelationshipSelection{Ids: []string{"does-not-exist"}}

	_, err := res.Resolve(car, "engine")
	assert.Error(t, err)
}

func TestResolveIsDeterministicAcrossCalls(t *testing.T) {
	view := buildView(t)
	res := New(view)
	car := view.Instances["c1"]

	first, err := res.Resolve(car, "engine")
	require.NoError(t, err)
	second, err := res.Resolve(car, "engine")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolvePoolNoneYieldsEmpty(t *testing.T) {
	view := buildView(t)
	car, _ := view.Schema.ClassByID("car")
	rel, _ := car.Relationship("engine")
	rel.DefaultPool = model.DefaultPool{Mode: model.PoolNone}

	res := New(view)
	ids, err := res.Resolve(view.Instances["c1"], "engine")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
