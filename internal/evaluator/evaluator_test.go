package evaluator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ourstudio-se/oat-db/internal/model"
)

func lit(t *testing.T, dt model.DataType, v any) model.Value {
	t.Helper()
	val, err := model.NewLiteral(dt, v)
	require.NoError(t, err)
	return val
}

func baseView(t *testing.T) (*model.View, *model.ClassDefinition) {
	t.Helper()
	wheel := model.ClassDefinition{
		ID:   "wheel",
		Name: "Wheel",
		Properties: []model.PropertyDefinition{
			{ID: "weight", Name: "weight", DataType: model.TypeNumber},
		},
	}
	car := model.ClassDefinition{
		ID:   "car",
		Name: "Car",
		Properties: []model.PropertyDefinition{
			{ID: "base_weight", Name: "base_weight", DataType: model.TypeNumber},
		},
		Relationships: []model.RelationshipDefinition{
			{
				ID:            "wheels_rel",
				Name:          "wheels",
				TargetClasses: []string{"wheel"},
				Quantifier:    model.Quantifier{Kind: model.QuantExactly, N: 4},
				SelectionMode: model.SelectionManual,
				DefaultPool:   model.DefaultPool{Mode: model.PoolNone},
			},
		},
		Derived: []model.DerivedDefinition{
			{
				ID:       "total_weight",
				Name:     "total_weight",
				DataType: model.TypeNumber,
				Expression: model.Expression{
					Kind: model.ExprAdd,
					Left: &model.Expression{Kind: model.ExprProp, Prop: "base_weight"},
					Right: &model.Expression{
						Kind: model.ExprSum, Over: "wheels", AggProp: "weight",
					},
				},
			},
		},
	}
	view := &model.View{
		Schema: model.Schema{Classes: []model.ClassDefinition{wheel, car}},
		Instances: map[string]*model.Instance{
			"w1": {ID: "w1", ClassID: "wheel", Properties: map[string]model.Value{"weight": lit(t, model.TypeNumber, 10.0)}},
			"w2": {ID: "w2", ClassID: "wheel", Properties: map[string]model.Value{"weight": lit(t, model.TypeNumber, 12.0)}},
			"c1": {
				ID: "c1", ClassID: "car",
				Properties:    map[string]model.Value{"base_weight": lit(t, model.TypeNumber, 1000.0)},
				Relationships: map[string]model.RelationshipSelection{"wheels": {Ids: []string{"w1", "w2"}}},
			},
		},
	}
	carClass, _ := view.Schema.ClassByID("car")
	return view, carClass
}

func TestEvaluateDerivedSumsAggregateAndAdds(t *testing.T) {
	view, carClass := baseView(t)
	eval := New(view)
	def, ok := carClass.DerivedByName("total_weight")
	require.True(t, ok)

	got, err := eval.EvaluateDerived(view.Instances["c1"], "total_weight", &def.Expression)
	require.NoError(t, err)
	assert.Equal(t, 1022.0, got)
}

func TestEvaluateDerivedDetectsCycle(t *testing.T) {
	view, carClass := baseView(t)
	cyclic := model.DerivedDefinition{
		ID:       "cyclic",
		Name:     "cyclic",
		DataType: model.TypeNumber,
		Expression: model.Expression{
			Kind: model.ExprProp,
			Prop: "cyclic",
		},
	}
	carClass.Derived = append(carClass.Derived, cyclic)

	eval := New(view)
	_, err := eval.EvaluateDerived(view.Instances["c1"], "cyclic", &cyclic.Expression)
	assert.Error(t, err)
}

func TestEvaluateConditionalFirstMatchWins(t *testing.T) {
	view, carClass := baseView(t)
	carClass.Relationships[0].DefaultPool = model.DefaultPool{Mode: model.PoolNone}

	value := model.Value{
		Kind: model.KindConditional,
		Rules: []model.ConditionalRule{
			{
				When: model.Condition{Kind: model.CondHas, Rel: "wheels"},
				Then: json.RawMessage(`"has-wheels"`),
			},
			{
				When: model.Condition{Kind: model.CondHas, Rel: "wheels", Ids: []string{"w1"}},
				Then: json.RawMessage(`"has-w1"`),
			},
		},
		Default: json.RawMessage(`"no-wheels"`),
	}

	eval := New(view)
	prop := model.PropertyDefinition{Name: "status", DataType: model.TypeString}

	got, err := eval.EvaluateConditional(view.Instances["c1"], prop, value)
	require.NoError(t, err)
	assert.JSONEq(t, `"has-wheels"`, string(got))
}

func TestEvaluateConditionalFallsBackToDefault(t *testing.T) {
	view, _ := baseView(t)
	view.Instances["c1"].Relationships["wheels"] = model.RelationshipSelection{Ids: []string{}}

	value := model.Value{
		Kind: model.KindConditional,
		Rules: []model.ConditionalRule{
			{
				When: model.Condition{Kind: model.CondHas, Rel: "wheels"},
				Then: json.RawMessage(`"has-wheels"`),
			},
		},
		Default: json.RawMessage(`"no-wheels"`),
	}

	eval := New(view)
	prop := model.PropertyDefinition{Name: "status", DataType: model.TypeString}
	got, err := eval.EvaluateConditional(view.Instances["c1"], prop, value)
	require.NoError(t, err)
	assert.JSONEq(t, `"no-wheels"`, string(got))
}

func TestEvaluateConditionalRejectsNonConditionalValue(t *testing.T) {
	view, _ := baseView(t)
	eval := New(view)
	prop := model.PropertyDefinition{Name: "base_weight", DataType: model.TypeNumber}
	_, err := eval.EvaluateConditional(view.Instances["c1"], prop, lit(t, model.TypeNumber, 5.0))
	assert.Error(t, err)
}

func TestEvaluateDerivedDivisionByZero(t *testing.T) {
	view, carClass := baseView(t)
	div := model.DerivedDefinition{
		ID: "ratio", Name: "ratio", DataType: model.TypeNumber,
		Expression: model.Expression{
			Kind: model.ExprDiv,
			Left: &model.Expression{Kind: model.ExprLiteral, Value: json.RawMessage(`1`)},
			Right: &model.Expression{Kind: model.ExprLiteral, Value: json.RawMessage(`0`)},
		},
	}
	carClass.Derived = append(carClass.Derived, div)
	eval := New(view)
	_, err := eval.EvaluateDerived(view.Instances["c1"], "ratio", &div.Expression)
	assert.Error(t, err)
}
