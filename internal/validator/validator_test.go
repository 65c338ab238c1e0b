package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ourstudio-se/oat-db/internal/apperrors"
	"github.com/ourstudio-se/oat-db/internal/model"
)

func lit(t *testing.T, dt model.DataType, v any) model.Value {
	t.Helper()
	val, err := model.NewLiteral(dt, v)
	require.NoError(t, err)
	return val
}

func schemaView(t *testing.T) *model.View {
	t.Helper()
	wheel := model.ClassDefinition{
		ID:   "wheel",
		Name: "Wheel",
		Properties: []model.PropertyDefinition{
			{ID: "weight", Name: "weight", DataType: model.TypeNumber, Required: true},
		},
		DomainConstraint: &model.Domain{Lower: 0, Upper: 10},
	}
	car := model.ClassDefinition{
		ID:   "car",
		Name: "Car",
		Properties: []model.PropertyDefinition{
			{ID: "name", Name: "name", DataType: model.TypeString, Required: true},
		},
		Relationships: []model.RelationshipDefinition{
			{
				ID: "wheels_rel", Name: "wheels", TargetClasses: []string{"wheel"},
				Quantifier: model.Quantifier{Kind: model.QuantExactly, N: 4}, SelectionMode: model.SelectionManual,
				DefaultPool: model.DefaultPool{Mode: model.PoolNone},
			},
		},
	}
	return &model.View{
		Schema: model.Schema{Classes: []model.ClassDefinition{wheel, car}},
		Instances: map[string]*model.Instance{
			"w1": {ID: "w1", ClassID: "wheel", Properties: map[string]model.Value{"weight": lit(t, model.TypeNumber, 5.0)}},
			"w2": {ID: "w2", ClassID: "wheel", Properties: map[string]model.Value{"weight": lit(t, model.TypeNumber, 5.0)}},
			"w3": {ID: "w3", ClassID: "wheel", Properties: map[string]model.Value{"weight": lit(t, model.TypeNumber, 5.0)}},
			"w4": {ID: "w4", ClassID: "wheel", Properties: map[string]model.Value{"weight": lit(t, model.TypeNumber, 5.0)}},
			"c1": {
				ID: "c1", ClassID: "car",
				Properties:    map[string]model.Value{"name": lit(t, model.TypeString, "coupe")},
				Relationships: map[string]model.RelationshipSelection{"wheels": {Ids: []string{"w1", "w2", "w3", "w4"}}},
			},
		},
	}
}

func TestValidateCleanViewHasNoFindings(t *testing.T) {
	view := schemaView(t)
	res := New(view).Validate()
	assert.True(t, res.OK())
	assert.Empty(t, res.Warnings)
}

func TestValidateMissingRequiredProperty(t *testing.T) {
	view := schemaView(t)
	delete(view.Instances["c1"].Properties, "name")

	res := New(view).Validate()
	require.False(t, res.OK())
	assert.Contains(t, findingTypes(res.Errors), apperrors.MissingRequiredProperty)
}

func TestValidateTypeMismatch(t *testing.T) {
	view := schemaView(t)
	view.Instances["w1"].Properties["weight"] = lit(t, model.TypeString, "heavy")

	res := New(view).Validate()
	require.False(t, res.OK())
	assert.Contains(t, findingTypes(res.Errors), apperrors.TypeMismatch)
}

func TestValidateQuantifierViolation(t *testing.T) {
	view := schemaView(t)
	view.Instances["c1"].Relationships["wheels"] = model.RelationshipSelection{Ids: []string{"w1", "w2"}}

	res := New(view).Validate()
	require.False(t, res.OK())
	assert.Contains(t, findingTypes(res.Errors), apperrors.QuantifierViolation)
}

func TestValidateAnyQuantifierIsWarningOnly(t *testing.T) {
	view := schemaView(t)
	car, _ := view.Schema.ClassByID("car")
	car.Relationships[0].Quantifier = model.Quantifier{Kind: model.QuantAny}
	view.Instances["c1"].Relationships["wheels"] = model.RelationshipSelection{Ids: []string{}}

	res := New(view).Validate()
	assert.True(t, res.OK(), "any quantifier never produces a fatal error")
	assert.Contains(t, findingTypes(res.Warnings), WarningQuantifierUnchecked)
}

func TestValidateDomainConflict(t *testing.T) {
	view := schemaView(t)
	view.Instances["w1"].DomainOverride = &model.Domain{Lower: 20, Upper: 30}

	res := New(view).Validate()
	require.False(t, res.OK())
	assert.Contains(t, findingTypes(res.Errors), apperrors.DomainConflict)
}

func TestValidateUndefinedPropertyRejected(t *testing.T) {
	view := schemaView(t)
	view.Instances["c1"].Properties["bogus"] = lit(t, model.TypeString, "x")

	res := New(view).Validate()
	require.False(t, res.OK())
	assert.Contains(t, findingTypes(res.Errors), apperrors.UndefinedProperty)
}

func findingTypes(findings []Finding) []apperrors.Type {
	out := make([]apperrors.Type, len(findings))
	for i, f := range findings {
		out[i] = f.Type
	}
	return out
}

func TestAddingUnrelatedClassKeepsOtherInstancesValid(t *testing.T) {
	view := schemaView(t)
	before := New(view).Validate()
	require.True(t, before.OK())

	view.Schema.Classes = append(view.Schema.Classes, model.ClassDefinition{
		ID: "gadget", Name: "Gadget", Properties: []model.PropertyDefinition{
			{ID: "serial", Name: "serial", DataType: model.TypeString, Required: true},
		},
	})

	after := New(view).Validate()
	assert.True(t, after.OK(), "a new class must not invalidate instances of other classes")
}
