package versioning_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ourstudio-se/oat-db/internal/model"
	"github.com/ourstudio-se/oat-db/internal/versioning"
)

func stageWidgetPayload(t *testing.T, eng *versioning.Engine, dbID string) string {
	t.Helper()
	ctx := context.Background()
	wc, err := eng.OpenWorkingCommit(ctx, dbID, "main", "alice")
	require.NoError(t, err)

	class := model.ClassDefinition{ID: "widget", Name: "Widget", Properties: []model.PropertyDefinition{
		{ID: "price", Name: "price", DataType: model.TypeNumber},
		{ID: "name", Name: "name", DataType: model.TypeString},
	}}
	_, err = eng.StageChange(ctx, wc.ID, versioning.Delta{ReplaceClass: &class})
	require.NoError(t, err)

	price, err := model.NewLiteral(model.TypeNumber, 12.5)
	require.NoError(t, err)
	_, err = eng.StageChange(ctx, wc.ID, versioning.Delta{AddInstance: &model.Instance{
		ID: "w1", ClassID: "widget", Properties: map[string]model.Value{"price": price},
	}})
	require.NoError(t, err)

	commit, err := eng.Commit(ctx, wc.ID, "seed")
	require.NoError(t, err)
	return commit.Hash
}

func TestCommitHashIsDeterministicAcrossDatabases(t *testing.T) {
	ctx := context.Background()

	engA := newEngine()
	dbA, err := engA.CreateDatabase(ctx, "a", "")
	require.NoError(t, err)
	engB := newEngine()
	dbB, err := engB.CreateDatabase(ctx, "b", "")
	require.NoError(t, err)

	hashA := stageWidgetPayload(t, engA, dbA.ID)
	hashB := stageWidgetPayload(t, engB, dbB.ID)

	assert.Equal(t, hashA, hashB)
	assert.Len(t, hashA, 64)
}

func TestCanonicalizeIsOrderInsensitive(t *testing.T) {
	classA := model.ClassDefinition{ID: "a", Name: "A", Properties: []model.PropertyDefinition{
		{ID: "p1", Name: "p1", DataType: model.TypeString},
		{ID: "p2", Name: "p2", DataType: model.TypeNumber},
	}}
	classB := model.ClassDefinition{ID: "b", Name: "B"}

	ordered := &model.View{
		Schema:    model.Schema{Classes: []model.ClassDefinition{classA, classB}},
		Instances: map[string]*model.Instance{},
	}
	shuffledA := classA
	shuffledA.Properties = []model.PropertyDefinition{classA.Properties[1], classA.Properties[0]}
	shuffled := &model.View{
		Schema:    model.Schema{Classes: []model.ClassDefinition{classB, shuffledA}},
		Instances: map[string]*model.Instance{},
	}

	c1, err := versioning.Canonicalize(ordered)
	require.NoError(t, err)
	c2, err := versioning.Canonicalize(shuffled)
	require.NoError(t, err)
	assert.Equal(t, string(c1), string(c2))
}

func TestHashDependsOnParentAuthorAndMessage(t *testing.T) {
	payload := []byte(`{"classes":[],"instances":[]}`)
	parent := "abc"

	base := versioning.ComputeHash(versioning.HashInputs{Author: "alice", Message: "m", Payload: payload})
	withParent := versioning.ComputeHash(versioning.HashInputs{ParentHash: &parent, Author: "alice", Message: "m", Payload: payload})
	otherAuthor := versioning.ComputeHash(versioning.HashInputs{Author: "bob", Message: "m", Payload: payload})
	otherMessage := versioning.ComputeHash(versioning.HashInputs{Author: "alice", Message: "n", Payload: payload})

	assert.NotEqual(t, base, withParent)
	assert.NotEqual(t, base, otherAuthor)
	assert.NotEqual(t, base, otherMessage)
}

func TestCompressedPayloadRoundTripsAtClaimedSize(t *testing.T) {
	canonical := []byte(`{"classes":[{"id":"widget"}],"instances":[]}`)
	compressed, err := versioning.CompressPayload(canonical)
	require.NoError(t, err)

	restored, err := versioning.DecompressPayload(compressed, int64(len(canonical)))
	require.NoError(t, err)
	assert.Equal(t, canonical, restored)
}

func TestDecompressRejectsWrongClaimedSize(t *testing.T) {
	canonical := []byte(`{"classes":[],"instances":[]}`)
	compressed, err := versioning.CompressPayload(canonical)
	require.NoError(t, err)

	_, err = versioning.DecompressPayload(compressed, int64(len(canonical))+1)
	assert.Error(t, err)
}

func TestViewIsolationFromWorkingCommit(t *testing.T) {
	ctx := context.Background()
	eng := newEngine()
	db, err := eng.CreateDatabase(ctx, "widgets", "")
	require.NoError(t, err)
	hash := stageWidgetPayload(t, eng, db.ID)

	// Open a draft and mutate it; the committed view must not change.
	wc, err := eng.OpenWorkingCommit(ctx, db.ID, "main", "bob")
	require.NoError(t, err)
	_, err = eng.StageChange(ctx, wc.ID, versioning.Delta{RemoveInstance: "w1"})
	require.NoError(t, err)

	committed, err := eng.ResolveView(ctx, db.ID, versioning.Ref{CommitHash: hash})
	require.NoError(t, err)
	_, ok := committed.Instance("w1")
	assert.True(t, ok)
}

func TestStagingSameDeltaTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	eng := newEngine()
	db, err := eng.CreateDatabase(ctx, "widgets", "")
	require.NoError(t, err)

	wc, err := eng.OpenWorkingCommit(ctx, db.ID, "main", "alice")
	require.NoError(t, err)

	class := model.ClassDefinition{ID: "widget", Name: "Widget"}
	_, err = eng.StageChange(ctx, wc.ID, versioning.Delta{ReplaceClass: &class})
	require.NoError(t, err)
	after, err := eng.StageChange(ctx, wc.ID, versioning.Delta{ReplaceClass: &class})
	require.NoError(t, err)

	assert.Len(t, after.SchemaDraft.Classes, 1)
}
