package versioning_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ourstudio-se/oat-db/internal/model"
	"github.com/ourstudio-se/oat-db/internal/store/memstore"
	"github.com/ourstudio-se/oat-db/internal/versioning"
)

func newEngine() *versioning.Engine {
	store := memstore.New().VersioningStore()
	return versioning.New(store, nil)
}

func TestCreateDatabaseProvisionsMainBranch(t *testing.T) {
	ctx := context.Background()
	eng := newEngine()

	db, err := eng.CreateDatabase(ctx, "widgets", "a widget catalog")
	require.NoError(t, err)
	assert.Equal(t, "main", db.DefaultBranchName)

	view, err := eng.ResolveView(ctx, db.ID, versioning.Ref{Branch: "main"})
	require.NoError(t, err)
	assert.Empty(t, view.Instances)
}

func TestStageCommitAndResolveRoundTrips(t *testing.T) {
	ctx := context.Background()
	eng := newEngine()
	db, err := eng.CreateDatabase(ctx, "widgets", "")
	require.NoError(t, err)

	wc, err := eng.OpenWorkingCommit(ctx, db.ID, "main", "alice")
	require.NoError(t, err)

	class := model.ClassDefinition{ID: "widget", Name: "Widget"}
	_, err = eng.StageChange(ctx, wc.ID, versioning.Delta{ReplaceClass: &class})
	require.NoError(t, err)

	inst := &model.Instance{ID: "w1", ClassID: "widget", Properties: map[string]model.Value{}}
	_, err = eng.StageChange(ctx, wc.ID, versioning.Delta{AddInstance: inst})
	require.NoError(t, err)

	commit, err := eng.Commit(ctx, wc.ID, "add widget class and instance")
	require.NoError(t, err)
	assert.NotEmpty(t, commit.Hash)
	assert.Nil(t, commit.ParentHash)

	view, err := eng.ResolveView(ctx, db.ID, versioning.Ref{Branch: "main"})
	require.NoError(t, err)
	assert.Len(t, view.Schema.Classes, 1)
	assert.Contains(t, view.Instances, "w1")
}

func TestCommitChainsParentHashes(t *testing.T) {
	ctx := context.Background()
	eng := newEngine()
	db, err := eng.CreateDatabase(ctx, "widgets", "")
	require.NoError(t, err)

	wc1, err := eng.OpenWorkingCommit(ctx, db.ID, "main", "alice")
	require.NoError(t, err)
	class := model.ClassDefinition{ID: "widget", Name: "Widget"}
	_, err = eng.StageChange(ctx, wc1.ID, versioning.Delta{ReplaceClass: &class})
	require.NoError(t, err)
	first, err := eng.Commit(ctx, wc1.ID, "first")
	require.NoError(t, err)

	wc2, err := eng.OpenWorkingCommit(ctx, db.ID, "main", "bob")
	require.NoError(t, err)
	class.Description = "updated"
	_, err = eng.StageChange(ctx, wc2.ID, versioning.Delta{ReplaceClass: &class})
	require.NoError(t, err)
	second, err := eng.Commit(ctx, wc2.ID, "second")
	require.NoError(t, err)

	require.NotNil(t, second.ParentHash)
	assert.Equal(t, first.Hash, *second.ParentHash)
}

func TestOpenWorkingCommitReturnsExistingActive(t *testing.T) {
	ctx := context.Background()
	eng := newEngine()
	db, err := eng.CreateDatabase(ctx, "widgets", "")
	require.NoError(t, err)

	first, err := eng.OpenWorkingCommit(ctx, db.ID, "main", "alice")
	require.NoError(t, err)
	second, err := eng.OpenWorkingCommit(ctx, db.ID, "main", "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestAbandonDropsDraftWithoutTouchingBranch(t *testing.T) {
	ctx := context.Background()
	eng := newEngine()
	db, err := eng.CreateDatabase(ctx, "widgets", "")
	require.NoError(t, err)

	wc, err := eng.OpenWorkingCommit(ctx, db.ID, "main", "alice")
	require.NoError(t, err)
	require.NoError(t, eng.Abandon(ctx, wc.ID))

	_, err = eng.OpenWorkingCommit(ctx, db.ID, "main", "alice")
	assert.NoError(t, err, "branch remains open for a new working commit after abandon")
}

func TestTagCommitRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	eng := newEngine()
	db, err := eng.CreateDatabase(ctx, "widgets", "")
	require.NoError(t, err)
	wc, err := eng.OpenWorkingCommit(ctx, db.ID, "main", "alice")
	require.NoError(t, err)
	class := model.ClassDefinition{ID: "widget", Name: "Widget"}
	_, err = eng.StageChange(ctx, wc.ID, versioning.Delta{ReplaceClass: &class})
	require.NoError(t, err)
	commit, err := eng.Commit(ctx, wc.ID, "first")
	require.NoError(t, err)

	tag := &versioning.CommitTag{CommitHash: commit.Hash, Name: "v1"}
	require.NoError(t, eng.TagCommit(ctx, tag))
	err = eng.TagCommit(ctx, &versioning.CommitTag{CommitHash: commit.Hash, Name: "v1"})
	assert.Error(t, err)
}
