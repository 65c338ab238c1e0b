package pgstore

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ourstudio-se/oat-db/internal/model"
	"github.com/ourstudio-se/oat-db/internal/versioning"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")
	return New(sqlxDB, nil), mock
}

func TestDatabaseStoreGetMapsRowToDomainType(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	rows := sqlmock.NewRows([]string{"id", "name", "description", "default_branch_name", "created_at", "updated_at"}).
		AddRow("db1", "widgets", "a catalog", "main", now, now)
	mock.ExpectQuery("SELECT \\* FROM databases WHERE id = \\$1").
		WithArgs("db1").
		WillReturnRows(rows)

	got, err := store.VersioningStore().Databases.Get(context.Background(), "db1")
	require.NoError(t, err)
	assert.Equal(t, "widgets", got.Name)
	assert.Equal(t, "main", got.DefaultBranchName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseStoreGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT \\* FROM databases WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "default_branch_name", "created_at", "updated_at"}))

	_, err := store.VersioningStore().Databases.Get(context.Background(), "missing")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseStoreCreateInsertsAndCommits(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO databases").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	db := &versioning.Database{ID: "db1", Name: "widgets", DefaultBranchName: "main"}
	err := store.VersioningStore().Databases.Create(context.Background(), db)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBranchStoreGetMapsRowToDomainType(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	hash := "abc123"
	rows := sqlmock.NewRows([]string{
		"database_id", "name", "description", "current_commit_hash",
		"parent_branch_name", "status", "created_at", "updated_at",
	}).AddRow("db1", "main", "", hash, nil, "active", now, now)
	mock.ExpectQuery("SELECT \\* FROM branches WHERE database_id = \\$1 AND name = \\$2").
		WithArgs("db1", "main").
		WillReturnRows(rows)

	got, err := store.VersioningStore().Branches.Get(context.Background(), "db1", "main")
	require.NoError(t, err)
	assert.Equal(t, versioning.BranchActive, got.Status)
	require.NotNil(t, got.CurrentCommitHash)
	assert.Equal(t, hash, *got.CurrentCommitHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitStorePutCompressesPayload(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO commits").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), gzipArg{}, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	commit := &versioning.Commit{
		Hash:     "hash1",
		Database: "db1",
		Author:   "alice",
		Message:  "seed",
		Payload: model.View{
			Schema:    model.Schema{Classes: []model.ClassDefinition{{ID: "widget", Name: "Widget"}}},
			Instances: map[string]*model.Instance{},
		},
	}
	err := store.VersioningStore().Commits.Put(context.Background(), commit)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBranchStoreUpdateReturnsWrappedDriverError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE branches SET").WillReturnError(assertErr("connection refused"))

	err := store.VersioningStore().Branches.Update(context.Background(), &versioning.Branch{
		Database: "db1", Name: "main", Status: versioning.BranchActive,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update branch")
	require.NoError(t, mock.ExpectationsWereMet())
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

// gzipArg matches a bound argument that starts with the gzip magic bytes.
type gzipArg struct{}

func (gzipArg) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	return ok && len(b) > 2 && b[0] == 0x1f && b[1] == 0x8b
}
