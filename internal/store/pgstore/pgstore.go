// Package pgstore is the PostgreSQL-backed implementation of the
// versioning and solve store interfaces (spec.md §6 "Persisted store
// layout"). The heavier version-control tables (databases, branches,
// commits, working_commits) use raw sqlx in the teacher's
// BeginTxx/NamedExecContext/pkg-errors-Wrap idiom; the simpler append-only
// tables (commit_tags, artifacts) use gorm+datatypes.JSON, grounded on the
// AQL executor's gorm usage.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ourstudio-se/oat-db/internal/apperrors"
	"github.com/ourstudio-se/oat-db/internal/model"
	"github.com/ourstudio-se/oat-db/internal/solve"
	"github.com/ourstudio-se/oat-db/internal/versioning"
)

// Store wires a *sqlx.DB (version-control tables) and a *gorm.DB
// (tags/artifacts) against the same underlying Postgres connection.
type Store struct {
	sqlx *sqlx.DB
	gorm *gorm.DB
}

// New builds a pgstore.Store. gormDB should be opened against the same DSN
// as sqlxDB (e.g. via gorm's postgres driver wrapping the same *sql.DB).
func New(sqlxDB *sqlx.DB, gormDB *gorm.DB) *Store {
	return &Store{sqlx: sqlxDB, gorm: gormDB}
}

// VersioningStore builds a versioning.Store from this pgstore.
func (s *Store) VersioningStore() versioning.Store {
	return versioning.Store{
		Databases:      (*databaseStore)(s),
		Branches:       (*branchStore)(s),
		Commits:        (*commitStore)(s),
		WorkingCommits: (*workingCommitStore)(s),
		Tags:           (*tagStore)(s),
	}
}

// ArtifactStore builds a solve.ArtifactStore from this pgstore.
func (s *Store) ArtifactStore() solve.ArtifactStore {
	return (*artifactStore)(s)
}

type databaseStore Store

func (s *databaseStore) Create(ctx context.Context, db *versioning.Database) error {
	tx, err := s.sqlx.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO databases (
			id, name, description, default_branch_name, created_at, updated_at
		) VALUES (
			:id, :name, :description, :default_branch_name, :created_at, :updated_at
		)
	`, db)
	if err != nil {
		return errors.Wrap(err, "insert database")
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

func (s *databaseStore) Get(ctx context.Context, id string) (*versioning.Database, error) {
	var db versioning.Database
	err := s.sqlx.GetContext(ctx, &db, "SELECT * FROM databases WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.DatabaseNotFound, "database %q not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get database")
	}
	return &db, nil
}

func (s *databaseStore) List(ctx context.Context) ([]*versioning.Database, error) {
	var out []*versioning.Database
	if err := s.sqlx.SelectContext(ctx, &out, "SELECT * FROM databases ORDER BY created_at"); err != nil {
		return nil, errors.Wrap(err, "list databases")
	}
	return out, nil
}

func (s *databaseStore) Delete(ctx context.Context, id string) error {
	_, err := s.sqlx.ExecContext(ctx, "DELETE FROM databases WHERE id = $1", id)
	return errors.Wrap(err, "delete database")
}

type branchStore Store

func (s *branchStore) Create(ctx context.Context, b *versioning.Branch) error {
	_, err := s.sqlx.NamedExecContext(ctx, `
		INSERT INTO branches (
			database_id, name, description, current_commit_hash,
			parent_branch_name, status, created_at, updated_at
		) VALUES (
			:database_id, :name, :description, :current_commit_hash,
			:parent_branch_name, :status, :created_at, :updated_at
		)
	`, b)
	return errors.Wrap(err, "insert branch")
}

func (s *branchStore) Get(ctx context.Context, database, name string) (*versioning.Branch, error) {
	var b versioning.Branch
	err := s.sqlx.GetContext(ctx, &b,
		"SELECT * FROM branches WHERE database_id = $1 AND name = $2", database, name)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.BranchNotFound, "branch %q not found", name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get branch")
	}
	return &b, nil
}

func (s *branchStore) List(ctx context.Context, database string) ([]*versioning.Branch, error) {
	var out []*versioning.Branch
	err := s.sqlx.SelectContext(ctx, &out,
		"SELECT * FROM branches WHERE database_id = $1 ORDER BY created_at", database)
	return out, errors.Wrap(err, "list branches")
}

func (s *branchStore) Update(ctx context.Context, b *versioning.Branch) error {
	_, err := s.sqlx.NamedExecContext(ctx, `
		UPDATE branches SET
			description = :description,
			current_commit_hash = :current_commit_hash,
			parent_branch_name = :parent_branch_name,
			status = :status,
			updated_at = :updated_at
		WHERE database_id = :database_id AND name = :name
	`, b)
	return errors.Wrap(err, "update branch")
}

func (s *branchStore) Delete(ctx context.Context, database, name string) error {
	_, err := s.sqlx.ExecContext(ctx,
		"DELETE FROM branches WHERE database_id = $1 AND name = $2", database, name)
	return errors.Wrap(err, "delete branch")
}

type commitStore Store

// commitRow is the sqlx-scanned row shape; the payload is stored
// gzip-compressed and reinflated by versioning.DecompressPayload at the
// call site (spec.md §4.1 "Payload storage").
type commitRow struct {
	Hash          string  `db:"hash"`
	Database      string  `db:"database_id"`
	ParentHash    *string `db:"parent_hash"`
	Author        string  `db:"author"`
	Message       string  `db:"message"`
	CreatedAt     any     `db:"created_at"`
	CompressedPayload []byte `db:"compressed_payload"`
	DataSize      int64 `db:"data_size"`
	ClassCount    int   `db:"schema_classes_count"`
	InstanceCount int   `db:"instances_count"`
}

func (s *commitStore) Put(ctx context.Context, c *versioning.Commit) error {
	canonical, err := versioning.Canonicalize(&c.Payload)
	if err != nil {
		return errors.Wrap(err, "canonicalize commit payload")
	}
	compressed, err := versioning.CompressPayload(canonical)
	if err != nil {
		return errors.Wrap(err, "compress commit payload")
	}
	row := commitRow{
		Hash: c.Hash, Database: c.Database, ParentHash: c.ParentHash,
		Author: c.Author, Message: c.Message, CreatedAt: c.CreatedAt,
		CompressedPayload: compressed, DataSize: c.DataSize,
		ClassCount: c.ClassCount, InstanceCount: c.InstanceCount,
	}
	_, err = s.sqlx.NamedExecContext(ctx, `
		INSERT INTO commits (
			hash, database_id, parent_hash, author, message, created_at,
			compressed_payload, data_size, schema_classes_count, instances_count
		) VALUES (
			:hash, :database_id, :parent_hash, :author, :message, :created_at,
			:compressed_payload, :data_size, :schema_classes_count, :instances_count
		)
	`, row)
	return errors.Wrap(err, "insert commit")
}

func (s *commitStore) Get(ctx context.Context, database, hash string) (*versioning.Commit, error) {
	var row commitRow
	err := s.sqlx.GetContext(ctx, &row,
		"SELECT * FROM commits WHERE database_id = $1 AND hash = $2", database, hash)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.CommitNotFound, "commit %q not found", hash)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get commit")
	}
	raw, err := versioning.DecompressPayload(row.CompressedPayload, row.DataSize)
	if err != nil {
		return nil, errors.Wrap(err, "decompress commit payload")
	}
	var canonical struct {
		Classes   []model.ClassDefinition `json:"classes"`
		Instances []*model.Instance       `json:"instances"`
	}
	if err := json.Unmarshal(raw, &canonical); err != nil {
		return nil, errors.Wrap(err, "unmarshal commit payload")
	}
	payload := versioning.CommitPayload{Schema: model.Schema{Classes: canonical.Classes}, Instances: make(map[string]*model.Instance, len(canonical.Instances))}
	for _, inst := range canonical.Instances {
		payload.Instances[inst.ID] = inst
	}
	return &versioning.Commit{
		Hash: row.Hash, Database: row.Database, ParentHash: row.ParentHash,
		Author: row.Author, Message: row.Message, Payload: payload,
		DataSize: row.DataSize, ClassCount: row.ClassCount, InstanceCount: row.InstanceCount,
	}, nil
}

// List returns a database's commits newest-first. Payloads stay
// compressed in the store; listing only surfaces metadata, so the rows
// are returned with an empty Payload and the recorded sizes/counts.
func (s *commitStore) List(ctx context.Context, database string) ([]*versioning.Commit, error) {
	var rows []commitRow
	err := s.sqlx.SelectContext(ctx, &rows, `
		SELECT hash, database_id, parent_hash, author, message, created_at,
		       ''::bytea AS compressed_payload, data_size,
		       schema_classes_count, instances_count
		FROM commits WHERE database_id = $1 ORDER BY created_at DESC, hash
	`, database)
	if err != nil {
		return nil, errors.Wrap(err, "list commits")
	}
	out := make([]*versioning.Commit, 0, len(rows))
	for _, row := range rows {
		out = append(out, &versioning.Commit{
			Hash: row.Hash, Database: row.Database, ParentHash: row.ParentHash,
			Author: row.Author, Message: row.Message,
			DataSize: row.DataSize, ClassCount: row.ClassCount, InstanceCount: row.InstanceCount,
		})
	}
	return out, nil
}

// Parents returns the immediate parent commit in a slice of at most one,
// following the teacher's recursive-CTE idiom but via a single lookup
// since our Commit carries only its direct parent hash.
func (s *commitStore) Parents(ctx context.Context, database, hash string) ([]*versioning.Commit, error) {
	c, err := s.Get(ctx, database, hash)
	if err != nil || c.ParentHash == nil {
		return nil, nil
	}
	parent, err := s.Get(ctx, database, *c.ParentHash)
	if err != nil {
		return nil, nil
	}
	return []*versioning.Commit{parent}, nil
}

type workingCommitStore Store

type workingCommitRow struct {
	ID             string  `db:"id"`
	Database       string  `db:"database_id"`
	Branch         string  `db:"branch_name"`
	BasedOnHash    *string `db:"based_on_hash"`
	Author         string  `db:"author"`
	SchemaDraft    []byte  `db:"schema_draft"`
	InstancesDraft []byte  `db:"instances_draft"`
	Status         string  `db:"status"`
	CreatedAt      any     `db:"created_at"`
	UpdatedAt      any     `db:"updated_at"`
}

func (s *workingCommitStore) Create(ctx context.Context, wc *versioning.WorkingCommit) error {
	row, err := toWorkingCommitRow(wc)
	if err != nil {
		return err
	}
	tx, err := s.sqlx.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	var count int
	if err := tx.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM working_commits
		WHERE database_id = $1 AND branch_name = $2 AND status IN ('active', 'committing', 'merging', 'rebasing')
	`, wc.Database, wc.Branch); err != nil {
		return errors.Wrap(err, "check existing working commit")
	}
	if count > 0 {
		return apperrors.New(apperrors.WorkingCommitExists, "a working commit is already active on this branch")
	}

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO working_commits (
			id, database_id, branch_name, based_on_hash, author,
			schema_draft, instances_draft, status, created_at, updated_at
		) VALUES (
			:id, :database_id, :branch_name, :based_on_hash, :author,
			:schema_draft, :instances_draft, :status, :created_at, :updated_at
		)
	`, row); err != nil {
		return errors.Wrap(err, "insert working commit")
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

func (s *workingCommitStore) Get(ctx context.Context, id string) (*versioning.WorkingCommit, error) {
	var row workingCommitRow
	err := s.sqlx.GetContext(ctx, &row, "SELECT * FROM working_commits WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.WorkingCommitMissing, "working commit %q not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get working commit")
	}
	return fromWorkingCommitRow(&row)
}

func (s *workingCommitStore) GetActive(ctx context.Context, database, branch string) (*versioning.WorkingCommit, error) {
	var row workingCommitRow
	err := s.sqlx.GetContext(ctx, &row, `
		SELECT * FROM working_commits
		WHERE database_id = $1 AND branch_name = $2 AND status IN ('active', 'committing', 'merging', 'rebasing')
		ORDER BY created_at DESC LIMIT 1
	`, database, branch)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.WorkingCommitMissing, "no active working commit on this branch")
	}
	if err != nil {
		return nil, errors.Wrap(err, "get active working commit")
	}
	return fromWorkingCommitRow(&row)
}

func (s *workingCommitStore) Update(ctx context.Context, wc *versioning.WorkingCommit) error {
	row, err := toWorkingCommitRow(wc)
	if err != nil {
		return err
	}
	_, err = s.sqlx.NamedExecContext(ctx, `
		UPDATE working_commits SET
			schema_draft = :schema_draft,
			instances_draft = :instances_draft,
			status = :status,
			updated_at = :updated_at
		WHERE id = :id
	`, row)
	return errors.Wrap(err, "update working commit")
}

func (s *workingCommitStore) Delete(ctx context.Context, id string) error {
	_, err := s.sqlx.ExecContext(ctx, "DELETE FROM working_commits WHERE id = $1", id)
	return errors.Wrap(err, "delete working commit")
}

func toWorkingCommitRow(wc *versioning.WorkingCommit) (*workingCommitRow, error) {
	schemaJSON, err := json.Marshal(wc.SchemaDraft)
	if err != nil {
		return nil, errors.Wrap(err, "marshal schema draft")
	}
	instancesJSON, err := json.Marshal(wc.InstancesDraft)
	if err != nil {
		return nil, errors.Wrap(err, "marshal instances draft")
	}
	return &workingCommitRow{
		ID: wc.ID, Database: wc.Database, Branch: wc.Branch, BasedOnHash: wc.BasedOnHash,
		Author: wc.Author, SchemaDraft: schemaJSON, InstancesDraft: instancesJSON,
		Status: string(wc.Status), CreatedAt: wc.CreatedAt, UpdatedAt: wc.UpdatedAt,
	}, nil
}

func fromWorkingCommitRow(row *workingCommitRow) (*versioning.WorkingCommit, error) {
	wc := &versioning.WorkingCommit{
		ID: row.ID, Database: row.Database, Branch: row.Branch, BasedOnHash: row.BasedOnHash,
		Author: row.Author, Status: versioning.WorkingCommitStatus(row.Status),
	}
	if err := json.Unmarshal(row.SchemaDraft, &wc.SchemaDraft); err != nil {
		return nil, errors.Wrap(err, "unmarshal schema draft")
	}
	if err := json.Unmarshal(row.InstancesDraft, &wc.InstancesDraft); err != nil {
		return nil, errors.Wrap(err, "unmarshal instances draft")
	}
	return wc, nil
}

// gormCommitTag is the gorm-mapped row for commit_tags (spec.md §6.2),
// using datatypes.JSON for the free-form metadata column.
type gormCommitTag struct {
	CommitHash  string         `gorm:"column:commit_hash;primaryKey"`
	Name        string         `gorm:"column:tag_name;primaryKey"`
	Type        string         `gorm:"column:tag_type"`
	Description string         `gorm:"column:tag_description"`
	CreatedBy   string         `gorm:"column:created_by"`
	Metadata    datatypes.JSON `gorm:"column:metadata"`
	CreatedAt   any            `gorm:"column:created_at"`
}

func (gormCommitTag) TableName() string { return "commit_tags" }

type tagStore Store

func (s *tagStore) Create(ctx context.Context, t *versioning.CommitTag) error {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return errors.Wrap(err, "marshal tag metadata")
	}
	row := gormCommitTag{
		CommitHash: t.CommitHash, Name: t.Name, Type: string(t.Type),
		Description: t.Description, CreatedBy: t.CreatedBy,
		Metadata: datatypes.JSON(meta), CreatedAt: t.CreatedAt,
	}
	return errors.Wrap(s.gorm.WithContext(ctx).Create(&row).Error, "insert commit tag")
}

func (s *tagStore) Get(ctx context.Context, commitHash, name string) (*versioning.CommitTag, error) {
	var row gormCommitTag
	err := s.gorm.WithContext(ctx).
		Where("commit_hash = ? AND tag_name = ?", commitHash, name).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperrors.Newf(apperrors.TagNotFound, "tag %q not found", name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get commit tag")
	}
	return fromGormCommitTag(&row)
}

func (s *tagStore) List(ctx context.Context, commitHash string) ([]*versioning.CommitTag, error) {
	var rows []gormCommitTag
	if err := s.gorm.WithContext(ctx).Where("commit_hash = ?", commitHash).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list commit tags")
	}
	out := make([]*versioning.CommitTag, 0, len(rows))
	for i := range rows {
		t, err := fromGormCommitTag(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *tagStore) Delete(ctx context.Context, commitHash, name string) error {
	return errors.Wrap(s.gorm.WithContext(ctx).
		Where("commit_hash = ? AND tag_name = ?", commitHash, name).
		Delete(&gormCommitTag{}).Error, "delete commit tag")
}

func fromGormCommitTag(row *gormCommitTag) (*versioning.CommitTag, error) {
	var meta map[string]any
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &meta); err != nil {
			return nil, errors.Wrap(err, "unmarshal tag metadata")
		}
	}
	return &versioning.CommitTag{
		CommitHash: row.CommitHash, Name: row.Name, Type: versioning.TagType(row.Type),
		Description: row.Description, CreatedBy: row.CreatedBy, Metadata: meta,
	}, nil
}

// gormArtifact is the gorm-mapped row for artifacts (spec.md §6.2).
type gormArtifact struct {
	ID       string         `gorm:"column:id;primaryKey"`
	Database string         `gorm:"column:database_id"`
	Payload  datatypes.JSON `gorm:"column:payload"`
	CreatedAt any           `gorm:"column:created_at"`
}

func (gormArtifact) TableName() string { return "artifacts" }

type artifactStore Store

func (s *artifactStore) Put(ctx context.Context, a *solve.Artifact) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "marshal artifact")
	}
	row := gormArtifact{
		ID: a.ID, Database: a.ResolutionContext.Database,
		Payload: datatypes.JSON(payload), CreatedAt: a.CreatedAt,
	}
	return errors.Wrap(s.gorm.WithContext(ctx).Create(&row).Error, "insert artifact")
}

func (s *artifactStore) Get(ctx context.Context, id string) (*solve.Artifact, error) {
	var row gormArtifact
	err := s.gorm.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperrors.Newf(apperrors.NotFound, "artifact %q not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get artifact")
	}
	var a solve.Artifact
	if err := json.Unmarshal(row.Payload, &a); err != nil {
		return nil, errors.Wrap(err, "unmarshal artifact")
	}
	return &a, nil
}

func (s *artifactStore) List(ctx context.Context, database string) ([]*solve.Artifact, error) {
	var rows []gormArtifact
	if err := s.gorm.WithContext(ctx).Where("database_id = ?", database).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list artifacts")
	}
	out := make([]*solve.Artifact, 0, len(rows))
	for i := range rows {
		var a solve.Artifact
		if err := json.Unmarshal(rows[i].Payload, &a); err != nil {
			return nil, errors.Wrap(err, "unmarshal artifact")
		}
		out = append(out, &a)
	}
	return out, nil
}
