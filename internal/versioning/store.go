package versioning

import "context"

// DatabaseStore persists Database rows (spec.md §6 `databases` table).
type DatabaseStore interface {
	Create(ctx context.Context, db *Database) error
	Get(ctx context.Context, id string) (*Database, error)
	List(ctx context.Context) ([]*Database, error)
	Delete(ctx context.Context, id string) error
}

// BranchStore persists Branch rows (spec.md §6 `branches` table). All
// methods that mutate a branch's pointer or status must be linearized per
// (database, name) by the caller (internal/versioning.Engine) — the store
// itself only needs to guarantee atomic single-row writes.
type BranchStore interface {
	Create(ctx context.Context, b *Branch) error
	Get(ctx context.Context, database, name string) (*Branch, error)
	List(ctx context.Context, database string) ([]*Branch, error)
	Update(ctx context.Context, b *Branch) error
	Delete(ctx context.Context, database, name string) error
}

// CommitStore persists immutable Commit rows (spec.md §6 `commits` table).
// The store is append-only: no Update/Delete is exposed.
type CommitStore interface {
	Put(ctx context.Context, c *Commit) error
	Get(ctx context.Context, database, hash string) (*Commit, error)
	List(ctx context.Context, database string) ([]*Commit, error)
	Parents(ctx context.Context, database, hash string) ([]*Commit, error)
}

// WorkingCommitStore persists WorkingCommit drafts (spec.md §6
// `working_commits` table). Implementations must enforce "at most one
// active/committing per (database, branch)" as a store-level constraint in
// addition to the service-level lock (spec.md §9).
type WorkingCommitStore interface {
	Create(ctx context.Context, wc *WorkingCommit) error
	Get(ctx context.Context, id string) (*WorkingCommit, error)
	GetActive(ctx context.Context, database, branch string) (*WorkingCommit, error)
	Update(ctx context.Context, wc *WorkingCommit) error
	Delete(ctx context.Context, id string) error
}

// TagStore persists CommitTag rows (spec.md §6 `commit_tags` table).
type TagStore interface {
	Create(ctx context.Context, t *CommitTag) error
	Get(ctx context.Context, commitHash, name string) (*CommitTag, error)
	List(ctx context.Context, commitHash string) ([]*CommitTag, error)
	Delete(ctx context.Context, commitHash, name string) error
}

// Store aggregates the per-entity stores the versioning engine needs.
type Store struct {
	Databases      DatabaseStore
	Branches       BranchStore
	Commits        CommitStore
	WorkingCommits WorkingCommitStore
	Tags           TagStore
}
