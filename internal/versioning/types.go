// Package versioning implements the commit DAG, branch registry, and
// working-commit staging area (spec.md §4.1). It is the versioning engine:
// pure coordination plus store calls, with no knowledge of relationship
// resolution, evaluation, or validation — those are layered on top by
// internal/merge and internal/solve.
package versioning

import (
	"time"

	"github.com/ourstudio-se/oat-db/internal/model"
)

// BranchStatus is the closed set of branch lifecycle states.
type BranchStatus string

const (
	BranchActive   BranchStatus = "active"
	BranchMerged   BranchStatus = "merged"
	BranchArchived BranchStatus = "archived"
)

// WorkingCommitStatus is the closed set of working-commit lifecycle states.
type WorkingCommitStatus string

const (
	WCActive    WorkingCommitStatus = "active"
	WCCommitting WorkingCommitStatus = "committing"
	WCAbandoned WorkingCommitStatus = "abandoned"
	WCMerging   WorkingCommitStatus = "merging"
	WCRebasing  WorkingCommitStatus = "rebasing"
)

// TagType is the closed set of commit tag kinds (spec.md §3.1).
type TagType string

const (
	TagVersion   TagType = "version"
	TagRelease   TagType = "release"
	TagMilestone TagType = "milestone"
	TagCustom    TagType = "custom"
)

// Database is a named container for a branch/commit DAG.
type Database struct {
	ID                string    `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	Description       string    `json:"description" db:"description"`
	DefaultBranchName string    `json:"default_branch_name" db:"default_branch_name"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Branch is a moving pointer to a commit, scoped to a database (spec.md §3.1).
type Branch struct {
	Database          string       `json:"database" db:"database_id"`
	Name              string       `json:"name" db:"name"`
	Description       string       `json:"description" db:"description"`
	CurrentCommitHash *string      `json:"current_commit_hash,omitempty" db:"current_commit_hash"`
	ParentBranchName  *string      `json:"parent_branch_name,omitempty" db:"parent_branch_name"`
	Status            BranchStatus `json:"status" db:"status"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at" db:"updated_at"`
}

// CommitPayload is a commit's schema+instance content.
type CommitPayload = model.View

// Commit is an immutable, content-addressed snapshot (spec.md §3.1).
type Commit struct {
	Hash          string        `json:"hash" db:"hash"`
	Database      string        `json:"database" db:"database_id"`
	ParentHash    *string       `json:"parent_hash,omitempty" db:"parent_hash"`
	Author        string        `json:"author" db:"author"`
	Message       string        `json:"message" db:"message"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	Payload       CommitPayload `json:"payload" db:"-"`
	DataSize      int64         `json:"data_size" db:"data_size"`
	ClassCount    int           `json:"schema_classes_count" db:"schema_classes_count"`
	InstanceCount int           `json:"instances_count" db:"instances_count"`
}

// MergeState records the in-progress merge or rebase a working commit is
// staging (spec.md §3.1, §4.6).
type MergeState struct {
	Operation      string   `json:"operation"` // "merge" | "rebase"
	SourceBranch   string   `json:"source_branch"`
	TargetBranch   string   `json:"target_branch"`
	ConflictPaths  []string `json:"conflict_paths,omitempty"`
	Force          bool     `json:"force"`
}

// WorkingCommit is the mutable staging area tied to (database, branch)
// (spec.md §3.1).
type WorkingCommit struct {
	ID             string               `json:"id" db:"id"`
	Database       string               `json:"database" db:"database_id"`
	Branch         string               `json:"branch" db:"branch_name"`
	BasedOnHash    *string              `json:"based_on_hash,omitempty" db:"based_on_hash"`
	Author         string               `json:"author" db:"author"`
	SchemaDraft    model.Schema         `json:"schema_draft" db:"-"`
	InstancesDraft map[string]*model.Instance `json:"instances_draft" db:"-"`
	Status         WorkingCommitStatus  `json:"status" db:"status"`
	MergeStateData *MergeState          `json:"merge_state,omitempty" db:"-"`
	CreatedAt      time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at" db:"updated_at"`
}

// View materializes the working commit's draft as a model.View.
func (w *WorkingCommit) View() *model.View {
	return &model.View{Schema: w.SchemaDraft, Instances: w.InstancesDraft}
}

// CommitTag labels a commit (spec.md §3.1).
type CommitTag struct {
	CommitHash  string         `json:"commit_hash" db:"commit_hash"`
	Name        string         `json:"name" db:"tag_name"`
	Type        TagType        `json:"type" db:"tag_type"`
	Description string         `json:"description,omitempty" db:"tag_description"`
	CreatedBy   string         `json:"created_by,omitempty" db:"created_by"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"-"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}
