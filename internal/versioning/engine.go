package versioning

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ourstudio-se/oat-db/internal/apperrors"
	"github.com/ourstudio-se/oat-db/internal/model"
)

// ViewCache is the read-only, commit-hash-keyed cache the engine consults
// before decompressing a commit payload (spec.md §5 "cached views ... may
// be shared read-only across threads"). internal/cache implements this.
type ViewCache interface {
	Get(ctx context.Context, database, commitHash string) (*model.View, bool)
	Put(ctx context.Context, database, commitHash string, view *model.View)
}

// Engine is the versioning engine of spec.md §4.1. All mutations of
// branches, commits, and working commits for one database are linearized
// through a per-database mutex (spec.md §4.1 "Concurrency", §5).
type Engine struct {
	store Store
	cache ViewCache

	dbLocksMu sync.Mutex
	dbLocks   map[string]*sync.Mutex
}

// New creates a versioning Engine. cache may be nil (no caching).
func New(store Store, cache ViewCache) *Engine {
	return &Engine{
		store:   store,
		cache:   cache,
		dbLocks: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(database string) *sync.Mutex {
	e.dbLocksMu.Lock()
	defer e.dbLocksMu.Unlock()
	l, ok := e.dbLocks[database]
	if !ok {
		l = &sync.Mutex{}
		e.dbLocks[database] = l
	}
	return l
}

// CreateDatabase allocates a database identifier and its default branch
// `main`, newborn with no current commit (spec.md §4.1 "create database").
func (e *Engine) CreateDatabase(ctx context.Context, name, description string) (*Database, error) {
	now := nowUTC()
	db := &Database{
		ID:                uuid.New().String(),
		Name:              name,
		Description:       description,
		DefaultBranchName: "main",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.store.Databases.Create(ctx, db); err != nil {
		return nil, errors.Wrap(err, "create database")
	}
	main := &Branch{
		Database:  db.ID,
		Name:      "main",
		Status:    BranchActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Branches.Create(ctx, main); err != nil {
		return nil, errors.Wrap(err, "create default branch")
	}
	return db, nil
}

// DeleteDatabase removes a database, refusing if it has any commits,
// non-default branches, or live working commits (spec.md §6).
func (e *Engine) DeleteDatabase(ctx context.Context, id string) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	db, err := e.store.Databases.Get(ctx, id)
	if err != nil {
		return apperrors.Wrap(apperrors.DatabaseNotFound, err, "database not found")
	}
	branches, err := e.store.Branches.List(ctx, id)
	if err != nil {
		return errors.Wrap(err, "list branches")
	}
	for _, b := range branches {
		if b.Name != db.DefaultBranchName {
			return apperrors.New(apperrors.BranchNotEmpty, "database has non-default branches")
		}
		if b.CurrentCommitHash != nil {
			return apperrors.New(apperrors.BranchNotEmpty, "database has commits")
		}
		wc, _ := e.store.WorkingCommits.GetActive(ctx, id, b.Name)
		if wc != nil {
			return apperrors.New(apperrors.BranchNotEmpty, "database has a live working commit")
		}
	}
	return e.store.Databases.Delete(ctx, id)
}

// CreateBranch forks a new branch from a parent branch's current commit.
// This is copy-on-write: the child simply shares the parent's commit hash,
// no data is duplicated (spec.md §4.1 "create branch").
func (e *Engine) CreateBranch(ctx context.Context, database, name, parent string) (*Branch, error) {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t\n") {
		return nil, apperrors.New(apperrors.BadRequest, "branch name must be non-empty and contain no whitespace")
	}
	lock := e.lockFor(database)
	lock.Lock()
	defer lock.Unlock()

	if existing, _ := e.store.Branches.Get(ctx, database, name); existing != nil {
		return nil, apperrors.Newf(apperrors.Conflict, "branch %q already exists", name)
	}
	parentBranch, err := e.store.Branches.Get(ctx, database, parent)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.BranchNotFound, err, "parent branch not found")
	}
	now := nowUTC()
	b := &Branch{
		Database:          database,
		Name:              name,
		CurrentCommitHash: parentBranch.CurrentCommitHash,
		ParentBranchName:  &parent,
		Status:            BranchActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.store.Branches.Create(ctx, b); err != nil {
		return nil, errors.Wrap(err, "create branch")
	}
	return b, nil
}

// OpenWorkingCommit returns the existing active working commit for branch,
// if any, else creates one based on the branch's current commit, deep
// copying that commit's schema and instances into the draft (spec.md §4.1
// "open working commit"). Fails with WorkingCommitExists if one is already
// `committing`.
func (e *Engine) OpenWorkingCommit(ctx context.Context, database, branch, author string) (*WorkingCommit, error) {
	lock := e.lockFor(database)
	lock.Lock()
	defer lock.Unlock()

	b, err := e.store.Branches.Get(ctx, database, branch)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.BranchNotFound, err, "branch not found")
	}

	existing, _ := e.store.WorkingCommits.GetActive(ctx, database, branch)
	if existing != nil {
		if existing.Status == WCCommitting {
			return nil, apperrors.New(apperrors.WorkingCommitExists, "a working commit is already committing on this branch")
		}
		return existing, nil
	}

	var draftSchema model.Schema
	draftInstances := map[string]*model.Instance{}
	if b.CurrentCommitHash != nil {
		commit, err := e.store.Commits.Get(ctx, database, *b.CurrentCommitHash)
		if err != nil {
			return nil, errors.Wrap(err, "load branch head commit")
		}
		draftSchema = deepCopySchema(commit.Payload.Schema)
		draftInstances = deepCopyInstances(commit.Payload.Instances)
	}

	now := nowUTC()
	wc := &WorkingCommit{
		ID:             uuid.New().String(),
		Database:       database,
		Branch:         branch,
		BasedOnHash:    b.CurrentCommitHash,
		Author:         author,
		SchemaDraft:    draftSchema,
		InstancesDraft: draftInstances,
		Status:         WCActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.WorkingCommits.Create(ctx, wc); err != nil {
		return nil, errors.Wrap(err, "create working commit")
	}
	return wc, nil
}

// Delta is a coarse mutation applied to a working commit's draft
// (spec.md §4.1 "stage change"). Exactly one field should be set.
type Delta struct {
	ReplaceClass *model.ClassDefinition
	PatchClass   *ClassPatch
	RemoveClass  string // class id

	AddInstance    *model.Instance
	RemoveInstance string // instance id
	PatchInstance  *InstancePatch
}

// ClassPatch partially updates a class definition, identified by ID.
type ClassPatch struct {
	ClassID          string
	Name             *string
	Description      *string
	Properties       *[]model.PropertyDefinition
	Relationships    *[]model.RelationshipDefinition
	Derived          *[]model.DerivedDefinition
	DomainConstraint **model.Domain
}

// InstancePatch partially updates an instance, identified by ID.
type InstancePatch struct {
	InstanceID     string
	Properties     map[string]model.Value
	Relationships  map[string]model.RelationshipSelection
	DomainOverride **model.Domain
}

// StageChange applies delta to the working commit's draft. Staging is
// idempotent at the operation level: successive calls overwrite rather
// than accumulate (spec.md §4.1, §8 "idempotent staging"). Writers to the
// same draft are serialized through the per-database mutex (spec.md §5).
func (e *Engine) StageChange(ctx context.Context, wcID string, delta Delta) (*WorkingCommit, error) {
	wc, err := e.store.WorkingCommits.Get(ctx, wcID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.WorkingCommitMissing, err, "working commit not found")
	}

	lock := e.lockFor(wc.Database)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: another writer may have staged or the
	// commit path may have flipped the status between the lookup above
	// and lock acquisition.
	wc, err = e.store.WorkingCommits.Get(ctx, wcID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.WorkingCommitMissing, err, "working commit not found")
	}
	if wc.Status != WCActive {
		return nil, apperrors.Newf(apperrors.BadRequest, "working commit is %s, not active", wc.Status)
	}

	switch {
	case delta.ReplaceClass != nil:
		replaceClass(&wc.SchemaDraft, *delta.ReplaceClass)
	case delta.PatchClass != nil:
		if err := applyClassPatch(&wc.SchemaDraft, *delta.PatchClass); err != nil {
			return nil, err
		}
	case delta.RemoveClass != "":
		removeClass(&wc.SchemaDraft, delta.RemoveClass)
	case delta.AddInstance != nil:
		wc.InstancesDraft[delta.AddInstance.ID] = delta.AddInstance
	case delta.RemoveInstance != "":
		delete(wc.InstancesDraft, delta.RemoveInstance)
	case delta.PatchInstance != nil:
		if err := applyInstancePatch(wc.InstancesDraft, *delta.PatchInstance); err != nil {
			return nil, err
		}
	default:
		return nil, apperrors.New(apperrors.BadRequest, "empty delta")
	}

	wc.UpdatedAt = nowUTC()
	if err := e.store.WorkingCommits.Update(ctx, wc); err != nil {
		return nil, errors.Wrap(err, "update working commit")
	}
	return wc, nil
}

// Commit atomically canonicalizes the draft, computes its hash, writes the
// commit, and on success flips the branch pointer and deletes the working
// commit. On any failure before the branch pointer moves, the working
// commit returns to `active` (spec.md §4.1 "commit"); if only the final
// delete fails, the commit is returned together with the error.
func (e *Engine) Commit(ctx context.Context, wcID, message string) (*Commit, error) {
	wc, err := e.store.WorkingCommits.Get(ctx, wcID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.WorkingCommitMissing, err, "working commit not found")
	}

	lock := e.lockFor(wc.Database)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock so two commits of the same draft cannot both
	// pass the status check.
	wc, err = e.store.WorkingCommits.Get(ctx, wcID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.WorkingCommitMissing, err, "working commit not found")
	}
	if wc.Status != WCActive {
		return nil, apperrors.Newf(apperrors.BadRequest, "working commit is %s, not active", wc.Status)
	}

	wc.Status = WCCommitting
	if err := e.store.WorkingCommits.Update(ctx, wc); err != nil {
		return nil, errors.Wrap(err, "mark working commit committing")
	}
	revertToActive := func() {
		wc.Status = WCActive
		_ = e.store.WorkingCommits.Update(ctx, wc)
	}

	payload := model.View{Schema: wc.SchemaDraft, Instances: wc.InstancesDraft}
	canonical, err := Canonicalize(&payload)
	if err != nil {
		revertToActive()
		return nil, errors.Wrap(err, "canonicalize payload")
	}
	hash := ComputeHash(HashInputs{
		ParentHash: wc.BasedOnHash,
		Author:     wc.Author,
		Message:    message,
		Payload:    canonical,
	})

	commit := &Commit{
		Hash:          hash,
		Database:      wc.Database,
		ParentHash:    wc.BasedOnHash,
		Author:        wc.Author,
		Message:       message,
		CreatedAt:     nowUTC(),
		Payload:       payload,
		DataSize:      int64(len(canonical)),
		ClassCount:    len(wc.SchemaDraft.Classes),
		InstanceCount: len(wc.InstancesDraft),
	}
	if err := e.store.Commits.Put(ctx, commit); err != nil {
		revertToActive()
		return nil, errors.Wrap(err, "write commit")
	}

	branch, err := e.store.Branches.Get(ctx, wc.Database, wc.Branch)
	if err != nil {
		revertToActive()
		return nil, errors.Wrap(err, "load branch")
	}
	branch.CurrentCommitHash = &commit.Hash
	branch.UpdatedAt = nowUTC()
	if err := e.store.Branches.Update(ctx, branch); err != nil {
		revertToActive()
		return nil, errors.Wrap(err, "update branch pointer")
	}

	if err := e.store.WorkingCommits.Delete(ctx, wc.ID); err != nil {
		return commit, errors.Wrap(err, "delete working commit after commit")
	}
	if e.cache != nil {
		e.cache.Put(ctx, wc.Database, commit.Hash, &payload)
	}
	return commit, nil
}

// Abandon deletes a working commit's draft without touching the branch
// (spec.md §4.1 "abandon").
func (e *Engine) Abandon(ctx context.Context, wcID string) error {
	wc, err := e.store.WorkingCommits.Get(ctx, wcID)
	if err != nil {
		return apperrors.Wrap(apperrors.WorkingCommitMissing, err, "working commit not found")
	}
	lock := e.lockFor(wc.Database)
	lock.Lock()
	defer lock.Unlock()

	wc.Status = WCAbandoned
	if err := e.store.WorkingCommits.Update(ctx, wc); err != nil {
		return errors.Wrap(err, "mark working commit abandoned")
	}
	return e.store.WorkingCommits.Delete(ctx, wc.ID)
}

// Ref identifies what to resolve a view for: a branch name, a commit hash,
// or a working commit id. Exactly one should be set.
type Ref struct {
	Branch        string
	CommitHash    string
	WorkingCommit string
}

// ResolveView materializes a (schema, instances) view in memory for a
// branch (-> current commit), a commit hash, or a working commit id
// (spec.md §4.1 "resolve view").
func (e *Engine) ResolveView(ctx context.Context, database string, ref Ref) (*model.View, error) {
	switch {
	case ref.WorkingCommit != "":
		wc, err := e.store.WorkingCommits.Get(ctx, ref.WorkingCommit)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.WorkingCommitMissing, err, "working commit not found")
		}
		return wc.View(), nil
	case ref.CommitHash != "":
		return e.resolveCommitView(ctx, database, ref.CommitHash)
	case ref.Branch != "":
		b, err := e.store.Branches.Get(ctx, database, ref.Branch)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.BranchNotFound, err, "branch not found")
		}
		if b.CurrentCommitHash == nil {
			return &model.View{Instances: map[string]*model.Instance{}}, nil
		}
		return e.resolveCommitView(ctx, database, *b.CurrentCommitHash)
	default:
		return nil, apperrors.New(apperrors.BadRequest, "ref must specify branch, commit hash, or working commit id")
	}
}

func (e *Engine) resolveCommitView(ctx context.Context, database, hash string) (*model.View, error) {
	if e.cache != nil {
		if v, ok := e.cache.Get(ctx, database, hash); ok {
			return v, nil
		}
	}
	commit, err := e.store.Commits.Get(ctx, database, hash)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CommitNotFound, err, "commit not found")
	}
	view := &commit.Payload
	if e.cache != nil {
		e.cache.Put(ctx, database, hash, view)
	}
	return view, nil
}

// BranchesContaining returns, sorted, the names of branches whose head
// commit contains the given instance id. The solve pipeline uses it to
// classify an unresolved explicit ID as a cross-branch reference versus a
// genuinely missing instance (spec.md §4.7 cross_branch_policy).
func (e *Engine) BranchesContaining(ctx context.Context, database, instanceID string) ([]string, error) {
	branches, err := e.store.Branches.List(ctx, database)
	if err != nil {
		return nil, errors.Wrap(err, "list branches")
	}
	var names []string
	for _, b := range branches {
		if b.CurrentCommitHash == nil {
			continue
		}
		view, err := e.resolveCommitView(ctx, database, *b.CurrentCommitHash)
		if err != nil {
			continue
		}
		if _, ok := view.Instance(instanceID); ok {
			names = append(names, b.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// TagCommit labels a commit (spec.md §4.8). Fails with TagAlreadyExists if
// (tag_name, commit_hash) already exists.
func (e *Engine) TagCommit(ctx context.Context, tag *CommitTag) error {
	if existing, _ := e.store.Tags.Get(ctx, tag.CommitHash, tag.Name); existing != nil {
		return apperrors.Newf(apperrors.TagAlreadyExists, "tag %q already exists on commit %s", tag.Name, tag.CommitHash)
	}
	tag.CreatedAt = nowUTC()
	return e.store.Tags.Create(ctx, tag)
}

// ListTags lists the tags on a commit.
func (e *Engine) ListTags(ctx context.Context, commitHash string) ([]*CommitTag, error) {
	return e.store.Tags.List(ctx, commitHash)
}

// Untag removes a tag from a commit.
func (e *Engine) Untag(ctx context.Context, commitHash, name string) error {
	if existing, _ := e.store.Tags.Get(ctx, commitHash, name); existing == nil {
		return apperrors.Newf(apperrors.TagNotFound, "tag %q not found on commit %s", name, commitHash)
	}
	return e.store.Tags.Delete(ctx, commitHash, name)
}

func deepCopySchema(s model.Schema) model.Schema {
	out := model.Schema{Classes: make([]model.ClassDefinition, len(s.Classes))}
	copy(out.Classes, s.Classes)
	for i := range out.Classes {
		out.Classes[i].Properties = append([]model.PropertyDefinition(nil), s.Classes[i].Properties...)
		out.Classes[i].Relationships = append([]model.RelationshipDefinition(nil), s.Classes[i].Relationships...)
		out.Classes[i].Derived = append([]model.DerivedDefinition(nil), s.Classes[i].Derived...)
	}
	return out
}

func deepCopyInstances(in map[string]*model.Instance) map[string]*model.Instance {
	out := make(map[string]*model.Instance, len(in))
	for id, inst := range in {
		cp := *inst
		cp.Properties = make(map[string]model.Value, len(inst.Properties))
		for k, v := range inst.Properties {
			cp.Properties[k] = v
		}
		cp.Relationships = make(map[string]model.RelationshipSelection, len(inst.Relationships))
		for k, v := range inst.Relationships {
			cp.Relationships[k] = v
		}
		out[id] = &cp
	}
	return out
}

func replaceClass(schema *model.Schema, class model.ClassDefinition) {
	for i := range schema.Classes {
		if schema.Classes[i].ID == class.ID {
			schema.Classes[i] = class
			return
		}
	}
	schema.Classes = append(schema.Classes, class)
}

func removeClass(schema *model.Schema, classID string) {
	out := schema.Classes[:0]
	for _, c := range schema.Classes {
		if c.ID != classID {
			out = append(out, c)
		}
	}
	schema.Classes = out
}

func applyClassPatch(schema *model.Schema, patch ClassPatch) error {
	idx := -1
	for i := range schema.Classes {
		if schema.Classes[i].ID == patch.ClassID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return apperrors.Newf(apperrors.ClassNotFound, "class %q not found", patch.ClassID)
	}
	c := &schema.Classes[idx]
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	if patch.Properties != nil {
		c.Properties = *patch.Properties
	}
	if patch.Relationships != nil {
		c.Relationships = *patch.Relationships
	}
	if patch.Derived != nil {
		c.Derived = *patch.Derived
	}
	if patch.DomainConstraint != nil {
		c.DomainConstraint = *patch.DomainConstraint
	}
	c.UpdatedAt = nowUTC()
	return nil
}

func applyInstancePatch(instances map[string]*model.Instance, patch InstancePatch) error {
	inst, ok := instances[patch.InstanceID]
	if !ok {
		return apperrors.Newf(apperrors.BadRequest, "instance %q not found", patch.InstanceID)
	}
	if patch.Properties != nil {
		if inst.Properties == nil {
			inst.Properties = map[string]model.Value{}
		}
		for k, v := range patch.Properties {
			inst.Properties[k] = v
		}
	}
	if patch.Relationships != nil {
		if inst.Relationships == nil {
			inst.Relationships = map[string]model.RelationshipSelection{}
		}
		for k, v := range patch.Relationships {
			inst.Relationships[k] = v
		}
	}
	if patch.DomainOverride != nil {
		inst.DomainOverride = *patch.DomainOverride
	}
	inst.UpdatedAt = nowUTC()
	return nil
}
