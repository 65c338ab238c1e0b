// Package memstore is an in-process, mutex-guarded implementation of the
// versioning and solve store interfaces, used for local development and
// tests. It mirrors the teacher's cache-map-guarded-by-RWMutex shape.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/ourstudio-se/oat-db/internal/apperrors"
	"github.com/ourstudio-se/oat-db/internal/model"
	"github.com/ourstudio-se/oat-db/internal/solve"
	"github.com/ourstudio-se/oat-db/internal/versioning"
)

// Store holds every entity kind in memory, each behind its own lock to
// avoid serializing unrelated entity kinds against each other.
type Store struct {
	mu        sync.RWMutex
	databases map[string]*versioning.Database

	branchMu sync.RWMutex
	branches map[string]map[string]*versioning.Branch // database -> name -> branch

	commitMu sync.RWMutex
	commits  map[string]map[string]*versioning.Commit // database -> hash -> commit

	wcMu    sync.RWMutex
	working map[string]*versioning.WorkingCommit // id -> working commit

	tagMu sync.RWMutex
	tags  map[string]map[string]*versioning.CommitTag // commitHash -> name -> tag

	artifactMu sync.RWMutex
	artifacts  map[string]*solve.Artifact
}

// New builds an empty in-memory Store.
func New() *Store {
	return &Store{
		databases: map[string]*versioning.Database{},
		branches:  map[string]map[string]*versioning.Branch{},
		commits:   map[string]map[string]*versioning.Commit{},
		working:   map[string]*versioning.WorkingCommit{},
		tags:      map[string]map[string]*versioning.CommitTag{},
		artifacts: map[string]*solve.Artifact{},
	}
}

// VersioningStore returns a versioning.Store built from this memstore's
// sub-stores.
func (s *Store) VersioningStore() versioning.Store {
	return versioning.Store{
		Databases:      (*databaseStore)(s),
		Branches:       (*branchStore)(s),
		Commits:        (*commitStore)(s),
		WorkingCommits: (*workingCommitStore)(s),
		Tags:           (*tagStore)(s),
	}
}

// ArtifactStore returns a solve.ArtifactStore backed by this memstore.
func (s *Store) ArtifactStore() solve.ArtifactStore {
	return (*artifactStore)(s)
}

type databaseStore Store

func (s *databaseStore) Create(ctx context.Context, db *versioning.Database) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.databases[db.ID] = cloneDatabase(db)
	return nil
}

func (s *databaseStore) Get(ctx context.Context, id string) (*versioning.Database, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, ok := s.databases[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.DatabaseNotFound, "database %q not found", id)
	}
	return cloneDatabase(db), nil
}

func (s *databaseStore) List(ctx context.Context) ([]*versioning.Database, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*versioning.Database, 0, len(s.databases))
	for _, db := range s.databases {
		out = append(out, cloneDatabase(db))
	}
	return out, nil
}

func (s *databaseStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.databases, id)
	return nil
}

func cloneDatabase(db *versioning.Database) *versioning.Database {
	cp := *db
	return &cp
}

type branchStore Store

func (s *branchStore) Create(ctx context.Context, b *versioning.Branch) error {
	s.branchMu.Lock()
	defer s.branchMu.Unlock()
	if _, ok := s.branches[b.Database]; !ok {
		s.branches[b.Database] = map[string]*versioning.Branch{}
	}
	cp := *b
	s.branches[b.Database][b.Name] = &cp
	return nil
}

func (s *branchStore) Get(ctx context.Context, database, name string) (*versioning.Branch, error) {
	s.branchMu.RLock()
	defer s.branchMu.RUnlock()
	b, ok := s.branches[database][name]
	if !ok {
		return nil, apperrors.Newf(apperrors.BranchNotFound, "branch %q not found", name)
	}
	cp := *b
	return &cp, nil
}

func (s *branchStore) List(ctx context.Context, database string) ([]*versioning.Branch, error) {
	s.branchMu.RLock()
	defer s.branchMu.RUnlock()
	out := make([]*versioning.Branch, 0, len(s.branches[database]))
	for _, b := range s.branches[database] {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (s *branchStore) Update(ctx context.Context, b *versioning.Branch) error {
	s.branchMu.Lock()
	defer s.branchMu.Unlock()
	if _, ok := s.branches[b.Database]; !ok {
		return apperrors.Newf(apperrors.BranchNotFound, "branch %q not found", b.Name)
	}
	cp := *b
	s.branches[b.Database][b.Name] = &cp
	return nil
}

func (s *branchStore) Delete(ctx context.Context, database, name string) error {
	s.branchMu.Lock()
	defer s.branchMu.Unlock()
	delete(s.branches[database], name)
	return nil
}

type commitStore Store

func (s *commitStore) Put(ctx context.Context, c *versioning.Commit) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if _, ok := s.commits[c.Database]; !ok {
		s.commits[c.Database] = map[string]*versioning.Commit{}
	}
	cp := *c
	s.commits[c.Database][c.Hash] = &cp
	return nil
}

func (s *commitStore) Get(ctx context.Context, database, hash string) (*versioning.Commit, error) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	c, ok := s.commits[database][hash]
	if !ok {
		return nil, apperrors.Newf(apperrors.CommitNotFound, "commit %q not found", hash)
	}
	cp := *c
	return &cp, nil
}

func (s *commitStore) List(ctx context.Context, database string) ([]*versioning.Commit, error) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	out := make([]*versioning.Commit, 0, len(s.commits[database]))
	for _, c := range s.commits[database] {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Hash < out[j].Hash
	})
	return out, nil
}

func (s *commitStore) Parents(ctx context.Context, database, hash string) ([]*versioning.Commit, error) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	c, ok := s.commits[database][hash]
	if !ok || c.ParentHash == nil {
		return nil, nil
	}
	parent, ok := s.commits[database][*c.ParentHash]
	if !ok {
		return nil, nil
	}
	cp := *parent
	return []*versioning.Commit{&cp}, nil
}

type workingCommitStore Store

func (s *workingCommitStore) Create(ctx context.Context, wc *versioning.WorkingCommit) error {
	s.wcMu.Lock()
	defer s.wcMu.Unlock()
	for _, existing := range s.working {
		if existing.Database == wc.Database && existing.Branch == wc.Branch &&
			(existing.Status == versioning.WCActive || existing.Status == versioning.WCCommitting) {
			return apperrors.New(apperrors.WorkingCommitExists, "a working commit is already active on this branch")
		}
	}
	s.working[wc.ID] = cloneWorkingCommit(wc)
	return nil
}

func (s *workingCommitStore) Get(ctx context.Context, id string) (*versioning.WorkingCommit, error) {
	s.wcMu.RLock()
	defer s.wcMu.RUnlock()
	wc, ok := s.working[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.WorkingCommitMissing, "working commit %q not found", id)
	}
	return cloneWorkingCommit(wc), nil
}

func (s *workingCommitStore) GetActive(ctx context.Context, database, branch string) (*versioning.WorkingCommit, error) {
	s.wcMu.RLock()
	defer s.wcMu.RUnlock()
	for _, wc := range s.working {
		if wc.Database == database && wc.Branch == branch &&
			(wc.Status == versioning.WCActive || wc.Status == versioning.WCCommitting) {
			return cloneWorkingCommit(wc), nil
		}
	}
	return nil, apperrors.New(apperrors.WorkingCommitMissing, "no active working commit on this branch")
}

func (s *workingCommitStore) Update(ctx context.Context, wc *versioning.WorkingCommit) error {
	s.wcMu.Lock()
	defer s.wcMu.Unlock()
	s.working[wc.ID] = cloneWorkingCommit(wc)
	return nil
}

// cloneWorkingCommit deep-copies the draft payload. A shallow struct copy
// would leave the returned SchemaDraft slices and InstancesDraft map
// aliasing the stored value, so two callers staging against the same
// draft would mutate shared state.
func cloneWorkingCommit(wc *versioning.WorkingCommit) *versioning.WorkingCommit {
	cp := *wc
	cp.SchemaDraft = model.Schema{Classes: make([]model.ClassDefinition, len(wc.SchemaDraft.Classes))}
	copy(cp.SchemaDraft.Classes, wc.SchemaDraft.Classes)
	for i := range cp.SchemaDraft.Classes {
		c := &cp.SchemaDraft.Classes[i]
		c.Properties = append([]model.PropertyDefinition(nil), c.Properties...)
		c.Relationships = append([]model.RelationshipDefinition(nil), c.Relationships...)
		c.Derived = append([]model.DerivedDefinition(nil), c.Derived...)
	}
	cp.InstancesDraft = make(map[string]*model.Instance, len(wc.InstancesDraft))
	for id, inst := range wc.InstancesDraft {
		ic := *inst
		ic.Properties = make(map[string]model.Value, len(inst.Properties))
		for k, v := range inst.Properties {
			ic.Properties[k] = v
		}
		ic.Relationships = make(map[string]model.RelationshipSelection, len(inst.Relationships))
		for k, v := range inst.Relationships {
			ic.Relationships[k] = v
		}
		if inst.DomainOverride != nil {
			d := *inst.DomainOverride
			ic.DomainOverride = &d
		}
		cp.InstancesDraft[id] = &ic
	}
	if wc.MergeStateData != nil {
		ms := *wc.MergeStateData
		cp.MergeStateData = &ms
	}
	return &cp
}

func (s *workingCommitStore) Delete(ctx context.Context, id string) error {
	s.wcMu.Lock()
	defer s.wcMu.Unlock()
	delete(s.working, id)
	return nil
}

type tagStore Store

func (s *tagStore) Create(ctx context.Context, t *versioning.CommitTag) error {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()
	if _, ok := s.tags[t.CommitHash]; !ok {
		s.tags[t.CommitHash] = map[string]*versioning.CommitTag{}
	}
	cp := *t
	s.tags[t.CommitHash][t.Name] = &cp
	return nil
}

func (s *tagStore) Get(ctx context.Context, commitHash, name string) (*versioning.CommitTag, error) {
	s.tagMu.RLock()
	defer s.tagMu.RUnlock()
	t, ok := s.tags[commitHash][name]
	if !ok {
		return nil, apperrors.Newf(apperrors.TagNotFound, "tag %q not found", name)
	}
	cp := *t
	return &cp, nil
}

func (s *tagStore) List(ctx context.Context, commitHash string) ([]*versioning.CommitTag, error) {
	s.tagMu.RLock()
	defer s.tagMu.RUnlock()
	out := make([]*versioning.CommitTag, 0, len(s.tags[commitHash]))
	for _, t := range s.tags[commitHash] {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *tagStore) Delete(ctx context.Context, commitHash, name string) error {
	s.tagMu.Lock()
	defer s.tagMu.Unlock()
	delete(s.tags[commitHash], name)
	return nil
}

type artifactStore Store

func (s *artifactStore) Put(ctx context.Context, a *solve.Artifact) error {
	s.artifactMu.Lock()
	defer s.artifactMu.Unlock()
	cp := *a
	s.artifacts[a.ID] = &cp
	return nil
}

func (s *artifactStore) Get(ctx context.Context, id string) (*solve.Artifact, error) {
	s.artifactMu.RLock()
	defer s.artifactMu.RUnlock()
	a, ok := s.artifacts[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.NotFound, "artifact %q not found", id)
	}
	cp := *a
	return &cp, nil
}

func (s *artifactStore) List(ctx context.Context, database string) ([]*solve.Artifact, error) {
	s.artifactMu.RLock()
	defer s.artifactMu.RUnlock()
	out := make([]*solve.Artifact, 0)
	for _, a := range s.artifacts {
		if a.ResolutionContext.Database == database {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}
