package httpapi

import (
	"go.uber.org/zap"

	"github.com/ourstudio-se/oat-db/internal/config"
	"github.com/ourstudio-se/oat-db/internal/merge"
	"github.com/ourstudio-se/oat-db/internal/realtime"
	"github.com/ourstudio-se/oat-db/internal/solve"
	"github.com/ourstudio-se/oat-db/internal/versioning"
)

// Server holds the engines and stores the HTTP layer dispatches to. It
// reads directly from versioning.Store for metadata listing endpoints and
// goes through versioning.Engine for anything that mutates state, mirroring
// the store/engine split those packages already enforce.
type Server struct {
	cfg         *config.Config
	store       versioning.Store
	vengine     *versioning.Engine
	mergeEngine *merge.Engine
	pipeline    *solve.Pipeline
	artifacts   solve.ArtifactStore
	hub         *realtime.Hub
	logger      *zap.Logger
}

// NewServer constructs the HTTP-layer dependencies. hub may be nil to
// disable realtime notifications.
func NewServer(
	cfg *config.Config,
	store versioning.Store,
	vengine *versioning.Engine,
	mergeEngine *merge.Engine,
	pipeline *solve.Pipeline,
	artifacts solve.ArtifactStore,
	hub *realtime.Hub,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:         cfg,
		store:       store,
		vengine:     vengine,
		mergeEngine: mergeEngine,
		pipeline:    pipeline,
		artifacts:   artifacts,
		hub:         hub,
		logger:      logger,
	}
}

func (s *Server) publish(ev realtime.Event) {
	if s.hub != nil {
		s.hub.Publish(ev)
	}
}
