package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/ourstudio-se/oat-db/internal/logging"
)

// NewRouter builds the full route tree (spec.md §6): databases, branches,
// commits, working commits (draft CRUD + commit/abandon/validate), tags,
// merge/rebase (+ validate- dry-runs), solve, and the realtime events feed.
func (s *Server) NewRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logging.Recoverer(s.logger))
	r.Use(logging.RequestLogger(s.logger))
	r.Use(chimw.Timeout(60 * time.Second))

	corsMW := cors.New(cors.Options{
		AllowedOrigins: s.cfg.Security.CORSAllowedOrigins,
		AllowedMethods: s.cfg.Security.CORSAllowedMethods,
		AllowedHeaders: s.cfg.Security.CORSAllowedHeaders,
	})
	r.Use(corsMW.Handler)
	r.Use(requireAuth(s.cfg))
	r.Use(requireIdentity)
	r.Use(rateLimitMiddleware(s.cfg))

	r.Get("/healthz", s.handleHealth)

	r.Route(s.cfg.Server.BasePath, func(api chi.Router) {
		api.Route("/databases", func(dbs chi.Router) {
			dbs.Post("/", s.handleCreateDatabase)
			dbs.Get("/", s.handleListDatabases)

			dbs.Route("/{database}", func(d chi.Router) {
				d.Get("/", s.handleGetDatabase)
				d.Delete("/", s.handleDeleteDatabase)

				d.Get("/events", s.handleEvents)

				d.Get("/validate", s.handleValidateView)

				d.Route("/schema/classes", s.classRoutes)
				d.Route("/instances", s.instanceRoutes)

				d.Route("/branches", func(b chi.Router) {
					b.Post("/", s.handleCreateBranch)
					b.Get("/", s.handleListBranches)

					b.Route("/{branch}", func(br chi.Router) {
						br.Get("/", s.handleGetBranch)
						br.Get("/view", s.handleResolveBranchView)
						br.Get("/validate", s.handleValidateView)

						br.Route("/schema/classes", s.classRoutes)
						br.Route("/instances", s.instanceRoutes)

						br.Post("/working-commit", s.handleOpenWorkingCommit)

						br.Post("/merge/{source}", s.handleMerge)
						br.Post("/merge/{source}/validate", s.handleValidateMerge)
						br.Post("/rebase/{upstream}", s.handleRebase)
						br.Post("/rebase/{upstream}/validate", s.handleValidateRebase)

						br.Post("/solve", s.handleSolve)
					})
				})

				d.Route("/commits", func(c chi.Router) {
					c.Get("/", s.handleListCommits)

					c.Route("/{hash}", func(h chi.Router) {
						h.Get("/", s.handleGetCommit)
						h.Get("/view", s.handleResolveCommitView)
						h.Get("/tags", s.handleListTags)
						h.Post("/tags", s.handleTagCommit)
						h.Delete("/tags/{tag}", s.handleUntag)
					})
				})

				d.Route("/working-commits/{wc}", func(w chi.Router) {
					w.Get("/", s.handleGetWorkingCommit)
					w.Get("/raw", s.handleGetWorkingCommitRaw)
					w.Post("/stage", s.handleStageChange)
					w.Post("/commit", s.handleCommitWorkingCommit)
					w.Post("/abandon", s.handleAbandonWorkingCommit)
					w.Post("/validate", s.handleValidateWorkingCommit)
				})
			})
		})

		api.Post("/solve", s.handleSolveContext)

		api.Route("/artifacts", func(a chi.Router) {
			a.Get("/", s.handleListArtifacts)
			a.Get("/{id}", s.handleGetArtifact)
			a.Get("/{id}/summary", s.handleArtifactSummary)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
