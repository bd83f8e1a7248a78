// Package api serves the pipeline over HTTP under /api/v1.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/status"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Prefix is the versioned route prefix.
const Prefix = "/api/v1"

// StatusReader returns the pipeline status.
type StatusReader interface {
	Status(ctx context.Context) (*status.Pipeline, error)
}

// Server holds the handlers' dependencies.
type Server struct {
	store      store.Store
	dispatcher *dispatch.Dispatcher
	settings   *settings.Service
	status     StatusReader
	origins    []string
}

// NewServer creates a server. origins lists the CORS origins; empty allows
// any origin.
func NewServer(st store.Store, d *dispatch.Dispatcher, svc *settings.Service, sr StatusReader, origins []string) *Server {
	return &Server{store: st, dispatcher: d, settings: svc, status: sr, origins: origins}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route(Prefix, func(r chi.Router) {
		r.Get("/health", s.health)

		r.Route("/pipeline", func(r chi.Router) {
			r.Post("/discover", s.discover)
			r.Post("/approve", s.approve)
			r.Post("/approve-all", s.approveAll)
			r.Post("/{stage}", s.runStage(websiteStages))
			r.Get("/status", s.pipelineStatus)
		})

		r.Route("/social/pipeline", func(r chi.Router) {
			r.Post("/discover", s.socialDiscover)
			r.Post("/review", s.review)
			r.Post("/{stage}", s.runStage(socialStages))
			r.Get("/status", s.pipelineStatus)
		})
		r.Get("/social/profiles", s.listSocialProfiles)

		r.Get("/prospects", s.listProspects)
		r.Get("/prospects/{id}", s.getProspect)
		r.Post("/prospects/{id}/contact-email", s.replaceContactEmail)

		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{id}", s.getJob)
		r.Post("/jobs/{id}/cancel", s.cancelJob)

		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
