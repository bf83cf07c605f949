// Package api exposes the review surface over HTTP: case inspection,
// idempotent proposal creation, and approval decisions.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/obligations-cli/internal/approval"
	"github.com/sells-group/obligations-cli/internal/config"
	"github.com/sells-group/obligations-cli/internal/store"
)

// NewRouter builds the HTTP handler for the review API.
func NewRouter(st store.Store, svc *approval.Service, cfg config.ServerConfig) http.Handler {
	h := &handler{st: st, approvals: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key"},
	}))

	r.Get("/health", h.health)

	r.Route("/cases/{caseID}", func(r chi.Router) {
		r.Get("/", h.getCase)
		r.Get("/sources", h.listSources)
		r.Get("/obligations", h.listObligations)
		r.Get("/proposals", h.listProposals)
	})

	r.Route("/proposals", func(r chi.Router) {
		r.Post("/", h.createProposal)
		r.Get("/{proposalID}", h.getProposal)
		r.Get("/{proposalID}/approvals", h.listApprovals)
		r.Post("/{proposalID}/approvals", h.recordApproval)
	})

	return r
}

// requestLogger logs one line per request with the chi request ID.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type errorBody struct {
	Error struct {
		Code   string `json:"code"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, reason string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Reason = reason
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("api: write response", zap.Error(err))
	}
}
