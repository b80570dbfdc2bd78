package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/citycast/internal/pipeline"
	"github.com/ashureev/citycast/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SessionStore resolves and locks sessions.
type SessionStore interface {
	GetOrCreate(ctx context.Context, key session.Key) (*session.Session, bool, error)
	Acquire(ctx context.Context, key session.Key) (func(), error)
}

// Pipeline answers one query against a session.
type Pipeline interface {
	Run(ctx context.Context, key session.Key, query string, observe pipeline.Observer) (string, error)
}

// QueryHandler serves the query endpoints.
type QueryHandler struct {
	appName        string
	originPatterns []string
	sessions       SessionStore
	pipeline       Pipeline
	logger         *slog.Logger
}

// NewQueryHandler creates a QueryHandler. allowedOrigins is the same list the
// CORS middleware uses; it also gates websocket upgrades from other origins.
func NewQueryHandler(appName string, allowedOrigins []string, sessions SessionStore, p Pipeline, logger *slog.Logger) *QueryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryHandler{
		appName:        appName,
		originPatterns: originPatterns(allowedOrigins),
		sessions:       sessions,
		pipeline:       p,
		logger:         logger,
	}
}

// originPatterns turns CORS origins into websocket origin patterns. Entries
// with a scheme are matched against scheme://host, bare entries against the host.
func originPatterns(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return []string{"*"}
		}
		out = append(out, strings.TrimSuffix(o, "/"))
	}
	return out
}

// RegisterRoutes registers the query routes.
func (h *QueryHandler) RegisterRoutes(r chi.Router) {
	r.Post("/query", h.Query)
	r.Get("/ws/query", h.QueryStream)
}

// Query handles POST /query.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQuery(w, r)
	if err != nil {
		status, detail := errorStatus(err)
		Error(w, status, detail)
		return
	}

	out, err := h.execute(r.Context(), req, nil, middleware.GetReqID(r.Context()))
	if err != nil {
		status, detail := errorStatus(err)
		Error(w, status, detail)
		return
	}
	JSON(w, http.StatusOK, QueryResponse{FinalOutput: out})
}

// execute resolves the session, holds its lock and runs the pipeline.
func (h *QueryHandler) execute(ctx context.Context, req QueryRequest, observe pipeline.Observer, requestID string) (string, error) {
	key := session.Key{AppName: h.appName, UserID: req.UserID, SessionID: req.SessionID}
	log := h.logger.With("user_id", key.UserID, "session_id", key.SessionID, "request_id", requestID)
	log.Info("Received query")

	// The lock is taken first so an idle-session sweep cannot remove the
	// session between lookup and use.
	release, err := h.sessions.Acquire(ctx, key)
	if err != nil {
		log.Warn("Session unavailable", "error", err)
		return "", err
	}
	defer release()

	_, created, err := h.sessions.GetOrCreate(ctx, key)
	if err != nil {
		log.Error("Failed to resolve session", "error", err)
		return "", err
	}
	if created {
		log.Info("Created new session")
	} else {
		log.Info("Using existing session")
	}

	started := time.Now()
	out, err := h.pipeline.Run(ctx, key, req.UserInput, observe)
	if err != nil {
		log.Error("Query failed", "error", err, "duration_ms", time.Since(started).Milliseconds())
		return "", err
	}
	log.Info("Query answered", "duration_ms", time.Since(started).Milliseconds())
	return out, nil
}
