// Package api provides the HTTP handlers of the anomaly forecast service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/citycast/internal/agent"
	"github.com/ashureev/citycast/internal/identity"
	"github.com/ashureev/citycast/internal/pipeline"
	"github.com/ashureev/citycast/internal/session"
)

// MaxBodyBytes bounds request bodies.
const MaxBodyBytes = 1 << 20

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"detail": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, detail string) {
	JSON(w, status, ErrorResponse{Detail: detail})
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	UserInput string `json:"user_input"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// QueryResponse is the success body of POST /query.
type QueryResponse struct {
	FinalOutput string `json:"final_output"`
}

// requestError is a client error with its status code.
type requestError struct {
	status int
	detail string
}

func (e *requestError) Error() string { return e.detail }

// normalize validates the request and fills in default ids.
func (q *QueryRequest) normalize() error {
	if strings.TrimSpace(q.UserInput) == "" {
		return &requestError{status: http.StatusUnprocessableEntity, detail: "user_input is required"}
	}
	userID, sessionID, err := identity.Resolve(q.UserID, q.SessionID)
	if err != nil {
		return &requestError{status: http.StatusUnprocessableEntity, detail: err.Error()}
	}
	q.UserID, q.SessionID = userID, sessionID
	return nil
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (QueryRequest, error) {
	var req QueryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, &requestError{status: http.StatusRequestEntityTooLarge, detail: "request body too large"}
		}
		return req, &requestError{status: http.StatusUnprocessableEntity, detail: "invalid request body: " + err.Error()}
	}
	return req, req.normalize()
}

// errorStatus maps a pipeline error to a status code and client-facing detail.
func errorStatus(err error) (int, string) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status, reqErr.detail
	case errors.Is(err, agent.ErrNoFinalResponse):
		return http.StatusInternalServerError, "Agent did not produce a response."
	case errors.Is(err, pipeline.ErrInvalidJSON):
		return http.StatusInternalServerError, "Agent returned invalid JSON."
	case errors.Is(err, pipeline.ErrStructureMismatch):
		return http.StatusInternalServerError, "Agent response did not match expected structure."
	case errors.Is(err, pipeline.ErrNoRoute):
		return http.StatusInternalServerError, "Could not resolve a source and destination from the query."
	case errors.Is(err, session.ErrSessionBusy):
		return http.StatusConflict, "Session is busy with another request."
	case errors.Is(err, context.Canceled):
		return 499, "Request cancelled."
	default:
		return http.StatusInternalServerError, fmt.Sprintf("Internal server error: %v", err)
	}
}
