// File: internal/server/handlers.go
package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threatscope/api/schemas"
	"github.com/xkilldash9x/threatscope/internal/audit"
	"github.com/xkilldash9x/threatscope/internal/kvstore"
	"github.com/xkilldash9x/threatscope/internal/policy"
	"github.com/xkilldash9x/threatscope/internal/ratelimit"
)

// handleRoot reports that the backend is up.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, schemas.ServiceStatus{
		Message:   "ThreatScope backend running",
		Status:    schemas.StatusOnline,
		Version:   s.version,
		Store:     s.storeLabel,
		Timestamp: s.clock.Now().UTC(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, schemas.Health{
		Status:    schemas.StatusHealthy,
		Timestamp: s.clock.Now().UTC(),
	})
}

// handleScan gates the request on the caller's scan limit and the domain
// validator, then answers with a scan result.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := clientIP(r)
	raw := r.URL.Query().Get("domain")

	domain, err := s.policy.Authorize(ctx, ratelimit.ActionScan, actor, raw)
	if err != nil {
		s.respondWithPolicyError(w, err)
		return
	}

	result := s.buildResult(domain)
	if err := s.saveResult(ctx, result); err != nil {
		s.log.Warn("Failed to persist scan result", zap.String("scan_id", result.ScanID), zap.Error(err))
	} else {
		result.Saved = true
	}

	if _, err := s.policy.Audit().Record(ctx, audit.Event{
		Action:    "scan_completed",
		Actor:     actor,
		Details:   domain,
		Host:      actor,
		UserAgent: r.UserAgent(),
		Severity:  audit.SeverityInfo,
	}); err != nil {
		s.log.Warn("Failed to audit scan", zap.Error(err))
	}

	s.log.Info("Scan processed", zap.String("domain", domain), zap.String("scan_id", result.ScanID))
	s.respondWithJSON(w, http.StatusOK, result)
}

// handleGetScan returns a previously persisted scan result.
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")
	if !validScanID(scanID) {
		s.respondWithError(w, http.StatusBadRequest, "Invalid scan ID", 0)
		return
	}

	result, err := s.loadResult(r.Context(), scanID)
	switch {
	case kvstore.IsNotFound(err):
		s.respondWithError(w, http.StatusNotFound, "Scan not found", 0)
	case err != nil:
		s.log.Error("Failed to load scan result", zap.String("scan_id", scanID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Internal server error", 0)
	default:
		s.respondWithJSON(w, http.StatusOK, result)
	}
}

func (s *Server) respondWithPolicyError(w http.ResponseWriter, err error) {
	var limited *policy.RateLimitError
	var rejected *policy.RejectedInputError
	switch {
	case errors.As(err, &limited):
		secs := limited.Decision.SecondsRemaining
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		s.respondWithError(w, http.StatusTooManyRequests, limited.Decision.Message, secs)
	case errors.As(err, &rejected):
		s.respondWithError(w, http.StatusBadRequest, rejected.Result.Error, 0)
	default:
		s.log.Error("Scan gate failed", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Internal server error", 0)
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, statusCode int, detail string, retryAfter int) {
	s.respondWithJSON(w, statusCode, schemas.ErrorResponse{Detail: detail, RetryAfter: retryAfter})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode response", zap.Error(err))
	}
}
