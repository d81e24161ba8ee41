package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/kbpipe/internal/domain"
	"github.com/kailas-cloud/kbpipe/internal/metrics"
	healthuc "github.com/kailas-cloud/kbpipe/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/kbpipe/internal/usecase/ingest"
	searchuc "github.com/kailas-cloud/kbpipe/internal/usecase/search"
)

// Error codes returned in JSON error responses.
const (
	codeBadRequest          = "bad_request"
	codeUnauthorized        = "unauthorized"
	codeRateLimited         = "rate_limited"
	codeProviderError       = "provider_error"
	codeProviderCredentials = "provider_credentials"
	codePayloadTooLarge     = "payload_too_large"
)

const maxIngestBody = 64 << 20 // 64 MiB of documents per request

// Server exposes the pipeline over HTTP.
type Server struct {
	ingest *ingestuc.Service
	search *searchuc.Service
	health *healthuc.Service
	logger *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(ingest *ingestuc.Service, search *searchuc.Service, health *healthuc.Service, logger *zap.Logger) *Server {
	return &Server{ingest: ingest, search: search, health: health, logger: logger}
}

// Routes mounts all handlers on a router with the given middleware chain.
func (s *Server) Routes(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())

	r.Post("/v1/ingest", s.handleIngest)
	r.Post("/v1/search", s.handleSearch)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

type ingestRequest struct {
	Documents []documentPayload `json:"documents"`
}

type documentPayload struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, "documents is required")
		return
	}

	docs := make([]domain.Document, len(req.Documents))
	for i, d := range req.Documents {
		if d.ID == "" {
			writeError(w, http.StatusBadRequest, codeBadRequest, "document id is required")
			return
		}
		docs[i] = domain.Document{ID: d.ID, Text: d.Text, Metadata: d.Metadata}
	}

	report, err := s.ingest.Run(r.Context(), docs)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

type searchResponse struct {
	Matches []domain.Match `json:"matches"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	matches, err := s.search.Search(r.Context(), req.Query, req.TopK)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if matches == nil {
		matches = []domain.Match{}
	}

	writeJSON(w, http.StatusOK, searchResponse{Matches: matches})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for name, res := range report.Checks {
		checks[name] = string(res)
	}

	status := http.StatusOK
	if report.Status != healthuc.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{Status: string(report.Status), Checks: checks})
}

// handleDomainError maps domain sentinels onto HTTP statuses.
func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, codeRateLimited, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		// Our credentials at the provider, not the caller's.
		writeError(w, http.StatusBadGateway, codeProviderCredentials, err.Error())
	case errors.Is(err, domain.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge, err.Error())
	case errors.Is(err, domain.ErrProviderUnavailable), errors.Is(err, domain.ErrVectorDimMismatch):
		writeError(w, http.StatusBadGateway, codeProviderError, err.Error())
	default:
		s.logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
