package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bilgece/retrieval/internal/core/domain"
	"github.com/bilgece/retrieval/internal/core/ports"
	"github.com/bilgece/retrieval/internal/observability/metrics"
)

type RouterConfig struct {
	Service          string
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxConcurrent    int
	AdmissionMaxWait time.Duration
}

type Router struct {
	search      ports.PassageSearchService
	invalidator ports.CacheInvalidator
	health      func() domain.Health
	metrics     *metrics.HTTPServerMetrics
	cfg         RouterConfig
}

func NewRouter(
	search ports.PassageSearchService,
	invalidator ports.CacheInvalidator,
	health func() domain.Health,
	m *metrics.HTTPServerMetrics,
	cfg RouterConfig,
) *Router {
	if cfg.Service == "" {
		cfg.Service = "api"
	}
	return &Router{
		search:      search,
		invalidator: invalidator,
		health:      health,
		metrics:     m,
		cfg:         cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/v1/search", rt.searchPassages)
	api.HandleFunc("/v1/cache/invalidate", rt.invalidateCache)

	// Health and metrics bypass traffic control so probes keep working
	// while the API sheds load.
	var protected http.Handler = api
	protected = backpressureMiddleware(protected, rt.cfg.MaxConcurrent, rt.cfg.AdmissionMaxWait)
	protected = rateLimitMiddleware(protected, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", protected)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.cfg.Service, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]string{"status": "ok"}
	if rt.health != nil {
		level := domain.Decide(rt.health())
		payload["degradation_level"] = level.String()
		if level == domain.LevelCacheOnly {
			payload["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

type searchRequest struct {
	Query      string `json:"query"`
	UserID     string `json:"user_id"`
	SourceType string `json:"source_type"`
	DocumentID string `json:"document_id"`
	Limit      int    `json:"limit"`
}

type searchResponse struct {
	Results          []domain.FusedResult `json:"results"`
	DegradationLevel string               `json:"degradation_level"`
	Degraded         bool                 `json:"degraded"`
	CacheHit         bool                 `json:"cache_hit"`
}

func (rt *Router) searchPassages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		req.UserID = strings.TrimSpace(r.Header.Get("X-User-Id"))
	}

	resp, err := rt.search.Search(r.Context(), domain.Query{
		Text:   req.Query,
		UserID: req.UserID,
		Scope: domain.Scope{
			SourceType: domain.SourceType(req.SourceType),
			DocumentID: req.DocumentID,
		},
		Limit: req.Limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Results:          resp.Results,
		DegradationLevel: resp.Level.String(),
		Degraded:         resp.Degraded,
		CacheHit:         resp.CacheHit,
	})
}

type invalidateRequest struct {
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id"`
	Version    string `json:"version"`
}

func (rt *Router) invalidateCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	var err error
	switch {
	case req.Version != "":
		err = rt.invalidator.InvalidateVersion(r.Context(), req.Version)
	case req.UserID != "" && req.DocumentID != "":
		err = rt.invalidator.InvalidateDocument(r.Context(), req.UserID, req.DocumentID)
	case req.UserID != "":
		err = rt.invalidator.InvalidateUser(r.Context(), req.UserID)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id or version is required"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordInvalidation(rt.cfg.Service, "api")
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
