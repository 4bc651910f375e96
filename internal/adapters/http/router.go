package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/opinion-analyzer/internal/config"
	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
	"github.com/kirillkom/opinion-analyzer/internal/core/ports"
)

const maxRunBodyBytes = 64 << 10

type Router struct {
	runner  ports.AnalysisRunner
	status  ports.AnalysisStatusReader
	queue   ports.RunQueue
	metrics metricsMiddleware
	cfg     config.Config
	now     func() time.Time
}

// metricsMiddleware is satisfied by *metrics.HTTPServerMetrics.
type metricsMiddleware interface {
	Handler() http.Handler
	Middleware(service string, next http.Handler) http.Handler
}

// NewRouter wires the analysis API. queue may be nil, in which case async
// runs are rejected.
func NewRouter(
	cfg config.Config,
	runner ports.AnalysisRunner,
	status ports.AnalysisStatusReader,
	queue ports.RunQueue,
) *Router {
	return &Router{
		runner: runner,
		status: status,
		queue:  queue,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (rt *Router) SetMetrics(m metricsMiddleware) {
	rt.metrics = m
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("POST /v1/projects/{project_id}/analysis-runs", rt.startRun)
	mux.HandleFunc("GET /v1/projects/{project_id}/analysis-status", rt.analysisStatus)
	mux.HandleFunc("GET /v1/projects/{project_id}/analysis-policy", rt.analysisPolicy)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, time.Duration(rt.cfg.APIBackpressureWaitMS)*time.Millisecond)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runRequestBody struct {
	SizeBudget      int    `json:"size_budget"`
	CountBudget     int    `json:"count_budget"`
	Policy          string `json:"policy"`
	Strict          *bool  `json:"strict"`
	IncludeInsights *bool  `json:"include_insights"`
}

type runAcceptedResponse struct {
	Status    string `json:"status"`
	ProjectID string `json:"project_id"`
	RequestID string `json:"request_id"`
}

func (rt *Router) startRun(w http.ResponseWriter, r *http.Request) {
	req, err := rt.decodeRunRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if isTrue(r.URL.Query().Get("async")) {
		if rt.queue == nil {
			writeError(w, domain.WrapError(domain.ErrInvalidInput, "queue analysis run", errors.New("async runs are not enabled")))
			return
		}
		req.EnqueuedAt = rt.now().UTC()
		if err := rt.queue.PublishRunRequested(r.Context(), req); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, runAcceptedResponse{
			Status:    "queued",
			ProjectID: req.ProjectID,
			RequestID: req.RequestID,
		})
		return
	}

	report, err := rt.runner.Run(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) decodeRunRequest(r *http.Request) (domain.RunRequest, error) {
	req := domain.RunRequest{
		ProjectID: strings.TrimSpace(r.PathValue("project_id")),
		RequestID: requestIDFromContext(r.Context()),
	}
	if req.ProjectID == "" {
		return req, domain.WrapError(domain.ErrInvalidInput, "decode run request", errors.New("project id is required"))
	}

	var body runRequestBody
	err := json.NewDecoder(io.LimitReader(r.Body, maxRunBodyBytes)).Decode(&body)
	switch {
	case errors.Is(err, io.EOF):
	case err != nil:
		return req, domain.WrapError(domain.ErrInvalidInput, "decode run request", errors.New("invalid json"))
	}

	if body.Policy != "" {
		policy, err := domain.ParseSelectionPolicy(body.Policy)
		if err != nil {
			return req, err
		}
		req.Policy = policy
	}
	if body.SizeBudget < 0 || body.CountBudget < 0 {
		return req, domain.WrapError(domain.ErrInvalidInput, "decode run request", errors.New("budgets must not be negative"))
	}
	req.SizeBudget = body.SizeBudget
	req.CountBudget = body.CountBudget
	req.Strict = body.Strict
	req.IncludeInsights = body.IncludeInsights
	return req, nil
}

type statusResponse struct {
	Status         *domain.AnalysisStatus    `json:"status"`
	Recommendation *domain.RunRecommendation `json:"recommendation"`
}

func (rt *Router) analysisStatus(w http.ResponseWriter, r *http.Request) {
	status, recommendation, err := rt.status.Status(r.Context(), r.PathValue("project_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: status, Recommendation: recommendation})
}

func (rt *Router) analysisPolicy(w http.ResponseWriter, r *http.Request) {
	rec, err := rt.status.RecommendPolicy(r.Context(), r.PathValue("project_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func isTrue(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
