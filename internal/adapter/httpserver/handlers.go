package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/proposal-evaluator/internal/config"
	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
	"github.com/fairyhunter13/proposal-evaluator/internal/scoring"
)

// Analyzer is the analysis service behind the API.
type Analyzer interface {
	Run(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error)
	RunBatch(ctx context.Context, reqs []domain.AnalysisRequest, limit int, deadline time.Time) ([]domain.AnalysisResult, error)
	Rubric() scoring.Rubric
}

// Server aggregates handlers dependencies.
type Server struct {
	Cfg        config.Config
	Analyzer   Analyzer
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server. redisCheck may be nil when throttling is disabled.
func NewServer(cfg config.Config, analyzer Analyzer, redisCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Analyzer: analyzer, RedisCheck: redisCheck}
}

// HandlerTimeout is the deadline the router puts on every request.
func HandlerTimeout(cfg config.Config) time.Duration {
	if cfg.HTTPWriteTimeout <= 0 {
		return 30 * time.Second
	}
	return cfg.HTTPWriteTimeout
}

// analysisDeadline ends analyses early enough that their results, fallbacks
// included, are written before the handler timeout replies on their behalf.
// A positive requested duration can only shorten it.
func (s *Server) analysisDeadline(start time.Time, requested time.Duration) time.Time {
	budget := HandlerTimeout(s.Cfg)
	margin := budget / 5
	if margin > 5*time.Second {
		margin = 5 * time.Second
	}
	deadline := start.Add(budget - margin)
	if requested > 0 {
		if d := start.Add(requested); d.Before(deadline) {
			deadline = d
		}
	}
	return deadline
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type analysisRequestBody struct {
	SpecText            string   `json:"spec_text" validate:"required"`
	ProposalText        string   `json:"proposal_text" validate:"required"`
	Providers           []string `json:"providers" validate:"omitempty,max=8,dive,required,max=64"`
	PerAttemptTimeoutMS int64    `json:"per_attempt_timeout_ms" validate:"gte=0,lte=600000"`
	MaxRetries          *int     `json:"max_retries" validate:"omitempty,gte=0,lte=10"`
}

func (b analysisRequestBody) toRequest(id string) domain.AnalysisRequest {
	return domain.AnalysisTaskPayload{
		RequestID:           id,
		SpecText:            b.SpecText,
		ProposalText:        b.ProposalText,
		Providers:           b.Providers,
		PerAttemptTimeoutMS: b.PerAttemptTimeoutMS,
		MaxRetries:          b.MaxRetries,
	}.ToRequest()
}

type batchRequestBody struct {
	Requests    []analysisRequestBody `json:"requests" validate:"required,min=1,dive"`
	Concurrency int                   `json:"concurrency" validate:"gte=0,lte=64"`
	TimeoutMS   int64                 `json:"timeout_ms" validate:"gte=0"`
}

type batchResponse struct {
	BatchID string                  `json:"batch_id"`
	Results []domain.AnalysisResult `json:"results"`
}

// AnalyzeHandler runs one analysis synchronously.
func (s *Server) AnalyzeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		var body analysisRequestBody
		if !s.decode(w, r, &body) {
			return
		}
		ctx, cancel := context.WithDeadline(r.Context(), s.analysisDeadline(time.Now(), 0))
		defer cancel()
		res, err := s.Analyzer.Run(ctx, body.toRequest(r.Header.Get("X-Request-Id")))
		if err != nil {
			writeError(w, r, fmt.Errorf("analyze: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// BatchHandler runs up to BatchMaxSize analyses with bounded concurrency and
// returns the results in submission order.
func (s *Server) BatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		var body batchRequestBody
		if !s.decode(w, r, &body) {
			return
		}
		if limit := s.Cfg.BatchMaxSize; limit > 0 && len(body.Requests) > limit {
			writeError(w, r, fmt.Errorf("%w: batch exceeds %d requests", domain.ErrInvalidArgument, limit),
				map[string]int{"max": limit, "got": len(body.Requests)})
			return
		}
		batchID := newReqID()
		reqs := make([]domain.AnalysisRequest, len(body.Requests))
		for i, b := range body.Requests {
			reqs[i] = b.toRequest(fmt.Sprintf("%s-%d", batchID, i))
		}
		deadline := s.analysisDeadline(time.Now(), time.Duration(body.TimeoutMS)*time.Millisecond)
		results, err := s.Analyzer.RunBatch(r.Context(), reqs, body.Concurrency, deadline)
		if err != nil {
			writeError(w, r, fmt.Errorf("batch: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, batchResponse{BatchID: batchID, Results: results})
	}
}

// CriteriaHandler lists the rubric.
func (s *Server) CriteriaHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Analyzer.Rubric())
	}
}

// ReadyzHandler reports dependency health; Redis is checked only when configured.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 1)
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}
		st := http.StatusOK
		for _, c := range checks {
			if !c.OK {
				st = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// decode reads a size-capped JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	limit := s.Cfg.MaxRequestKB * 1024
	if limit <= 0 {
		limit = 1 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
		return false
	}
	if err := getValidator().Struct(dst); err != nil {
		verrs := map[string]string{}
		if ve, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range ve {
				verrs[fe.Namespace()] = fe.Tag()
			}
		}
		writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
		return false
	}
	return true
}

// acceptsJSON rejects clients that cannot take a JSON response.
func acceptsJSON(w http.ResponseWriter, r *http.Request) bool {
	if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
		writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]string{"accept": a}}})
		return false
	}
	return true
}
