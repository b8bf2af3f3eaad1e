package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-autopilot/internal/config"
	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/core/ports"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/export/xlsx"
)

const (
	defaultListLimit     = 50
	maxListLimit         = 500
	defaultUploadMaxSize = 32 << 20
)

// HTTPMetrics is the request instrumentation the router mounts when present.
type HTTPMetrics interface {
	Handler() http.Handler
	Middleware(service string, next http.Handler) http.Handler
}

type Router struct {
	cfg      config.Config
	pipeline ports.PipelineService
	learning ports.LearningReader
	taxes    ports.TaxCalculator
	metrics  HTTPMetrics
	logger   *slog.Logger
}

type RouterOption func(*Router)

func WithLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func WithMetrics(m HTTPMetrics) RouterOption {
	return func(rt *Router) {
		rt.metrics = m
	}
}

func NewRouter(
	cfg config.Config,
	pipeline ports.PipelineService,
	learning ports.LearningReader,
	taxes ports.TaxCalculator,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		cfg:      cfg,
		pipeline: pipeline,
		learning: learning,
		taxes:    taxes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(func(next http.Handler) http.Handler { return accessLogMiddleware(rt.logger, next) })

	r.Get("/healthz", rt.healthz)
	if rt.metrics != nil {
		r.Handle("/metrics", rt.metrics.Handler())
	}

	limiter := newClientRateLimiter(rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	r.Group(func(r chi.Router) {
		r.Use(limiter.middleware)
		r.Use(func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.cfg.APIMaxInFlight, rt.cfg.APIOverloadWait)
		})

		r.Post("/v1/documents", rt.submitDocument)
		r.Get("/v1/runs", rt.listRuns)
		r.Route("/v1/runs/{runID}", func(r chi.Router) {
			r.Get("/", rt.getRun)
			r.Post("/validation", rt.validateRun)
			r.Post("/cancel", rt.cancelRun)
			r.Get("/entry.xlsx", rt.exportEntry)
		})
		r.Get("/v1/statistics", rt.statistics)
		r.Get("/v1/learning/state", rt.learningState)
		r.Get("/v1/learning/sessions", rt.learningSessions)
		r.Post("/v1/tax/calculate", rt.calculateTaxes)
	})

	if rt.metrics != nil {
		return rt.metrics.Middleware("api", r)
	}
	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) submitDocument(w http.ResponseWriter, r *http.Request) {
	maxBytes := rt.cfg.UploadMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultUploadMaxSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	origin, ok := domain.ParseOrigin(r.FormValue("origin"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown origin")
		return
	}
	confidentiality, ok := domain.ParseConfidentiality(r.FormValue("confidentiality"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown confidentiality")
		return
	}
	quality, err := parseQuality(r.FormValue("quality"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	autoValidate := false
	if v := strings.TrimSpace(r.FormValue("auto_validate")); v != "" {
		autoValidate, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "auto_validate must be a boolean")
			return
		}
	}

	run, err := rt.pipeline.Submit(r.Context(), ports.SubmitRequest{
		DocumentID:      strings.TrimSpace(r.FormValue("document_id")),
		Filename:        fileHeader.Filename,
		MimeType:        fileHeader.Header.Get("Content-Type"),
		Body:            file,
		SubmittedBy:     strings.TrimSpace(r.FormValue("submitted_by")),
		Origin:          origin,
		Confidentiality: confidentiality,
		Quality:         quality,
	}, domain.SubmitOptions{
		AutoValidate: autoValidate,
		Journal:      strings.TrimSpace(r.FormValue("journal")),
	})
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func parseQuality(v string) (*domain.ImageQuality, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if strings.HasPrefix(v, "{") {
		var q domain.ImageQuality
		if err := json.Unmarshal([]byte(v), &q); err != nil {
			return nil, errors.New("quality must be a number or a JSON object")
		}
		return &q, nil
	}
	overall, err := strconv.ParseFloat(v, 64)
	if err != nil || overall < 0 || overall > 100 {
		return nil, errors.New("quality must be within [0,100]")
	}
	return &domain.ImageQuality{Overall: overall}, nil
}

func (rt *Router) listRuns(w http.ResponseWriter, r *http.Request) {
	filter := domain.RunFilter{Limit: defaultListLimit}
	if v := r.URL.Query().Get("state"); v != "" {
		state, ok := domain.ParseRunState(v)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", v))
			return
		}
		filter.State = state
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Limit = limit

	runs, err := rt.pipeline.ListRuns(r.Context(), filter)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func parseLimit(v string, fallback int) (int, error) {
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

func (rt *Router) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := rt.pipeline.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type validationRequest struct {
	ValidatorID      string                    `json:"validator_id"`
	Decision         domain.Decision           `json:"decision"`
	Modifications    []domain.LineModification `json:"modifications"`
	QualityScore     float64                   `json:"quality_score"`
	TimeSpentSeconds float64                   `json:"time_spent_seconds"`
	Difficulties     []string                  `json:"difficulties"`
	Comment          string                    `json:"comment"`
}

func (rt *Router) validateRun(w http.ResponseWriter, r *http.Request) {
	var req validationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.TimeSpentSeconds < 0 {
		writeError(w, http.StatusBadRequest, "time_spent_seconds must not be negative")
		return
	}

	run, err := rt.pipeline.Validate(r.Context(), chi.URLParam(r, "runID"), domain.ValidationOutcome{
		ValidatorID:   strings.TrimSpace(req.ValidatorID),
		Decision:      req.Decision,
		Modifications: req.Modifications,
		QualityScore:  req.QualityScore,
		TimeSpent:     time.Duration(req.TimeSpentSeconds * float64(time.Second)),
		Difficulties:  req.Difficulties,
		Comment:       req.Comment,
	})
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (rt *Router) cancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := rt.pipeline.Cancel(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (rt *Router) exportEntry(w http.ResponseWriter, r *http.Request) {
	run, err := rt.pipeline.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if run.Entry == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("run %s has no generated entry", run.ID))
		return
	}

	w.Header().Set("Content-Type", xlsx.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="entry-%s.xlsx"`, run.ID))
	if err := xlsx.WriteEntry(w, run); err != nil {
		rt.logger.Error("entry_export_failed", "run_id", run.ID, "error", err)
	}
}

func (rt *Router) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.pipeline.Statistics(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) learningState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.learning.Snapshot())
}

func (rt *Router) learningSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := rt.learning.Sessions(r.Context(), limit)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

type taxRequest struct {
	Base    decimal.Decimal `json:"base"`
	Journal string          `json:"journal"`
	Date    string          `json:"date"`
}

func (rt *Router) calculateTaxes(w http.ResponseWriter, r *http.Request) {
	var req taxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Journal) == "" {
		writeError(w, http.StatusBadRequest, "journal is required")
		return
	}
	date := time.Now().UTC()
	if req.Date != "" {
		parsed, err := time.Parse(time.DateOnly, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}

	taxes, err := rt.taxes.CalculateOperation(r.Context(), req.Base, strings.ToUpper(strings.TrimSpace(req.Journal)), date)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taxes)
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"kind", domain.KindOf(err),
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": domain.KindOf(err)})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
