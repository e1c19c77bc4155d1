package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/factcheck-cli/internal/jobs"
	"github.com/sells-group/factcheck-cli/internal/model"
	"github.com/sells-group/factcheck-cli/internal/monitoring"
	"github.com/sells-group/factcheck-cli/internal/pipeline"
	"github.com/sells-group/factcheck-cli/internal/registry"
	"github.com/sells-group/factcheck-cli/internal/resilience"
	"github.com/sells-group/factcheck-cli/internal/store"
)

// api serves the pipeline over HTTP.
type api struct {
	pipeline  *pipeline.Pipeline
	store     store.Store
	tracker   *jobs.Tracker
	collector *monitoring.Collector
	breakers  *resilience.ServiceBreakers
	// queueDepth reports the task queue depth on /status. Optional.
	queueDepth func() int
	metrics    http.Handler
	validate   *validator.Validate
}

func newAPI(env *appEnv) *api {
	a := &api{
		pipeline:  env.Pipeline,
		store:     env.Store,
		tracker:   env.Tracker,
		collector: monitoring.NewCollector(env.Store),
		breakers:  env.Breakers,
		validate:  validator.New(),
	}
	if env.Registry != nil {
		a.metrics = promhttp.HandlerFor(env.Registry, promhttp.HandlerOpts{})
	}
	if env.Queue != nil {
		a.queueDepth = env.Queue.Depth
	}
	return a
}

type classifyBatchRequest struct {
	ItemIDs []string `json:"item_ids" validate:"required,min=1,dive,uuid"`
	Slugs   []string `json:"slugs"`
	Force   bool     `json:"force"`
}

type eligibilityRequest struct {
	Slugs  []string `json:"slugs"`
	DryRun bool     `json:"dry_run"`
}

type factCheckRequest struct {
	Slug  string `json:"slug" validate:"required"`
	Force bool   `json:"force"`
}

type factCheckBatchRequest struct {
	ItemIDs []string `json:"item_ids" validate:"required,min=1,dive,uuid"`
	Slug    string   `json:"slug" validate:"required"`
	Force   bool     `json:"force"`
}

type noteRequest struct {
	Writer string `json:"writer" validate:"required"`
	Force  bool   `json:"force"`
}

// routes builds the chi router.
func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	} else {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}
	r.Get("/status", a.status)

	r.Post("/classify/batch", a.classifyBatch)
	r.Post("/fact-checks/batch", a.factCheckBatch)
	r.Post("/reconcile", a.reconcile)
	r.Post("/circuits/{service}/reset", a.resetCircuit)

	r.Route("/items/{id}", func(r chi.Router) {
		r.Use(uuidParam)
		r.Post("/classify", a.classifyItem)
		r.Post("/eligibility", a.eligibility)
		r.Post("/fact-checks", a.startFactCheck)
	})
	r.Route("/fact-checks/{id}", func(r chi.Router) {
		r.Use(uuidParam)
		r.Get("/", a.getFactCheck)
		r.Post("/notes", a.writeNote)
	})
	r.Route("/notes/{id}", func(r chi.Router) {
		r.Use(uuidParam)
		r.Get("/", a.getNote)
		r.Patch("/", a.editNote)
		r.Post("/submit", a.submitNote)
	})
	r.With(uuidParam).Get("/jobs/{id}", a.getJob)

	return r
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	snap, err := a.collector.Collect(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := struct {
		*monitoring.Snapshot
		QueueDepth int                                `json:"queue_depth"`
		Circuits   map[string]resilience.CircuitState `json:"circuits"`
	}{Snapshot: snap, Circuits: map[string]resilience.CircuitState{}}
	if a.queueDepth != nil {
		resp.QueueDepth = a.queueDepth()
	}
	if a.breakers != nil {
		resp.Circuits = a.breakers.States()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) classifyItem(w http.ResponseWriter, r *http.Request) {
	var opts pipeline.ClassifyOptions
	if !a.decode(w, r, &opts, true) {
		return
	}
	res, err := a.pipeline.Classify(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) classifyBatch(w http.ResponseWriter, r *http.Request) {
	var req classifyBatchRequest
	if !a.decode(w, r, &req, false) {
		return
	}
	jobID, err := a.pipeline.StartClassifyBatch(r.Context(), req.ItemIDs, pipeline.ClassifyOptions{Slugs: req.Slugs, Force: req.Force})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (a *api) eligibility(w http.ResponseWriter, r *http.Request) {
	var req eligibilityRequest
	if !a.decode(w, r, &req, true) {
		return
	}
	itemID := chi.URLParam(r, "id")
	if req.DryRun {
		report, err := a.pipeline.EvaluateEligibility(r.Context(), itemID, req.Slugs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}
	res, err := a.pipeline.TriggerFactChecks(r.Context(), itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) startFactCheck(w http.ResponseWriter, r *http.Request) {
	var req factCheckRequest
	if !a.decode(w, r, &req, false) {
		return
	}
	res, err := a.pipeline.StartFactCheck(r.Context(), chi.URLParam(r, "id"), req.Slug, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusAccepted
	}
	writeJSON(w, code, res)
}

func (a *api) factCheckBatch(w http.ResponseWriter, r *http.Request) {
	var req factCheckBatchRequest
	if !a.decode(w, r, &req, false) {
		return
	}
	jobID, err := a.pipeline.StartFactCheckBatch(r.Context(), req.ItemIDs, req.Slug, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (a *api) getFactCheck(w http.ResponseWriter, r *http.Request) {
	fc, err := a.store.GetFactCheck(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

func (a *api) writeNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !a.decode(w, r, &req, false) {
		return
	}
	note, err := a.pipeline.WriteNote(r.Context(), chi.URLParam(r, "id"), req.Writer, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (a *api) getNote(w http.ResponseWriter, r *http.Request) {
	note, err := a.store.GetNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (a *api) editNote(w http.ResponseWriter, r *http.Request) {
	var edit pipeline.NoteEdit
	if !a.decode(w, r, &edit, false) {
		return
	}
	note, err := a.pipeline.EditNote(r.Context(), chi.URLParam(r, "id"), edit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (a *api) submitNote(w http.ResponseWriter, r *http.Request) {
	sub, err := a.pipeline.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (a *api) reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := a.pipeline.Reconcile(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) resetCircuit(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	if a.breakers == nil || !a.breakers.Reset(service) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown circuit " + service})
		return
	}
	zap.L().Info("circuit reset", zap.String("service", service))
	writeJSON(w, http.StatusOK, map[string]string{"service": service, "state": resilience.CircuitClosed.String()})
}

func (a *api) getJob(w http.ResponseWriter, r *http.Request) {
	st, err := a.tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// decode reads a JSON body into v and validates it. With optional an empty
// body leaves v at its zero value.
func (a *api) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
			return false
		}
	}
	if err := a.validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return false
	}
	return true
}

// uuidParam rejects malformed {id} path parameters before any lookup.
func uuidParam(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := uuid.Parse(chi.URLParam(r, "id")); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed id"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps pipeline and store errors to HTTP status codes.
func statusFor(err error) int {
	var (
		integrity  *pipeline.IntegrityError
		validation *model.ValidationError
	)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case registry.IsUnknownStrategy(err):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrAlreadySubmitted), errors.As(err, &integrity):
		return http.StatusConflict
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		zap.L().Error("http handler failed", zap.Error(err))
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
