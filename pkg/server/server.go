package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/openfroyo/iamdeploy/pkg/catalog"
	"github.com/openfroyo/iamdeploy/pkg/config"
	"github.com/openfroyo/iamdeploy/pkg/deploy"
	"github.com/openfroyo/iamdeploy/pkg/engine"
	"github.com/openfroyo/iamdeploy/pkg/stores"
	"github.com/openfroyo/iamdeploy/pkg/telemetry"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Config wires the server. Store may be nil when history is disabled.
type Config struct {
	ListenAddress string
	Service       *deploy.Service
	Store         stores.Store
	Telemetry     *telemetry.Telemetry
}

// Server is the iamdeploy HTTP API.
type Server struct {
	addr    string
	service *deploy.Service
	store   stores.Store
	tel     *telemetry.Telemetry
	logger  *telemetry.Logger
	loader  *config.DefinitionLoader
	router  *mux.Router
}

// New creates a server and registers its routes.
func New(cfg Config) *Server {
	tel := cfg.Telemetry
	if tel == nil {
		tel = telemetry.NewNop()
	}

	s := &Server{
		addr:    cfg.ListenAddress,
		service: cfg.Service,
		store:   cfg.Store,
		tel:     tel,
		logger:  tel.Logger.NewComponentLogger("server"),
		loader:  config.NewDefinitionLoader(),
		router:  mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestLogger)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.tel.Metrics.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/v1/catalog", s.handleCatalog).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/catalog/{id}", s.handleCategory).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/dispatch", s.handleDispatch).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/status", s.handleStatus).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/history", s.handleHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/history/{id}", s.handleDispatchRecord).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/runs", s.handleRuns).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/runs/{id}", s.handleRun).Methods(http.MethodGet)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Zerolog().Info().Str("address", s.addr).Msg("HTTP API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("Shutting down HTTP API")
		return srv.Shutdown(shutdownCtx)
	}
}

// requestLogger logs each request with its status and duration.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		event := s.logger.Zerolog().Debug()
		switch {
		case rw.statusCode >= 500:
			event = s.logger.Zerolog().Error()
		case rw.statusCode >= 400:
			event = s.logger.Zerolog().Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":   "ok",
		"resolver": s.service.Resolver().State().String(),
	}

	if s.store != nil {
		if err := s.store.HealthCheck(r.Context()); err != nil {
			response["status"] = "unavailable"
			response["error"] = err.Error()
			jsonResponse(w, http.StatusServiceUnavailable, response)
			return
		}
	}

	jsonResponse(w, http.StatusOK, response)
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, http.StatusOK, catalog.DescribeAll())
}

func (s *Server) handleCategory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	t, err := catalog.TypeFrom(id)
	if err != nil {
		jsonError(w, http.StatusNotFound, err)
		return
	}
	jsonResponse(w, http.StatusOK, catalog.Describe(t))
}

// dispatchResponse is the reply to POST /v1/dispatch.
type dispatchResponse struct {
	*deploy.Outcome
	Code string `json:"code,omitempty"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	def, ok := s.readDefinition(w, r)
	if !ok {
		return
	}

	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))

	outcome, err := s.service.Dispatch(r.Context(), def, dryRun)
	if err != nil {
		jsonResponse(w, statusFor(err), dispatchResponse{Outcome: outcome, Code: engine.CodeOf(err)})
		return
	}
	jsonResponse(w, http.StatusOK, dispatchResponse{Outcome: outcome})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	def, ok := s.readDefinition(w, r)
	if !ok {
		return
	}

	result, err := s.service.Status(r.Context(), def)
	if err != nil {
		jsonError(w, statusFor(err), err)
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

// readDefinition decodes one definition from the body and runs it through
// the loader so defaults, validation and scripts apply as they do for files.
func (s *Server) readDefinition(w http.ResponseWriter, r *http.Request) (config.Definition, bool) {
	var def config.Definition
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&def); err != nil {
		jsonError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return def, false
	}

	doc, err := json.Marshal(map[string][]config.Definition{"definitions": {def}})
	if err != nil {
		jsonError(w, http.StatusBadRequest, err)
		return def, false
	}

	set, err := s.loader.LoadInline(r.Context(), "json", doc)
	if err == nil {
		err = set.Err()
	}
	if err != nil {
		jsonError(w, http.StatusUnprocessableEntity, err)
		return def, false
	}
	if len(set.Definitions) != 1 {
		jsonError(w, http.StatusUnprocessableEntity, errors.New("expected exactly one definition"))
		return def, false
	}

	return set.Definitions[0], true
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	q := r.URL.Query()
	filter := stores.DispatchFilter{
		RunID:    q.Get("run"),
		Category: q.Get("category"),
		Entity:   q.Get("entity"),
		Status:   stores.DispatchStatus(q.Get("status")),
	}

	var err error
	if filter.Limit, filter.Offset, err = paging(q.Get("limit"), q.Get("offset")); err != nil {
		jsonError(w, http.StatusBadRequest, err)
		return
	}
	if since := q.Get("since"); since != "" {
		if filter.Since, err = time.Parse(time.RFC3339, since); err != nil {
			jsonError(w, http.StatusBadRequest, fmt.Errorf("invalid since: %w", err))
			return
		}
	}

	records, err := s.store.ListDispatches(r.Context(), filter)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err)
		return
	}
	jsonResponse(w, http.StatusOK, records)
}

func (s *Server) handleDispatchRecord(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	rec, err := s.store.GetDispatch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		jsonError(w, storeStatus(err), err)
		return
	}
	jsonResponse(w, http.StatusOK, rec)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	limit, offset, err := paging(r.URL.Query().Get("limit"), r.URL.Query().Get("offset"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, err)
		return
	}

	runs, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err)
		return
	}
	jsonResponse(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}

	run, err := s.store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		jsonError(w, storeStatus(err), err)
		return
	}
	jsonResponse(w, http.StatusOK, run)
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		jsonError(w, http.StatusNotFound, errors.New("dispatch history is disabled"))
		return false
	}
	return true
}

func paging(limitParam, offsetParam string) (int, int, error) {
	var limit, offset int
	var err error
	if limitParam != "" {
		if limit, err = strconv.Atoi(limitParam); err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", limitParam)
		}
	}
	if offsetParam != "" {
		if offset, err = strconv.Atoi(offsetParam); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", offsetParam)
		}
	}
	return limit, offset, nil
}

// statusFor maps an engine error code to an HTTP status. An unknown category
// in a request body is the caller's mistake, not a missing route.
func statusFor(err error) int {
	switch engine.CodeOf(err) {
	case engine.ErrCodePolicyDenied:
		return http.StatusForbidden
	case engine.ErrCodeNotFound, engine.ErrCodeInvalidArgument, engine.ErrCodeUnknownProperty, engine.ErrCodeTypeMismatch,
		engine.ErrCodeMissingRequiredProperty, engine.ErrCodeUnsupportedOperation:
		return http.StatusUnprocessableEntity
	case engine.ErrCodeInvocationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func storeStatus(err error) int {
	var notFound *stores.ErrNotFound
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// jsonResponse sends a JSON response.
func jsonResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// jsonError sends a JSON error response.
func jsonError(w http.ResponseWriter, statusCode int, err error) {
	body := map[string]string{"error": err.Error()}
	if code := engine.CodeOf(err); code != "" {
		body["code"] = code
	}
	jsonResponse(w, statusCode, body)
}
