package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/store"
	"github.com/pacedotdev/oto/otohttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Error is the body of a failed call
type Error struct {
	Error string `json:"error"`
}

// DefaultMaxBodyBytes bounds request bodies when ServerOptions leaves
// MaxBodyBytes unset.
const DefaultMaxBodyBytes = 1 << 20

// ServerOptions configure the HTTP handler
type ServerOptions struct {
	// Basepath of the RPC routes, "/oto/" when empty
	Basepath string

	// Gatherer exposes its metrics on /metrics when set
	Gatherer prometheus.Gatherer

	// MaxBodyBytes bounds the size of a request body
	MaxBodyBytes int64

	Logger *slog.Logger
}

// NewHandler returns the HTTP handler of the service: the RPC routes
// and, when a gatherer is given, /metrics.
func NewHandler(service RuleService, opts ServerOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	server := otohttp.NewServer()
	if opts.Basepath != "" {
		server.Basepath = opts.Basepath
	}
	server.OnErr = func(w http.ResponseWriter, r *http.Request, err error) {
		status := statusOf(err)
		if status >= http.StatusInternalServerError {
			logger.Error("call failed", "path", r.URL.Path, "error", err)
		} else {
			logger.Debug("call rejected", "path", r.URL.Path, "error", err)
		}
		if err := otohttp.Encode(w, r, status, Error{Error: err.Error()}); err != nil {
			logger.Error("encoding error", "error", err)
		}
	}
	RegisterRuleService(server, service)

	mux := http.NewServeMux()
	limit := opts.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	mux.Handle(server.Basepath, limitBody(server, limit))
	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// limitBody rejects requests whose body is larger than limit.
func limitBody(server *otohttp.Server, limit int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > limit {
			server.OnErr(w, r, &http.MaxBytesError{Limit: limit})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		server.ServeHTTP(w, r)
	})
}

// statusOf maps the errors of the engine to HTTP statuses.
func statusOf(err error) int {
	var (
		decodeErr *requestError
		tooLarge  *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &decodeErr):
		return http.StatusBadRequest
	case errors.Is(err, arbiter.ErrRuleNotFound),
		errors.Is(err, arbiter.ErrContextNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, arbiter.ErrRuleNotValidated),
		errors.Is(err, arbiter.ErrInvalidName),
		errors.Is(err, arbiter.ErrDuplicateDefinition),
		errors.Is(err, arbiter.ErrCoercion),
		errors.Is(err, arbiter.ErrTestCaseFailed),
		errors.Is(err, arbiter.ErrCompilation),
		errors.Is(err, arbiter.ErrUnauthorizedFunction):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// requestError is a request that could not be decoded.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return "bad request: " + e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

type ruleServiceServer struct {
	server      *otohttp.Server
	ruleService RuleService
}

// RegisterRuleService adds the RuleService routes to server.
func RegisterRuleService(server *otohttp.Server, ruleService RuleService) {
	handler := &ruleServiceServer{
		server:      server,
		ruleService: ruleService,
	}
	server.Register("RuleService", "Evaluate", handler.handleEvaluate)
	server.Register("RuleService", "Validate", handler.handleValidate)
	server.Register("RuleService", "RunTests", handler.handleRunTests)
	server.Register("RuleService", "ListRules", handler.handleListRules)
	server.Register("RuleService", "PutRule", handler.handlePutRule)
	server.Register("RuleService", "DeleteRule", handler.handleDeleteRule)
	server.Register("RuleService", "Tree", handler.handleTree)
	server.Register("RuleService", "Logs", handler.handleLogs)
	server.Register("RuleService", "CreateTestCase", handler.handleCreateTestCase)
}

func (s *ruleServiceServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var request EvaluateRequest
	if err := otohttp.Decode(r, &request); err != nil {
		s.server.OnErr(w, r, &requestError{err})
		return
	}
	response, err := s.ruleService.Evaluate(r.Context(), request)
	if err != nil {
		s.server.OnErr(w, r, err)
		return
	}
	if err := otohttp.Encode(w, r, http.StatusOK, response); err != nil {
		s.server.OnErr(w, r, err)
		return
	}
}

func (s *ruleServiceServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	var request ValidateRequest
	if err := otohttp.Decode(r, &request); err != nil {
		s.server.OnErr(w, r, &requestError{err})
		return
	}
	response, err := s.ruleService.Validate(r.Context(), request)
	if err != nil {
		s.server.OnErr(w, r, err)
		return
	}
	if err := otohttp.Encode(w, r, http.StatusOK, response); err != nil {
		s.server.OnErr(w, r, err)
		return
	}
}

func (s *ruleServiceServer) handleRunTests(w http.ResponseWriter, r *http.Request) {
	var request RunTestsRequest
	if err := otohttp.Decode(r, &request); err != nil {
		s.server.OnErr(w, r, &requestError{err})
		return
	}
	response, err := s.ruleService.RunTests(r.Context(), request)
	if err != nil {
		s.server.OnErr(w, r, err)
		return
	}
	if err := otohttp.Encode(w, r, http.StatusOK, response); err != nil {
		s.server.OnErr(w, r, err)
		return
	}
}

func (s *ruleServiceServer) handleListRules(w http.ResponseWriter, r *http.Request) {
	var request ListRulesRequest
	if err := otohttp.Decode(r, &request); err != nil {
		s.server.OnErr(w, r, &requestError{err})
		return
	}
	response, err := s.ruleService.ListRules(r.Context(), request)
	if err != nil {
		s.server.OnErr(w, r, err)
		return
	}
	if err := otohttp.Encode(w, r, http.StatusOK, response); err != nil {
		s.server.OnErr(w, r, err)
		return
	}
}

func (s *ruleServiceServer) handlePutRule(w http.ResponseWriter, r *http.Request) {
	var request PutRuleRequest
	if err := otohttp.Decode(r, &request); err != nil {
		s.server.OnErr(w, r, &requestError{err})
		return
	}
	response, err := s.ruleService.PutRule(r.Context(), request)
	if err != nil {
		s.server.OnErr(w, r, err)
		return
	}
	if err := otohttp.Encode(w, r, http.StatusOK, response); err != nil {
		s.server.OnErr(w, r, err)
		return
	}
}

func (s *ruleServiceServer) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	var request DeleteRuleRequest
	if err := otohttp.Decode(r, &request); err != nil {
		s.server.OnErr(w, r, &requestError{err})
		return
	}
	response, err := s.ruleService.DeleteRule(r.Context(), request)
	if err != nil {
		s.server.OnErr(w, r, err)
		return
	}
	if err := otohttp.Encode(w, r, http.StatusOK, response); err != nil {
		s.server.OnErr(w, r, err)
		return
	}
}

func (s *ruleServiceServer) handleTree(w http.ResponseWriter, r *http.Request) {
	var request TreeRequest
	if err := otohttp.Decode(r, &request); err != nil {
		s.server.OnErr(w, r, &requestError{err})
		return
	}
	response, err := s.ruleService.Tree(r.Context(), request)
	if err != nil {
		s.server.OnErr(w, r, err)
		return
	}
	if err := otohttp.Encode(w, r, http.StatusOK, response); err != nil {
		s.server.OnErr(w, r, err)
		return
	}
}

func (s *ruleServiceServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	var request LogsRequest
	if err := otohttp.Decode(r, &request); err != nil {
		s.server.OnErr(w, r, &requestError{err})
		return
	}
	response, err := s.ruleService.Logs(r.Context(), request)
	if err != nil {
		s.server.OnErr(w, r, err)
		return
	}
	if err := otohttp.Encode(w, r, http.StatusOK, response); err != nil {
		s.server.OnErr(w, r, err)
		return
	}
}

func (s *ruleServiceServer) handleCreateTestCase(w http.ResponseWriter, r *http.Request) {
	var request CreateTestCaseRequest
	if err := otohttp.Decode(r, &request); err != nil {
		s.server.OnErr(w, r, &requestError{err})
		return
	}
	response, err := s.ruleService.CreateTestCase(r.Context(), request)
	if err != nil {
		s.server.OnErr(w, r, err)
		return
	}
	if err := otohttp.Encode(w, r, http.StatusOK, response); err != nil {
		s.server.OnErr(w, r, err)
		return
	}
}
