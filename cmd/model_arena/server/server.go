package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/eval-hub/model-arena/internal/abstractions"
	"github.com/eval-hub/model-arena/internal/config"
	"github.com/eval-hub/model-arena/internal/constants"
	"github.com/eval-hub/model-arena/internal/handlers"
	"github.com/eval-hub/model-arena/internal/http_wrappers"
	"github.com/eval-hub/model-arena/internal/messages"
	"github.com/eval-hub/model-arena/internal/runs"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ServerClosedError is returned by Start once the server has been shut down.
type ServerClosedError struct{}

func (e *ServerClosedError) Error() string {
	return "server closed"
}

func (e *ServerClosedError) Is(target error) bool {
	_, ok := target.(*ServerClosedError)
	return ok
}

type Server struct {
	httpServer    *http.Server
	port          int
	logger        *slog.Logger
	serviceConfig *config.Config
	manager       *runs.Manager
	participants  abstractions.ParticipantRegistry
	validate      *validator.Validate
}

// NewServer creates a new HTTP server instance. The server uses the standard library
// net/http.ServeMux for routing without a web framework.
//
// The server implements the routing pattern where:
//   - An ExecutionContext is created at the route level before calling handlers
//   - Routes manually switch on HTTP method in handler functions
//   - Handlers only see the request and response wrappers
//
// All routes are wrapped with the Prometheus metrics middleware and with the
// OpenTelemetry HTTP instrumentation.
func NewServer(logger *slog.Logger,
	serviceConfig *config.Config,
	manager *runs.Manager,
	participants abstractions.ParticipantRegistry,
	validate *validator.Validate) (*Server, error) {

	if logger == nil {
		return nil, fmt.Errorf("logger is required for the server")
	}
	if (serviceConfig == nil) || (serviceConfig.Service == nil) {
		return nil, fmt.Errorf("service config is required for the server")
	}
	if manager == nil {
		return nil, fmt.Errorf("run manager is required for the server")
	}
	if participants == nil {
		return nil, fmt.Errorf("participant registry is required for the server")
	}
	if validate == nil {
		return nil, fmt.Errorf("validator is required for the server")
	}

	s := &Server{
		port:          serviceConfig.Service.Port,
		logger:        logger,
		serviceConfig: serviceConfig,
		manager:       manager,
		participants:  participants,
		validate:      validate,
	}
	handler, err := s.setupRoutes()
	if err != nil {
		return nil, err
	}
	// no write timeout, event streams stay open for the lifetime of a run
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) GetPort() int {
	return s.port
}

// loggerWithRequest enhances a logger with request-specific fields so that every log
// entry of a request can be correlated. The fields are added when available:
//   - request_id: Extracted from X-Global-Transaction-Id header, or auto-generated UUID if missing
//   - method, uri: The HTTP method and the request path
//   - user_agent, remote_addr, remote_user, referer: Client details
func (s *Server) loggerWithRequest(r *http.Request) (string, *slog.Logger) {
	requestID := r.Header.Get(constants.HEADER_REQUEST_ID)
	if requestID == "" {
		requestID = uuid.New().String() // generate a UUID if not present
	}

	enhancedLogger := s.logger.With(constants.LOG_REQUEST_ID, requestID)

	method := r.Method
	if method != "" {
		enhancedLogger = enhancedLogger.With(constants.LOG_METHOD, method)
	}

	uri := ""
	if r.URL != nil {
		uri = r.URL.Path
	}
	if uri == "" {
		uri = r.RequestURI
	}
	if uri != "" {
		enhancedLogger = enhancedLogger.With(constants.LOG_URI, uri)
	}

	userAgent := r.Header.Get("User-Agent")
	if userAgent != "" {
		enhancedLogger = enhancedLogger.With(constants.LOG_USER_AGENT, userAgent)
	}

	remoteAddr := r.RemoteAddr
	if remoteAddr != "" {
		enhancedLogger = enhancedLogger.With(constants.LOG_REMOTE_ADR, remoteAddr)
	}

	// Extract remote_user from URL user info or header
	remoteUser := ""
	if r.URL != nil && r.URL.User != nil {
		remoteUser = r.URL.User.Username()
	}
	if remoteUser == "" {
		remoteUser = r.Header.Get("Remote-User")
	}
	if remoteUser != "" {
		enhancedLogger = enhancedLogger.With(constants.LOG_USER, remoteUser)
	}

	referer := r.Header.Get("Referer")
	if referer != "" {
		enhancedLogger = enhancedLogger.With(constants.LOG_REFERER, referer)
	}

	return requestID, enhancedLogger
}

func (s *Server) setupRoutes() (http.Handler, error) {
	router := http.NewServeMux()
	h := handlers.New(s.manager, s.participants, s.validate, s.serviceConfig)

	// Health endpoint
	router.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		ctx := s.newExecutionContext(r)
		resp := http_wrappers.NewRespWrapper(w, ctx)
		req := http_wrappers.NewRequestWrapper(r)
		switch req.Method() {
		case http.MethodGet:
			h.HandleHealth(ctx, req, resp)
		default:
			resp.ErrorWithMessageCode(ctx.RequestID, messages.MethodNotAllowed, "Method", req.Method(), "Api", req.URI())
		}
	})

	// Participant endpoints, participant ids contain a '/'
	router.HandleFunc("/api/v1/participants", func(w http.ResponseWriter, r *http.Request) {
		ctx := s.newExecutionContext(r)
		resp := http_wrappers.NewRespWrapper(w, ctx)
		req := http_wrappers.NewRequestWrapper(r)
		switch req.Method() {
		case http.MethodGet:
			h.HandleListParticipants(ctx, req, resp)
		default:
			resp.ErrorWithMessageCode(ctx.RequestID, messages.MethodNotAllowed, "Method", req.Method(), "Api", req.URI())
		}
	})

	router.HandleFunc(fmt.Sprintf("/api/v1/participants/{%s...}", constants.PATH_PARAMETER_PARTICIPANT_ID), func(w http.ResponseWriter, r *http.Request) {
		ctx := s.newExecutionContext(r)
		resp := http_wrappers.NewRespWrapper(w, ctx)
		req := http_wrappers.NewRequestWrapper(r)
		switch req.Method() {
		case http.MethodGet:
			h.HandleGetParticipant(ctx, req, resp)
		default:
			resp.ErrorWithMessageCode(ctx.RequestID, messages.MethodNotAllowed, "Method", req.Method(), "Api", req.URI())
		}
	})

	// Run endpoints
	router.HandleFunc("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		ctx := s.newExecutionContext(r)
		resp := http_wrappers.NewRespWrapper(w, ctx)
		req := http_wrappers.NewRequestWrapper(r)
		switch req.Method() {
		case http.MethodPost:
			h.HandleCreateRun(ctx, req, resp)
		case http.MethodGet:
			h.HandleListRuns(ctx, req, resp)
		default:
			resp.ErrorWithMessageCode(ctx.RequestID, messages.MethodNotAllowed, "Method", req.Method(), "Api", req.URI())
		}
	})

	router.HandleFunc(fmt.Sprintf("/api/v1/runs/{%s}", constants.PATH_PARAMETER_RUN_ID), func(w http.ResponseWriter, r *http.Request) {
		ctx := s.newExecutionContext(r)
		resp := http_wrappers.NewRespWrapper(w, ctx)
		req := http_wrappers.NewRequestWrapper(r)
		switch req.Method() {
		case http.MethodGet:
			h.HandleGetRun(ctx, req, resp)
		case http.MethodDelete:
			h.HandleCancelRun(ctx, req, resp)
		default:
			resp.ErrorWithMessageCode(ctx.RequestID, messages.MethodNotAllowed, "Method", req.Method(), "Api", req.URI())
		}
	})

	router.HandleFunc(fmt.Sprintf("/api/v1/runs/{%s}/participants", constants.PATH_PARAMETER_RUN_ID), func(w http.ResponseWriter, r *http.Request) {
		ctx := s.newExecutionContext(r)
		resp := http_wrappers.NewRespWrapper(w, ctx)
		req := http_wrappers.NewRequestWrapper(r)
		switch req.Method() {
		case http.MethodGet:
			h.HandleListRunParticipants(ctx, req, resp)
		default:
			resp.ErrorWithMessageCode(ctx.RequestID, messages.MethodNotAllowed, "Method", req.Method(), "Api", req.URI())
		}
	})

	router.HandleFunc(fmt.Sprintf("/api/v1/runs/{%s}/events", constants.PATH_PARAMETER_RUN_ID), func(w http.ResponseWriter, r *http.Request) {
		ctx := s.newExecutionContext(r)
		resp := http_wrappers.NewRespWrapper(w, ctx)
		req := http_wrappers.NewRequestWrapper(r)
		switch req.Method() {
		case http.MethodGet:
			h.HandleListEvents(ctx, req, resp)
		default:
			resp.ErrorWithMessageCode(ctx.RequestID, messages.MethodNotAllowed, "Method", req.Method(), "Api", req.URI())
		}
	})

	router.HandleFunc(fmt.Sprintf("/api/v1/runs/{%s}/stream", constants.PATH_PARAMETER_RUN_ID), func(w http.ResponseWriter, r *http.Request) {
		ctx := s.newExecutionContext(r)
		resp := http_wrappers.NewRespWrapper(w, ctx)
		req := http_wrappers.NewRequestWrapper(r)
		switch req.Method() {
		case http.MethodGet:
			h.HandleStream(ctx, req, resp)
		default:
			resp.ErrorWithMessageCode(ctx.RequestID, messages.MethodNotAllowed, "Method", req.Method(), "Api", req.URI())
		}
	})

	router.HandleFunc(fmt.Sprintf("/api/v1/runs/{%s}/aggregate", constants.PATH_PARAMETER_RUN_ID), func(w http.ResponseWriter, r *http.Request) {
		ctx := s.newExecutionContext(r)
		resp := http_wrappers.NewRespWrapper(w, ctx)
		req := http_wrappers.NewRequestWrapper(r)
		switch req.Method() {
		case http.MethodGet:
			h.HandleGetAggregate(ctx, req, resp)
		default:
			resp.ErrorWithMessageCode(ctx.RequestID, messages.MethodNotAllowed, "Method", req.Method(), "Api", req.URI())
		}
	})

	// OpenAPI documentation endpoints
	router.HandleFunc("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		ctx := s.newExecutionContext(r)
		resp := http_wrappers.NewRespWrapper(w, ctx)
		req := http_wrappers.NewRequestWrapper(r)
		switch req.Method() {
		case http.MethodGet:
			h.HandleOpenAPI(ctx, req, resp)
		default:
			resp.ErrorWithMessageCode(ctx.RequestID, messages.MethodNotAllowed, "Method", req.Method(), "Api", req.URI())
		}
	})

	router.HandleFunc("/docs", func(w http.ResponseWriter, r *http.Request) {
		ctx := s.newExecutionContext(r)
		resp := http_wrappers.NewRespWrapper(w, ctx)
		req := http_wrappers.NewRequestWrapper(r)
		switch req.Method() {
		case http.MethodGet:
			h.HandleDocs(ctx, req, resp)
		default:
			resp.ErrorWithMessageCode(ctx.RequestID, messages.MethodNotAllowed, "Method", req.Method(), "Api", req.URI())
		}
	})

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Enable CORS in local mode only (for development/testing)
	handler := http.Handler(router)
	if s.serviceConfig.Service.LocalMode {
		handler = CorsMiddleware(handler, s.serviceConfig)
	}

	// the metrics middleware sits inside the tracing handler so that it sees the matched route pattern
	handler = Middleware(handler)
	handler = otelhttp.NewHandler(handler, "model-arena",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics"
		}),
	)

	return handler, nil
}

// SetupRoutes exposes the route setup for testing
func (s *Server) SetupRoutes() (http.Handler, error) {
	return s.setupRoutes()
}

// Start serves until the server is shut down. A server shut down before Start
// returns ServerClosedError right away.
func (s *Server) Start() error {
	if s.serviceConfig.Service.ReadyFile != "" {
		s.logger.Info("Writing the server ready message", "file", s.serviceConfig.Service.ReadyFile)
		if err := SetReady(s.serviceConfig, s.logger); err != nil {
			return err
		}
	}

	s.logger.Info("Server starting", "port", s.port)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return &ServerClosedError{}
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server gracefully...")
	return s.httpServer.Shutdown(ctx)
}
