package server

import (
	"net/http"
	"time"

	"github.com/eval-hub/model-arena/internal/executioncontext"
)

const requestTimeout = 60 * time.Minute

// newExecutionContext creates the request scoped context for a handler. The request
// context is kept so that handlers stop waiting once the client goes away, the logger
// carries the request fields (see loggerWithRequest).
func (s *Server) newExecutionContext(r *http.Request) *executioncontext.ExecutionContext {
	requestID, enhancedLogger := s.loggerWithRequest(r)
	return executioncontext.NewExecutionContext(r.Context(), requestID, enhancedLogger, requestTimeout)
}
