package executioncontext

import (
	"context"
	"log/slog"
	"time"
)

// ExecutionContext carries the request scoped values that the handlers need.
// It is created by the server for each request and must not be shared between requests.
type ExecutionContext struct {
	Ctx       context.Context
	RequestID string
	Logger    *slog.Logger
	// Timeout bounds how long a handler waits for work it does not own, event streams are not bounded
	Timeout   time.Duration
	StartedAt time.Time
}

func NewExecutionContext(ctx context.Context, requestID string, logger *slog.Logger, timeout time.Duration) *ExecutionContext {
	return &ExecutionContext{
		Ctx:       ctx,
		RequestID: requestID,
		Logger:    logger,
		Timeout:   timeout,
		StartedAt: time.Now(),
	}
}

// WithLogger returns a copy of the execution context using the given logger.
func (e *ExecutionContext) WithLogger(logger *slog.Logger) *ExecutionContext {
	c := *e
	c.Logger = logger
	return &c
}
