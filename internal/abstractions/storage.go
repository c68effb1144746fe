package abstractions

import (
	"context"
	"log/slog"
	"time"

	"github.com/eval-hub/model-arena/pkg/api"
)

type QueryResults[T any] struct {
	Items       []T
	TotalStored int
}

// Storage is the archive of runs. Live runs are served from memory, the archive keeps
// the run record and its aggregate result after the run has been evicted.
type Storage interface {
	WithLogger(logger *slog.Logger) Storage
	WithContext(ctx context.Context) Storage

	// This is used to identify the storage implementation in the logs and error messages
	GetDatasourceName() string

	Ping(timeout time.Duration) error

	// Run operations
	CreateRun(run *api.RunResource) error
	GetRun(id string) (*api.RunResource, error)
	GetRuns(limit int, offset int, statusFilter string) (*QueryResults[api.RunResource], error)
	UpdateRun(run *api.RunResource) error

	// Aggregate result operations
	SaveAggregate(result *api.AggregateResult) error
	GetAggregate(runID string) (*api.AggregateResult, error)

	// Close the storage connection
	Close() error
}

// This interface must be decoupled from the service HTTP layer.
// Do not pass ExecutionContext, Request or Response wrappers either.
