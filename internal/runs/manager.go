// Package runs owns the lifecycle of runs: it validates run requests, fans out one
// execution task per participant, joins them and triggers the aggregation.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eval-hub/model-arena/internal/abstractions"
	"github.com/eval-hub/model-arena/internal/aggregator"
	"github.com/eval-hub/model-arena/internal/config"
	"github.com/eval-hub/model-arena/internal/logging"
	"github.com/eval-hub/model-arena/internal/messages"
	"github.com/eval-hub/model-arena/internal/metrics"
	"github.com/eval-hub/model-arena/internal/participants"
	"github.com/eval-hub/model-arena/internal/serviceerrors"
	"github.com/eval-hub/model-arena/internal/taskspec"
	"github.com/eval-hub/model-arena/pkg/api"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidRunSpec is the cause of the errors returned for run requests that can not be started.
	ErrInvalidRunSpec = errors.New("invalid run specification")
	// ErrInfrastructure is the cause of the errors returned when a run failed for reasons unrelated to the participants.
	ErrInfrastructure = errors.New("infrastructure failure")
)

// Manager is the only owner of runs.
type Manager struct {
	logger       *slog.Logger
	cfg          *config.RunsConfig
	validate     *validator.Validate
	participants abstractions.ParticipantRegistry
	aggregator   *aggregator.Aggregator
	storage      abstractions.Storage
	registry     *registry

	// baseCtx outlives the requests that start runs, it is cancelled on shutdown
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	newID func() string
	now   func() time.Time
}

func NewManager(logger *slog.Logger, cfg *config.RunsConfig, validate *validator.Validate, participants abstractions.ParticipantRegistry, aggregator *aggregator.Aggregator, storage abstractions.Storage) (*Manager, error) {
	registry, err := newRegistry()
	if err != nil {
		return nil, err
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Manager{
		logger:       logger,
		cfg:          cfg,
		validate:     validate,
		participants: participants,
		aggregator:   aggregator,
		storage:      storage,
		registry:     registry,
		baseCtx:      baseCtx,
		stop:         stop,
		newID:        uuid.NewString,
		now:          time.Now,
	}, nil
}

func invalidRunSpec(err error) error {
	return serviceerrors.NewServiceError(messages.InvalidRunSpec, "Error", err.Error()).WithCause(fmt.Errorf("%w: %w", ErrInvalidRunSpec, err))
}

// StartRun validates the request, registers the run and starts its execution tasks.
// It returns as soon as the tasks are started.
func (m *Manager) StartRun(ctx context.Context, request *api.RunConfig) (*Run, error) {
	if m.validate != nil {
		if err := m.validate.Struct(request); err != nil {
			return nil, invalidRunSpec(err)
		}
	}
	if len(request.Participants) == 0 {
		return nil, invalidRunSpec(errors.New("at least one participant is required"))
	}
	if len(request.Participants) > m.cfg.MaxParticipants {
		return nil, invalidRunSpec(fmt.Errorf("at most %d participants are allowed", m.cfg.MaxParticipants))
	}
	seen := map[string]bool{}
	resolved := make([]abstractions.Participant, 0, len(request.Participants))
	for _, id := range request.Participants {
		if seen[id] {
			return nil, invalidRunSpec(fmt.Errorf("participant %s is listed twice", id))
		}
		seen[id] = true
		p, ok := m.participants.Get(id)
		if !ok {
			return nil, invalidRunSpec(fmt.Errorf("unknown participant %s", id))
		}
		resolved = append(resolved, p)
	}
	repetitions := request.Repetitions
	if repetitions == 0 {
		repetitions = m.cfg.DefaultRepetitions
	}
	if repetitions < 1 || repetitions > m.cfg.MaxRepetitions {
		return nil, invalidRunSpec(fmt.Errorf("repetitions must be between 1 and %d", m.cfg.MaxRepetitions))
	}
	spec, err := taskspec.Normalize(request.Task, m.validate)
	if err != nil {
		return nil, invalidRunSpec(err)
	}
	prompt, err := taskspec.BuildPrompt(spec)
	if err != nil {
		return nil, invalidRunSpec(err)
	}
	// resolve the parameters of every participant before anything is started
	params := make([]map[string]any, len(resolved))
	for i, p := range resolved {
		merged, err := participants.MergeParams(p.Descriptor().Params, request.Params)
		if err != nil {
			return nil, invalidRunSpec(err)
		}
		params[i] = merged
	}

	run := newRun(m.newID(), request.Name, m.now().UTC(), spec, prompt, request.Participants, repetitions, request.Params)
	logger := logging.RunLogger(m.logger, run.id)

	var runCtx context.Context
	var cancel context.CancelFunc
	if request.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(m.baseCtx, time.Duration(request.TimeoutSeconds)*time.Second)
	} else {
		runCtx, cancel = context.WithCancel(m.baseCtx)
	}
	run.cancel = cancel

	if err := m.registry.insert(run); err != nil {
		cancel()
		return nil, m.infrastructureFailure(ctx, run, err, false)
	}
	if err := m.storage.WithContext(ctx).WithLogger(logger).CreateRun(run.Resource(false)); err != nil {
		cancel()
		m.registry.delete(run.id)
		return nil, m.infrastructureFailure(ctx, run, err, false)
	}

	run.setStatus(api.RunStatusRunning)
	if _, err := run.log.Append(api.RunStarted{Participants: run.ParticipantIDs(), Repetitions: repetitions}); err != nil {
		cancel()
		return nil, m.infrastructureFailure(ctx, run, err, true)
	}
	metrics.RunsStarted.Inc()
	metrics.RunsActive.Inc()
	logger.Info("Run started", "participants", len(resolved), "repetitions", repetitions)

	group := errgroup.Group{}
	group.SetLimit(m.cfg.MaxConcurrentParticipants)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for i, p := range resolved {
			t := &task{
				logger:      logging.TaskLogger(logger, p.ID()),
				run:         run,
				participant: p,
				params:      params[i],
				timeout:     m.cfg.RepetitionTimeout,
			}
			group.Go(func() error {
				t.execute(runCtx)
				return nil
			})
		}
		_ = group.Wait()
		m.join(runCtx, run, logger)
	}()
	return run, nil
}

// infrastructureFailure marks the run failed. Such runs are never aggregated. The
// failed status is written to the archive when the run record was already created.
func (m *Manager) infrastructureFailure(ctx context.Context, run *Run, err error, archived bool) error {
	m.logger.Error("Run failed to start", "run_id", run.id, "error", err.Error())
	run.finish(api.RunStatusFailed, err.Error(), m.now())
	if archived {
		store := m.storage.WithContext(context.WithoutCancel(ctx)).WithLogger(logging.RunLogger(m.logger, run.id))
		if updateErr := store.UpdateRun(run.Resource(false)); updateErr != nil {
			m.logger.Error("Failed to archive the failed run", "run_id", run.id, "error", updateErr.Error())
		}
	}
	run.log.Close()
	close(run.done)
	run.setAggregate(nil, nil)
	m.registry.scheduleEviction(run.id, m.cfg.Retention)
	metrics.RunsFinished.WithLabelValues(string(api.RunStatusFailed)).Inc()
	return serviceerrors.NewServiceError(messages.InfrastructureFailure, "Error", err.Error()).WithCause(fmt.Errorf("%w: %w", ErrInfrastructure, err))
}

// join runs once every execution task returned. It writes the terminal run event,
// closes the log and starts the aggregation of completed runs.
func (m *Manager) join(runCtx context.Context, run *Run, logger *slog.Logger) {
	defer run.cancel()
	_, progress := FoldStates(run.participants, run.repetitions, run.log.ReadFrom(0))

	status := api.RunStatusCompleted
	message := ""
	if run.Cancelled() {
		status = api.RunStatusCancelled
		message = "the run was cancelled"
		if _, err := run.log.Append(api.RunCancelled{Reason: message}); err != nil {
			logger.Error("Failed to append the run_cancelled event", "error", err.Error())
		}
	} else {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			message = "the run timed out"
		}
		if _, err := run.log.Append(api.RunCompleted{Succeeded: progress.Succeeded, Failed: progress.Failed}); err != nil {
			logger.Error("Failed to append the run_completed event", "error", err.Error())
		}
	}
	run.log.Close()
	run.finish(status, message, m.now())
	close(run.done)
	metrics.RunsActive.Dec()
	metrics.RunsFinished.WithLabelValues(string(status)).Inc()
	logger.Info("Run finished", "status", status, "succeeded", progress.Succeeded, "failed", progress.Failed)

	store := m.storage.WithContext(context.WithoutCancel(m.baseCtx)).WithLogger(logger)
	// the archived record keeps the final participant states
	if err := store.UpdateRun(run.Resource(true)); err != nil {
		logger.Error("Failed to archive the run", "error", err.Error())
	}
	// the aggregate is archived before the run leaves memory
	defer m.registry.scheduleEviction(run.id, m.cfg.Retention)

	if status != api.RunStatusCompleted {
		run.setAggregate(nil, nil)
		return
	}
	result := m.aggregator.Aggregate(m.baseCtx, run.id, run.task, run.Participants())
	if err := store.SaveAggregate(result); err != nil {
		logger.Error("Failed to archive the aggregate result", "error", err.Error())
	}
	run.setAggregate(result, nil)
	logger.Info("Run aggregated", "partial", result.Partial)
}

// Get returns a live run.
func (m *Manager) Get(id string) (*Run, bool) {
	return m.registry.get(id)
}

// GetRun returns the run resource, from memory for live runs and from the archive otherwise.
func (m *Manager) GetRun(ctx context.Context, id string, withStates bool) (*api.RunResource, error) {
	if run, ok := m.registry.get(id); ok {
		return run.Resource(withStates), nil
	}
	resource, err := m.storage.WithContext(ctx).GetRun(id)
	if err != nil {
		return nil, err
	}
	resource.Archived = true
	return resource, nil
}

// ListRuns lists the archived runs, newest first, with live runs shown in their current state.
func (m *Manager) ListRuns(ctx context.Context, limit int, offset int, status string) (*abstractions.QueryResults[api.RunResource], error) {
	results, err := m.storage.WithContext(ctx).GetRuns(limit, offset, status)
	if err != nil {
		return nil, err
	}
	for i, item := range results.Items {
		if run, ok := m.registry.get(item.ID); ok {
			results.Items[i] = *run.Resource(false)
		} else {
			results.Items[i].Archived = true
		}
	}
	return results, nil
}

// LiveRuns returns the runs still held in memory, newest first.
func (m *Manager) LiveRuns() []*Run {
	return m.registry.list()
}

// CancelRun asks the execution tasks of a run to stop. The tasks record the remaining
// repetitions as cancelled, the run ends with a run_cancelled event.
func (m *Manager) CancelRun(ctx context.Context, id string) (*Run, error) {
	run, ok := m.registry.get(id)
	if !ok {
		if _, err := m.storage.WithContext(ctx).GetRun(id); err != nil {
			return nil, err
		}
		return nil, serviceerrors.NewServiceError(messages.RunNotRunning, "RunId", id, "Status", "archived")
	}
	status := run.Status()
	if status.IsTerminal() {
		return nil, serviceerrors.NewServiceError(messages.RunNotRunning, "RunId", id, "Status", status)
	}
	if run.cancelled.CompareAndSwap(false, true) {
		m.logger.Info("Run cancellation requested", "run_id", id)
		run.cancel()
	}
	return run, nil
}

// Aggregate returns the aggregate result of a completed run, waiting for the aggregation
// when it is still in progress.
func (m *Manager) Aggregate(ctx context.Context, id string) (*api.AggregateResult, error) {
	run, ok := m.registry.get(id)
	if !ok {
		return m.archivedAggregate(ctx, id)
	}
	select {
	case <-run.Done():
	default:
		return nil, serviceerrors.NewServiceError(messages.RunNotCompleted, "RunId", id, "Status", run.Status())
	}
	if status := run.Status(); status != api.RunStatusCompleted {
		return nil, serviceerrors.NewServiceError(messages.RunNotCompleted, "RunId", id, "Status", status)
	}
	result, err := run.AggregateResult(ctx)
	if err != nil {
		return nil, serviceerrors.NewServiceError(messages.AggregationUnavailable, "RunId", id).WithCause(err)
	}
	if result == nil {
		return nil, serviceerrors.NewServiceError(messages.AggregationUnavailable, "RunId", id)
	}
	return result, nil
}

func (m *Manager) archivedAggregate(ctx context.Context, id string) (*api.AggregateResult, error) {
	store := m.storage.WithContext(ctx)
	resource, err := store.GetRun(id)
	if err != nil {
		return nil, err
	}
	if resource.Status != api.RunStatusCompleted {
		return nil, serviceerrors.NewServiceError(messages.RunNotCompleted, "RunId", id, "Status", resource.Status)
	}
	result, err := store.GetAggregate(id)
	if err != nil {
		var se abstractions.ServiceError
		if errors.As(err, &se) && se.MessageCode() == messages.ResourceNotFound {
			return nil, serviceerrors.NewServiceError(messages.AggregationUnavailable, "RunId", id)
		}
		return nil, err
	}
	return result, nil
}

// Shutdown cancels every live run and waits for the tasks, the joins and the aggregations.
func (m *Manager) Shutdown(ctx context.Context) error {
	for _, run := range m.registry.list() {
		if !run.Status().IsTerminal() {
			run.cancelled.CompareAndSwap(false, true)
		}
	}
	m.stop()
	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		m.registry.stopEvictions()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
