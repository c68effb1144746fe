package runs

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eval-hub/model-arena/internal/eventlog"
	"github.com/eval-hub/model-arena/pkg/api"
)

// Run is one benchmark of a task across participants. The run status is held in an
// atomic value, the participant states are folded from the event log on demand.
type Run struct {
	id           string
	name         string
	createdAt    time.Time
	task         *api.TaskSpec
	prompt       api.Prompt
	participants []string
	repetitions  int
	params       map[string]any

	log       *eventlog.Log
	status    atomic.Value
	cancelled atomic.Bool
	cancel    context.CancelFunc

	// done is closed once the event log is closed and the final status is set
	done chan struct{}
	// aggregated is closed once the aggregate result, or the reason it is missing, is known
	aggregated chan struct{}

	mu           sync.Mutex
	message      string
	completedAt  *time.Time
	aggregate    *api.AggregateResult
	aggregateErr error
}

func newRun(id string, name string, createdAt time.Time, task *api.TaskSpec, prompt api.Prompt, participants []string, repetitions int, params map[string]any) *Run {
	r := &Run{
		id:           id,
		name:         name,
		createdAt:    createdAt,
		task:         task,
		prompt:       prompt,
		participants: participants,
		repetitions:  repetitions,
		params:       params,
		log:          eventlog.New(id),
		done:         make(chan struct{}),
		aggregated:   make(chan struct{}),
	}
	r.status.Store(api.RunStatusPending)
	return r
}

func (r *Run) ID() string {
	return r.id
}

func (r *Run) Status() api.RunStatus {
	return r.status.Load().(api.RunStatus)
}

func (r *Run) setStatus(status api.RunStatus) {
	r.status.Store(status)
}

func (r *Run) Task() *api.TaskSpec {
	return r.task
}

func (r *Run) ParticipantIDs() []string {
	return slices.Clone(r.participants)
}

func (r *Run) Repetitions() int {
	return r.repetitions
}

func (r *Run) CreatedAt() time.Time {
	return r.createdAt
}

// Log is the event log of the run, readers replay and tail it.
func (r *Run) Log() *eventlog.Log {
	return r.log
}

// Done is closed when the run reached a terminal status.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Cancelled reports whether the run was cancelled on request.
func (r *Run) Cancelled() bool {
	return r.cancelled.Load()
}

// Participants returns the state of every participant, folded from the event log.
func (r *Run) Participants() []api.ParticipantState {
	states, _ := FoldStates(r.participants, r.repetitions, r.log.ReadFrom(0))
	return states
}

func (r *Run) Progress() api.Progress {
	_, progress := FoldStates(r.participants, r.repetitions, r.log.ReadFrom(0))
	return progress
}

func (r *Run) finish(status api.RunStatus, message string, at time.Time) {
	r.mu.Lock()
	r.message = message
	completedAt := at.UTC()
	r.completedAt = &completedAt
	r.mu.Unlock()
	r.setStatus(status)
}

func (r *Run) setAggregate(result *api.AggregateResult, err error) {
	r.mu.Lock()
	r.aggregate = result
	r.aggregateErr = err
	r.mu.Unlock()
	close(r.aggregated)
}

// AggregateResult waits for the aggregation of the run. It returns nil and no error
// when the run ended without an aggregation.
func (r *Run) AggregateResult(ctx context.Context) (*api.AggregateResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.aggregated:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aggregate, r.aggregateErr
}

// Resource returns the REST representation of the run.
func (r *Run) Resource(withStates bool) *api.RunResource {
	events := r.log.ReadFrom(0)
	states, progress := FoldStates(r.participants, r.repetitions, events)

	r.mu.Lock()
	message := r.message
	completedAt := r.completedAt
	r.mu.Unlock()

	resource := &api.RunResource{
		Resource: api.Resource{
			ID:        r.id,
			CreatedAt: r.createdAt,
		},
		Name:         r.name,
		Status:       r.Status(),
		Message:      message,
		Task:         r.task,
		Participants: slices.Clone(r.participants),
		Repetitions:  r.repetitions,
		Progress:     &progress,
		CompletedAt:  completedAt,
	}
	if len(events) > 0 {
		resource.LastSequence = events[len(events)-1].Sequence
	}
	if completedAt != nil {
		resource.UpdatedAt = *completedAt
	} else {
		resource.UpdatedAt = r.createdAt
	}
	if withStates {
		resource.States = states
	}
	return resource
}
