package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus represents the lifecycle state of a run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

func (s RunStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition can happen from this status.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

func GetRunStatus(s string) (RunStatus, error) {
	switch s {
	case string(RunStatusPending):
		return RunStatusPending, nil
	case string(RunStatusRunning):
		return RunStatusRunning, nil
	case string(RunStatusCompleted):
		return RunStatusCompleted, nil
	case string(RunStatusFailed):
		return RunStatusFailed, nil
	case string(RunStatusCancelled):
		return RunStatusCancelled, nil
	default:
		return RunStatus(s), fmt.Errorf("invalid run status: %s", s)
	}
}

// ParticipantStatus represents the state of one participant within a run
type ParticipantStatus string

const (
	ParticipantStatusPending   ParticipantStatus = "pending"
	ParticipantStatusRunning   ParticipantStatus = "running"
	ParticipantStatusCompleted ParticipantStatus = "completed"
	ParticipantStatusErrored   ParticipantStatus = "errored"
)

// Category is one of the scoring axes.
type Category string

const (
	CategoryCorrectness Category = "correctness"
	CategoryQuality     Category = "quality"
	CategoryReasoning   Category = "reasoning"
	CategoryUsability   Category = "usability"
)

// Categories lists the scoring axes in their canonical order.
var Categories = []Category{CategoryCorrectness, CategoryQuality, CategoryReasoning, CategoryUsability}

// EvalQuestion is a yes/no question used by the judge to score an output.
type EvalQuestion struct {
	ID       string   `json:"id" validate:"required,notblank"`
	Category Category `json:"category" validate:"required,oneof=correctness quality reasoning usability"`
	Question string   `json:"question" validate:"required,yesno"`
}

// TaskSpec is the canonical form of the task given to every participant of a run.
type TaskSpec struct {
	Prompt        string         `json:"prompt" validate:"required,notblank"`
	Input         any            `json:"input,omitempty"`
	Evaluation    string         `json:"evaluation"`
	EvalQuestions []EvalQuestion `json:"eval_questions,omitempty" validate:"omitempty,unique=ID,dive"`
}

// RunConfig is the request body used to create a run.
// Task is kept raw because planners produce loosely shaped JSON, it is normalised into a TaskSpec.
type RunConfig struct {
	Name           string          `json:"name,omitempty" validate:"omitempty,max=200"`
	Task           json.RawMessage `json:"task" validate:"required"`
	Participants   []string        `json:"participants" validate:"required,min=1,unique,dive,participant_id"`
	Repetitions    int             `json:"repetitions,omitempty" validate:"omitempty,min=1"`
	Params         map[string]any  `json:"params,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty" validate:"omitempty,min=1"`
}

// Progress counts the repetitions of a run.
type Progress struct {
	Total     int `json:"total"`
	Finished  int `json:"finished"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RepetitionState is the folded state of one repetition of one participant.
type RepetitionState struct {
	Index     int               `json:"index"`
	Status    ParticipantStatus `json:"status"`
	Text      string            `json:"text"`
	LatencyMS int64             `json:"latency_ms,omitempty"`
	TokensIn  int               `json:"tokens_in,omitempty"`
	TokensOut int               `json:"tokens_out,omitempty"`
	ErrorKind *ErrorKind        `json:"error_kind,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Succeeded reports whether the repetition finished with a model_run_completed event.
func (r RepetitionState) Succeeded() bool {
	return r.Status == ParticipantStatusCompleted
}

// ParticipantState is the state of one participant within a run, derived from the event log.
type ParticipantState struct {
	ParticipantID        string            `json:"participant_id"`
	Status               ParticipantStatus `json:"status"`
	CompletedRepetitions int               `json:"completed_repetitions"`
	TotalRepetitions     int               `json:"total_repetitions"`
	Repetitions          []RepetitionState `json:"repetitions"`
}

// RunResource is the REST representation of a run
type RunResource struct {
	Resource
	Name         string             `json:"name,omitempty"`
	Status       RunStatus          `json:"status"`
	Message      string             `json:"message,omitempty"`
	Task         *TaskSpec          `json:"task,omitempty"`
	Participants []string           `json:"participants"`
	Repetitions  int                `json:"repetitions"`
	Progress     *Progress          `json:"progress,omitempty"`
	States       []ParticipantState `json:"participant_states,omitempty"`
	LastSequence uint64             `json:"last_sequence_number"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
	// Archived is set when the run is no longer live and only the stored record is available
	Archived bool `json:"archived,omitempty"`
}

// RunResourceList represents response for listing runs
type RunResourceList struct {
	Page
	Items []RunResource `json:"items"`
}

// EventList is the response of the replay endpoint.
type EventList struct {
	RunID      string  `json:"run_id"`
	Events     []Event `json:"events"`
	NextCursor uint64  `json:"next_cursor"`
	Closed     bool    `json:"closed"`
}

// RunParticipants is the response of the run participants endpoint.
type RunParticipants struct {
	RunID        string             `json:"run_id"`
	Status       RunStatus          `json:"status"`
	Progress     *Progress          `json:"progress,omitempty"`
	Participants []ParticipantState `json:"participants"`
}
