package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind names a variant of the event union.
type EventKind string

const (
	EventKindRunStarted        EventKind = "run_started"
	EventKindModelRunStarted   EventKind = "model_run_started"
	EventKindNarrationDelta    EventKind = "narration_delta"
	EventKindModelRunCompleted EventKind = "model_run_completed"
	EventKindModelRunError     EventKind = "model_run_error"
	EventKindRunCompleted      EventKind = "run_completed"
	EventKindRunCancelled      EventKind = "run_cancelled"
)

// ErrorKind classifies the failure of a repetition.
type ErrorKind string

const (
	ErrorKindProvider  ErrorKind = "provider_error"
	ErrorKindTimeout   ErrorKind = "timeout"
	ErrorKindCancelled ErrorKind = "cancelled"
)

// EventPayload is implemented only by the payload types of this package, the set of
// event kinds is closed.
type EventPayload interface {
	Kind() EventKind
	isEventPayload()
}

// RunStarted is the first event of every run.
type RunStarted struct {
	Participants []string `json:"participants"`
	Repetitions  int      `json:"repetitions"`
}

type ModelRunStarted struct {
	ParticipantID string `json:"participant_id"`
}

type NarrationDelta struct {
	ParticipantID   string `json:"participant_id"`
	RepetitionIndex int    `json:"repetition_index"`
	ChunkIndex      int    `json:"chunk_index"`
	ContentDelta    string `json:"content_delta"`
}

type ModelRunCompleted struct {
	ParticipantID   string `json:"participant_id"`
	RepetitionIndex int    `json:"repetition_index"`
	LatencyMS       int64  `json:"latency_ms"`
	TokensIn        int    `json:"tokens_in"`
	TokensOut       int    `json:"tokens_out"`
	Chunks          int    `json:"chunks"`
	TraceID         string `json:"trace_id,omitempty"`
}

type ModelRunError struct {
	ParticipantID   string    `json:"participant_id"`
	RepetitionIndex int       `json:"repetition_index"`
	ErrorKind       ErrorKind `json:"error_kind"`
	Message         string    `json:"message"`
	LatencyMS       int64     `json:"latency_ms"`
	TraceID         string    `json:"trace_id,omitempty"`
}

type RunCompleted struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RunCancelled replaces run_completed when the run was cancelled.
type RunCancelled struct {
	Reason string `json:"reason,omitempty"`
}

func (RunStarted) Kind() EventKind        { return EventKindRunStarted }
func (ModelRunStarted) Kind() EventKind   { return EventKindModelRunStarted }
func (NarrationDelta) Kind() EventKind    { return EventKindNarrationDelta }
func (ModelRunCompleted) Kind() EventKind { return EventKindModelRunCompleted }
func (ModelRunError) Kind() EventKind     { return EventKindModelRunError }
func (RunCompleted) Kind() EventKind      { return EventKindRunCompleted }
func (RunCancelled) Kind() EventKind      { return EventKindRunCancelled }

func (RunStarted) isEventPayload()        {}
func (ModelRunStarted) isEventPayload()   {}
func (NarrationDelta) isEventPayload()    {}
func (ModelRunCompleted) isEventPayload() {}
func (ModelRunError) isEventPayload()     {}
func (RunCompleted) isEventPayload()      {}
func (RunCancelled) isEventPayload()      {}

// Event is an immutable entry of a run's event log. The sequence number is assigned by the log.
type Event struct {
	RunID     string
	Sequence  uint64
	Timestamp time.Time
	Payload   EventPayload
}

func (e Event) Kind() EventKind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// ParticipantID returns the participant of the event, empty for run level events.
func (e Event) ParticipantID() string {
	switch p := e.Payload.(type) {
	case ModelRunStarted:
		return p.ParticipantID
	case NarrationDelta:
		return p.ParticipantID
	case ModelRunCompleted:
		return p.ParticipantID
	case ModelRunError:
		return p.ParticipantID
	case RunStarted, RunCompleted, RunCancelled, nil:
		return ""
	default:
		panic(fmt.Sprintf("unhandled event payload %T", p))
	}
}

// RepetitionIndex returns the repetition of the event, ok is false when the event has none.
func (e Event) RepetitionIndex() (index int, ok bool) {
	switch p := e.Payload.(type) {
	case NarrationDelta:
		return p.RepetitionIndex, true
	case ModelRunCompleted:
		return p.RepetitionIndex, true
	case ModelRunError:
		return p.RepetitionIndex, true
	case RunStarted, ModelRunStarted, RunCompleted, RunCancelled, nil:
		return 0, false
	default:
		panic(fmt.Sprintf("unhandled event payload %T", p))
	}
}

// IsTerminal reports whether the event ends a run.
func (e Event) IsTerminal() bool {
	k := e.Kind()
	return k == EventKindRunCompleted || k == EventKindRunCancelled
}

type eventEnvelope struct {
	RunID     string    `json:"run_id"`
	Sequence  uint64    `json:"sequence_number"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// MarshalJSON writes the event as one flat object, the envelope fields next to the payload fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %d of run %s has no payload", e.Sequence, e.RunID)
	}
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	envelope, err := json.Marshal(eventEnvelope{RunID: e.RunID, Sequence: e.Sequence, Kind: e.Kind(), Timestamp: e.Timestamp})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(envelope, &fields); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	envelope := eventEnvelope{}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	payload, err := decodePayload(envelope.Kind, data)
	if err != nil {
		return err
	}
	e.RunID = envelope.RunID
	e.Sequence = envelope.Sequence
	e.Timestamp = envelope.Timestamp
	e.Payload = payload
	return nil
}

func decodePayload(kind EventKind, data []byte) (EventPayload, error) {
	switch kind {
	case EventKindRunStarted:
		return decodeAs[RunStarted](data)
	case EventKindModelRunStarted:
		return decodeAs[ModelRunStarted](data)
	case EventKindNarrationDelta:
		return decodeAs[NarrationDelta](data)
	case EventKindModelRunCompleted:
		return decodeAs[ModelRunCompleted](data)
	case EventKindModelRunError:
		return decodeAs[ModelRunError](data)
	case EventKindRunCompleted:
		return decodeAs[RunCompleted](data)
	case EventKindRunCancelled:
		return decodeAs[RunCancelled](data)
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}

func decodeAs[T EventPayload](data []byte) (EventPayload, error) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
