package runs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/eval-hub/model-arena/internal/abstractions"
	"github.com/eval-hub/model-arena/internal/metrics"
	"github.com/eval-hub/model-arena/pkg/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/eval-hub/model-arena/internal/runs")

// task runs every repetition of one participant in a run, sequentially. It emits
// exactly one model_run_started event followed by one terminal event per repetition,
// whatever happens to the provider or to the run.
type task struct {
	logger      *slog.Logger
	run         *Run
	participant abstractions.Participant
	params      map[string]any
	timeout     time.Duration
}

func (t *task) execute(ctx context.Context) {
	t.append(api.ModelRunStarted{ParticipantID: t.participant.ID()})
	for index := range t.run.repetitions {
		if err := ctx.Err(); err != nil {
			kind := runErrorKind(err)
			t.append(api.ModelRunError{
				ParticipantID:   t.participant.ID(),
				RepetitionIndex: index,
				ErrorKind:       kind,
				Message:         "the repetition was not started: " + err.Error(),
			})
			metrics.Repetitions.WithLabelValues(t.participant.ID(), string(kind)).Inc()
			continue
		}
		t.repetition(ctx, index)
	}
	t.logger.Info("Execution task finished")
}

func (t *task) repetition(runCtx context.Context, index int) {
	ctx, cancel := context.WithTimeout(runCtx, t.timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "participant.repetition", trace.WithAttributes(
		attribute.String("run.id", t.run.id),
		attribute.String("participant.id", t.participant.ID()),
		attribute.Int("repetition.index", index),
	))
	defer span.End()
	traceID := ""
	if span.SpanContext().HasTraceID() {
		traceID = span.SpanContext().TraceID().String()
	}

	started := time.Now()
	chunks := 0
	var text strings.Builder
	var usage *abstractions.Usage
	var streamErr error
	// the stream is always consumed to its end, the participant stops early when ctx is done
	for fragment, err := range t.participant.Invoke(ctx, t.run.prompt, t.params) {
		if err != nil {
			streamErr = err
			continue
		}
		if fragment.Usage != nil {
			usage = fragment.Usage
		}
		if fragment.Text == "" {
			continue
		}
		t.append(api.NarrationDelta{
			ParticipantID:   t.participant.ID(),
			RepetitionIndex: index,
			ChunkIndex:      chunks,
			ContentDelta:    fragment.Text,
		})
		text.WriteString(fragment.Text)
		chunks++
	}
	latency := time.Since(started)
	metrics.RepetitionLatency.WithLabelValues(t.participant.ID()).Observe(latency.Seconds())

	if streamErr != nil {
		kind := classify(runCtx, ctx, streamErr)
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, string(kind))
		t.logger.Warn("Repetition failed", "repetition_index", index, "error_kind", kind, "error", streamErr.Error())
		t.append(api.ModelRunError{
			ParticipantID:   t.participant.ID(),
			RepetitionIndex: index,
			ErrorKind:       kind,
			Message:         streamErr.Error(),
			LatencyMS:       latency.Milliseconds(),
			TraceID:         traceID,
		})
		metrics.Repetitions.WithLabelValues(t.participant.ID(), string(kind)).Inc()
		return
	}

	completed := api.ModelRunCompleted{
		ParticipantID:   t.participant.ID(),
		RepetitionIndex: index,
		LatencyMS:       latency.Milliseconds(),
		Chunks:          chunks,
		TraceID:         traceID,
	}
	if usage != nil {
		completed.TokensIn = usage.PromptTokens
		completed.TokensOut = usage.CompletionTokens
	} else {
		completed.TokensIn = len(strings.Fields(t.run.prompt.System)) + len(strings.Fields(t.run.prompt.User))
		completed.TokensOut = len(strings.Fields(text.String()))
	}
	span.SetAttributes(attribute.Int("tokens.in", completed.TokensIn), attribute.Int("tokens.out", completed.TokensOut))
	t.append(completed)
	metrics.Repetitions.WithLabelValues(t.participant.ID(), "completed").Inc()
}

// append never fails in a correct orchestration, the log is closed only after every task returned.
func (t *task) append(payload api.EventPayload) {
	if _, err := t.run.log.Append(payload); err != nil {
		t.logger.Error("Failed to append an event", "kind", payload.Kind(), "error", err.Error())
	}
}

// classify turns the failure of a repetition into an error kind. The run context tells
// cancellation apart from the repetition's own timeout.
func classify(runCtx context.Context, repetitionCtx context.Context, err error) api.ErrorKind {
	if runErr := runCtx.Err(); runErr != nil {
		return runErrorKind(runErr)
	}
	if errors.Is(repetitionCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return api.ErrorKindTimeout
	}
	return api.ErrorKindProvider
}

// runErrorKind maps the end of a run context: a run deadline is a timeout, anything else a cancellation.
func runErrorKind(err error) api.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return api.ErrorKindTimeout
	}
	return api.ErrorKindCancelled
}
