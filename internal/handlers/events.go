package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/eval-hub/model-arena/internal/constants"
	"github.com/eval-hub/model-arena/internal/eventlog"
	"github.com/eval-hub/model-arena/internal/executioncontext"
	"github.com/eval-hub/model-arena/internal/http_wrappers"
	"github.com/eval-hub/model-arena/internal/messages"
	"github.com/eval-hub/model-arena/internal/metrics"
	"github.com/eval-hub/model-arena/internal/runs"
	"github.com/eval-hub/model-arena/internal/serviceerrors"
	"github.com/eval-hub/model-arena/pkg/api"
)

// liveRun returns the run whose events are still held in memory. Runs that only
// exist in the archive have lost their events.
func (h *Handlers) liveRun(ctx *executioncontext.ExecutionContext, r http_wrappers.RequestWrapper) (*runs.Run, error) {
	id, err := getPathParameter(r, constants.PATH_PARAMETER_RUN_ID)
	if err != nil {
		return nil, err
	}
	if run, ok := h.manager.Get(id); ok {
		return run, nil
	}
	if _, err := h.manager.GetRun(ctx.Ctx, id, false); err != nil {
		return nil, err
	}
	return nil, serviceerrors.NewServiceError(messages.EventsExpired, "RunId", id)
}

// HandleListEvents handles GET /api/v1/runs/{run_id}/events?since=N&participant_id=X.
// It returns the events after the cursor that exist now and never waits for more.
func (h *Handlers) HandleListEvents(ctx *executioncontext.ExecutionContext, r http_wrappers.RequestWrapper, w http_wrappers.ResponseWrapper) {
	run, err := h.liveRun(ctx, r)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	cursor, err := getCursor(r)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	participantID := getQueryParameter(r, constants.QUERY_PARAMETER_PARTICIPANT_ID)

	// read the closed flag first, a closed log can not grow after the read
	closed := run.Log().Closed()
	events := run.Log().ReadFrom(cursor)
	next := cursor
	if len(events) > 0 {
		next = events[len(events)-1].Sequence
	}
	if participantID != "" {
		filtered := make([]api.Event, 0, len(events))
		for _, e := range events {
			if e.ParticipantID() == participantID {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	w.WriteJSON(api.EventList{
		RunID:      run.ID(),
		Events:     events,
		NextCursor: next,
		Closed:     closed,
	}, http.StatusOK)
}

// HandleStream handles GET /api/v1/runs/{run_id}/stream. The backlog after the cursor
// is sent first, then live events as they are appended. The response ends once the
// log is closed and drained, or when the client goes away.
func (h *Handlers) HandleStream(ctx *executioncontext.ExecutionContext, r http_wrappers.RequestWrapper, w http_wrappers.ResponseWrapper) {
	run, err := h.liveRun(ctx, r)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	cursor, err := getCursor(r)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	if err := w.StartStream(); err != nil {
		w.ErrorWithMessageCode(ctx.RequestID, messages.StreamingUnsupported)
		return
	}

	backlog, sub := run.Log().Resume(cursor)
	defer sub.Close()
	metrics.StreamSubscribers.Inc()
	defer metrics.StreamSubscribers.Dec()

	w.SetHeader("Content-Type", "text/event-stream")
	w.SetHeader("Cache-Control", "no-cache")
	w.SetHeader("Connection", "keep-alive")
	w.SetHeader("X-Accel-Buffering", "no")
	w.SetStatusCode(http.StatusOK)
	if err := w.Flush(); err != nil {
		return
	}
	ctx.Logger.Info("Stream opened", constants.LOG_RUN_ID, run.ID(), "cursor", cursor, "backlog", len(backlog))

	last := cursor
	for _, e := range backlog {
		if err := writeEvent(w, e); err != nil {
			ctx.Logger.Info("Stream closed by the client", "last_sequence", last)
			return
		}
		last = e.Sequence
	}

	heartbeat := h.heartbeatInterval()
	for {
		next, cancel := context.WithTimeout(ctx.Ctx, heartbeat)
		e, err := sub.Next(next)
		cancel()
		switch {
		case err == nil:
			if e.Sequence <= last {
				continue
			}
			if err := writeEvent(w, e); err != nil {
				ctx.Logger.Info("Stream closed by the client", "last_sequence", last)
				return
			}
			last = e.Sequence
		case errors.Is(err, eventlog.ErrEndOfLog):
			ctx.Logger.Info("Stream ended", "last_sequence", last)
			return
		case errors.Is(err, context.DeadlineExceeded) && ctx.Ctx.Err() == nil:
			if err := writeHeartbeat(w); err != nil {
				return
			}
		default:
			ctx.Logger.Info("Stream closed by the client", "last_sequence", last)
			return
		}
	}
}

// writeEvent writes one event stream message: the sequence number is the message id
// so that a reconnecting client sends it back as Last-Event-ID.
func writeEvent(w http_wrappers.ResponseWrapper, e api.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Sequence, e.Kind(), data); err != nil {
		return err
	}
	return w.Flush()
}

func writeHeartbeat(w http_wrappers.ResponseWrapper) error {
	if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
		return err
	}
	return w.Flush()
}
