package handlers

import (
	"context"
	"net/http"

	"github.com/eval-hub/model-arena/internal/constants"
	"github.com/eval-hub/model-arena/internal/executioncontext"
	"github.com/eval-hub/model-arena/internal/http_wrappers"
	"github.com/eval-hub/model-arena/internal/messages"
	"github.com/eval-hub/model-arena/internal/serialization"
	"github.com/eval-hub/model-arena/internal/serviceerrors"
	"github.com/eval-hub/model-arena/pkg/api"
)

// HandleCreateRun handles POST /api/v1/runs. The run is started before the response
// is written, the response never waits for participant work.
func (h *Handlers) HandleCreateRun(ctx *executioncontext.ExecutionContext, r http_wrappers.RequestWrapper, w http_wrappers.ResponseWrapper) {
	bodyBytes, err := r.BodyAsBytes()
	if err != nil {
		w.Error(serviceerrors.NewServiceError(messages.RequestValidationFailed, "Error", err.Error()), ctx.RequestID)
		return
	}
	request := &api.RunConfig{}
	// the run manager validates the request, its failures are reported as invalid run specifications
	if err := serialization.Unmarshal(nil, ctx, bodyBytes, request); err != nil {
		w.Error(err, ctx.RequestID)
		return
	}

	run, err := h.manager.StartRun(ctx.Ctx, request)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	ctx.Logger.Info("Run created", constants.LOG_RUN_ID, run.ID(), "participants", len(request.Participants))
	w.SetHeader("Location", "/api/v1/runs/"+run.ID())
	w.WriteJSON(run.Resource(false), http.StatusAccepted)
}

// HandleListRuns handles GET /api/v1/runs
func (h *Handlers) HandleListRuns(ctx *executioncontext.ExecutionContext, r http_wrappers.RequestWrapper, w http_wrappers.ResponseWrapper) {
	limit, err := getIntQueryParameter(r, constants.QUERY_PARAMETER_LIMIT, constants.DEFAULT_PAGE_LIMIT, 1, constants.MAX_PAGE_LIMIT)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	offset, err := getIntQueryParameter(r, constants.QUERY_PARAMETER_OFFSET, 0, 0, int(^uint(0)>>1))
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	status := getQueryParameter(r, constants.QUERY_PARAMETER_STATUS)
	if status != "" {
		if _, err := api.GetRunStatus(status); err != nil {
			w.ErrorWithMessageCode(ctx.RequestID, messages.QueryParameterInvalid, "ParameterName", constants.QUERY_PARAMETER_STATUS, "Type", "run status", "Value", status)
			return
		}
	}

	results, err := h.manager.ListRuns(ctx.Ctx, limit, offset, status)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	page, err := CreatePage(results.TotalStored, offset, limit, ctx, r)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	w.WriteJSON(api.RunResourceList{
		Page:  *page,
		Items: results.Items,
	}, http.StatusOK)
}

// HandleGetRun handles GET /api/v1/runs/{run_id}
func (h *Handlers) HandleGetRun(ctx *executioncontext.ExecutionContext, r http_wrappers.RequestWrapper, w http_wrappers.ResponseWrapper) {
	id, err := getPathParameter(r, constants.PATH_PARAMETER_RUN_ID)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	resource, err := h.manager.GetRun(ctx.Ctx, id, true)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	w.WriteJSON(resource, http.StatusOK)
}

// HandleCancelRun handles DELETE /api/v1/runs/{run_id}. Cancellation is cooperative,
// the run is still running when the response is written.
func (h *Handlers) HandleCancelRun(ctx *executioncontext.ExecutionContext, r http_wrappers.RequestWrapper, w http_wrappers.ResponseWrapper) {
	id, err := getPathParameter(r, constants.PATH_PARAMETER_RUN_ID)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	run, err := h.manager.CancelRun(ctx.Ctx, id)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	w.WriteJSON(run.Resource(false), http.StatusAccepted)
}

// HandleListRunParticipants handles GET /api/v1/runs/{run_id}/participants
func (h *Handlers) HandleListRunParticipants(ctx *executioncontext.ExecutionContext, r http_wrappers.RequestWrapper, w http_wrappers.ResponseWrapper) {
	id, err := getPathParameter(r, constants.PATH_PARAMETER_RUN_ID)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	resource, err := h.manager.GetRun(ctx.Ctx, id, true)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	states := resource.States
	if states == nil {
		states = []api.ParticipantState{}
	}
	w.WriteJSON(api.RunParticipants{
		RunID:        resource.ID,
		Status:       resource.Status,
		Progress:     resource.Progress,
		Participants: states,
	}, http.StatusOK)
}

// HandleGetAggregate handles GET /api/v1/runs/{run_id}/aggregate. It waits for an
// aggregation in progress until the request goes away or its timeout expires.
func (h *Handlers) HandleGetAggregate(ctx *executioncontext.ExecutionContext, r http_wrappers.RequestWrapper, w http_wrappers.ResponseWrapper) {
	id, err := getPathParameter(r, constants.PATH_PARAMETER_RUN_ID)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	waitCtx := ctx.Ctx
	if ctx.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx.Ctx, ctx.Timeout)
		defer cancel()
	}
	result, err := h.manager.Aggregate(waitCtx, id)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	w.WriteJSON(result, http.StatusOK)
}
