package handlers

import (
	"net/http"

	"github.com/eval-hub/model-arena/internal/constants"
	"github.com/eval-hub/model-arena/internal/executioncontext"
	"github.com/eval-hub/model-arena/internal/http_wrappers"
	"github.com/eval-hub/model-arena/internal/messages"
	"github.com/eval-hub/model-arena/pkg/api"
)

// HandleListParticipants handles GET /api/v1/participants
func (h *Handlers) HandleListParticipants(ctx *executioncontext.ExecutionContext, r http_wrappers.RequestWrapper, w http_wrappers.ResponseWrapper) {
	items := h.participants.List()
	w.WriteJSON(api.ParticipantResourceList{
		TotalCount: len(items),
		Items:      items,
	}, http.StatusOK)
}

// HandleGetParticipant handles GET /api/v1/participants/{participant_id}
func (h *Handlers) HandleGetParticipant(ctx *executioncontext.ExecutionContext, r http_wrappers.RequestWrapper, w http_wrappers.ResponseWrapper) {
	id, err := getPathParameter(r, constants.PATH_PARAMETER_PARTICIPANT_ID)
	if err != nil {
		w.Error(err, ctx.RequestID)
		return
	}
	p, found := h.participants.Get(id)
	if !found {
		w.ErrorWithMessageCode(ctx.RequestID, messages.ResourceNotFound, "Type", "participant", "ResourceId", id)
		return
	}
	w.WriteJSON(p.Descriptor(), http.StatusOK)
}
