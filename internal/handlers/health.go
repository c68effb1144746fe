package handlers

import (
	"net/http"
	"time"

	"github.com/eval-hub/model-arena/internal/executioncontext"
	"github.com/eval-hub/model-arena/internal/http_wrappers"
)

const (
	STATUS_HEALTHY = "healthy"
)

type HealthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Build        string    `json:"build,omitempty"`
	BuildDate    string    `json:"build_date,omitempty"`
	LiveRuns     int       `json:"live_runs"`
	Participants int       `json:"participants"`
	LocalMode    bool      `json:"local_mode,omitempty"`
}

func (h *Handlers) HandleHealth(ctx *executioncontext.ExecutionContext, r http_wrappers.RequestWrapper, w http_wrappers.ResponseWrapper) {
	healthInfo := HealthResponse{
		Status:    STATUS_HEALTHY,
		Timestamp: time.Now().UTC(),
	}
	if h.serviceConfig != nil && h.serviceConfig.Service != nil {
		// for now we only want a real build number and not the default value
		if h.serviceConfig.Service.Build != "0.0.1" {
			healthInfo.Build = h.serviceConfig.Service.Build
		}
		healthInfo.BuildDate = h.serviceConfig.Service.BuildDate
		healthInfo.LocalMode = h.serviceConfig.Service.LocalMode
	}
	if h.manager != nil {
		healthInfo.LiveRuns = len(h.manager.LiveRuns())
	}
	if h.participants != nil {
		healthInfo.Participants = len(h.participants.List())
	}
	w.WriteJSON(healthInfo, http.StatusOK)
}
