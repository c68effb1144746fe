// Package handlers implements the REST surface of the service, including the event
// stream. Handlers only talk to the run manager and the participant registry, the
// server owns routing and the HTTP specifics.
package handlers

import (
	"time"

	"github.com/eval-hub/model-arena/internal/abstractions"
	"github.com/eval-hub/model-arena/internal/config"
	"github.com/eval-hub/model-arena/internal/runs"
	"github.com/go-playground/validator/v10"
)

const defaultHeartbeat = 15 * time.Second

type Handlers struct {
	manager       *runs.Manager
	participants  abstractions.ParticipantRegistry
	validate      *validator.Validate
	serviceConfig *config.Config
}

func New(manager *runs.Manager, participants abstractions.ParticipantRegistry, validate *validator.Validate, serviceConfig *config.Config) *Handlers {
	return &Handlers{
		manager:       manager,
		participants:  participants,
		validate:      validate,
		serviceConfig: serviceConfig,
	}
}

func (h *Handlers) heartbeatInterval() time.Duration {
	if h.serviceConfig != nil && h.serviceConfig.Runs != nil && h.serviceConfig.Runs.HeartbeatInterval > 0 {
		return h.serviceConfig.Runs.HeartbeatInterval
	}
	return defaultHeartbeat
}
