package participants

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/eval-hub/model-arena/internal/abstractions"
	"github.com/eval-hub/model-arena/internal/config"
	"github.com/eval-hub/model-arena/pkg/api"
	"google.golang.org/genai"
)

// Registry resolves the participants configured for the service.
type Registry struct {
	participants map[string]abstractions.Participant
	order        []string
}

// NewRegistry creates a participant for every descriptor. In local mode no provider
// is called, participants that are not scripted are replaced by a scripted stand-in
// that keeps their identity.
func NewRegistry(ctx context.Context, logger *slog.Logger, serviceConfig *config.Config, openRouter *OpenRouterClient, descriptors []api.ParticipantResource) (*Registry, error) {
	localMode := serviceConfig.Service.LocalMode
	var geminiClient *genai.Client

	participants := make([]abstractions.Participant, 0, len(descriptors))
	for _, descriptor := range descriptors {
		kind := descriptor.Kind
		if localMode && kind != api.ParticipantKindScripted {
			logger.Info("Local mode, replacing the participant with a scripted one", "participant_id", descriptor.ID, "kind", kind)
			kind = api.ParticipantKindScripted
			if descriptor.Script == nil {
				descriptor.Script = standInScript(descriptor)
			}
		}

		switch kind {
		case api.ParticipantKindScripted:
			p, err := NewScripted(descriptor)
			if err != nil {
				return nil, err
			}
			participants = append(participants, p)
		case api.ParticipantKindOpenRouter:
			if !openRouter.Configured() {
				logger.Warn("No OpenRouter API key, invocations of the participant will fail", "participant_id", descriptor.ID)
			}
			participants = append(participants, NewOpenRouter(descriptor, openRouter))
		case api.ParticipantKindGemini:
			if geminiClient == nil {
				c, err := NewGeminiClient(ctx, serviceConfig.Gemini.APIKey)
				if err != nil {
					logger.Warn("Failed to create the Gemini client, skipping the participant", "participant_id", descriptor.ID, "error", err.Error())
					continue
				}
				geminiClient = c
			}
			participants = append(participants, NewGemini(descriptor, geminiClient))
		default:
			return nil, fmt.Errorf("participant %s has an unknown kind %q", descriptor.ID, kind)
		}
	}
	return FromParticipants(participants...), nil
}

// FromParticipants builds a registry from ready made participants, in the given order.
func FromParticipants(participants ...abstractions.Participant) *Registry {
	r := &Registry{participants: make(map[string]abstractions.Participant, len(participants))}
	for _, p := range participants {
		if _, ok := r.participants[p.ID()]; !ok {
			r.order = append(r.order, p.ID())
		}
		r.participants[p.ID()] = p
	}
	return r
}

func (r *Registry) Get(id string) (abstractions.Participant, bool) {
	p, ok := r.participants[id]
	return p, ok
}

func (r *Registry) List() []api.ParticipantResource {
	out := make([]api.ParticipantResource, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.participants[id].Descriptor())
	}
	return out
}

// IDs returns the participant ids in registration order.
func (r *Registry) IDs() []string {
	return slices.Clone(r.order)
}

func standInScript(descriptor api.ParticipantResource) *api.ParticipantScript {
	return &api.ParticipantScript{
		Fragments: []string{
			"I am reading the task and the input data. ",
			fmt.Sprintf("Speaking as %s, I will check the input against the rubric. ", descriptor.Name),
			"Here is my answer based only on the data provided.",
		},
		FragmentWait: "50ms",
	}
}
