package abstractions

import (
	"context"
	"iter"

	"github.com/eval-hub/model-arena/pkg/api"
)

// Usage is the token accounting reported by a provider for one invocation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Fragment is one piece of a participant's streamed output. The last fragment of a
// stream may carry only Usage.
type Fragment struct {
	Text  string
	Usage *Usage
}

// Participant is a model identity under test. Concrete implementations hold the
// provider specific details, no other places in the code should be talking to a provider.
type Participant interface {
	ID() string
	Descriptor() api.ParticipantResource
	// Invoke returns a finite, non restartable sequence of fragments. The sequence
	// yields a non nil error at most once, as its last element. Implementations must
	// stop when ctx is done.
	Invoke(ctx context.Context, prompt api.Prompt, params map[string]any) iter.Seq2[Fragment, error]
}

// ParticipantRegistry resolves participant identities.
type ParticipantRegistry interface {
	Get(id string) (Participant, bool)
	List() []api.ParticipantResource
}
