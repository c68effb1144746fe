package abstractions

import (
	"context"

	"github.com/eval-hub/model-arena/pkg/api"
)

// ScoreRequest asks for the scores of one output of one participant.
type ScoreRequest struct {
	RunID         string
	ParticipantID string
	Repetition    int
	Task          *api.TaskSpec
	Output        string
}

// Scorer computes the four scoring axes of an output. It is pluggable, the service
// ships an LLM judge but rule based scorers fit the same contract.
type Scorer interface {
	Name() string
	Score(ctx context.Context, req ScoreRequest) (api.Scores, error)
}
