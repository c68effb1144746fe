package api

import "time"

// Scores holds the four scoring axes, each in [0,1].
type Scores struct {
	Correctness float64 `json:"correctness"`
	Quality     float64 `json:"quality"`
	Reasoning   float64 `json:"reasoning"`
	Usability   float64 `json:"usability"`
}

// Get returns the score of one axis.
func (s Scores) Get(c Category) float64 {
	switch c {
	case CategoryCorrectness:
		return s.Correctness
	case CategoryQuality:
		return s.Quality
	case CategoryReasoning:
		return s.Reasoning
	case CategoryUsability:
		return s.Usability
	default:
		return 0
	}
}

// Set updates the score of one axis.
func (s *Scores) Set(c Category, v float64) {
	switch c {
	case CategoryCorrectness:
		s.Correctness = v
	case CategoryQuality:
		s.Quality = v
	case CategoryReasoning:
		s.Reasoning = v
	case CategoryUsability:
		s.Usability = v
	}
}

// ParticipantResult is the aggregated outcome of one participant.
// Scores and Composite are nil when the participant could not be scored.
type ParticipantResult struct {
	ParticipantID         string   `json:"participant_id"`
	Scores                *Scores  `json:"scores"`
	Composite             *float64 `json:"composite"`
	SuccessfulRepetitions int      `json:"successful_repetitions"`
	FailedRepetitions     int      `json:"failed_repetitions"`
	MeanLatencyMS         float64  `json:"mean_latency_ms"`
	TokensIn              int      `json:"tokens_in"`
	TokensOut             int      `json:"tokens_out"`
	ScoringError          string   `json:"scoring_error,omitempty"`
}

// AggregateResult is computed once, when the run completes.
type AggregateResult struct {
	RunID           string                       `json:"run_id"`
	Participants    map[string]ParticipantResult `json:"participants"`
	Ranking         []string                     `json:"ranking"`
	BestParticipant *string                      `json:"best_participant"`
	Weights         Scores                       `json:"weights"`
	Scorer          string                       `json:"scorer"`
	Partial         bool                         `json:"partial,omitempty"`
	CreatedAt       time.Time                    `json:"created_at"`
}
