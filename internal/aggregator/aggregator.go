// Package aggregator turns the final participant states of a completed run into
// scores, a composite score and a ranking.
package aggregator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eval-hub/model-arena/internal/abstractions"
	"github.com/eval-hub/model-arena/internal/metrics"
	"github.com/eval-hub/model-arena/pkg/api"
	"golang.org/x/sync/errgroup"
)

// Weights is the fixed policy used to combine the axis scores.
var Weights = api.Scores{
	Correctness: 0.4,
	Quality:     0.3,
	Reasoning:   0.2,
	Usability:   0.1,
}

// Composite is the weighted sum of the axis scores.
func Composite(scores api.Scores) float64 {
	total := 0.0
	for _, c := range api.Categories {
		total += Weights.Get(c) * scores.Get(c)
	}
	return total
}

type Aggregator struct {
	logger      *slog.Logger
	scorer      abstractions.Scorer
	timeout     time.Duration
	concurrency int
	now         func() time.Time
}

func New(logger *slog.Logger, scorer abstractions.Scorer, timeout time.Duration, concurrency int) *Aggregator {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Aggregator{
		logger:      logger,
		scorer:      scorer,
		timeout:     timeout,
		concurrency: concurrency,
		now:         time.Now,
	}
}

func (a *Aggregator) ScorerName() string {
	return a.scorer.Name()
}

// Aggregate scores every successful repetition and ranks the participants.
// Scoring is best effort, a participant whose scoring fails or does not finish
// within the aggregation timeout gets null scores.
func (a *Aggregator) Aggregate(ctx context.Context, runID string, task *api.TaskSpec, states []api.ParticipantState) *api.AggregateResult {
	started := time.Now()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var mu sync.Mutex
	results := make(map[string]api.ParticipantResult, len(states))
	partial := false

	group := errgroup.Group{}
	group.SetLimit(a.concurrency)
	for _, state := range states {
		group.Go(func() error {
			result := a.scoreParticipant(ctx, runID, task, state)
			mu.Lock()
			defer mu.Unlock()
			results[state.ParticipantID] = result
			if result.ScoringError != "" {
				partial = true
			}
			return nil
		})
	}
	_ = group.Wait()

	aggregate := &api.AggregateResult{
		RunID:        runID,
		Participants: results,
		Ranking:      Rank(results),
		Weights:      Weights,
		Scorer:       a.scorer.Name(),
		Partial:      partial,
		CreatedAt:    a.now().UTC(),
	}
	for _, id := range aggregate.Ranking {
		if results[id].Composite != nil {
			best := id
			aggregate.BestParticipant = &best
			break
		}
	}

	outcome := "complete"
	if partial {
		outcome = "partial"
	}
	metrics.AggregationDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	return aggregate
}

func (a *Aggregator) scoreParticipant(ctx context.Context, runID string, task *api.TaskSpec, state api.ParticipantState) api.ParticipantResult {
	result := api.ParticipantResult{ParticipantID: state.ParticipantID}
	latency := int64(0)
	for _, rep := range state.Repetitions {
		result.TokensIn += rep.TokensIn
		result.TokensOut += rep.TokensOut
		if rep.Succeeded() {
			result.SuccessfulRepetitions++
			latency += rep.LatencyMS
		} else {
			result.FailedRepetitions++
		}
	}
	if result.SuccessfulRepetitions == 0 {
		return result
	}
	result.MeanLatencyMS = float64(latency) / float64(result.SuccessfulRepetitions)

	// failed repetitions contribute 0 to the mean
	total := max(state.TotalRepetitions, len(state.Repetitions))
	sum := api.Scores{}
	for _, rep := range state.Repetitions {
		if !rep.Succeeded() {
			continue
		}
		scores, err := a.scorer.Score(ctx, abstractions.ScoreRequest{
			RunID:         runID,
			ParticipantID: state.ParticipantID,
			Repetition:    rep.Index,
			Task:          task,
			Output:        rep.Text,
		})
		if err != nil {
			a.logger.Warn("Failed to score the output", "run_id", runID, "participant_id", state.ParticipantID, "repetition_index", rep.Index, "error", err.Error())
			result.ScoringError = err.Error()
			return result
		}
		for _, c := range api.Categories {
			sum.Set(c, sum.Get(c)+scores.Get(c))
		}
	}
	mean := api.Scores{}
	for _, c := range api.Categories {
		mean.Set(c, sum.Get(c)/float64(total))
	}
	composite := Composite(mean)
	result.Scores = &mean
	result.Composite = &composite
	return result
}

// Rank orders participants by composite score descending, then by mean latency
// ascending, then by id. Participants without a composite score come last.
func Rank(results map[string]api.ParticipantResult) []string {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := results[ids[i]], results[ids[j]]
		switch {
		case a.Composite != nil && b.Composite == nil:
			return true
		case a.Composite == nil && b.Composite != nil:
			return false
		case a.Composite != nil && *a.Composite != *b.Composite:
			return *a.Composite > *b.Composite
		case a.MeanLatencyMS != b.MeanLatencyMS:
			return a.MeanLatencyMS < b.MeanLatencyMS
		default:
			return ids[i] < ids[j]
		}
	})
	return ids
}
