package scoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eval-hub/model-arena/internal/abstractions"
	"github.com/eval-hub/model-arena/internal/config"
	"github.com/eval-hub/model-arena/internal/logging"
	"github.com/eval-hub/model-arena/internal/scoring"
	"github.com/eval-hub/model-arena/internal/validation"
	"github.com/eval-hub/model-arena/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	reply  string
	err    error
	prompt api.Prompt
	model  string
}

func (f *fakeCompleter) Complete(_ context.Context, model string, prompt api.Prompt, _ map[string]any) (string, error) {
	f.model = model
	f.prompt = prompt
	return f.reply, f.err
}

func newJudge(t *testing.T, completer *fakeCompleter) *scoring.Judge {
	t.Helper()
	judge, err := scoring.NewJudge(logging.FallbackLogger(), &config.JudgeConfig{
		Model:   "google/gemini-2.5-flash",
		Timeout: time.Second,
	}, completer)
	require.NoError(t, err)
	return judge
}

var task = &api.TaskSpec{
	Prompt: "Rank the emails",
	EvalQuestions: []api.EvalQuestion{
		{ID: "c1", Category: api.CategoryCorrectness, Question: "Is the ranking complete?"},
		{ID: "c2", Category: api.CategoryCorrectness, Question: "Is the top email correct?"},
		{ID: "q1", Category: api.CategoryQuality, Question: "Is the answer concise?"},
		{ID: "r1", Category: api.CategoryReasoning, Question: "Does it explain the order?"},
	},
}

func TestJudgeScoresAnswers(t *testing.T) {
	completer := &fakeCompleter{reply: "```json\n{\"answers\": {\"c1\": \"yes\", \"c2\": \"no\", \"q1\": \"Yes\", \"r1\": \"no\"}}\n```"}
	judge := newJudge(t, completer)

	scores, err := judge.Score(context.Background(), abstractions.ScoreRequest{ParticipantID: "a", Task: task, Output: "1. Q4 review"})
	require.NoError(t, err)
	assert.Equal(t, api.Scores{Correctness: 0.5, Quality: 1, Reasoning: 0, Usability: 0}, scores)
	assert.Equal(t, "google/gemini-2.5-flash", completer.model)
	assert.Contains(t, completer.prompt.User, "- [c2] (correctness): Is the top email correct?")
	assert.Contains(t, completer.prompt.User, "1. Q4 review")
	assert.Equal(t, "llm-judge:google/gemini-2.5-flash", judge.Name())
}

func TestJudgeUsesTheDefaultBank(t *testing.T) {
	completer := &fakeCompleter{reply: `{"answers": {"u1": "yes"}}`}
	judge := newJudge(t, completer)

	scores, err := judge.Score(context.Background(), abstractions.ScoreRequest{ParticipantID: "a", Task: &api.TaskSpec{Prompt: "p"}, Output: "out"})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, scores.Usability, 1e-9)
	assert.Zero(t, scores.Correctness)
	assert.Contains(t, completer.prompt.User, "[r10] (reasoning)")
}

func TestJudgeFailures(t *testing.T) {
	cases := map[string]*fakeCompleter{
		"call fails":        {err: errors.New("boom")},
		"not json":          {reply: "c1: yes"},
		"no answers":        {reply: `{"verdict": "good"}`},
		"answers not a map": {reply: `{"answers": ["yes"]}`},
		"answer not string": {reply: `{"answers": {"c1": true}}`},
	}
	for name, completer := range cases {
		t.Run(name, func(t *testing.T) {
			judge := newJudge(t, completer)
			_, err := judge.Score(context.Background(), abstractions.ScoreRequest{ParticipantID: "a", Task: task, Output: "out"})
			require.Error(t, err)
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, scoring.StripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, scoring.StripCodeFence("  {\"a\":1} "))
	assert.Equal(t, `{"a":1}`, scoring.StripCodeFence("```{\"a\":1}```"))
}

func TestDefaultQuestionsAreValid(t *testing.T) {
	validate, err := validation.NewValidator()
	require.NoError(t, err)
	require.Len(t, scoring.DefaultQuestions, 35)
	require.NoError(t, validate.Struct(&api.TaskSpec{Prompt: "p", EvalQuestions: scoring.DefaultQuestions}))
}

func TestLexical(t *testing.T) {
	scorer := scoring.NewLexical()
	scores, err := scorer.Score(context.Background(), abstractions.ScoreRequest{
		Task:   task,
		Output: "The ranking puts the answer first, then explains the order.",
	})
	require.NoError(t, err)
	// "ranking" matches c1, "answer" matches q1, "explain" does not match "explains", "order" matches r1
	assert.Equal(t, api.Scores{Correctness: 0.5, Quality: 1, Reasoning: 1}, scores)
}
