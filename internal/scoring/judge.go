// Package scoring computes the per axis scores of participant outputs.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/eval-hub/model-arena/internal/abstractions"
	"github.com/eval-hub/model-arena/internal/config"
	"github.com/eval-hub/model-arena/internal/participants"
	"github.com/eval-hub/model-arena/pkg/api"
	"github.com/xeipuuv/gojsonschema"
)

const judgeSystemPrompt = `You are an expert evaluation judge. You will be given a model's response to a task, along with a list of yes/no evaluation questions.

For EACH question, answer strictly "yes" or "no" based on the model's response.

You MUST respond with valid JSON only, no explanation, no markdown fences, no extra text.

The JSON format must be:
{"answers": {"c1": "yes", "c2": "no", ...}}

Use the exact question IDs provided. Answer every question.`

const verdictSchema = `{
  "type": "object",
  "required": ["answers"],
  "properties": {
    "answers": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  }
}`

// ErrInvalidVerdict is returned when the judge reply is not the expected JSON document.
var ErrInvalidVerdict = errors.New("the judge reply is not a valid verdict")

// Judge scores an output by asking a model yes/no questions about it.
type Judge struct {
	logger      *slog.Logger
	completer   participants.ChatCompleter
	model       string
	temperature float64
	timeout     time.Duration
	schema      *gojsonschema.Schema
}

func NewJudge(logger *slog.Logger, cfg *config.JudgeConfig, completer participants.ChatCompleter) (*Judge, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(verdictSchema))
	if err != nil {
		return nil, err
	}
	return &Judge{
		logger:      logger,
		completer:   completer,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		schema:      schema,
	}, nil
}

func (j *Judge) Name() string {
	return "llm-judge:" + j.model
}

func (j *Judge) Score(ctx context.Context, req abstractions.ScoreRequest) (api.Scores, error) {
	questions := questionsFor(req.Task)
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	started := time.Now()
	reply, err := j.completer.Complete(ctx, j.model, api.Prompt{
		System: judgeSystemPrompt,
		User:   judgePrompt(req.Output, questions),
	}, map[string]any{"temperature": j.temperature})
	if err != nil {
		return api.Scores{}, fmt.Errorf("judge call failed: %w", err)
	}
	answers, err := j.parseVerdict(reply)
	if err != nil {
		return api.Scores{}, err
	}
	scores := ScoreAnswers(questions, answers)
	j.logger.Debug("Output judged", "run_id", req.RunID, "participant_id", req.ParticipantID, "repetition_index", req.Repetition, "duration", time.Since(started).String())
	return scores, nil
}

func judgePrompt(output string, questions []api.EvalQuestion) string {
	var b strings.Builder
	b.WriteString("## Model Response to Evaluate\n\n")
	b.WriteString(output)
	b.WriteString("\n\n---\n\n## Evaluation Questions\n\n")
	for _, q := range questions {
		fmt.Fprintf(&b, "- [%s] (%s): %s\n", q.ID, q.Category, q.Question)
	}
	b.WriteString("\nRespond with JSON only: {\"answers\": {\"")
	b.WriteString(questions[0].ID)
	b.WriteString("\": \"yes\", ...}}")
	return b.String()
}

// parseVerdict extracts the answers of a judge reply, the reply may be wrapped in a code fence.
func (j *Judge) parseVerdict(reply string) (map[string]string, error) {
	content := StripCodeFence(reply)
	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidVerdict, err.Error())
	}
	result, err := j.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidVerdict, err.Error())
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidVerdict, strings.Join(problems, "; "))
	}
	value, err := jsonpath.Get("$.answers", doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidVerdict, err.Error())
	}
	raw, ok := value.(map[string]any)
	if !ok {
		return nil, ErrInvalidVerdict
	}
	answers := make(map[string]string, len(raw))
	for id, answer := range raw {
		if s, ok := answer.(string); ok {
			answers[id] = s
		}
	}
	return answers, nil
}

// StripCodeFence removes a markdown code fence around a reply.
func StripCodeFence(reply string) string {
	content := strings.TrimSpace(reply)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	if _, rest, found := strings.Cut(content, "\n"); found {
		content = rest
	} else {
		content = content[3:]
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

func isYes(answer string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y")
}
