// Package taskspec turns the loosely shaped task JSON produced by planners into the
// canonical api.TaskSpec and builds the prompt that every participant receives.
package taskspec

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Jeffail/gabs/v2"
	"github.com/eval-hub/model-arena/pkg/api"
	"github.com/go-playground/validator/v10"
)

// DefaultEvaluation is used when the task brings no rubric and no eval questions.
const DefaultEvaluation = "Evaluate the output for correctness, relevance, and quality."

const systemPrompt = "You are a rigorous assistant. Narrate what you are doing out loud" +
	" while you analyze. Speak in natural first-person commentary," +
	" concise but explicit, grounded only in the provided data and rubric."

var (
	promptKeys     = []string{"prompt_template", "prompt"}
	inputKeys      = []string{"input_data", "input", "emails", "data"}
	evaluationKeys = []string{"evaluation", "rubric"}
	questionKeys   = map[string]bool{"id": true, "category": true, "question": true}
)

// Normalize parses the task JSON and returns its canonical form.
//
// The prompt is read from prompt_template or prompt, the input from input_data, input,
// emails or data (a top level array is wrapped as {"items": [...]}), the rubric from
// evaluation or rubric. When the task has eval questions and no rubric, the rubric is
// rendered from the questions.
func Normalize(raw json.RawMessage, validate *validator.Validate) (*api.TaskSpec, error) {
	if len(raw) == 0 {
		return nil, errors.New("the task is empty")
	}
	task, err := gabs.ParseJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("the task is not valid JSON: %w", err)
	}
	if _, ok := task.Data().(map[string]any); !ok {
		return nil, errors.New("the task must be a JSON object")
	}

	spec := &api.TaskSpec{}

	promptValue := first(task, promptKeys...)
	if promptValue == nil {
		return nil, errors.New("the task must contain 'prompt_template' or 'prompt'")
	}
	prompt, ok := promptValue.Data().(string)
	if !ok {
		return nil, errors.New("the task prompt must be a string")
	}
	spec.Prompt = prompt

	spec.Input = map[string]any{}
	if input := first(task, inputKeys...); input != nil {
		if items, isList := input.Data().([]any); isList {
			spec.Input = map[string]any{"items": items}
		} else {
			spec.Input = input.Data()
		}
	}

	if task.Exists("eval_questions") && task.Search("eval_questions").Data() != nil {
		questions, err := parseQuestions(task.Search("eval_questions"))
		if err != nil {
			return nil, err
		}
		spec.EvalQuestions = questions
	}

	if evaluation := first(task, evaluationKeys...); evaluation != nil {
		text, ok := evaluation.Data().(string)
		if !ok {
			text = evaluation.String()
		}
		spec.Evaluation = text
	} else if len(spec.EvalQuestions) > 0 {
		spec.Evaluation = QuestionsToMarkdown(spec.EvalQuestions)
	} else {
		spec.Evaluation = DefaultEvaluation
	}

	if validate != nil {
		if err := validate.Struct(spec); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

// first returns the first key that holds a non empty value, the same way an
// "a or b or c" chain would.
func first(task *gabs.Container, keys ...string) *gabs.Container {
	for _, key := range keys {
		if !task.Exists(key) {
			continue
		}
		value := task.Search(key)
		if !empty(value.Data()) {
			return value
		}
	}
	return nil
}

func empty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	case bool:
		return !v
	case json.Number:
		f, err := v.Float64()
		return err == nil && f == 0
	case float64:
		return v == 0
	default:
		return false
	}
}

func parseQuestions(questions *gabs.Container) ([]api.EvalQuestion, error) {
	items, ok := questions.Data().([]any)
	if !ok {
		return nil, errors.New("eval_questions must be a list")
	}
	if len(items) == 0 {
		return nil, errors.New("eval_questions must contain at least one question")
	}
	out := make([]api.EvalQuestion, 0, len(items))
	seen := map[string]bool{}
	for i, item := range questions.Children() {
		fields := item.ChildrenMap()
		if _, isObject := item.Data().(map[string]any); !isObject {
			return nil, fmt.Errorf("eval_questions[%d]: expected an object", i)
		}
		for key := range questionKeys {
			if _, ok := fields[key]; !ok {
				return nil, fmt.Errorf("eval_questions[%d]: missing required key '%s'", i, key)
			}
		}
		extra := []string{}
		for key := range fields {
			if !questionKeys[key] {
				extra = append(extra, key)
			}
		}
		if len(extra) > 0 {
			sort.Strings(extra)
			return nil, fmt.Errorf("eval_questions[%d]: unexpected keys %v", i, extra)
		}
		id, okID := fields["id"].Data().(string)
		category, okCategory := fields["category"].Data().(string)
		question, okQuestion := fields["question"].Data().(string)
		if !okID || !okCategory || !okQuestion {
			return nil, fmt.Errorf("eval_questions[%d]: 'id', 'category' and 'question' must be strings", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("eval_questions[%d]: duplicate id '%s'", i, id)
		}
		seen[id] = true
		out = append(out, api.EvalQuestion{
			ID:       strings.TrimSpace(id),
			Category: api.Category(strings.ToLower(strings.TrimSpace(category))),
			Question: strings.TrimSpace(question),
		})
	}
	return out, nil
}

// QuestionsToMarkdown renders eval questions as the rubric shown to participants,
// grouped by category in the order the categories first appear.
func QuestionsToMarkdown(questions []api.EvalQuestion) string {
	order := []api.Category{}
	byCategory := map[api.Category][]api.EvalQuestion{}
	for _, q := range questions {
		if _, ok := byCategory[q.Category]; !ok {
			order = append(order, q.Category)
		}
		byCategory[q.Category] = append(byCategory[q.Category], q)
	}

	var b strings.Builder
	b.WriteString("# Evaluation Criteria\n\nUse these yes/no questions to evaluate the output.\n")
	for _, category := range order {
		fmt.Fprintf(&b, "## %s\n\n", title(string(category)))
		for _, q := range byCategory[category] {
			fmt.Fprintf(&b, "- **%s**: %s\n", q.ID, q.Question)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n## Pass Condition\n\n- Weighted score >= 0.80")
	return b.String()
}

func title(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// BuildPrompt returns the prompt sent to every participant of a run.
func BuildPrompt(spec *api.TaskSpec) (api.Prompt, error) {
	input := spec.Input
	if input == nil {
		input = map[string]any{}
	}
	data, err := json.Marshal(input)
	if err != nil {
		return api.Prompt{}, fmt.Errorf("the task input cannot be serialized: %w", err)
	}
	return api.Prompt{
		System: systemPrompt,
		User:   fmt.Sprintf("%s\n\nInput data:\n%s\n\nEvaluation rubric:\n%s", spec.Prompt, data, spec.Evaluation),
	}, nil
}
