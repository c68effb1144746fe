package scoring

import (
	"context"
	"strings"
	"unicode"

	"github.com/eval-hub/model-arena/internal/abstractions"
	"github.com/eval-hub/model-arena/pkg/api"
)

// Lexical is a rule based scorer that needs no model. A question is answered yes when
// the output mentions at least one content word of the question. It is used in local
// mode, where no provider is called.
type Lexical struct{}

func NewLexical() *Lexical {
	return &Lexical{}
}

func (Lexical) Name() string {
	return "lexical"
}

func (Lexical) Score(ctx context.Context, req abstractions.ScoreRequest) (api.Scores, error) {
	if err := ctx.Err(); err != nil {
		return api.Scores{}, err
	}
	output := words(req.Output)
	questions := questionsFor(req.Task)
	answers := make(map[string]string, len(questions))
	for _, q := range questions {
		answers[q.ID] = "no"
		for w := range words(q.Question) {
			if len(w) >= 5 && output[w] {
				answers[q.ID] = "yes"
				break
			}
		}
	}
	return ScoreAnswers(questions, answers), nil
}

func words(text string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[w] = true
	}
	return out
}
