package validation_test

import (
	"testing"

	"github.com/eval-hub/model-arena/internal/validation"
	"github.com/eval-hub/model-arena/pkg/api"
)

func TestIsYesNoQuestion(t *testing.T) {
	cases := map[string]bool{
		"Is the answer correct?":           true,
		"  does it cite the input data?  ": true,
		"Were all items ranked?":           true,
		"Explain the answer?":              false,
		"Is the answer correct":            false,
		"":                                 false,
	}
	for question, expected := range cases {
		t.Run(question, func(t *testing.T) {
			if got := validation.IsYesNoQuestion(question); got != expected {
				t.Fatalf("IsYesNoQuestion(%q) = %v, expected %v", question, got, expected)
			}
		})
	}
}

func TestValidator(t *testing.T) {
	validate, err := validation.NewValidator()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	t.Run("valid task spec", func(t *testing.T) {
		spec := api.TaskSpec{
			Prompt: "Summarise the input",
			EvalQuestions: []api.EvalQuestion{
				{ID: "c1", Category: api.CategoryCorrectness, Question: "Is the summary accurate?"},
				{ID: "q1", Category: api.CategoryQuality, Question: "Is the summary short?"},
			},
		}
		if err := validate.Struct(spec); err != nil {
			t.Fatalf("Expected no validation error, got %v", err)
		}
	})

	t.Run("duplicate question ids are rejected", func(t *testing.T) {
		spec := api.TaskSpec{
			Prompt: "Summarise the input",
			EvalQuestions: []api.EvalQuestion{
				{ID: "c1", Category: api.CategoryCorrectness, Question: "Is the summary accurate?"},
				{ID: "c1", Category: api.CategoryQuality, Question: "Is the summary short?"},
			},
		}
		if err := validate.Struct(spec); err == nil {
			t.Fatalf("Expected a validation error for duplicate ids")
		}
	})

	t.Run("open question is rejected", func(t *testing.T) {
		spec := api.TaskSpec{
			Prompt: "Summarise the input",
			EvalQuestions: []api.EvalQuestion{
				{ID: "c1", Category: api.CategoryCorrectness, Question: "How accurate is the summary?"},
			},
		}
		if err := validate.Struct(spec); err == nil {
			t.Fatalf("Expected a validation error for an open question")
		}
	})

	t.Run("run config needs participants", func(t *testing.T) {
		config := api.RunConfig{Task: []byte(`{"prompt":"hi"}`)}
		if err := validate.Struct(config); err == nil {
			t.Fatalf("Expected a validation error for a run without participants")
		}
	})

	t.Run("participant ids can not contain spaces", func(t *testing.T) {
		config := api.RunConfig{Task: []byte(`{"prompt":"hi"}`), Participants: []string{"openai/gpt 4"}}
		if err := validate.Struct(config); err == nil {
			t.Fatalf("Expected a validation error for a participant id with a space")
		}
	})
}
