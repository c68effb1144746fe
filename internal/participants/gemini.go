package participants

import (
	"context"
	"iter"

	"github.com/eval-hub/model-arena/internal/abstractions"
	"github.com/eval-hub/model-arena/pkg/api"
	"google.golang.org/genai"
)

// Gemini is a participant served directly by the Gemini API.
type Gemini struct {
	descriptor api.ParticipantResource
	client     *genai.Client
}

// NewGeminiClient creates the client shared by all Gemini participants.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
}

func NewGemini(descriptor api.ParticipantResource, client *genai.Client) *Gemini {
	return &Gemini{descriptor: descriptor, client: client}
}

func (g *Gemini) ID() string {
	return g.descriptor.ID
}

func (g *Gemini) Descriptor() api.ParticipantResource {
	return g.descriptor
}

func (g *Gemini) Invoke(ctx context.Context, prompt api.Prompt, params map[string]any) iter.Seq2[abstractions.Fragment, error] {
	return func(yield func(abstractions.Fragment, error) bool) {
		generation, err := decodeGenerationParams(params)
		if err != nil {
			yield(abstractions.Fragment{}, err)
			return
		}
		contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: prompt.User}}}}

		var usage *abstractions.Usage
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.descriptor.Model, contents, generationConfig(prompt, generation)) {
			if err != nil {
				yield(abstractions.Fragment{}, &ProviderError{Message: err.Error()})
				return
			}
			if resp.UsageMetadata != nil {
				usage = &abstractions.Usage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				}
			}
			text := responseText(resp)
			if text == "" {
				continue
			}
			if !yield(abstractions.Fragment{Text: text}, nil) {
				return
			}
		}
		if err := ctx.Err(); err != nil {
			yield(abstractions.Fragment{}, err)
			return
		}
		if usage != nil {
			yield(abstractions.Fragment{Usage: usage}, nil)
		}
	}
}

func generationConfig(prompt api.Prompt, params generationParams) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{StopSequences: params.Stop}
	if prompt.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: prompt.System}}}
	}
	if params.Temperature != nil {
		t := float32(*params.Temperature)
		cfg.Temperature = &t
	}
	if params.TopP != nil {
		p := float32(*params.TopP)
		cfg.TopP = &p
	}
	if params.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*params.MaxTokens)
	}
	return cfg
}

func responseText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	text := ""
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			text += part.Text
		}
	}
	return text
}
