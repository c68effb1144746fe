// Package participants holds the clients that talk to model providers. Every other
// package sees a participant through abstractions.Participant only.
package participants

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	jsonpatch "gopkg.in/evanphx/json-patch.v4"
)

// defaultParams are sent to every provider unless a participant or a run overrides them.
var defaultParams = map[string]any{
	"temperature": 0.2,
}

// MergeParams applies each layer as a JSON merge patch over the previous ones.
// A null value in a later layer removes the key.
func MergeParams(layers ...map[string]any) (map[string]any, error) {
	doc, err := json.Marshal(defaultParams)
	if err != nil {
		return nil, err
	}
	for _, layer := range layers {
		if len(layer) == 0 {
			continue
		}
		patch, err := json.Marshal(layer)
		if err != nil {
			return nil, fmt.Errorf("invalid generation parameters: %w", err)
		}
		doc, err = jsonpatch.MergePatch(doc, patch)
		if err != nil {
			return nil, fmt.Errorf("failed to merge generation parameters: %w", err)
		}
	}
	merged := map[string]any{}
	if err := json.Unmarshal(doc, &merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// generationParams are the parameters understood by the providers that do not
// take the OpenAI request shape.
type generationParams struct {
	Temperature *float64 `mapstructure:"temperature"`
	TopP        *float64 `mapstructure:"top_p"`
	MaxTokens   *int     `mapstructure:"max_tokens"`
	Stop        []string `mapstructure:"stop"`
}

func decodeGenerationParams(params map[string]any) (generationParams, error) {
	out := generationParams{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(params); err != nil {
		return out, fmt.Errorf("invalid generation parameters: %w", err)
	}
	return out, nil
}

// countTokens is a rough token estimate used when a provider does not report usage.
func countTokens(texts ...string) int {
	n := 0
	for _, t := range texts {
		n += len(strings.Fields(t))
	}
	return n
}
