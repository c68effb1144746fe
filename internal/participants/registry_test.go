package participants_test

import (
	"context"
	"testing"

	"github.com/eval-hub/model-arena/internal/config"
	"github.com/eval-hub/model-arena/internal/logging"
	"github.com/eval-hub/model-arena/internal/participants"
	"github.com/eval-hub/model-arena/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryInLocalMode(t *testing.T) {
	serviceConfig := &config.Config{
		Service: &config.ServiceConfig{LocalMode: true},
		Gemini:  &config.GeminiConfig{},
	}
	client := participants.NewOpenRouterClient(logging.FallbackLogger(), openRouterConfig("http://127.0.0.1:1"))
	registry, err := participants.NewRegistry(context.Background(), logging.FallbackLogger(), serviceConfig, client, []api.ParticipantResource{
		{ID: "openai/gpt-4o-mini", Name: "Gpt-4o-Mini", Kind: api.ParticipantKindOpenRouter, Model: "openai/gpt-4o-mini"},
		{ID: "gemini-2.5-flash", Name: "Gemini", Kind: api.ParticipantKindGemini, Model: "gemini-2.5-flash"},
		{ID: "local/echo", Kind: api.ParticipantKindScripted, Script: &api.ParticipantScript{Fragments: []string{"hi"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"openai/gpt-4o-mini", "gemini-2.5-flash", "local/echo"}, registry.IDs())
	p, ok := registry.Get("openai/gpt-4o-mini")
	require.True(t, ok)
	_, isScripted := p.(*participants.Scripted)
	assert.True(t, isScripted)

	_, ok = registry.Get("unknown/model")
	assert.False(t, ok)

	listed := registry.List()
	require.Len(t, listed, 3)
	assert.Equal(t, "local/echo", listed[2].ID)
}

func TestRegistryRejectsUnknownKind(t *testing.T) {
	serviceConfig := &config.Config{Service: &config.ServiceConfig{}, Gemini: &config.GeminiConfig{}}
	client := participants.NewOpenRouterClient(logging.FallbackLogger(), openRouterConfig("http://127.0.0.1:1"))
	_, err := participants.NewRegistry(context.Background(), logging.FallbackLogger(), serviceConfig, client, []api.ParticipantResource{
		{ID: "x/y", Kind: "carrier-pigeon"},
	})
	require.Error(t, err)
}
