package participants

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eval-hub/model-arena/internal/abstractions"
	"github.com/eval-hub/model-arena/internal/config"
	"github.com/eval-hub/model-arena/pkg/api"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// ErrMissingAPIKey is returned when a provider call is attempted without credentials.
var ErrMissingAPIKey = errors.New("no OpenRouter API key is configured")

// ProviderError is a non successful answer from a provider.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Message)
}

// ChatCompleter answers a prompt in one piece. The judge uses it.
type ChatCompleter interface {
	Complete(ctx context.Context, model string, prompt api.Prompt, params map[string]any) (string, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChoice struct {
	Delta   chatMessage `json:"delta"`
	Message chatMessage `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatError struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage"`
	Error   *chatError   `json:"error"`
}

// OpenRouterClient calls the OpenAI compatible chat completions API of OpenRouter.
// One client is shared by all OpenRouter participants and the judge so that they
// share the rate limit.
type OpenRouterClient struct {
	logger     *slog.Logger
	baseURL    string
	apiKey     string
	siteURL    string
	siteName   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewOpenRouterClient(logger *slog.Logger, cfg *config.OpenRouterConfig) *OpenRouterClient {
	return &OpenRouterClient{
		logger:   logger,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		siteURL:  cfg.SiteURL,
		siteName: cfg.SiteName,
		httpClient: &http.Client{
			Timeout:   cfg.HTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Configured reports whether the client has credentials.
func (c *OpenRouterClient) Configured() bool {
	return c.apiKey != ""
}

func (c *OpenRouterClient) newRequest(ctx context.Context, model string, prompt api.Prompt, params map[string]any, stream bool) (*http.Request, error) {
	if !c.Configured() {
		return nil, ErrMissingAPIKey
	}
	body := map[string]any{}
	for k, v := range params {
		body[k] = v
	}
	messages := []chatMessage{}
	if prompt.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: prompt.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt.User})
	body["model"] = model
	body["messages"] = messages
	body["stream"] = stream
	if stream {
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

func (c *OpenRouterClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseProviderError(resp)
	}
	return resp, nil
}

func parseProviderError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	parsed := chatResponse{}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return &ProviderError{StatusCode: resp.StatusCode, Message: parsed.Error.Message}
	}
	message := strings.TrimSpace(string(body))
	if len(message) > 500 {
		message = message[:500] + "..."
	}
	if message == "" {
		message = resp.Status
	}
	return &ProviderError{StatusCode: resp.StatusCode, Message: message}
}

// Stream sends a streaming chat completion and yields the content deltas as they arrive.
// The usage reported by the provider is yielded last, in a fragment without text.
func (c *OpenRouterClient) Stream(ctx context.Context, model string, prompt api.Prompt, params map[string]any) iter.Seq2[abstractions.Fragment, error] {
	return func(yield func(abstractions.Fragment, error) bool) {
		req, err := c.newRequest(ctx, model, prompt, params, true)
		if err != nil {
			yield(abstractions.Fragment{}, err)
			return
		}
		resp, err := c.do(req)
		if err != nil {
			yield(abstractions.Fragment{}, err)
			return
		}
		defer resp.Body.Close()

		var usage *abstractions.Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			// blank lines separate events, lines starting with ':' are keep-alive comments
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				break
			}
			chunk := chatResponse{}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				yield(abstractions.Fragment{}, fmt.Errorf("decoding stream chunk: %w", err))
				return
			}
			if chunk.Error != nil {
				yield(abstractions.Fragment{}, &ProviderError{Message: chunk.Error.Message})
				return
			}
			if chunk.Usage != nil {
				usage = &abstractions.Usage{PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens}
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(abstractions.Fragment{Text: chunk.Choices[0].Delta.Content}, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			yield(abstractions.Fragment{}, fmt.Errorf("reading stream: %w", err))
			return
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

// Complete sends a non streaming chat completion and returns the content of the first choice.
func (c *OpenRouterClient) Complete(ctx context.Context, model string, prompt api.Prompt, params map[string]any) (string, error) {
	started := time.Now()
	req, err := c.newRequest(ctx, model, prompt, params, false)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	parsed := chatResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding completion: %w", err)
	}
	if parsed.Error != nil {
		return "", &ProviderError{Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", &ProviderError{Message: "completion has no choices"}
	}
	c.logger.Debug("Chat completion finished", "model", model, "duration", time.Since(started).String())
	return parsed.Choices[0].Message.Content, nil
}

// OpenRouter is a participant served through OpenRouter.
type OpenRouter struct {
	descriptor api.ParticipantResource
	client     *OpenRouterClient
}

func NewOpenRouter(descriptor api.ParticipantResource, client *OpenRouterClient) *OpenRouter {
	return &OpenRouter{descriptor: descriptor, client: client}
}

func (p *OpenRouter) ID() string {
	return p.descriptor.ID
}

func (p *OpenRouter) Descriptor() api.ParticipantResource {
	return p.descriptor
}

func (p *OpenRouter) Invoke(ctx context.Context, prompt api.Prompt, params map[string]any) iter.Seq2[abstractions.Fragment, error] {
	return p.client.Stream(ctx, p.descriptor.Model, prompt, params)
}
