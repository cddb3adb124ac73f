// Package ai wraps the LLM providers used for maintenance troubleshooting
// suggestions and free-form chat.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatterfix/internal/utils"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Request is a single-turn generation request
type Request struct {
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Provider generates text from a prompt
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// ============================================================================
// OPENAI-COMPATIBLE (Grok, OpenAI, DeepSeek)
// ============================================================================

// ChatMessage is an OpenAI-format chat message
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the OpenAI-format request body
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// ChatCompletionResponse is the OpenAI-format response body
type ChatCompletionResponse struct {
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// OpenAICompatible talks to any /chat/completions endpoint
type OpenAICompatible struct {
	name     string
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// Provider defaults
const (
	GrokEndpoint     = "https://api.x.ai/v1"
	GrokModel        = "grok-2-latest"
	OpenAIEndpoint   = "https://api.openai.com/v1"
	OpenAIModel      = "gpt-4o-mini"
	DeepSeekEndpoint = "https://api.deepseek.com/v1"
	DeepSeekModel    = "deepseek-chat"
	GeminiModel      = "gemini-1.5-flash"
)

// NewOpenAICompatible creates a provider; endpoint is the API base such as https://api.x.ai/v1
func NewOpenAICompatible(name, endpoint, apiKey, model string) *OpenAICompatible {
	return &OpenAICompatible{
		name:     name,
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OpenAICompatible) Name() string { return p.name }

func (p *OpenAICompatible) Generate(ctx context.Context, req Request) (string, error) {
	body := ChatCompletionRequest{
		Model:     p.model,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	if req.System != "" {
		body.Messages = append(body.Messages, ChatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, ChatMessage{Role: "user", Content: req.Prompt})

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read %s response: %w", p.name, err)
	}

	var parsed ChatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("%s returned status %d: %s", p.name, resp.StatusCode, utils.Truncate(string(raw), 200))
		}
		return "", fmt.Errorf("failed to decode %s response: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("%s returned status %d: %s", p.name, resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%s returned an empty response", p.name)
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// ============================================================================
// GEMINI
// ============================================================================

// GeminiProvider uses the Google generative AI client
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a Gemini client. extra options are passed to the client, e.g. option.WithEndpoint.
func NewGeminiProvider(ctx context.Context, apiKey, model string, extra ...option.ClientOption) (*GeminiProvider, error) {
	if model == "" {
		model = GeminiModel
	}
	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, extra...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (string, error) {
	model := p.client.GenerativeModel(p.model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		break
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("gemini returned an empty response")
	}
	return strings.TrimSpace(sb.String()), nil
}

func (p *GeminiProvider) Close() error {
	return p.client.Close()
}
