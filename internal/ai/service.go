package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"chatterfix/internal/config"
	"chatterfix/types"
)

// ErrNoProviders is returned when no provider has credentials configured.
var ErrNoProviders = errors.New("no AI providers configured")

const maintenanceSystemPrompt = `You are a senior maintenance technician assisting with a computerized maintenance management system.
Give concise, practical troubleshooting steps. Put safety precautions first when the work involves
electrical, pressurized, rotating or chemical hazards. Do not invent part numbers.`

// Reference is a past work order similar to the one being diagnosed
type Reference struct {
	ID         int64   `json:"id"`
	Title      string  `json:"title"`
	Resolution string  `json:"resolution"`
	Similarity float32 `json:"similarity"`
}

// Answer is a generated response and the provider that produced it
type Answer struct {
	Text     string        `json:"text"`
	Provider string        `json:"provider"`
	Latency  time.Duration `json:"-"`
	Attempts []string      `json:"attempts,omitempty"`
}

// Service routes requests through the configured providers, primary first
type Service struct {
	providers []Provider
	timeout   time.Duration
}

// NewService builds providers for every configured credential. Gemini
// client construction failures are logged and the provider skipped.
func NewService(ctx context.Context, cfg config.AIConfig) *Service {
	available := map[string]Provider{}
	if cfg.Grok.APIKey != "" {
		available["grok"] = NewOpenAICompatible("grok", or(cfg.Grok.Endpoint, GrokEndpoint), cfg.Grok.APIKey, or(cfg.Grok.Model, GrokModel))
	}
	if cfg.OpenAI.APIKey != "" {
		available["openai"] = NewOpenAICompatible("openai", or(cfg.OpenAI.Endpoint, OpenAIEndpoint), cfg.OpenAI.APIKey, or(cfg.OpenAI.Model, OpenAIModel))
	}
	if cfg.DeepSeek.APIKey != "" {
		available["deepseek"] = NewOpenAICompatible("deepseek", or(cfg.DeepSeek.Endpoint, DeepSeekEndpoint), cfg.DeepSeek.APIKey, or(cfg.DeepSeek.Model, DeepSeekModel))
	}
	if cfg.Gemini.APIKey != "" {
		if p, err := NewGeminiProvider(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model); err != nil {
			log.Printf("⚠️  Gemini provider disabled: %v", err)
		} else {
			available["gemini"] = p
		}
	}

	order := []string{cfg.PrimaryProvider, "grok", "openai", "deepseek", "gemini"}
	var providers []Provider
	seen := map[string]bool{}
	for _, name := range order {
		if p, ok := available[name]; ok && !seen[name] {
			providers = append(providers, p)
			seen[name] = true
		}
	}

	if len(providers) == 0 {
		log.Println("⚠️  No AI provider API keys configured; AI endpoints will return 503")
	} else {
		log.Printf("🤖 AI providers: %s", strings.Join(names(providers), " → "))
	}
	return NewServiceWithProviders(cfg.Timeout, providers...)
}

// NewServiceWithProviders uses the given providers in order
func NewServiceWithProviders(timeout time.Duration, providers ...Provider) *Service {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{providers: providers, timeout: timeout}
}

// Providers lists provider names in fallback order
func (s *Service) Providers() []string {
	return names(s.providers)
}

func (s *Service) Available() bool { return len(s.providers) > 0 }

// Generate tries each provider in order and returns the first answer
func (s *Service) Generate(ctx context.Context, req Request) (*Answer, error) {
	if len(s.providers) == 0 {
		return nil, ErrNoProviders
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	var errs []error
	answer := &Answer{}
	for _, p := range s.providers {
		answer.Attempts = append(answer.Attempts, p.Name())
		start := time.Now()
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		text, err := p.Generate(pctx, req)
		cancel()
		if err == nil {
			answer.Text = text
			answer.Provider = p.Name()
			answer.Latency = time.Since(start)
			return answer, nil
		}
		log.Printf("⚠️  AI provider %s failed: %v", p.Name(), err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("all AI providers failed: %w", errors.Join(errs...))
}

// Chat answers a free-form maintenance question
func (s *Service) Chat(ctx context.Context, message string) (*Answer, error) {
	return s.Generate(ctx, Request{System: maintenanceSystemPrompt, Prompt: message, MaxTokens: 1024, Temperature: 0.4})
}

// SuggestForWorkOrder asks for troubleshooting steps using the asset and similar past fixes as context
func (s *Service) SuggestForWorkOrder(ctx context.Context, wo *types.WorkOrder, asset *types.Asset, similar []Reference) (*Answer, error) {
	return s.Generate(ctx, Request{
		System:      maintenanceSystemPrompt,
		Prompt:      BuildWorkOrderPrompt(wo, asset, similar),
		MaxTokens:   1024,
		Temperature: 0.3,
	})
}

// BuildWorkOrderPrompt renders the troubleshooting prompt for a work order
func BuildWorkOrderPrompt(wo *types.WorkOrder, asset *types.Asset, similar []Reference) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Work order #%d: %s\n", wo.ID, wo.Title)
	fmt.Fprintf(&sb, "Category: %s, priority: %s, status: %s\n", wo.Category, wo.Priority, wo.Status)
	if wo.Description != "" {
		fmt.Fprintf(&sb, "Reported problem: %s\n", wo.Description)
	}
	if asset != nil {
		fmt.Fprintf(&sb, "\nAsset: %s (tag %s)", asset.Name, asset.AssetTag)
		if asset.Manufacturer != "" || asset.Model != "" {
			fmt.Fprintf(&sb, ", %s %s", asset.Manufacturer, asset.Model)
		}
		fmt.Fprintf(&sb, ", location %s, criticality %d/5, status %s\n", or(asset.Location, "unknown"), asset.Criticality, asset.Status)
	}
	if len(similar) > 0 {
		sb.WriteString("\nSimilar past work orders and how they were resolved:\n")
		for _, ref := range similar {
			fmt.Fprintf(&sb, "- #%d %s (similarity %.2f): %s\n", ref.ID, ref.Title, ref.Similarity, or(ref.Resolution, "no notes"))
		}
	}
	sb.WriteString("\nList the most likely causes, then numbered troubleshooting steps, then parts or tools to have on hand.")
	return sb.String()
}

// Close releases provider clients that hold connections
func (s *Service) Close() error {
	var errs []error
	for _, p := range s.providers {
		if c, ok := p.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func names(providers []Provider) []string {
	out := make([]string, 0, len(providers))
	for _, p := range providers {
		out = append(out, p.Name())
	}
	return out
}

func or(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
