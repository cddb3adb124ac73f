package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatterfix/internal/config"
	"chatterfix/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, status int, body string) (*httptest.Server, *ChatCompletionRequest) {
	t.Helper()
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestOpenAICompatible_Generate(t *testing.T) {
	srv, got := completionServer(t, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"  Check the belt tension. "}}]}`)
	p := NewOpenAICompatible("grok", srv.URL+"/v1/", "test-key", "grok-test")

	text, err := p.Generate(context.Background(), Request{System: "sys", Prompt: "motor hums", MaxTokens: 50, Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "Check the belt tension.", text)

	assert.Equal(t, "grok-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "motor hums", got.Messages[1].Content)
	assert.Equal(t, 50, got.MaxTokens)
	require.NotNil(t, got.Temperature)
}

func TestOpenAICompatible_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"api error", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"auth"}}`, "bad key"},
		{"non json error", http.StatusBadGateway, `upstream down`, "status 502"},
		{"empty choices", http.StatusOK, `{"choices":[]}`, "empty response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := completionServer(t, tt.status, tt.body)
			p := NewOpenAICompatible("openai", srv.URL+"/v1", "test-key", "m")
			_, err := p.Generate(context.Background(), Request{Prompt: "x"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

type fakeProvider struct {
	name  string
	text  string
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(context.Context, Request) (string, error) {
	f.calls++
	return f.text, f.err
}

func TestService_Fallback(t *testing.T) {
	failing := &fakeProvider{name: "grok", err: errors.New("rate limited")}
	working := &fakeProvider{name: "openai", text: "Replace the fuse."}
	svc := NewServiceWithProviders(time.Second, failing, working)

	answer, err := svc.Chat(context.Background(), "lights out in bay 3")
	require.NoError(t, err)
	assert.Equal(t, "openai", answer.Provider)
	assert.Equal(t, "Replace the fuse.", answer.Text)
	assert.Equal(t, []string{"grok", "openai"}, answer.Attempts)
	assert.Equal(t, 1, failing.calls)
}

func TestService_AllFail(t *testing.T) {
	svc := NewServiceWithProviders(time.Second,
		&fakeProvider{name: "a", err: errors.New("boom a")},
		&fakeProvider{name: "b", err: errors.New("boom b")},
	)
	_, err := svc.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom a")
	assert.Contains(t, err.Error(), "boom b")
}

func TestService_NoProviders(t *testing.T) {
	svc := NewServiceWithProviders(0)
	assert.False(t, svc.Available())
	_, err := svc.Chat(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoProviders)
	assert.NoError(t, svc.Close())
}

func TestService_EmptyPrompt(t *testing.T) {
	svc := NewServiceWithProviders(0, &fakeProvider{name: "a", text: "x"})
	_, err := svc.Generate(context.Background(), Request{Prompt: "  "})
	assert.Error(t, err)
}

func TestNewService_PrimaryFirst(t *testing.T) {
	srv, _ := completionServer(t, http.StatusOK, `{"choices":[{"message":{"content":"ok"}}]}`)
	cfg := config.AIConfig{
		PrimaryProvider: "deepseek",
		Timeout:         time.Second,
		Grok:            config.ProviderCredentials{APIKey: "test-key", Endpoint: srv.URL + "/v1"},
		DeepSeek:        config.ProviderCredentials{APIKey: "test-key", Endpoint: srv.URL + "/v1"},
	}
	svc := NewService(context.Background(), cfg)
	assert.Equal(t, []string{"deepseek", "grok"}, svc.Providers())

	answer, err := svc.Chat(context.Background(), "pump cavitation?")
	require.NoError(t, err)
	assert.Equal(t, "deepseek", answer.Provider)
}

func TestBuildWorkOrderPrompt(t *testing.T) {
	wo := &types.WorkOrder{ID: 4, Title: "Pump vibrating", Description: "Loud rattle at startup",
		Category: types.CategoryMechanical, Priority: types.PriorityHigh, Status: types.StatusOpen}
	asset := &types.Asset{Name: "Pump 2", AssetTag: "P-2", Manufacturer: "Grundfos", Criticality: 4, Status: types.AssetOperational}
	prompt := BuildWorkOrderPrompt(wo, asset, []Reference{{ID: 1, Title: "Pump noisy", Resolution: "Replaced bearing", Similarity: 0.82}})

	assert.Contains(t, prompt, "Work order #4: Pump vibrating")
	assert.Contains(t, prompt, "Grundfos")
	assert.Contains(t, prompt, "location unknown")
	assert.Contains(t, prompt, "#1 Pump noisy (similarity 0.82): Replaced bearing")
}
