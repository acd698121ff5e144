package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/redel/internal/config"
)

func TestEstimateMessage(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("abcdefgh"))
	assert.Equal(t, 4+2, EstimateMessage(UserMessage("abcdefgh")))

	m := Message{Role: RoleAssistant, ToolCalls: []ToolCall{{Name: "search", Args: `{"query":"x"}`}}}
	assert.Equal(t, 4+1+3, EstimateMessage(m))
}

func TestParseProviderError(t *testing.T) {
	assert.Equal(t, "bad key", parseProviderError("p", 401, []byte(`{"error":{"message":"bad key"}}`)))
	assert.Equal(t, "top level", parseProviderError("p", 400, []byte(`{"message":"top level"}`)))
	assert.Equal(t, "provider is overloaded", parseProviderError("p", 529, []byte(`<html>`)))
	assert.Equal(t, "p: HTTP 418: teapot", parseProviderError("p", 418, []byte("teapot")))
}

func TestFriendlyProviderError(t *testing.T) {
	assert.Equal(t, "host not found (check the URL)", friendlyProviderError(errors.New("dial tcp: lookup x: no such host")))
	assert.Equal(t, "something else", friendlyProviderError(errors.New("something else")))
}

func TestNewFromConfig(t *testing.T) {
	temp := 0.3
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 5
	cfg.Providers = map[string]config.ProviderConfig{
		"oai":    {Type: "openai", BaseURL: "http://localhost:8000/v1", Model: "m", MaxContext: 32000, Temperature: &temp},
		"claude": {Type: "anthropic", APIKey: "k", Model: "claude-test", BaseURL: "http://localhost:9000"},
		"gem":    {Type: "google", APIKey: "k", BaseURL: "http://localhost:9001/"},
		"weird":  {Type: "cohere"},
	}

	e, err := New(cfg, "oai")
	require.NoError(t, err)
	r := e.(*RetryEngine)
	assert.Equal(t, 5, r.maxRetries)
	o := r.Unwrap().(*OpenAI)
	assert.Equal(t, "oai", o.Name())
	assert.Equal(t, 32000, o.MaxContextSize())
	require.NotNil(t, o.temperature)
	assert.Equal(t, 0.3, *o.temperature)

	e, err = New(cfg, "claude")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", e.Name())
	assert.Equal(t, 200_000, e.MaxContextSize())

	e, err = New(cfg, "gem")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9001/v1beta", e.(*RetryEngine).Unwrap().(*Google).baseURL)

	_, err = New(cfg, "weird")
	assert.ErrorContains(t, err, `unknown type "cohere"`)
	_, err = New(cfg, "missing")
	assert.ErrorContains(t, err, "not configured")
}
