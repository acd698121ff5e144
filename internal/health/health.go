// Package health probes the configured model providers.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/jeanpaul/redel/internal/config"
)

const (
	anthropicURL = "https://api.anthropic.com"
	googleURL    = "https://generativelanguage.googleapis.com"

	checkTimeout = 10 * time.Second
)

type Status struct {
	Provider  string
	BaseURL   string
	Reachable bool
	Models    []string
	Error     string
	Latency   time.Duration
}

// Check verifies that a provider endpoint answers its model listing with
// the configured credentials. A nil client uses http.DefaultClient.
func Check(ctx context.Context, client *http.Client, name string, p config.ProviderConfig) Status {
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	var s Status
	switch p.Type {
	case "openai":
		s = listModels(ctx, client, strings.TrimRight(p.BaseURL, "/")+"/models", func(r *http.Request) {
			if p.APIKey != "" {
				r.Header.Set("Authorization", "Bearer "+p.APIKey)
			}
		})
		s.BaseURL = p.BaseURL
	case "anthropic":
		base := baseOr(p.BaseURL, anthropicURL)
		if p.APIKey == "" {
			s = Status{Error: "no API key configured (set ANTHROPIC_API_KEY)"}
			break
		}
		s = listModels(ctx, client, base+"/v1/models", func(r *http.Request) {
			r.Header.Set("x-api-key", p.APIKey)
			r.Header.Set("anthropic-version", "2023-06-01")
		})
		s.BaseURL = base
	case "google":
		base := baseOr(p.BaseURL, googleURL)
		if p.APIKey == "" {
			s = Status{Error: "no API key configured (set GEMINI_API_KEY)"}
			break
		}
		s = listModels(ctx, client, base+"/v1beta/models?pageSize=1000&key="+url.QueryEscape(p.APIKey), nil)
		s.BaseURL = base
	default:
		s.Error = fmt.Sprintf("unknown provider type: %s", p.Type)
	}
	s.Provider = name
	s.Latency = time.Since(start)
	return s
}

func baseOr(base, def string) string {
	if base == "" {
		return def
	}
	return strings.TrimRight(base, "/")
}

func listModels(ctx context.Context, client *http.Client, endpoint string, auth func(*http.Request)) Status {
	var s Status
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	if auth != nil {
		auth(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		s.Error = "cannot reach endpoint: " + friendlyError(err)
		return s
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		s.Error = "authentication failed, check your API key"
		return s
	case resp.StatusCode != http.StatusOK:
		s.Error = fmt.Sprintf("endpoint returned HTTP %d", resp.StatusCode)
		return s
	}

	// OpenAI and Anthropic list under data[].id, Gemini under models[].name.
	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	s.Reachable = true
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		// reachable, just not a listing we understand
		return s
	}
	for _, m := range result.Data {
		s.Models = append(s.Models, m.ID)
	}
	for _, m := range result.Models {
		s.Models = append(s.Models, strings.TrimPrefix(m.Name, "models/"))
	}
	return s
}

// CheckModel reports whether the provider's configured model is listed.
// Providers that list nothing are assumed to serve it.
func CheckModel(ctx context.Context, client *http.Client, name string, p config.ProviderConfig) error {
	s := Check(ctx, client, name, p)
	if !s.Reachable {
		return fmt.Errorf("provider %s not reachable: %s", name, s.Error)
	}
	if len(s.Models) == 0 || slices.Contains(s.Models, p.Model) {
		return nil
	}
	return fmt.Errorf("model %q not found on %s; available: %s", p.Model, name, strings.Join(s.Models, ", "))
}

func friendlyError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return "connection refused (is the service running?)"
	case strings.Contains(msg, "no such host"):
		return "host not found (check the URL)"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "connection timed out"
	}
	return msg
}
