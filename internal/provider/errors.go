package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

var statusHints = map[int]string{
	401: "authentication failed, check your API key",
	403: "access denied, the API key may lack the required permissions",
	404: "model or endpoint not found",
	429: "rate limited, too many requests",
	500: "internal server error on the provider side",
	502: "provider service temporarily unavailable",
	503: "provider service temporarily unavailable",
	529: "provider is overloaded",
}

// parseProviderError extracts a human-readable error from an API error body.
func parseProviderError(providerName string, statusCode int, body []byte) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		if msg := errResp.Error.Message; msg != "" {
			return msg
		}
		if errResp.Message != "" {
			return errResp.Message
		}
	}
	if hint, ok := statusHints[statusCode]; ok {
		return hint
	}

	s := string(body)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return fmt.Sprintf("%s: HTTP %d: %s", providerName, statusCode, s)
}

var networkHints = []struct{ match, hint string }{
	{"connection refused", "connection refused (is the service running?)"},
	{"no such host", "host not found (check the URL)"},
	{"deadline exceeded", "connection timed out"},
	{"timeout", "connection timed out"},
	{"EOF", "connection closed unexpectedly (EOF)"},
	{"reset by peer", "connection reset by peer"},
}

// friendlyProviderError converts common network errors to readable messages.
func friendlyProviderError(err error) string {
	msg := err.Error()
	for _, h := range networkHints {
		if strings.Contains(msg, h.match) {
			return h.hint
		}
	}
	return msg
}
