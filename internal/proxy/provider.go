package proxy

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Provider identifies which upstream dialect a request/response body uses.
type Provider int

const (
	ProviderUnknown Provider = iota
	ProviderOpenAI
	ProviderAnthropic
)

func (p Provider) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	default:
		return "unknown"
	}
}

// DetectProvider cascades through URL host suffix, then header key, then
// body shape. The first stage to produce an answer wins; an upstream that
// matches nothing falls through to ProviderUnknown, which disables
// injection entirely.
func DetectProvider(upstreamURL string, headers http.Header, body []byte) Provider {
	if p := detectFromURL(upstreamURL); p != ProviderUnknown {
		return p
	}
	if p := detectFromHeaders(headers); p != ProviderUnknown {
		return p
	}
	return detectFromBody(body)
}

func detectFromURL(rawURL string) Provider {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ProviderUnknown
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "openai.com" || strings.HasSuffix(host, ".openai.com"):
		return ProviderOpenAI
	case host == "anthropic.com" || strings.HasSuffix(host, ".anthropic.com"):
		return ProviderAnthropic
	default:
		return ProviderUnknown
	}
}

func detectFromHeaders(headers http.Header) Provider {
	if headers == nil {
		return ProviderUnknown
	}
	if headers.Get("x-api-key") != "" {
		return ProviderAnthropic
	}
	if auth := headers.Get("Authorization"); auth != "" {
		if strings.HasPrefix(strings.ToLower(auth), "bearer") {
			return ProviderOpenAI
		}
	}
	return ProviderUnknown
}

// detectFromBody mirrors the original's heuristics: a top-level "system"
// string or a mandatory "max_tokens" field signals Anthropic; an array-
// shaped message content also signals Anthropic (OpenAI content is always a
// plain string); a "role":"system" message signals OpenAI.
func detectFromBody(body []byte) Provider {
	if len(body) == 0 {
		return ProviderUnknown
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ProviderUnknown
	}

	if _, ok := parsed["system"]; ok {
		return ProviderAnthropic
	}
	if _, ok := parsed["max_tokens"]; ok {
		return ProviderAnthropic
	}

	messages, ok := parsed["messages"].([]interface{})
	if !ok {
		return ProviderUnknown
	}
	for _, m := range messages {
		msg, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		if _, ok := msg["content"].([]interface{}); ok {
			return ProviderAnthropic
		}
		if role, _ := msg["role"].(string); role == "system" {
			return ProviderOpenAI
		}
	}
	return ProviderUnknown
}
