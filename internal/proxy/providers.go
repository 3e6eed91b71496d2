package proxy

import "github.com/tessera-mem/tessera/internal/memory"

// LLMProvider abstracts the per-dialect request/response shape so the rest
// of the proxy pipeline never branches on provider directly. Each method
// delegates to the shared helpers in injection.go/stream.go, parameterized
// by the provider's own Provider constant.
type LLMProvider interface {
	// InjectMemories rewrites requestBody to include the given memories,
	// truncated to fit maxTokens, in this provider's prompt convention.
	InjectMemories(requestBody []byte, memories []*memory.MemoryRecord, maxTokens int) ([]byte, error)

	// ExtractUserQuery pulls the most recent user turn's text out of a
	// request body, for use as the retrieval query.
	ExtractUserQuery(requestBody []byte) string

	// ParseSSEContent incrementally decodes one chunk of a streaming
	// response body.
	ParseSSEContent(parser *SSEParser, chunk []byte) ExtractedContent

	// ParseResponseContent extracts assistant text from a complete,
	// non-streaming response body.
	ParseResponseContent(responseBody []byte) string

	// Kind reports the underlying Provider constant.
	Kind() Provider
}

// OpenAIProvider implements LLMProvider for OpenAI's chat-completions API.
type OpenAIProvider struct{}

func NewOpenAIProvider() *OpenAIProvider { return &OpenAIProvider{} }

func (p *OpenAIProvider) InjectMemories(requestBody []byte, memories []*memory.MemoryRecord, maxTokens int) ([]byte, error) {
	return InjectMemories(requestBody, memories, maxTokens, ProviderOpenAI)
}

func (p *OpenAIProvider) ExtractUserQuery(requestBody []byte) string {
	return ExtractUserQuery(requestBody)
}

func (p *OpenAIProvider) ParseSSEContent(parser *SSEParser, chunk []byte) ExtractedContent {
	return parser.Feed(chunk)
}

func (p *OpenAIProvider) ParseResponseContent(responseBody []byte) string {
	return ParseResponseContent(responseBody, ProviderOpenAI)
}

func (p *OpenAIProvider) Kind() Provider { return ProviderOpenAI }

// AnthropicProvider implements LLMProvider for Anthropic's messages API.
type AnthropicProvider struct{}

func NewAnthropicProvider() *AnthropicProvider { return &AnthropicProvider{} }

func (p *AnthropicProvider) InjectMemories(requestBody []byte, memories []*memory.MemoryRecord, maxTokens int) ([]byte, error) {
	return InjectMemories(requestBody, memories, maxTokens, ProviderAnthropic)
}

func (p *AnthropicProvider) ExtractUserQuery(requestBody []byte) string {
	return ExtractUserQuery(requestBody)
}

func (p *AnthropicProvider) ParseSSEContent(parser *SSEParser, chunk []byte) ExtractedContent {
	return parser.Feed(chunk)
}

func (p *AnthropicProvider) ParseResponseContent(responseBody []byte) string {
	return ParseResponseContent(responseBody, ProviderAnthropic)
}

func (p *AnthropicProvider) Kind() Provider { return ProviderAnthropic }

// ForProvider resolves the LLMProvider implementation for a detected
// Provider constant. Every value other than ProviderAnthropic, including
// ProviderUnknown, gets the OpenAI implementation; ProxyServer still skips
// injection for unknown providers.
func ForProvider(p Provider) LLMProvider {
	switch p {
	case ProviderAnthropic:
		return NewAnthropicProvider()
	default:
		return NewOpenAIProvider()
	}
}
