package proxy

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/tessera-mem/tessera/internal/memory"
)

// perItemOverheadTokens approximates the formatting characters ("N. [Type] ")
// each injected memory adds beyond its own content.
const perItemOverheadTokens = 8

// EstimateTokens is a deterministic cheap approximation of token count:
// ceil(len(s)/4), floored at 1. It is not a tokenizer call.
func EstimateTokens(s string) int {
	if s == "" {
		return 1
	}
	n := int(math.Ceil(float64(len(s)) / 4.0))
	if n < 1 {
		return 1
	}
	return n
}

// TruncateToBudget greedily keeps memories in rank order (the order they
// arrive in) while their cumulative estimated cost, including per-item
// formatting overhead, fits within maxTokens. It never splits a memory.
func TruncateToBudget(memories []*memory.MemoryRecord, maxTokens int) []*memory.MemoryRecord {
	if maxTokens <= 0 {
		return nil
	}

	var kept []*memory.MemoryRecord
	budget := maxTokens
	for _, m := range memories {
		cost := EstimateTokens(m.Content) + perItemOverheadTokens
		if cost > budget {
			break
		}
		kept = append(kept, m)
		budget -= cost
	}
	return kept
}

// FormatMemoryBlock renders memories (already truncated to budget) as a
// bracketed context block suitable for injection as a system message.
func FormatMemoryBlock(memories []*memory.MemoryRecord) string {
	var b strings.Builder
	b.WriteString("[MEMORY CONTEXT]\n")
	b.WriteString("The following are relevant memories from prior conversations:\n\n")
	for i, m := range memories {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, memoryTypeLabel(m.MemoryType), m.Content)
	}
	b.WriteString("[END MEMORY CONTEXT]")
	return b.String()
}

func memoryTypeLabel(t memory.MemoryType) string {
	switch t {
	case memory.MemoryTypeEpisodic:
		return "Episodic"
	case memory.MemoryTypeSemantic:
		return "Semantic"
	case memory.MemoryTypeProcedural:
		return "Procedural"
	default:
		return string(t)
	}
}

// ExtractUserQuery pulls the most recent user message's text content out of
// a chat-completion request body, trying the OpenAI "messages" shape first
// and falling back to an Anthropic-style array content block.
func ExtractUserQuery(requestBody []byte) string {
	var parsed map[string]interface{}
	if err := json.Unmarshal(requestBody, &parsed); err != nil {
		return ""
	}
	messages, ok := parsed["messages"].([]interface{})
	if !ok {
		return ""
	}
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]interface{})
		if !ok {
			continue
		}
		if role, _ := msg["role"].(string); role != "user" {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			return content
		case []interface{}:
			var parts []string
			for _, block := range content {
				b, ok := block.(map[string]interface{})
				if !ok {
					continue
				}
				if b["type"] == "text" {
					if text, ok := b["text"].(string); ok {
						parts = append(parts, text)
					}
				}
			}
			return strings.Join(parts, "\n")
		}
	}
	return ""
}

// InjectMemories splices memoryBlock into requestBody according to the
// detected provider's prompt convention, returning the rewritten body.
// Unknown providers pass through unchanged.
func InjectMemories(requestBody []byte, memories []*memory.MemoryRecord, maxTokens int, provider Provider) ([]byte, error) {
	truncated := TruncateToBudget(memories, maxTokens)
	if len(truncated) == 0 {
		return requestBody, nil
	}
	block := FormatMemoryBlock(truncated)

	var parsed map[string]interface{}
	if err := json.Unmarshal(requestBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing request body for injection: %w", err)
	}

	switch provider {
	case ProviderOpenAI:
		injectOpenAI(parsed, block)
	case ProviderAnthropic:
		injectAnthropic(parsed, block)
	default:
		return requestBody, nil
	}

	return json.Marshal(parsed)
}

// injectOpenAI appends the memory block to an existing system message's
// content, or prepends a new one as the first message.
func injectOpenAI(parsed map[string]interface{}, block string) {
	messages, _ := parsed["messages"].([]interface{})

	for _, m := range messages {
		msg, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		if role, _ := msg["role"].(string); role == "system" {
			existing, _ := msg["content"].(string)
			msg["content"] = existing + "\n\n" + block
			return
		}
	}

	systemMsg := map[string]interface{}{"role": "system", "content": block}
	parsed["messages"] = append([]interface{}{systemMsg}, messages...)
}

// injectAnthropic appends the memory block to the top-level "system"
// string, creating it if absent.
func injectAnthropic(parsed map[string]interface{}, block string) {
	existing, _ := parsed["system"].(string)
	if existing == "" {
		parsed["system"] = block
		return
	}
	parsed["system"] = existing + "\n\n" + block
}
