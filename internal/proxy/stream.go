package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
)

// ExtractedContent is the assistant text recovered from either a streaming
// SSE chunk or a complete non-streaming response body.
type ExtractedContent struct {
	Text       string
	IsComplete bool
}

// SSEParser incrementally decodes a server-sent-events body, accumulating
// assistant text across calls to Feed as chunks arrive off the wire. Events
// are delimited by a blank line; a trailing partial event is buffered until
// the remainder arrives.
type SSEParser struct {
	provider Provider
	buf      bytes.Buffer
	text     strings.Builder
	done     bool
}

// NewSSEParser returns a parser that understands the given provider's
// streaming chunk shape.
func NewSSEParser(provider Provider) *SSEParser {
	return &SSEParser{provider: provider}
}

// Feed appends raw bytes from the wire and returns the text extracted from
// any complete events found so far in this call, plus whether the stream has
// reached its terminal event.
func (p *SSEParser) Feed(chunk []byte) ExtractedContent {
	if p.done {
		return ExtractedContent{IsComplete: true}
	}
	p.buf.Write(chunk)

	var gained strings.Builder
	for {
		raw := p.buf.Bytes()
		idx := bytes.Index(raw, []byte("\n\n"))
		if idx == -1 {
			break
		}
		event := raw[:idx]
		p.buf.Next(idx + 2)

		text, done := p.parseEvent(event)
		gained.WriteString(text)
		p.text.WriteString(text)
		if done {
			p.done = true
			break
		}
	}

	return ExtractedContent{Text: gained.String(), IsComplete: p.done}
}

// Text returns all assistant text accumulated across every Feed call so far.
func (p *SSEParser) Text() string {
	return p.text.String()
}

// parseEvent extracts the text delta (if any) and done flag from one SSE
// event block, which may hold several "data:"/comment lines.
func (p *SSEParser) parseEvent(event []byte) (string, bool) {
	var text strings.Builder
	done := false

	for _, line := range strings.Split(string(event), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			done = true
			continue
		}

		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(data), &parsed); err != nil {
			continue
		}
		text.WriteString(p.extractDelta(parsed))
	}

	return text.String(), done
}

func (p *SSEParser) extractDelta(parsed map[string]interface{}) string {
	switch p.provider {
	case ProviderAnthropic:
		return extractAnthropicDelta(parsed)
	default:
		return extractOpenAIDelta(parsed)
	}
}

func extractOpenAIDelta(parsed map[string]interface{}) string {
	choices, ok := parsed["choices"].([]interface{})
	if !ok || len(choices) == 0 {
		return ""
	}
	choice, ok := choices[0].(map[string]interface{})
	if !ok {
		return ""
	}
	delta, ok := choice["delta"].(map[string]interface{})
	if !ok {
		return ""
	}
	content, _ := delta["content"].(string)
	return content
}

func extractAnthropicDelta(parsed map[string]interface{}) string {
	eventType, _ := parsed["type"].(string)
	if eventType != "content_block_delta" {
		return ""
	}
	delta, ok := parsed["delta"].(map[string]interface{})
	if !ok {
		return ""
	}
	if deltaType, _ := delta["type"].(string); deltaType != "text_delta" {
		return ""
	}
	text, _ := delta["text"].(string)
	return text
}

// ParseResponseContent extracts assistant text from a complete, non-streaming
// response body for the given provider.
func ParseResponseContent(responseBody []byte, provider Provider) string {
	var parsed map[string]interface{}
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return ""
	}
	switch provider {
	case ProviderAnthropic:
		return parseAnthropicResponse(parsed)
	default:
		return parseOpenAIResponse(parsed)
	}
}

func parseOpenAIResponse(parsed map[string]interface{}) string {
	choices, ok := parsed["choices"].([]interface{})
	if !ok || len(choices) == 0 {
		return ""
	}
	choice, ok := choices[0].(map[string]interface{})
	if !ok {
		return ""
	}
	message, ok := choice["message"].(map[string]interface{})
	if !ok {
		return ""
	}
	content, _ := message["content"].(string)
	return content
}

func parseAnthropicResponse(parsed map[string]interface{}) string {
	blocks, ok := parsed["content"].([]interface{})
	if !ok {
		return ""
	}
	var text strings.Builder
	for _, b := range blocks {
		block, ok := b.(map[string]interface{})
		if !ok {
			continue
		}
		if block["type"] != "text" {
			continue
		}
		if t, ok := block["text"].(string); ok {
			text.WriteString(t)
		}
	}
	return text.String()
}

// StreamingTee forwards every write to the client immediately and mirrors
// the same bytes to a capture sink. The sink is best-effort: a failing or
// slow sink never blocks or breaks the client's own response, it is only
// logged.
type StreamingTee struct {
	dst     io.Writer
	flusher flusher // dst's Flush method, when it has one
	sink    io.Writer
	logger  *slog.Logger
}

type flusher interface {
	Flush()
}

// NewStreamingTee builds a tee writing to dst (the real HTTP client) and
// mirroring into sink (typically an in-memory buffer feeding the SSE parser
// and conversation capture pipeline). When dst can flush (an
// http.ResponseWriter), each chunk is flushed through to the client as soon
// as it is written so SSE events are not held in the transport buffer.
func NewStreamingTee(dst, sink io.Writer, logger *slog.Logger) *StreamingTee {
	if logger == nil {
		logger = slog.Default()
	}
	f, _ := dst.(flusher)
	return &StreamingTee{dst: dst, flusher: f, sink: sink, logger: logger}
}

// Write satisfies io.Writer. The return value reflects only the write to
// dst; sink failures never surface to the caller.
func (t *StreamingTee) Write(p []byte) (int, error) {
	n, err := t.dst.Write(p)
	if t.flusher != nil {
		t.flusher.Flush()
	}
	if t.sink != nil {
		if _, sinkErr := t.sink.Write(p); sinkErr != nil {
			t.logger.Warn("streaming capture sink write failed", "error", sinkErr)
		}
	}
	return n, err
}
