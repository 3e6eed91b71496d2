package proxy

import (
	"bytes"
	"errors"
	"testing"
)

func TestSSEParserOpenAIAccumulatesAcrossChunks(t *testing.T) {
	parser := NewSSEParser(ProviderOpenAI)

	first := parser.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n"))
	if first.Text != "Hel" || first.IsComplete {
		t.Fatalf("unexpected first feed result: %+v", first)
	}

	second := parser.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\ndata: [DONE]\n\n"))
	if second.Text != "lo" || !second.IsComplete {
		t.Fatalf("unexpected second feed result: %+v", second)
	}

	if parser.Text() != "Hello" {
		t.Errorf("expected accumulated text Hello, got %q", parser.Text())
	}
}

func TestSSEParserHandlesPartialEventAcrossFeeds(t *testing.T) {
	parser := NewSSEParser(ProviderOpenAI)

	r := parser.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"par"))
	if r.Text != "" {
		t.Fatalf("expected no text from an incomplete event, got %q", r.Text)
	}
	r = parser.Feed([]byte("tial\"}}]}\n\n"))
	if r.Text != "partial" {
		t.Fatalf("expected partial once the event completes, got %q", r.Text)
	}
}

func TestSSEParserIgnoresCommentLines(t *testing.T) {
	parser := NewSSEParser(ProviderOpenAI)
	r := parser.Feed([]byte(": keep-alive\n\n"))
	if r.Text != "" || r.IsComplete {
		t.Fatalf("expected comment-only event to be a no-op, got %+v", r)
	}
}

func TestSSEParserAnthropicContentBlockDelta(t *testing.T) {
	parser := NewSSEParser(ProviderAnthropic)
	event := []byte("data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n")
	r := parser.Feed(event)
	if r.Text != "hi" {
		t.Errorf("expected hi, got %q", r.Text)
	}
}

func TestSSEParserAnthropicIgnoresNonTextDeltaEvents(t *testing.T) {
	parser := NewSSEParser(ProviderAnthropic)
	event := []byte("data: {\"type\":\"message_start\"}\n\n")
	r := parser.Feed(event)
	if r.Text != "" {
		t.Errorf("expected no text from a non content_block_delta event, got %q", r.Text)
	}
}

func TestParseResponseContentOpenAI(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"content":"done"}}]}`)
	if got := ParseResponseContent(body, ProviderOpenAI); got != "done" {
		t.Errorf("expected done, got %q", got)
	}
}

func TestParseResponseContentAnthropicMultipleBlocks(t *testing.T) {
	body := []byte(`{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`)
	if got := ParseResponseContent(body, ProviderAnthropic); got != "ab" {
		t.Errorf("expected concatenated blocks, got %q", got)
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("sink down") }

func TestStreamingTeeForwardsToClientDespiteSinkFailure(t *testing.T) {
	var client bytes.Buffer
	tee := NewStreamingTee(&client, failingWriter{}, nil)

	n, err := tee.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error from a failing sink: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 bytes written, got %d", n)
	}
	if client.String() != "hello" {
		t.Errorf("expected client to receive the full payload, got %q", client.String())
	}
}

func TestStreamingTeeMirrorsToSink(t *testing.T) {
	var client, sink bytes.Buffer
	tee := NewStreamingTee(&client, &sink, nil)
	tee.Write([]byte("chunk"))
	if sink.String() != "chunk" {
		t.Errorf("expected sink to receive a mirrored copy, got %q", sink.String())
	}
}
