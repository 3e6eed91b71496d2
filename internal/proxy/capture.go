package proxy

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/tessera-mem/tessera/internal/memory"
)

// TurnCapture is the best-effort sink end of a StreamingTee: it buffers the
// raw bytes of an in-flight response, and once the response completes, feeds
// the extracted assistant text into the conversation buffer and triggers the
// ingestion pipeline. Nothing here ever blocks the client write path; it
// runs after the tee has already forwarded bytes downstream.
type TurnCapture struct {
	provider       LLMProvider
	parser         *SSEParser
	raw            bytes.Buffer
	streaming      bool
	buffer         *memory.ConversationBuffer
	ingestion      *memory.IngestionPipeline
	conversationID *string
	logger         *slog.Logger
}

// NewTurnCapture constructs a capture sink for one request/response cycle.
// streaming selects between incremental SSE feeding and a single parse once
// Finish is called.
func NewTurnCapture(provider LLMProvider, streaming bool, buffer *memory.ConversationBuffer, ingestion *memory.IngestionPipeline, conversationID *string, logger *slog.Logger) *TurnCapture {
	if logger == nil {
		logger = slog.Default()
	}
	var parser *SSEParser
	if streaming {
		parser = NewSSEParser(provider.Kind())
	}
	return &TurnCapture{
		provider:       provider,
		parser:         parser,
		streaming:      streaming,
		buffer:         buffer,
		ingestion:      ingestion,
		conversationID: conversationID,
		logger:         logger,
	}
}

// Write implements io.Writer so a TurnCapture can be used directly as a
// StreamingTee sink. It never returns an error: a malformed chunk is simply
// not reflected in the extracted text.
func (c *TurnCapture) Write(p []byte) (int, error) {
	c.raw.Write(p)
	if c.streaming {
		c.provider.ParseSSEContent(c.parser, p)
	}
	return len(p), nil
}

// assistantText returns everything extracted from the response so far.
func (c *TurnCapture) assistantText() string {
	if c.streaming {
		return c.parser.Text()
	}
	return c.provider.ParseResponseContent(c.raw.Bytes())
}

// Finish records the completed turn pair into the conversation buffer and
// asks the ingestion pipeline to curate it. userQuery is the text extracted
// from the request before it was sent upstream. Ingestion runs inline here;
// callers that want it off the response path should invoke Finish from a
// detached goroutine, which is how ProxyServer uses it.
func (c *TurnCapture) Finish(ctx context.Context, userQuery string) {
	text := c.assistantText()
	if userQuery == "" && text == "" {
		return
	}

	if userQuery != "" {
		c.buffer.Append(memory.RoleUser, userQuery, time.Now().UTC())
	}
	if text == "" {
		return
	}

	c.ingestion.IngestTurn(ctx, c.buffer, memory.RoleAssistant, text, c.conversationID)
}
