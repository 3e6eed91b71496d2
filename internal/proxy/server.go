package proxy

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tessera-mem/tessera/internal/config"
	"github.com/tessera-mem/tessera/internal/memory"
)

// retrievalBudget bounds how long a single request waits on RetrievalPipeline
// before proceeding with zero injected memories.
const retrievalBudget = 500 * time.Millisecond

// ProxyServer is the ingress HTTP handler: it runs retrieval, injection,
// the upstream round trip, the streaming tee, and triggers ingestion, all
// per incoming request. It never fails a request because memory or
// ingestion work failed; only a broken upstream round trip surfaces to the
// client.
type ProxyServer struct {
	cfg         config.ProxyConfig
	upstream    *http.Client
	retrieval   *memory.RetrievalPipeline
	ingestion   *memory.IngestionPipeline
	buffers     *ConversationBufferRegistry
	events      *EventBroadcaster
	requestLog  *RequestLog
	maxMemories int
	logger      *slog.Logger
}

// NewProxyServer wires a ProxyServer from its collaborators. maxMemories
// caps how many memories RetrievalPipeline may return per request (the
// router's max_memories setting).
func NewProxyServer(cfg config.ProxyConfig, retrieval *memory.RetrievalPipeline, ingestion *memory.IngestionPipeline, buffers *ConversationBufferRegistry, events *EventBroadcaster, requestLog *RequestLog, maxMemories int, logger *slog.Logger) *ProxyServer {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ProxyServer{
		cfg:         cfg,
		upstream:    &http.Client{Timeout: timeout},
		retrieval:   retrieval,
		ingestion:   ingestion,
		buffers:     buffers,
		events:      events,
		requestLog:  requestLog,
		maxMemories: maxMemories,
		logger:      logger,
	}
}

// hopByHopHeaders are stripped before forwarding, per RFC 7230 §6.1; they
// describe this connection, not the one to the upstream.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade", "Host",
}

func (s *ProxyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	sessionID := SessionIDFromHeader(r.Header.Get("X-Session-Id"))
	detected := DetectProvider(s.cfg.UpstreamURL, r.Header, body)
	impl := ForProvider(detected)

	s.events.Publish(NewRequestStartedEvent(requestID, r.Method, r.URL.Path, detected.String()))

	// An unrecognized provider passes through untouched: no injection, since
	// there is no known prompt shape to splice a memory block into.
	injectedBody := body
	if detected != ProviderUnknown {
		injectedBody, _ = s.injectMemories(r.Context(), impl, body, sessionID, requestID)
	}

	upstreamReq, err := s.buildUpstreamRequest(r, injectedBody)
	if err != nil {
		http.Error(w, "failed to build upstream request", http.StatusInternalServerError)
		return
	}

	resp, err := s.upstream.Do(upstreamReq)
	if err != nil {
		s.logger.Warn("upstream request failed", "error", err, "request_id", requestID)
		http.Error(w, "upstream request failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	streaming := isStreamingResponse(resp.Header)
	capture := NewTurnCapture(impl, streaming, s.buffers.Get(sessionID), s.ingestion, conversationIDPtr(sessionID), s.logger)
	tee := NewStreamingTee(w, capture, s.logger)

	written, copyErr := io.Copy(tee, resp.Body)
	if copyErr != nil {
		s.logger.Warn("error copying upstream response to client", "error", copyErr, "request_id", requestID)
	}

	userQuery := impl.ExtractUserQuery(body)
	go capture.Finish(context.Background(), userQuery)

	if s.requestLog != nil {
		if _, err := s.requestLog.Increment(context.Background()); err != nil {
			s.logger.Warn("failed to increment request counter", "error", err)
		}
	}

	s.events.Publish(NewRequestCompletedEvent(requestID, resp.StatusCode, time.Since(start), &written))
}

// injectMemories runs retrieval under its own bounded deadline and splices
// the result into the request body. Any failure (embedding, storage,
// deadline) degrades to "send the original body unchanged" rather than
// failing the request.
func (s *ProxyServer) injectMemories(parent context.Context, impl LLMProvider, body []byte, sessionID, requestID string) ([]byte, []*memory.MemoryRecord) {
	if s.retrieval == nil {
		return body, nil
	}

	userQuery := impl.ExtractUserQuery(body)
	if userQuery == "" {
		return body, nil
	}

	ctx, cancel := context.WithTimeout(parent, retrievalBudget)
	defer cancel()

	memories, err := s.retrieval.Retrieve(ctx, userQuery, sessionID, s.maxMemories)
	if err != nil {
		s.logger.Warn("retrieval failed, proceeding without injected memories", "error", err, "request_id", requestID)
		return body, nil
	}
	if len(memories) == 0 {
		return body, nil
	}

	injected, err := impl.InjectMemories(body, memories, s.cfg.MaxInjectionTokens)
	if err != nil {
		s.logger.Warn("injection failed, forwarding original request body", "error", err, "request_id", requestID)
		return body, nil
	}

	ids := make([]string, len(memories))
	for i, m := range memories {
		ids[i] = m.ID
	}
	s.events.Publish(NewMemoriesInjectedEvent(requestID, ids))

	return injected, memories
}

func (s *ProxyServer) buildUpstreamRequest(r *http.Request, body []byte) (*http.Request, error) {
	target := strings.TrimSuffix(s.cfg.UpstreamURL, "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	for key, values := range r.Header {
		if isHopByHop(key) {
			continue
		}
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.ContentLength = int64(len(body))
	return req, nil
}

func isHopByHop(header string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHop(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isStreamingResponse(h http.Header) bool {
	return strings.Contains(strings.ToLower(h.Get("Content-Type")), "text/event-stream")
}

func conversationIDPtr(sessionID string) *string {
	if sessionID == "" {
		return nil
	}
	return &sessionID
}

// newRequestID generates a short, sufficiently-unique id for correlating a
// request's admin events without pulling in a UUID dependency for a
// purely-internal, non-persisted identifier.
func newRequestID() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	now := time.Now()
	seed := uint64(now.UnixNano())
	for i := range b {
		seed = seed*6364136223846793005 + 1442695040888963407
		b[i] = alphabet[(seed>>33)%uint64(len(alphabet))]
	}
	return string(b)
}
