package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tessera-mem/tessera/internal/config"
	"github.com/tessera-mem/tessera/internal/memory"
)

func newTestProxyServer(t *testing.T, upstreamURL string) *ProxyServer {
	t.Helper()
	cfg := config.ProxyConfig{
		UpstreamURL:        upstreamURL,
		TimeoutSecs:        5,
		MaxInjectionTokens: 1000,
	}
	ingestion := memory.NewIngestionPipeline(nil, stubCurator{}, nil, nil, nil)
	return NewProxyServer(cfg, nil, ingestion, NewConversationBufferRegistry(), NewEventBroadcaster(), nil, 5, nil)
}

func TestProxyServerForwardsRequestAndResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("expected path to be forwarded unchanged, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hi there"}}]}`))
	}))
	defer upstream.Close()

	server := newTestProxyServer(t, upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Body = io.NopCloser(strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()

	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != `{"choices":[{"message":{"content":"hi there"}}]}` {
		t.Errorf("expected upstream body passed through unchanged, got %s", rec.Body.String())
	}
}

func TestProxyServerReturns502OnUpstreamFailure(t *testing.T) {
	server := newTestProxyServer(t, "http://127.0.0.1:1")

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Body = io.NopCloser(strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()

	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on unreachable upstream, got %d", rec.Code)
	}
}

func TestProxyServerStripsHopByHopHeaders(t *testing.T) {
	var gotConnection string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConnection = r.Header.Get("Connection")
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	server := newTestProxyServer(t, upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Connection", "keep-alive")
	req.Body = io.NopCloser(strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()

	server.ServeHTTP(rec, req)

	if gotConnection != "" {
		t.Errorf("expected Connection header to be stripped, upstream saw %q", gotConnection)
	}
}
