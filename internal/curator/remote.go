package curator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteCurator sends the whole conversation window to an external HTTP
// endpoint in one call (POST <api_url>/curate with a bearer key) and takes
// back its should_store/memories/reasoning answer; LocalCurator's
// classification and extraction prompts are not used. Calls are rate-limited
// by RateLimiter so a misbehaving remote provider can't be hammered.
type RemoteCurator struct {
	apiURL     string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *RateLimiter
}

// RemoteCuratorConfig configures a RemoteCurator.
type RemoteCuratorConfig struct {
	APIURL        string
	APIKey        string
	Model         string
	TimeoutSecs   int
	RatePerSecond float64
	Burst         int
}

// NewRemoteCurator builds a RemoteCurator from cfg.
func NewRemoteCurator(cfg RemoteCuratorConfig) *RemoteCurator {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RemoteCurator{
		apiURL:     cfg.APIURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    NewRateLimiter(rps, burst),
	}
}

func (c *RemoteCurator) Name() string { return "remote" }

func (c *RemoteCurator) IsAvailable(ctx context.Context) bool {
	return c.apiURL != "" && c.apiKey != ""
}

type remoteCurateRequest struct {
	Model        string `json:"model"`
	Conversation string `json:"conversation"`
}

type remoteCurateResponse struct {
	ShouldStore bool                `json:"should_store"`
	Memories    []extractedFragment `json:"memories"`
	Reasoning   string              `json:"reasoning"`
}

// Curate posts the conversation window to the remote endpoint and expects
// back the same should_store/memories/reasoning shape CurationResult holds.
func (c *RemoteCurator) Curate(ctx context.Context, conversation string) (*CurationResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &CuratorError{Provider: c.Name(), Kind: ErrKindAPI, Message: err.Error()}
	}

	body, err := json.Marshal(remoteCurateRequest{Model: c.model, Conversation: conversation})
	if err != nil {
		return nil, &CuratorError{Provider: c.Name(), Kind: ErrKindAPI, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/curate", bytes.NewReader(body))
	if err != nil {
		return nil, &CuratorError{Provider: c.Name(), Kind: ErrKindAPI, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &CuratorError{Provider: c.Name(), Kind: ErrKindAPI, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, &CuratorError{Provider: c.Name(), Kind: ErrKindAPI, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, string(b))}
	}

	var parsed remoteCurateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &CuratorError{Provider: c.Name(), Kind: ErrKindParse, Message: err.Error()}
	}

	memories := make([]CuratedMemory, 0, len(parsed.Memories))
	for _, f := range parsed.Memories {
		memories = append(memories, fragmentToCuratedMemory(f))
	}

	return &CurationResult{ShouldStore: parsed.ShouldStore, Memories: memories, Reasoning: parsed.Reasoning}, nil
}
