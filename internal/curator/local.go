package curator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tessera-mem/tessera/internal/inference"
)

// localCuratorPriority is the Priority classify/extract requests are
// submitted with. The pool's queue is first-in first-out and does not order
// requests by Priority.
const localCuratorPriority = 0

// LocalCurator runs classification and extraction against a local Ollama
// model by submitting through an inference.Pool rather than calling the
// client directly, so curator inference competes for worker slots the same
// way any other CPU-bound inference work would instead of running inline on
// the ingestion goroutine.
type LocalCurator struct {
	pool *inference.Pool
}

// NewLocalCurator wraps an inference pool dedicated to curator work.
func NewLocalCurator(pool *inference.Pool) *LocalCurator {
	return &LocalCurator{pool: pool}
}

func (c *LocalCurator) Name() string { return "local" }

func (c *LocalCurator) IsAvailable(ctx context.Context) bool {
	_, err := c.pool.Client().ListModels(ctx)
	return err == nil
}

// Curate classifies then extracts, per the curator's two-prompt protocol.
func (c *LocalCurator) Curate(ctx context.Context, conversation string) (*CurationResult, error) {
	classifyResult, err := c.pool.SubmitSync(ctx, fmt.Sprintf(classificationPrompt, conversation), localCuratorPriority)
	if err != nil {
		return nil, &CuratorError{Provider: c.Name(), Kind: ErrKindAPI, Message: err.Error()}
	}

	shouldStore, reason := parseClassification(classifyResult.Response)
	if !shouldStore {
		return &CurationResult{ShouldStore: false, Reasoning: reason}, nil
	}

	extractResult, err := c.pool.SubmitSync(ctx, fmt.Sprintf(extractionPrompt, conversation), localCuratorPriority)
	if err != nil {
		return nil, &CuratorError{Provider: c.Name(), Kind: ErrKindAPI, Message: err.Error()}
	}

	memories, err := parseExtraction(extractResult.Response)
	if err != nil {
		return nil, &CuratorError{Provider: c.Name(), Kind: ErrKindParse, Message: err.Error()}
	}

	return &CurationResult{ShouldStore: len(memories) > 0, Memories: memories, Reasoning: reason}, nil
}

// parseClassification reads the model's YES/NO-plus-reason answer. Any
// response not beginning with YES (case-insensitively, after trimming) is
// treated as NO — a curator that garbles its own answer should not store.
func parseClassification(response string) (bool, string) {
	response = strings.TrimSpace(response)
	upper := strings.ToUpper(response)
	if strings.HasPrefix(upper, "YES") {
		return true, strings.TrimSpace(strings.TrimPrefix(response, response[:3]))
	}
	return false, response
}

// extractedFragment is the JSON shape the extraction prompt asks for.
type extractedFragment struct {
	Type       string   `json:"type"`
	Content    string   `json:"content"`
	Importance float64  `json:"importance"`
	Entities   []string `json:"entities"`
}

// parseExtraction tolerates surrounding prose by decoding the first JSON
// array in the response, starting at the first '[' and ignoring anything
// after that array ends.
func parseExtraction(response string) ([]CuratedMemory, error) {
	start := strings.IndexByte(response, '[')
	if start == -1 {
		return nil, fmt.Errorf("no JSON array found in extraction response")
	}

	var fragments []extractedFragment
	if err := json.NewDecoder(strings.NewReader(response[start:])).Decode(&fragments); err != nil {
		return nil, fmt.Errorf("parsing extraction JSON: %w", err)
	}

	out := make([]CuratedMemory, 0, len(fragments))
	for _, f := range fragments {
		out = append(out, fragmentToCuratedMemory(f))
	}
	return out, nil
}

func fragmentToCuratedMemory(f extractedFragment) CuratedMemory {
	return CuratedMemory{
		MemoryType: MemoryType(strings.ToLower(f.Type)),
		Content:    f.Content,
		Importance: f.Importance,
		Entities:   f.Entities,
	}
}
