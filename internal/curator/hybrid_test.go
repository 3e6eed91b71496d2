package curator

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct {
	name      string
	available bool
	result    *CurationResult
	err       error
}

func (s *stubProvider) Name() string                        { return s.name }
func (s *stubProvider) IsAvailable(ctx context.Context) bool { return s.available }
func (s *stubProvider) Curate(ctx context.Context, conversation string) (*CurationResult, error) {
	return s.result, s.err
}

func TestHybridCuratorPrefersLocalWhenAvailable(t *testing.T) {
	local := &stubProvider{name: "local", available: true, result: &CurationResult{ShouldStore: true, Reasoning: "from local"}}
	remote := &stubProvider{name: "remote", available: true, result: &CurationResult{ShouldStore: true, Reasoning: "from remote"}}
	h := NewHybridCurator(local, remote)

	result, err := h.Curate(context.Background(), "conversation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reasoning != "from local" {
		t.Errorf("expected local result to win, got %q", result.Reasoning)
	}
}

func TestHybridCuratorFallsBackToRemoteOnLocalError(t *testing.T) {
	local := &stubProvider{name: "local", available: true, err: errors.New("local failed")}
	remote := &stubProvider{name: "remote", available: true, result: &CurationResult{ShouldStore: true, Reasoning: "from remote"}}
	h := NewHybridCurator(local, remote)

	result, err := h.Curate(context.Background(), "conversation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reasoning != "from remote" {
		t.Errorf("expected fallback to remote, got %q", result.Reasoning)
	}
}

func TestHybridCuratorSkipsUnavailableLocal(t *testing.T) {
	local := &stubProvider{name: "local", available: false}
	remote := &stubProvider{name: "remote", available: true, result: &CurationResult{ShouldStore: false, Reasoning: "from remote"}}
	h := NewHybridCurator(local, remote)

	result, err := h.Curate(context.Background(), "conversation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reasoning != "from remote" {
		t.Errorf("expected remote result when local unavailable, got %q", result.Reasoning)
	}
}

func TestHybridCuratorErrorsWhenNothingAvailable(t *testing.T) {
	local := &stubProvider{name: "local", available: false}
	remote := &stubProvider{name: "remote", available: false}
	h := NewHybridCurator(local, remote)

	if _, err := h.Curate(context.Background(), "conversation"); err == nil {
		t.Error("expected an error when no provider is available")
	}
}

func TestHybridCuratorIsAvailableReflectsEitherProvider(t *testing.T) {
	h := NewHybridCurator(&stubProvider{available: false}, &stubProvider{available: true})
	if !h.IsAvailable(context.Background()) {
		t.Error("expected IsAvailable to be true when remote is available")
	}
}
