package curator

import "context"

// HybridCurator tries the local provider first, falling back to remote on
// any error or unavailability. A successful result is never retried against
// the other provider.
type HybridCurator struct {
	local  Provider
	remote Provider
}

// NewHybridCurator composes local and remote into a fallback chain. Either
// may be nil, in which case it is skipped.
func NewHybridCurator(local, remote Provider) *HybridCurator {
	return &HybridCurator{local: local, remote: remote}
}

func (h *HybridCurator) Name() string { return "hybrid" }

func (h *HybridCurator) IsAvailable(ctx context.Context) bool {
	return (h.local != nil && h.local.IsAvailable(ctx)) || (h.remote != nil && h.remote.IsAvailable(ctx))
}

func (h *HybridCurator) Curate(ctx context.Context, conversation string) (*CurationResult, error) {
	var lastErr error

	if h.local != nil && h.local.IsAvailable(ctx) {
		result, err := h.local.Curate(ctx, conversation)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	if h.remote != nil && h.remote.IsAvailable(ctx) {
		result, err := h.remote.Curate(ctx, conversation)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &CuratorError{Provider: h.Name(), Kind: ErrKindConfig, Message: "no curator providers available"}
}
