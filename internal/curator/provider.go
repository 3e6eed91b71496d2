package curator

import "context"

// Provider is the interface every curator backend (local, remote, hybrid)
// implements.
type Provider interface {
	Curate(ctx context.Context, conversation string) (*CurationResult, error)
	IsAvailable(ctx context.Context) bool
	Name() string
}
