// Package curator classifies and extracts memory-worthy fragments from
// conversation turns using an LLM, with a local/remote/hybrid fallback
// policy.
package curator

// MemoryType mirrors memory.MemoryType's values without depending on the
// memory package, so curator stays a leaf dependency ingestion can import
// without a cycle.
type MemoryType string

const (
	MemoryTypeEpisodic   MemoryType = "episodic"
	MemoryTypeSemantic   MemoryType = "semantic"
	MemoryTypeProcedural MemoryType = "procedural"
)

// CuratedMemory is one fact or fragment the curator decided is worth
// remembering.
type CuratedMemory struct {
	MemoryType     MemoryType
	Content        string
	Importance     float64
	Entities       []string
	SupersedesHint string // optional: id of a prior memory this supersedes
}

// CurationResult is the curator's verdict on a conversation window.
type CurationResult struct {
	ShouldStore bool
	Memories    []CuratedMemory
	Reasoning   string
}

// ErrorKind classifies a CuratorError, mirroring the taxonomy
// internal/merr's curator sub-errors wrap.
type ErrorKind string

const (
	ErrKindParse  ErrorKind = "parse_error"
	ErrKindAPI    ErrorKind = "api_error"
	ErrKindConfig ErrorKind = "config_error"
)

// CuratorError carries which provider failed and why, so HybridCurator can
// decide whether to fall through to the next provider.
type CuratorError struct {
	Provider string
	Kind     ErrorKind
	Message  string
}

func (e *CuratorError) Error() string {
	return e.Provider + ": " + string(e.Kind) + ": " + e.Message
}
