package memory

import "time"

// MemoryFilter is a builder for the conjunctive scalar predicate every
// TieredStore backend translates into its own native query. Clauses AND
// together; an empty filter yields no restriction.
//
// session_filter carries tri-state semantics a plain boolean or pointer
// can't express on its own: unset means "no restriction", a set filter
// with a nil id means "globals only" (conversation_id IS NULL), and a set
// filter with a non-nil id means "this session's memories plus globals".
type MemoryFilter struct {
	memoryTypes    []MemoryType
	minWeight      *float64
	since          *time.Time
	conversationID *string

	sessionFilterSet bool
	sessionID        *string
}

// NewMemoryFilter returns an empty (unrestricted) filter.
func NewMemoryFilter() *MemoryFilter {
	return &MemoryFilter{}
}

// WithMemoryTypes restricts to records whose memory_type is one of types.
func (f *MemoryFilter) WithMemoryTypes(types ...MemoryType) *MemoryFilter {
	f.memoryTypes = types
	return f
}

// WithMinWeight requires weight >= w.
func (f *MemoryFilter) WithMinWeight(w float64) *MemoryFilter {
	f.minWeight = &w
	return f
}

// Since requires created_at >= t.
func (f *MemoryFilter) Since(t time.Time) *MemoryFilter {
	f.since = &t
	return f
}

// WithConversationID requires an exact conversation_id match.
func (f *MemoryFilter) WithConversationID(id string) *MemoryFilter {
	f.conversationID = &id
	return f
}

// WithSessionFilter sets the tri-state session scoping. Pass nil for
// "globals only"; pass a session id for "session plus globals".
func (f *MemoryFilter) WithSessionFilter(id *string) *MemoryFilter {
	f.sessionFilterSet = true
	f.sessionID = id
	return f
}

// IsEmpty reports whether no clause has been set.
func (f *MemoryFilter) IsEmpty() bool {
	return len(f.memoryTypes) == 0 &&
		f.minWeight == nil &&
		f.since == nil &&
		f.conversationID == nil &&
		!f.sessionFilterSet
}

// ToSQLClause renders the filter as a parameterized WHERE fragment (no
// leading "WHERE", no surrounding parens) plus its positional args, in the
// order clauses were evaluated. ok is false for an empty filter.
//
// Values are always bound as placeholders rather than interpolated into
// the SQL text, since every backing store here accepts parameterized
// queries and there is no reason to risk a SQL-injection footgun for none.
func (f *MemoryFilter) ToSQLClause() (clause string, args []any, ok bool) {
	if f.IsEmpty() {
		return "", nil, false
	}

	var parts []string

	if len(f.memoryTypes) > 0 {
		if len(f.memoryTypes) == 1 {
			parts = append(parts, "memory_type = ?")
			args = append(args, string(f.memoryTypes[0]))
		} else {
			placeholders := ""
			for i, t := range f.memoryTypes {
				if i > 0 {
					placeholders += ", "
				}
				placeholders += "?"
				args = append(args, string(t))
			}
			parts = append(parts, "memory_type IN ("+placeholders+")")
		}
	}

	if f.minWeight != nil {
		parts = append(parts, "weight >= ?")
		args = append(args, *f.minWeight)
	}

	if f.since != nil {
		parts = append(parts, "created_at >= ?")
		args = append(args, f.since.UnixMicro())
	}

	if f.conversationID != nil {
		parts = append(parts, "conversation_id = ?")
		args = append(args, *f.conversationID)
	}

	if f.sessionFilterSet {
		if f.sessionID == nil {
			parts = append(parts, "conversation_id IS NULL")
		} else {
			parts = append(parts, "(conversation_id = ? OR conversation_id IS NULL)")
			args = append(args, *f.sessionID)
		}
	}

	clause = parts[0]
	for _, p := range parts[1:] {
		clause += " AND " + p
	}
	return clause, args, true
}

// Matches evaluates the filter against a single record in-process. Used by
// the in-memory Hot tier and by backends (Warm/Cold) that fetch candidate
// rows with a cheaper index scan and then apply the remaining predicate in
// Go rather than pushing every clause into the storage engine's query
// language.
func (f *MemoryFilter) Matches(r *MemoryRecord) bool {
	if len(f.memoryTypes) > 0 {
		found := false
		for _, t := range f.memoryTypes {
			if r.MemoryType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.minWeight != nil && r.Weight < *f.minWeight {
		return false
	}

	if f.since != nil && r.CreatedAt.Before(*f.since) {
		return false
	}

	if f.conversationID != nil {
		if r.ConversationID == nil || *r.ConversationID != *f.conversationID {
			return false
		}
	}

	if f.sessionFilterSet {
		if f.sessionID == nil {
			if r.ConversationID != nil {
				return false
			}
		} else {
			if r.ConversationID != nil && *r.ConversationID != *f.sessionID {
				return false
			}
		}
	}

	return true
}
