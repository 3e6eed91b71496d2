package proxy

import (
	"testing"
	"time"

	"github.com/tessera-mem/tessera/internal/memory"
)

func TestConversationBufferRegistryReturnsSameBufferForSession(t *testing.T) {
	r := NewConversationBufferRegistry()
	a := r.Get("s1")
	a.Append(memory.RoleUser, "hi", time.Now().UTC())

	b := r.Get("s1")
	if len(b.Turns()) != 1 {
		t.Fatalf("expected the same buffer to be returned for repeated Get calls, got %d turns", len(b.Turns()))
	}
}

func TestConversationBufferRegistryIsolatesSessions(t *testing.T) {
	r := NewConversationBufferRegistry()
	r.Get("s1").Append(memory.RoleUser, "hi", time.Now().UTC())
	if len(r.Get("s2").Turns()) != 0 {
		t.Error("expected a different session to have its own empty buffer")
	}
}

func TestConversationBufferRegistryEvictsIdleSessions(t *testing.T) {
	r := NewConversationBufferRegistry()
	r.Get("s1")
	if r.ActiveSessions() != 1 {
		t.Fatalf("expected 1 active session, got %d", r.ActiveSessions())
	}

	evicted := r.EvictIdle(time.Now().UTC().Add(conversationBufferTTL + time.Minute))
	if evicted != 1 {
		t.Errorf("expected 1 eviction, got %d", evicted)
	}
	if r.ActiveSessions() != 0 {
		t.Errorf("expected 0 active sessions after eviction, got %d", r.ActiveSessions())
	}
}

func TestConversationBufferRegistryNeverEvictsGlobalBuffer(t *testing.T) {
	r := NewConversationBufferRegistry()
	r.Get("")
	evicted := r.EvictIdle(time.Now().UTC().Add(conversationBufferTTL + time.Minute))
	if evicted != 0 {
		t.Errorf("expected the global buffer to survive eviction sweeps, got %d evicted", evicted)
	}
}
