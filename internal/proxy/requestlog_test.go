package proxy

import (
	"context"
	"path/filepath"
	"testing"
)

func TestRequestLogIncrementsMonotonically(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "requests.db")
	rl, err := NewRequestLog(dbPath)
	if err != nil {
		t.Fatalf("unexpected error opening request log: %v", err)
	}
	defer rl.Close()

	ctx := context.Background()
	for i := uint64(1); i <= 3; i++ {
		got, err := rl.Increment(ctx)
		if err != nil {
			t.Fatalf("unexpected error incrementing: %v", err)
		}
		if got != i {
			t.Errorf("expected total %d, got %d", i, got)
		}
	}

	total, err := rl.Total(ctx)
	if err != nil {
		t.Fatalf("unexpected error reading total: %v", err)
	}
	if total != 3 {
		t.Errorf("expected total 3, got %d", total)
	}
}

func TestRequestLogStartsAtZero(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "requests.db")
	rl, err := NewRequestLog(dbPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rl.Close()

	total, err := rl.Total(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 {
		t.Errorf("expected fresh request log to start at 0, got %d", total)
	}
}

func TestRequestLogPersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "requests.db")
	rl, err := NewRequestLog(dbPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rl.Increment(context.Background())
	rl.Increment(context.Background())
	rl.Close()

	reopened, err := NewRequestLog(dbPath)
	if err != nil {
		t.Fatalf("unexpected error reopening: %v", err)
	}
	defer reopened.Close()

	total, err := reopened.Total(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 {
		t.Errorf("expected persisted total 2, got %d", total)
	}
}
