package resolver

import (
	"context"
	"sync"
	"testing"

	"github.com/overstoryai/overstory/pkg/models"
)

// countingExpertise serves a fixed history and counts calls. Outcome
// recording arrives on a resolver goroutine, so access is guarded.
type countingExpertise struct {
	mu           sync.Mutex
	history      *ConflictHistory
	historyCalls int
	outcomes     []Outcome
}

func (c *countingExpertise) History(ctx context.Context, files []string) (*ConflictHistory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.historyCalls++
	return c.history, nil
}

func (c *countingExpertise) RecordOutcome(ctx context.Context, outcome Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcome)
	return nil
}

func (c *countingExpertise) recorded() []Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Outcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}

func TestPatternKey(t *testing.T) {
	a := PatternKey([]string{"x.go", "y.go"})
	b := PatternKey([]string{"y.go", "x.go"})
	if a != b {
		t.Error("pattern key should be order-insensitive")
	}
	if PatternKey([]string{"x.go"}) == a {
		t.Error("different file sets should produce different keys")
	}
}

func TestCachedExpertise(t *testing.T) {
	inner := &countingExpertise{
		history: &ConflictHistory{SkipTiers: []models.Tier{models.TierAutoResolve}},
	}
	cached := NewCachedExpertise(inner)
	files := []string{"a.go", "b.go"}

	for i := 0; i < 3; i++ {
		h, err := cached.History(context.Background(), files)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if h == nil || len(h.SkipTiers) != 1 {
			t.Fatalf("History() = %+v, want one skip tier", h)
		}
	}
	if inner.historyCalls != 1 {
		t.Errorf("inner called %d times, want 1 (cached)", inner.historyCalls)
	}

	// Recording an outcome invalidates the pattern.
	if err := cached.RecordOutcome(context.Background(), Outcome{Files: files, Tier: models.TierAIResolve, Success: true}); err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}
	if _, err := cached.History(context.Background(), files); err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if inner.historyCalls != 2 {
		t.Errorf("inner called %d times after invalidation, want 2", inner.historyCalls)
	}
}

func TestCachedExpertise_CachesUnknownPatterns(t *testing.T) {
	inner := &countingExpertise{history: nil}
	cached := NewCachedExpertise(inner)
	files := []string{"unknown.go"}

	for i := 0; i < 2; i++ {
		h, err := cached.History(context.Background(), files)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if h != nil {
			t.Fatalf("History() = %+v, want nil", h)
		}
	}
	if inner.historyCalls != 1 {
		t.Errorf("inner called %d times, want 1 (miss cached)", inner.historyCalls)
	}
}
