package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/overstoryai/overstory/pkg/models"
)

// PastResolution is a prior resolution of a similar conflict, fed to
// the AI tier as few-shot context.
type PastResolution struct {
	Files      []string
	Tier       models.Tier
	Resolution string
}

// ConflictHistory is what the expertise service knows about a file-set
// conflict pattern.
type ConflictHistory struct {
	// SkipTiers lists tiers that have repeatedly failed on this
	// pattern. The resolver does not attempt them.
	SkipTiers []models.Tier
	// PastResolutions feed the AI tier as few-shot context.
	PastResolutions []PastResolution
	// PredictedConflictFiles are paths likely to conflict again.
	PredictedConflictFiles []string
}

// Outcome is the resolver's final result for a pattern, reported back
// to the expertise service.
type Outcome struct {
	Branch  string
	Files   []string
	Tier    models.Tier
	Success bool
}

// ExpertiseClient consults prior conflict patterns scoped to a file
// set. The service is external; the resolver tolerates a nil client
// and treats lookup errors as "no history".
type ExpertiseClient interface {
	// History returns what is known about the file-set pattern. A nil
	// history with nil error means the pattern is unknown.
	History(ctx context.Context, files []string) (*ConflictHistory, error)
	// RecordOutcome reports a pattern's final outcome.
	RecordOutcome(ctx context.Context, outcome Outcome) error
}

const (
	historyTTL   = 15 * time.Minute
	historySweep = 5 * time.Minute
)

// CachedExpertise memoizes History lookups by pattern key so repeated
// merges of the same file set skip the service round trip.
// RecordOutcome invalidates the pattern.
type CachedExpertise struct {
	inner ExpertiseClient
	cache *gocache.Cache
}

// NewCachedExpertise wraps inner with a TTL cache.
func NewCachedExpertise(inner ExpertiseClient) *CachedExpertise {
	return &CachedExpertise{inner: inner, cache: gocache.New(historyTTL, historySweep)}
}

// History returns the cached pattern history, consulting the inner
// client on a miss. Unknown patterns are cached too.
func (c *CachedExpertise) History(ctx context.Context, files []string) (*ConflictHistory, error) {
	key := PatternKey(files)
	if v, ok := c.cache.Get(key); ok {
		h, _ := v.(*ConflictHistory)
		return h, nil
	}
	h, err := c.inner.History(ctx, files)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, h, gocache.DefaultExpiration)
	return h, nil
}

// RecordOutcome forwards to the inner client and drops the cached
// pattern so the next lookup reflects the new outcome.
func (c *CachedExpertise) RecordOutcome(ctx context.Context, outcome Outcome) error {
	c.cache.Delete(PatternKey(outcome.Files))
	return c.inner.RecordOutcome(ctx, outcome)
}

// PatternKey identifies a file set independent of ordering.
func PatternKey(files []string) string {
	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// Verify CachedExpertise implements ExpertiseClient at compile time.
var _ ExpertiseClient = (*CachedExpertise)(nil)
