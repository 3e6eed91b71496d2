package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tessera-mem/tessera/internal/merr"
)

// compactionHighWeightCutoff is the w_eff floor above which a record is left
// untouched by a sweep regardless of idleness.
const compactionHighWeightCutoff = 0.8

// compactionWeightThreshold is the w_eff ceiling a candidate must fall below
// to be selected for the next compression step.
const compactionWeightThreshold = 0.3

// compactionIdleThresholdDays is the minimum days-since-access a candidate
// must show before it is eligible for the next compression step.
const compactionIdleThresholdDays = 7

// Compactor progressively shrinks a record's stored content as its weight
// decays and it goes unused: Full -> Summary -> Keywords -> Hash. Each step
// is a pure function of the previous content, never the original, so
// repeated compaction never regresses or reprocesses already-summarized
// text.
type Compactor struct {
	store     *TieredStore
	weightCfg WeightConfig
	logger    *slog.Logger
}

// NewCompactor constructs a Compactor over store.
func NewCompactor(store *TieredStore, weightCfg WeightConfig, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{store: store, weightCfg: weightCfg, logger: logger}
}

// nextLevelFor returns the single next compression step after current.
// Hash is terminal; progression never skips a step and never regresses.
func nextLevelFor(current CompressionLevel) CompressionLevel {
	switch current {
	case CompressionFull:
		return CompressionSummary
	case CompressionSummary:
		return CompressionKeywords
	default:
		return CompressionHash
	}
}

// CompactionResult tallies what a single Compact call did, split by the
// reason a candidate was left untouched so the sweep loop's metrics can
// distinguish "too important to touch" from "already maximally shrunk".
type CompactionResult struct {
	Scanned           int
	Compacted         int
	SkippedHighWeight int
	AlreadyCompressed int
}

// Compact walks tier, selecting records whose w_eff has fallen below
// compactionWeightThreshold and that have gone unaccessed for at least
// compactionIdleThresholdDays, and advances each by exactly one
// compression step. Records at or above compactionHighWeightCutoff are
// skipped regardless of idleness; tombstoned ids are never touched.
func (c *Compactor) Compact(ctx context.Context, tier StorageTier, now time.Time) (CompactionResult, error) {
	var result CompactionResult

	records, err := c.store.ListByTier(ctx, tier)
	if err != nil {
		return result, fmt.Errorf("%w: listing %s tier: %v", merr.Memory, tier, err)
	}

	for _, r := range records {
		result.Scanned++

		if r.Compression == CompressionHash {
			result.AlreadyCompressed++
			continue
		}

		wEff := CalculateEffectiveWeight(c.weightCfg, r, now)
		if wEff >= compactionHighWeightCutoff {
			result.SkippedHighWeight++
			continue
		}
		if wEff >= compactionWeightThreshold {
			continue
		}
		if DaysSinceAccess(r, now) < compactionIdleThresholdDays {
			continue
		}

		if dead, err := c.store.HasTombstone(ctx, r.ID); err != nil || dead {
			if err != nil {
				c.logger.Warn("tombstone lookup failed during compaction", "id", r.ID, "error", err)
			}
			continue
		}

		target := nextLevelFor(r.Compression)
		compressed := compress(r.Content, r.Entities, target)
		id := r.ID
		err := c.store.UpdateFields(ctx, tier, id, func(rec *MemoryRecord) {
			rec.Content = compressed
			rec.AdvanceCompression(target)
		})
		if err != nil {
			c.logger.Warn("compaction failed", "id", id, "target", target, "error", err)
			continue
		}
		result.Compacted++
		c.logger.Debug("compacted record", "id", id, "from", r.Compression, "to", target, "w_eff", wEff)
	}

	return result, nil
}

// compress renders content at the requested compression level, using the
// record's curator-extracted entities where the level calls for them.
func compress(content string, entities []string, level CompressionLevel) string {
	switch level {
	case CompressionSummary:
		return summarize(content, entities, 200)
	case CompressionKeywords:
		return keywordString(entities, 100)
	case CompressionHash:
		return contentHash(content)
	default:
		return content
	}
}

// summarize keeps the first sentence plus any sentence mentioning one of
// entities, capped at maxChars.
func summarize(content string, entities []string, maxChars int) string {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return truncateChars(content, maxChars)
	}

	kept := []string{sentences[0]}
	for _, s := range sentences[1:] {
		if sentenceMentionsAny(s, entities) {
			kept = append(kept, s)
		}
	}

	summary := strings.Join(kept, " ")
	return truncateChars(summary, maxChars)
}

// splitSentences does a simple split on '.', '!', and '?' boundaries,
// trimming whitespace and dropping empty fragments.
func splitSentences(content string) []string {
	pieces := strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	out := make([]string, 0, len(pieces))
	for _, p := range pieces {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sentenceMentionsAny(sentence string, entities []string) bool {
	lower := strings.ToLower(sentence)
	for _, e := range entities {
		if e == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(e)) {
			return true
		}
	}
	return false
}

func truncateChars(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

// keywordString joins entities with "; ", capped at maxChars. A record with
// no curator-extracted entities renders as the empty string, which the Hash
// step later replaces with the content digest anyway.
func keywordString(entities []string, maxChars int) string {
	joined := strings.Join(entities, "; ")
	return truncateChars(joined, maxChars)
}

// contentHash renders a 16-hex-character content hash, truncating a sha256
// digest rather than using a 16-bit hash function so collisions stay
// astronomically unlikely despite the short rendered form.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}
