package memory

import (
	"math"
	"time"
)

// WeightConfig tunes the half-lives used by CalculateEffectiveWeight.
type WeightConfig struct {
	HotHalfLifeDays  float64
	WarmHalfLifeDays float64
	ColdHalfLifeDays float64
}

// DefaultWeightConfig returns the default half-lives: Hot=7d, Warm=30d,
// Cold=180d.
func DefaultWeightConfig() WeightConfig {
	return WeightConfig{
		HotHalfLifeDays:  7,
		WarmHalfLifeDays: 30,
		ColdHalfLifeDays: 180,
	}
}

func (c WeightConfig) halfLifeFor(tier StorageTier) float64 {
	switch tier {
	case TierWarm:
		return c.WarmHalfLifeDays
	case TierCold:
		return c.ColdHalfLifeDays
	default:
		return c.HotHalfLifeDays
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func typePrior(t MemoryType) float64 {
	switch t {
	case MemoryTypeSemantic:
		return 0.8
	case MemoryTypeProcedural:
		return 0.7
	default: // Episodic
		return 0.5
	}
}

func sourcePrior(s MemorySource) float64 {
	switch s {
	case SourceManual:
		return 1.0
	case SourceFile:
		return 0.8
	case SourceConversation:
		return 0.6
	default: // Web
		return 0.4
	}
}

// CalculateInitialWeight computes the initial weight w0:
//
//	w0 = clamp(0.3*importance + 0.2*type_prior + 0.2*source_prior + 0.3*length_bonus, 0, 1)
func CalculateInitialWeight(importance float64, memType MemoryType, source MemorySource, contentLength int) float64 {
	importance = clamp01(importance)
	lengthBonus := float64(contentLength) / 500.0
	if lengthBonus > 1.0 {
		lengthBonus = 1.0
	}

	w := 0.3*importance + 0.2*typePrior(memType) + 0.2*sourcePrior(source) + 0.3*lengthBonus
	return clamp01(w)
}

// CalculateEffectiveWeight computes the effective weight w_eff at query
// or sweep time:
//
//	w_eff = w * decay(age) * usage_boost(access_count, last_accessed)
//	decay(age_days) = exp(-age_days / half_life_days)
//	usage_boost = min(1 + log10(1+access_count), 2.0) * exp(-days_since_access/14)
//
// now is passed explicitly so callers (and tests) can evaluate at a fixed
// instant rather than wall-clock time.
func CalculateEffectiveWeight(cfg WeightConfig, r *MemoryRecord, now time.Time) float64 {
	ageDays := now.Sub(r.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	halfLife := cfg.halfLifeFor(r.Tier)
	decay := math.Exp(-ageDays / halfLife)

	daysSinceAccess := now.Sub(r.LastAccessed).Hours() / 24
	if daysSinceAccess < 0 {
		daysSinceAccess = 0
	}

	usageBoost := 1 + math.Log10(1+float64(r.AccessCount))
	if usageBoost > 2.0 {
		usageBoost = 2.0
	}
	usageBoost *= math.Exp(-daysSinceAccess / 14)

	return r.Weight * decay * usageBoost
}

// DaysSinceAccess is a small helper TierManager and the Compactor both need
// for their idleness thresholds.
func DaysSinceAccess(r *MemoryRecord, now time.Time) float64 {
	d := now.Sub(r.LastAccessed).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}
