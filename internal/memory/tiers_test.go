package memory

import "testing"

func TestDecideMigrationHotToWarm(t *testing.T) {
	m := &TierManager{thresholds: DefaultTierThresholds()}
	r := &MemoryRecord{Tier: TierHot}
	target := m.decideMigration(r, 0.2, 5)
	if target != TierWarm {
		t.Errorf("expected demotion to warm, got %v", target)
	}
}

func TestDecideMigrationHotStaysWhenNotIdleEnough(t *testing.T) {
	m := &TierManager{thresholds: DefaultTierThresholds()}
	r := &MemoryRecord{Tier: TierHot}
	target := m.decideMigration(r, 0.2, 1)
	if target != "" {
		t.Errorf("expected no migration, got %v", target)
	}
}

func TestDecideMigrationWarmToHotPromotion(t *testing.T) {
	m := &TierManager{thresholds: DefaultTierThresholds()}
	r := &MemoryRecord{Tier: TierWarm}
	target := m.decideMigration(r, 0.9, 0.5)
	if target != TierHot {
		t.Errorf("expected promotion to hot, got %v", target)
	}
}

func TestDecideMigrationWarmToCold(t *testing.T) {
	m := &TierManager{thresholds: DefaultTierThresholds()}
	r := &MemoryRecord{Tier: TierWarm}
	target := m.decideMigration(r, 0.05, 20)
	if target != TierCold {
		t.Errorf("expected demotion to cold, got %v", target)
	}
}

func TestDecideMigrationColdToWarm(t *testing.T) {
	m := &TierManager{thresholds: DefaultTierThresholds()}
	r := &MemoryRecord{Tier: TierCold}
	target := m.decideMigration(r, 0.6, 0)
	if target != TierWarm {
		t.Errorf("expected promotion to warm, got %v", target)
	}
}

func TestDecideMigrationNeverJumpsHotToCold(t *testing.T) {
	m := &TierManager{thresholds: DefaultTierThresholds()}
	r := &MemoryRecord{Tier: TierHot}
	target := m.decideMigration(r, 0.0, 1000)
	if target == TierCold {
		t.Error("expected a hot record to stop at warm, never jump straight to cold")
	}
}

func TestTierColderOrdersHotWarmCold(t *testing.T) {
	if !tierColder(TierWarm, TierHot) {
		t.Error("expected warm to be colder than hot")
	}
	if !tierColder(TierCold, TierWarm) {
		t.Error("expected cold to be colder than warm")
	}
	if tierColder(TierHot, TierWarm) {
		t.Error("expected hot to not be colder than warm")
	}
}

func TestCanMigrateForbidsDirectHotColdTransitions(t *testing.T) {
	if CanMigrate(TierHot, TierCold) {
		t.Error("expected Hot->Cold to be forbidden")
	}
	if CanMigrate(TierCold, TierHot) {
		t.Error("expected Cold->Hot to be forbidden")
	}
	if !CanMigrate(TierHot, TierWarm) {
		t.Error("expected Hot->Warm to be legal")
	}
	if CanMigrate(TierHot, TierHot) {
		t.Error("expected a same-tier transition to be rejected")
	}
}
