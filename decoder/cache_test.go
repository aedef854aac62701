package decoder

import "testing"

func TestCacheManagerAllocateFree(t *testing.T) {
	c := NewCacheManager(4)

	blocks, err := c.Allocate(1, 2)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("want 2 blocks, got %d", len(blocks))
	}
	if got := c.FreeCount(); got != 2 {
		t.Fatalf("FreeCount = %d, want 2", got)
	}
	if got := c.BlockUsedRatio(); got != 0.5 {
		t.Fatalf("BlockUsedRatio = %v, want 0.5", got)
	}

	c.Free(1)
	if got := c.FreeCount(); got != 4 {
		t.Fatalf("FreeCount after Free = %d, want 4", got)
	}
}

func TestCacheManagerAllocateAllOrNothing(t *testing.T) {
	c := NewCacheManager(2)

	if _, err := c.Allocate(1, 3); err == nil {
		t.Fatal("expected OOM error requesting more blocks than exist")
	}
	if got := c.FreeCount(); got != 2 {
		t.Fatalf("failed allocation must not partially consume the pool, FreeCount = %d", got)
	}
}

func TestCacheManagerBlocksOf(t *testing.T) {
	c := NewCacheManager(4)
	first, _ := c.Allocate(7, 2)
	second, _ := c.Allocate(7, 1)

	got := c.BlocksOf(7)
	if len(got) != 3 {
		t.Fatalf("BlocksOf = %v, want 3 entries", got)
	}
	_ = first
	_ = second
}

func TestSelectEvictionVictimPrefersHighestID(t *testing.T) {
	victim, ok := SelectEvictionVictim([]uint64{3, 9, 1, 5})
	if !ok {
		t.Fatal("expected a victim")
	}
	if victim != 9 {
		t.Fatalf("victim = %d, want 9 (highest/most recently admitted)", victim)
	}
}

func TestSelectEvictionVictimEmpty(t *testing.T) {
	if _, ok := SelectEvictionVictim(nil); ok {
		t.Fatal("expected no victim from an empty running set")
	}
}
