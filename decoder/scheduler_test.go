package decoder

import (
	"context"
	"testing"
)

func testConfig() Config {
	return Config{
		MaxSeqLen:        64,
		MaxBatchSize:     4,
		MaxPrefillTokens: 256,
		BlockSize:        4,
		NumCacheBlocks:   8,
		TPSize:           1,
		TPRank:           0,
	}
}

func newTestScheduler(cfg Config) (*Scheduler, *CacheManager, *generationNotifier) {
	notifier := newGenerationNotifier()
	cache := NewCacheManager(cfg.NumCacheBlocks)
	return NewScheduler(cfg, cache, notifier), cache, notifier
}

func TestSchedulerAdmitsFIFO(t *testing.T) {
	cfg := testConfig()
	sched, _, notifier := newTestScheduler(cfg)

	a := newGenerateStream(1, GenerateInput{PromptTokenIDs: []int32{1, 2}, Config: GenerateConfig{MaxNewTokens: 4}}, notifier)
	b := newGenerateStream(2, GenerateInput{PromptTokenIDs: []int32{1, 2}, Config: GenerateConfig{MaxNewTokens: 4}}, notifier)
	sched.Enqueue(a)
	sched.Enqueue(b)

	bq := sched.Schedule()
	if bq == nil {
		t.Fatal("expected a batch")
	}
	if bq.Size() != 2 {
		t.Fatalf("batch size = %d, want 2", bq.Size())
	}
	if sched.RunningBatchSize() != 2 {
		t.Fatalf("running = %d, want 2", sched.RunningBatchSize())
	}
	if sched.WaitStreamSize() != 0 {
		t.Fatalf("wait queue = %d, want 0", sched.WaitStreamSize())
	}
}

func TestSchedulerRespectsMaxBatchSize(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 1
	sched, _, notifier := newTestScheduler(cfg)

	a := newGenerateStream(1, GenerateInput{PromptTokenIDs: []int32{1}, Config: GenerateConfig{MaxNewTokens: 4}}, notifier)
	b := newGenerateStream(2, GenerateInput{PromptTokenIDs: []int32{1}, Config: GenerateConfig{MaxNewTokens: 4}}, notifier)
	sched.Enqueue(a)
	sched.Enqueue(b)

	bq := sched.Schedule()
	if bq.Size() != 1 {
		t.Fatalf("batch size = %d, want 1 (MaxBatchSize=1)", bq.Size())
	}
	if sched.WaitStreamSize() != 1 {
		t.Fatalf("wait queue = %d, want 1", sched.WaitStreamSize())
	}
}

func TestSchedulerStopsAtOOMWithoutSkippingAhead(t *testing.T) {
	cfg := testConfig()
	cfg.NumCacheBlocks = 1 // one block total, BlockSize=4 -> blocksNeeded(20 prompt tokens)=5, impossible to ever admit
	sched, _, notifier := newTestScheduler(cfg)

	huge := newGenerateStream(1, GenerateInput{PromptTokenIDs: make([]int32, 20), Config: GenerateConfig{MaxNewTokens: 4}}, notifier)
	small := newGenerateStream(2, GenerateInput{PromptTokenIDs: []int32{1}, Config: GenerateConfig{MaxNewTokens: 4}}, notifier)
	sched.Enqueue(huge)
	sched.Enqueue(small)

	bq := sched.Schedule()
	if bq != nil {
		t.Fatalf("expected no batch: head of queue can never be admitted and FIFO forbids skipping it, got size %d", bq.Size())
	}
	if sched.WaitStreamSize() != 2 {
		t.Fatalf("wait queue = %d, want 2 (nothing admitted)", sched.WaitStreamSize())
	}
}

func TestSchedulerUpdateBatchQueryFinishesOnStopToken(t *testing.T) {
	cfg := testConfig()
	sched, _, notifier := newTestScheduler(cfg)

	stream := newGenerateStream(1, GenerateInput{
		PromptTokenIDs: []int32{1, 2},
		Config:         GenerateConfig{MaxNewTokens: 10, StopTokenIDs: map[int32]struct{}{99: {}}},
	}, notifier)
	sched.Enqueue(stream)

	bq := sched.Schedule()
	bq.NextTokenIDs = []int32{99}
	sched.UpdateBatchQuery(bq)

	if stream.Status() != StatusFinishedEOS {
		t.Fatalf("Status = %v, want FINISHED_EOS", stream.Status())
	}
}

func TestSchedulerUpdateBatchQueryFinishesAtMaxNewTokens(t *testing.T) {
	cfg := testConfig()
	sched, _, notifier := newTestScheduler(cfg)

	stream := newGenerateStream(1, GenerateInput{
		PromptTokenIDs: []int32{1, 2},
		Config:         GenerateConfig{MaxNewTokens: 1},
	}, notifier)
	sched.Enqueue(stream)

	bq := sched.Schedule()
	bq.NextTokenIDs = []int32{5}
	sched.UpdateBatchQuery(bq)

	if stream.Status() != StatusFinishedLength {
		t.Fatalf("Status = %v, want FINISHED_LENGTH", stream.Status())
	}
}

func TestSchedulerRespectsMaxPrefillTokensBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPrefillTokens = 5
	sched, _, notifier := newTestScheduler(cfg)

	a := newGenerateStream(1, GenerateInput{PromptTokenIDs: make([]int32, 4), Config: GenerateConfig{MaxNewTokens: 4}}, notifier)
	b := newGenerateStream(2, GenerateInput{PromptTokenIDs: make([]int32, 4), Config: GenerateConfig{MaxNewTokens: 4}}, notifier)
	sched.Enqueue(a)
	sched.Enqueue(b)

	bq := sched.Schedule()
	if bq.Size() != 1 {
		t.Fatalf("batch size = %d, want 1 (second stream's prompt would exceed MaxPrefillTokens=5)", bq.Size())
	}
	if sched.WaitStreamSize() != 1 {
		t.Fatalf("wait queue = %d, want 1", sched.WaitStreamSize())
	}
}

// TestSchedulerAdmissionDoesNotEvictRunningStreams verifies the cache-exactly-
// full boundary: a new arrival with no free blocks stays QUEUED across
// repeated scheduling passes rather than evicting an already-running stream
// to seat it.
func TestSchedulerAdmissionDoesNotEvictRunningStreams(t *testing.T) {
	cfg := testConfig()
	cfg.BlockSize = 1
	cfg.NumCacheBlocks = 2
	sched, cache, notifier := newTestScheduler(cfg)

	r1 := newGenerateStream(1, GenerateInput{PromptTokenIDs: []int32{1}, Config: GenerateConfig{MaxNewTokens: 4}}, notifier)
	r2 := newGenerateStream(2, GenerateInput{PromptTokenIDs: []int32{1}, Config: GenerateConfig{MaxNewTokens: 4}}, notifier)
	r3 := newGenerateStream(3, GenerateInput{PromptTokenIDs: []int32{1}, Config: GenerateConfig{MaxNewTokens: 4}}, notifier)
	sched.Enqueue(r1)
	sched.Enqueue(r2)
	sched.Enqueue(r3)

	bq := sched.Schedule()
	if bq == nil || bq.Size() != 2 {
		t.Fatalf("expected 2 running streams after first schedule, got %v", bq)
	}
	if sched.WaitStreamSize() != 1 {
		t.Fatalf("wait queue = %d, want 1 (R3 should stay queued)", sched.WaitStreamSize())
	}
	if cache.FreeCount() != 0 {
		t.Fatalf("FreeCount = %d, want 0 (cache exactly full)", cache.FreeCount())
	}

	bq2 := sched.Schedule()
	if bq2 == nil || bq2.Size() != 2 {
		t.Fatalf("expected R1/R2 still running, got %v", bq2)
	}
	if r1.Status() != StatusRunning || r2.Status() != StatusRunning {
		t.Fatalf("R1/R2 should remain RUNNING, got %v and %v", r1.Status(), r2.Status())
	}
	if r3.Status() != StatusQueued {
		t.Fatalf("R3 should remain QUEUED, got %v", r3.Status())
	}
	if sched.WaitStreamSize() != 1 {
		t.Fatalf("wait queue = %d, want 1", sched.WaitStreamSize())
	}
}

// TestSchedulerGrowthEvictsOtherRunningStream exercises the decode-step
// growth path: as a running stream's produced length crosses a block
// boundary it needs another block, and with the cache full the only way to
// get one is to evict a different running stream (never the one growing).
func TestSchedulerGrowthEvictsOtherRunningStream(t *testing.T) {
	cfg := testConfig()
	cfg.BlockSize = 2
	cfg.NumCacheBlocks = 2
	sched, cache, notifier := newTestScheduler(cfg)

	// R1's prompt (1 token) leaves one spare slot inside its reserved block.
	// R2's prompt (2 tokens) exactly fills its reserved block, so R2 is the
	// one that needs a second block after its very first decode step —
	// deterministically, R2 is always the grower and R1 is always the only
	// eviction candidate.
	r1 := newGenerateStream(1, GenerateInput{PromptTokenIDs: []int32{1}, Config: GenerateConfig{MaxNewTokens: 10}}, notifier)
	r2 := newGenerateStream(2, GenerateInput{PromptTokenIDs: []int32{1, 2}, Config: GenerateConfig{MaxNewTokens: 10}}, notifier)
	sched.Enqueue(r1)
	sched.Enqueue(r2)

	bq := sched.Schedule()
	if bq == nil || bq.Size() != 2 {
		t.Fatalf("expected both admitted, got %v", bq)
	}
	if cache.FreeCount() != 0 {
		t.Fatalf("FreeCount = %d, want 0", cache.FreeCount())
	}

	bq.NextTokenIDs = []int32{5, 6}
	sched.UpdateBatchQuery(bq)

	// The next Schedule pass observes R2 has produced one token on top of
	// a prompt that already exactly filled its block: R2 must grow, the
	// cache is full, and R1 is the only other running stream to evict.
	bq2 := sched.Schedule()
	if bq2 == nil {
		t.Fatal("expected a batch after growth-triggered eviction")
	}
	if bq2.Size() != 1 {
		t.Fatalf("batch size = %d, want 1 (R1 evicted to make room for R2's growth)", bq2.Size())
	}
	if r2.Status() != StatusRunning {
		t.Fatalf("R2 should still be running after growing, got %v", r2.Status())
	}
	if r1.Status() != StatusQueued {
		t.Fatalf("R1 should have been evicted back to QUEUED to make room for R2's growth, got %v", r1.Status())
	}
	if sched.WaitStreamSize() != 1 {
		t.Fatalf("wait queue = %d, want 1 (R1 requeued)", sched.WaitStreamSize())
	}
}

func TestSchedulerReapsCancelledWaitQueueEntry(t *testing.T) {
	cfg := testConfig()
	sched, cache, notifier := newTestScheduler(cfg)

	stream := newGenerateStream(1, GenerateInput{PromptTokenIDs: []int32{1}, Config: GenerateConfig{MaxNewTokens: 4}}, notifier)
	sched.Enqueue(stream)
	stream.Cancel("client hung up")

	bq := sched.Schedule()
	if bq != nil {
		t.Fatalf("expected no batch, cancelled stream should have been reaped, got size %d", bq.Size())
	}
	if sched.WaitStreamSize() != 0 {
		t.Fatalf("wait queue = %d, want 0 after reap", sched.WaitStreamSize())
	}
	if cache.FreeCount() != cfg.NumCacheBlocks {
		t.Fatalf("FreeCount = %d, want all blocks free", cache.FreeCount())
	}
}

func TestSchedulerCancelAllViaContext(t *testing.T) {
	cfg := testConfig()
	sched, _, notifier := newTestScheduler(cfg)

	a := newGenerateStream(1, GenerateInput{PromptTokenIDs: []int32{1}, Config: GenerateConfig{MaxNewTokens: 4}}, notifier)
	sched.Enqueue(a)
	sched.Schedule()

	b := newGenerateStream(2, GenerateInput{PromptTokenIDs: []int32{1}, Config: GenerateConfig{MaxNewTokens: 4}}, notifier)
	sched.Enqueue(b)

	sched.cancelAll(context.Background())

	if a.Status() != StatusCancelled || b.Status() != StatusCancelled {
		t.Fatalf("expected both streams cancelled, got %v and %v", a.Status(), b.Status())
	}
}
