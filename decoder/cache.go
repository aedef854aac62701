package decoder

import (
	"sort"
	"sync"
)

// CacheBlock is a fixed-size slab of KV memory identified by an integer
// (spec.md §3). It never carries payload in the core — the executor owns
// the actual tensor memory behind each block id.
type CacheBlock struct {
	ID int
}

// CacheManager owns a fixed pool of blocks and hands them out per-stream
// (spec.md §4.1). Allocation is strictly per-stream: a block belongs to
// exactly one stream until Free'd. One mutex guards the whole manager,
// mirroring the teacher's CPUStatsCache/BufferConsumer choice of a single
// lock per stateful object rather than per-block locking — pool sizes here
// are small enough (thousands, not millions) that this is both simplest and
// correct.
type CacheManager struct {
	mu       sync.Mutex
	total    int
	freeList []int
	owner    map[int]uint64 // block id -> owning stream id
	byStream map[uint64][]int
}

// NewCacheManager creates a pool of n fixed-size blocks, all initially free.
func NewCacheManager(n int) *CacheManager {
	free := make([]int, n)
	for i := range free {
		free[i] = i
	}
	return &CacheManager{
		total:    n,
		freeList: free,
		owner:    make(map[int]uint64, n),
		byStream: make(map[uint64][]int),
	}
}

// Allocate reserves nBlocks additional blocks for stream and appends their
// ids to the stream's block list. It either grants all of them or none.
func (c *CacheManager) Allocate(streamID uint64, nBlocks int) ([]int, error) {
	if nBlocks <= 0 {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.freeList) < nBlocks {
		return nil, newEngineError(KindOutOfMemory, "need %d blocks, %d free", nBlocks, len(c.freeList))
	}

	granted := make([]int, nBlocks)
	split := len(c.freeList) - nBlocks
	copy(granted, c.freeList[split:])
	c.freeList = c.freeList[:split]

	for _, id := range granted {
		c.owner[id] = streamID
	}
	c.byStream[streamID] = append(c.byStream[streamID], granted...)
	return granted, nil
}

// Free returns every block owned by streamID to the free list.
func (c *CacheManager) Free(streamID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freeLocked(streamID)
}

func (c *CacheManager) freeLocked(streamID uint64) {
	blocks, ok := c.byStream[streamID]
	if !ok {
		return
	}
	for _, id := range blocks {
		delete(c.owner, id)
	}
	c.freeList = append(c.freeList, blocks...)
	delete(c.byStream, streamID)
}

// BlockUsedRatio returns the fraction of the pool currently owned by a
// stream, in [0,1].
func (c *CacheManager) BlockUsedRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.total == 0 {
		return 0
	}
	return float64(c.total-len(c.freeList)) / float64(c.total)
}

// FreeCount returns the number of currently unallocated blocks.
func (c *CacheManager) FreeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.freeList)
}

// BlocksOf returns a copy of the block ids currently owned by streamID.
func (c *CacheManager) BlocksOf(streamID uint64) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	blocks := c.byStream[streamID]
	out := make([]int, len(blocks))
	copy(out, blocks)
	return out
}

// evictionCandidate is a running stream considered for reverse-admission
// eviction, ordered per spec.md §4.1's tie-break (higher request id first,
// i.e. most recently admitted first).
type evictionCandidate struct {
	streamID uint64
}

// SelectEvictionVictim picks which of the given running stream ids should be
// evicted first to free blocks for a growth step, per spec.md §4.1/§4.4: the
// most-recently-admitted (highest request id) running stream.
func SelectEvictionVictim(runningIDs []uint64) (uint64, bool) {
	if len(runningIDs) == 0 {
		return 0, false
	}
	candidates := make([]evictionCandidate, len(runningIDs))
	for i, id := range runningIDs {
		candidates[i] = evictionCandidate{streamID: id}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].streamID > candidates[j].streamID
	})
	return candidates[0].streamID, true
}
