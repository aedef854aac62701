package decoder

import "context"

// Scheduler owns the wait queue and the running set and assembles one
// BatchQuery per engine step (spec.md §4.4). It is not safe for concurrent
// use from multiple goroutines: only the engine's dedicated worker loop
// goroutine touches it, by design (spec.md §5) — there is no internal
// mutex here, matching the teacher's habit of leaving single-goroutine-owned
// state unlocked rather than adding a lock nothing contends on.
type Scheduler struct {
	cfg   Config
	cache *CacheManager

	waitQueue []*GenerateStream
	running   map[uint64]*GenerateStream

	notifier *generationNotifier
}

// NewScheduler creates an empty scheduler over the given cache pool.
func NewScheduler(cfg Config, cache *CacheManager, notifier *generationNotifier) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		cache:    cache,
		running:  make(map[uint64]*GenerateStream),
		notifier: notifier,
	}
}

// Enqueue appends a newly submitted stream to the tail of the wait queue.
func (s *Scheduler) Enqueue(stream *GenerateStream) {
	s.waitQueue = append(s.waitQueue, stream)
}

// HaveStreams reports whether the scheduler has any work at all, queued or
// running. The worker loop uses this to decide whether to block for new
// submissions instead of spinning.
func (s *Scheduler) HaveStreams() bool {
	return len(s.waitQueue) > 0 || len(s.running) > 0
}

// WaitStreamSize returns the current wait queue depth.
func (s *Scheduler) WaitStreamSize() int { return len(s.waitQueue) }

// RunningBatchSize returns the current running set size.
func (s *Scheduler) RunningBatchSize() int { return len(s.running) }

// reap drops terminal streams from the running set (and cancelled ones from
// the wait queue) and frees
// their resources. Called at the start of every Schedule pass ("lazy
// reap"): a cancellation observed between steps is only actually cleaned up
// the next time the scheduler looks, never synchronously from Cancel.
func (s *Scheduler) reap() {
	for id, stream := range s.running {
		if stream.Status().IsTerminal() {
			s.retire(stream)
			delete(s.running, id)
		}
	}

	kept := s.waitQueue[:0]
	for _, stream := range s.waitQueue {
		if stream.Status() == StatusCancelled {
			s.retire(stream)
			continue
		}
		kept = append(kept, stream)
	}
	s.waitQueue = kept
}

func (s *Scheduler) retire(stream *GenerateStream) {
	stream.ReleaseResources()
}

// admit tries to promote streams from the head of the wait queue into the
// running set, subject to MaxBatchSize and available cache blocks. Admission
// is a reservation check only: it reserves blocks for the prompt the stream
// is about to prefill and never evicts a running stream to make room. A
// head that cannot be seated right now simply stays QUEUED until a running
// stream frees blocks on its own (spec.md §4.4 step 1, §8's "cache exactly
// full at admission time rejects the new stream until a running stream
// finishes"). It stops at the first stream it cannot admit (FIFO: later
// streams never jump ahead of a blocked head).
func (s *Scheduler) admit() {
	prefillTokensThisStep := 0
	for len(s.waitQueue) > 0 && len(s.running) < s.cfg.MaxBatchSize {
		head := s.waitQueue[0]
		promptLen := len(head.input.PromptTokenIDs)

		if s.cfg.MaxPrefillTokens > 0 && prefillTokensThisStep+promptLen > s.cfg.MaxPrefillTokens {
			break
		}

		need := s.cfg.blocksNeeded(promptLen)

		if s.cache.FreeCount() < need {
			break
		}

		blocks, err := s.cache.Allocate(head.requestID, need)
		if err != nil {
			head.finish(StatusErrored, "", err)
			s.retire(head)
			s.waitQueue = s.waitQueue[1:]
			continue
		}

		head.mu.Lock()
		head.cacheBlocks = blocks
		head.mu.Unlock()
		head.addDestructor(func() { s.cache.Free(head.requestID) })
		head.setRunning()

		s.running[head.requestID] = head
		s.waitQueue = s.waitQueue[1:]
		prefillTokensThisStep += promptLen
	}
}

// growRunning grows each running stream's block reservation as its produced
// length crosses a block boundary (spec.md §4.1/§4.4 step 2), the only place
// reverse-admission eviction is allowed to run. A stream still in prefill
// (no tokens produced yet) was already sized for its full prompt at
// admission and needs nothing here.
func (s *Scheduler) growRunning() {
	for id, stream := range s.running {
		stream.mu.RLock()
		promptLen := len(stream.input.PromptTokenIDs)
		producedLen := len(stream.produced)
		current := len(stream.cacheBlocks)
		stream.mu.RUnlock()

		if producedLen == 0 {
			continue
		}

		needed := s.cfg.blocksNeeded(promptLen + producedLen)
		if needed <= current {
			continue
		}
		extra := needed - current

		if s.cache.FreeCount() < extra && !s.evictForGrowth(extra, id) {
			stream.finish(StatusErrored, "", newEngineError(KindOutOfMemory, "cannot grow cache allocation for running stream %d", id))
			continue
		}

		granted, err := s.cache.Allocate(id, extra)
		if err != nil {
			stream.finish(StatusErrored, "", err)
			continue
		}
		stream.mu.Lock()
		stream.cacheBlocks = append(stream.cacheBlocks, granted...)
		stream.mu.Unlock()
	}
}

// evictForGrowth tries to free at least `need` blocks by evicting running
// streams other than excludeID (the stream that itself needs to grow),
// per spec.md §4.1's reverse-admission policy (most recently admitted
// first), re-queuing each victim at the head of the wait queue so it resumes
// ahead of fresher arrivals. Returns false if eviction cannot free enough
// even after evicting every eligible running stream.
func (s *Scheduler) evictForGrowth(need int, excludeID uint64) bool {
	for s.cache.FreeCount() < need {
		ids := make([]uint64, 0, len(s.running))
		for id := range s.running {
			if id == excludeID {
				continue
			}
			ids = append(ids, id)
		}
		victimID, ok := SelectEvictionVictim(ids)
		if !ok {
			return false
		}
		victim := s.running[victimID]
		delete(s.running, victimID)
		s.cache.Free(victimID)
		victim.mu.Lock()
		victim.status = StatusQueued
		victim.cacheBlocks = nil
		victim.mu.Unlock()

		requeued := append([]*GenerateStream{victim}, s.waitQueue...)
		s.waitQueue = requeued
	}
	return true
}

// Schedule runs one full scheduling pass: reap, admit, grow, assemble. It
// returns nil if there is nothing to run this step.
func (s *Scheduler) Schedule() *BatchQuery {
	s.reap()
	s.admit()
	s.growRunning()
	s.reap()

	if len(s.running) == 0 {
		return nil
	}

	slots := make([]streamSlot, 0, len(s.running))
	for _, stream := range s.running {
		stream.mu.RLock()
		promptLen := len(stream.input.PromptTokenIDs)
		producedLen := len(stream.produced)
		isPrefill := producedLen == 0
		loraID := stream.loraID
		blockTable := append([]int(nil), stream.cacheBlocks...)
		stream.mu.RUnlock()

		var tokenIDs []int32
		var offset int
		if isPrefill {
			tokenIDs = stream.input.PromptTokenIDs
			offset = 0
		} else {
			stream.mu.RLock()
			last := stream.produced[len(stream.produced)-1]
			stream.mu.RUnlock()
			tokenIDs = []int32{last}
			offset = promptLen + producedLen - 1
		}

		slots = append(slots, streamSlot{
			stream:         stream,
			isPrefill:      isPrefill,
			tokenIDs:       tokenIDs,
			positionOffset: offset,
			blockTable:     blockTable,
			loraID:         loraID,
		})
	}

	return newBatchQuery(slots)
}

// UpdateBatchQuery applies executor results back onto each stream: appends
// the produced token, checks stop conditions, and bumps the shared
// generation notifier exactly once for the whole batch.
func (s *Scheduler) UpdateBatchQuery(bq *BatchQuery) {
	for i := 0; i < bq.Size(); i++ {
		stream := bq.StreamAt(i)
		tok := bq.NextTokenIDs[i]
		stream.appendTokens([]int32{tok})

		stream.mu.RLock()
		produced := len(stream.produced)
		promptLen := len(stream.input.PromptTokenIDs)
		maxNew := stream.input.Config.MaxNewTokens
		_, isStop := stream.input.Config.StopTokenIDs[tok]
		stream.mu.RUnlock()

		// stop_reason is only ever set for CANCELLED/ERRORED; ordinary
		// completions are fully described by Status alone.
		switch {
		case isStop:
			stream.finish(StatusFinishedEOS, "", nil)
		case maxNew > 0 && produced >= maxNew:
			stream.finish(StatusFinishedLength, "", nil)
		case promptLen+produced >= s.cfg.MaxSeqLen:
			stream.finish(StatusFinishedLength, "", nil)
		}
	}
	s.notifier.Bump()
}

// UpdateAllErrors marks every slot of bq errored, used when Process itself
// fails (spec.md §4.7's failure-propagation contract: a failed step fails
// every stream in it, not just one).
func (s *Scheduler) UpdateAllErrors(bq *BatchQuery, cause error) {
	for i := 0; i < bq.Size(); i++ {
		stream := bq.StreamAt(i)
		stream.finish(StatusErrored, "", wrapEngineError(KindExecutorFailure, cause, "batch step failed"))
	}
	s.notifier.Bump()
}

// cancelAll marks every queued and running stream cancelled, used on Stop.
func (s *Scheduler) cancelAll(ctx context.Context) {
	for _, stream := range s.waitQueue {
		stream.Cancel("engine stopped")
	}
	for _, stream := range s.running {
		stream.Cancel("engine stopped")
	}
	s.reap()
	s.notifier.Bump()
}
