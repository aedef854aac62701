package decoder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// GenerateStream is the per-request handle the scheduler and engine mutate
// and the caller observes (spec.md §4.3). It does not own a queue of
// produced outputs — the caller polls Wait, which blocks until the shared
// generationNotifier advances past the generation the caller last saw, then
// returns a fresh snapshot. This mirrors the teacher's LogBroker fan-out
// design (many consumers, one producer) but trades the per-consumer channel
// for a single shared counter, since unlike log lines, token deltas are
// cheap to recompute from a mutex-guarded slice and consumers only ever
// want the latest state, never history they missed.
type GenerateStream struct {
	requestID uint64
	input     GenerateInput

	notifier *generationNotifier

	mu         sync.RWMutex
	produced   []int32
	status     Status
	stopReason string
	err        error
	cacheBlocks []int
	loraID     int32

	lastDeltaStart int // index into produced the next delta starts from, moved by Wait

	stepGeneration atomic.Uint64

	releaseOnce sync.Once
	destructors []func()
}

// newGenerateStream constructs a stream in StatusQueued.
func newGenerateStream(id uint64, in GenerateInput, notifier *generationNotifier) *GenerateStream {
	s := &GenerateStream{
		requestID: id,
		input:     in,
		notifier:  notifier,
		status:    StatusQueued,
		loraID:    NoLoraID,
	}
	// Generations start at 1 so that lastSeen=0 never equals a real one.
	s.stepGeneration.Store(1)
	return s
}

// RequestID returns the stream's stable identifier.
func (s *GenerateStream) RequestID() uint64 { return s.requestID }

// Input returns the immutable request the caller submitted.
func (s *GenerateStream) Input() GenerateInput { return s.input }

// snapshotLocked builds the GenerateOutput a caller observes right now. Callers
// must hold at least s.mu.RLock().
func (s *GenerateStream) snapshotLocked(now time.Time) GenerateOutput {
	produced := make([]int32, len(s.produced))
	copy(produced, s.produced)

	var delta []int32
	if s.lastDeltaStart < len(s.produced) {
		delta = append(delta, s.produced[s.lastDeltaStart:]...)
	}

	return GenerateOutput{
		RequestID:      s.requestID,
		Produced:       produced,
		Delta:          delta,
		Status:         s.status,
		StopReason:     s.stopReason,
		StepGeneration: s.stepGeneration.Load(),
		ObservedAt:     now,
	}
}

// Wait blocks until the stream has advanced past lastSeen (a value
// previously returned as StepGeneration) or ctx is done, then returns the
// current snapshot. Passing lastSeen=0 returns immediately with whatever the
// stream currently holds.
func (s *GenerateStream) Wait(ctx context.Context, lastSeen uint64) (GenerateOutput, error) {
	for {
		s.mu.Lock()
		gen := s.stepGeneration.Load()
		if gen > lastSeen || s.status.IsTerminal() {
			out := s.snapshotLocked(RealClock.Now())
			s.advanceDelta()
			s.mu.Unlock()
			return out, nil
		}
		s.mu.Unlock()

		if err := s.notifier.wait(ctx); err != nil {
			return GenerateOutput{}, err
		}
	}
}

// appendTokens is called by the scheduler/engine after a step produces new
// tokens for this stream. It bumps the per-stream generation; the caller is
// responsible for bumping the shared notifier once per batch step.
func (s *GenerateStream) appendTokens(tokens []int32) {
	s.mu.Lock()
	s.produced = append(s.produced, tokens...)
	s.mu.Unlock()
	s.stepGeneration.Add(1)
}

// advanceDelta moves the delta cursor to the end of produced. Wait calls it,
// with s.mu held, right after taking a snapshot, so each snapshot's Delta is
// exactly "since the last snapshot a consumer saw", not "since the last
// step". The cursor is shared by every consumer of the stream.
func (s *GenerateStream) advanceDelta() {
	s.lastDeltaStart = len(s.produced)
}

// setRunning transitions a queued stream into RUNNING.
func (s *GenerateStream) setRunning() {
	s.mu.Lock()
	if s.status == StatusQueued {
		s.status = StatusRunning
	}
	s.mu.Unlock()
}

// finish transitions the stream to a terminal status exactly once further
// mutation is impossible; subsequent calls are no-ops.
func (s *GenerateStream) finish(status Status, reason string, err error) {
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.stopReason = reason
	s.err = err
	s.mu.Unlock()
	s.stepGeneration.Add(1)
}

// Cancel marks the stream cancelled. Safe to call concurrently with the
// worker loop; the scheduler observes the status on its next reap pass.
func (s *GenerateStream) Cancel(reason string) {
	s.finish(StatusCancelled, reason, nil)
}

// Status returns the stream's current lifecycle state.
func (s *GenerateStream) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Err returns the error attached at the stream's terminal transition, if any.
func (s *GenerateStream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// addDestructor registers a cleanup to run (LIFO) when ReleaseResources runs.
func (s *GenerateStream) addDestructor(fn func()) {
	s.mu.Lock()
	s.destructors = append(s.destructors, fn)
	s.mu.Unlock()
}

// ReleaseResources runs every registered destructor exactly once, LIFO, most
// recently acquired resource first — mirroring the teacher's BufferConsumer
// teardown order. Idempotent via sync.Once: cancellation racing with normal
// completion cannot double-release cache blocks or LoRA read-refs.
func (s *GenerateStream) ReleaseResources() {
	s.releaseOnce.Do(func() {
		s.mu.RLock()
		fns := make([]func(), len(s.destructors))
		copy(fns, s.destructors)
		s.mu.RUnlock()

		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	})
}
