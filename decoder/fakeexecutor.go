package decoder

import "context"

// FakeExecutor is a deterministic in-memory Executor for tests and the demo
// binary. It "generates" by cycling through a fixed vocabulary, which is
// enough to exercise scheduling, stopping, and eviction without any real
// model weights.
type FakeExecutor struct {
	lora  *LoraTable
	coll  Collectives
	Vocab int32
}

// NewFakeExecutor builds a FakeExecutor with vocab distinct token ids and a
// no-op single-rank Collectives implementation.
func NewFakeExecutor(vocab int32) *FakeExecutor {
	return &FakeExecutor{
		lora:  NewLoraTable(),
		coll:  noopCollectives{},
		Vocab: vocab,
	}
}

func (e *FakeExecutor) LoraResource() *LoraTable   { return e.lora }
func (e *FakeExecutor) Collectives() Collectives { return e.coll }

// Process fills bq.NextTokenIDs with one token per slot, derived
// deterministically from the slot's last packed token so repeated runs are
// reproducible.
func (e *FakeExecutor) Process(ctx context.Context, bq *BatchQuery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bq.NextTokenIDs = make([]int32, bq.Size())
	for i := 0; i < bq.Size(); i++ {
		end := bq.SeqBoundaries[i]
		last := bq.PackedTokenIDs[end-1]
		bq.NextTokenIDs[i] = (last + 1) % e.Vocab
	}
	return nil
}

type noopCollectives struct{}

func (noopCollectives) BroadcastTP([]Tensor) error   { return nil }
func (noopCollectives) TPSync(*BatchQuery) error { return nil }
