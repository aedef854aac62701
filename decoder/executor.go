package decoder

import "context"

// Executor is the capability boundary between the core scheduling loop and
// whatever actually runs model forward passes (spec.md §4.7). Process must
// fill in bq.NextTokenIDs (and bq.Logprobs when requested) for every slot.
type Executor interface {
	Process(ctx context.Context, bq *BatchQuery) error
	LoraResource() *LoraTable
	Collectives() Collectives
}

// Collectives is the tensor-parallel synchronization boundary. Single-GPU
// (TPSize==1) executors may implement these as no-ops. The engine's step
// calls TPSync on every step it runs regardless of TPSize, even when
// Schedule found nothing to run (see DESIGN.md, engine.go entry), since a
// non-coordinator rank has no other signal that a step occurred. The core
// never calls BroadcastTP itself.
type Collectives interface {
	BroadcastTP(tensors []Tensor) error
	TPSync(bq *BatchQuery) error
}
