package decoder

// Tensor is an opaque executor-owned buffer. The core never reads its
// contents; it only threads tensors between BatchQuery and the executor.
type Tensor struct {
	Data  []float32
	Shape []int
}

// streamSlot is one request's contribution to a BatchQuery.
type streamSlot struct {
	stream *GenerateStream

	// isPrefill is true the first time a stream enters a batch (its full
	// prompt is processed); false on every subsequent decode step (single
	// new token position).
	isPrefill bool

	// tokenIDs are the token ids to feed the executor this step: the whole
	// prompt on prefill, or the single most recently produced token on
	// decode.
	tokenIDs []int32

	// positionOffset is the index of tokenIDs[0] within the stream's full
	// sequence (prompt + produced so far).
	positionOffset int

	blockTable []int
	loraID     int32
}

// BatchQuery is the transient per-step descriptor the scheduler assembles
// and hands to the executor (spec.md §4.5). It is rebuilt from scratch every
// step and never retained past Process returning.
type BatchQuery struct {
	slots []streamSlot

	// packed fields, filled by packTensors before Process is called.
	PackedTokenIDs []int32
	Positions      []int32
	SeqBoundaries  []int // exclusive end offset into PackedTokenIDs per slot
	LoraIDs        []int32

	// NextTokenIDs is filled in by the executor: one token id per slot, in
	// slot order.
	NextTokenIDs []int32

	// Logprobs is optionally filled in by the executor, parallel to
	// NextTokenIDs, when any slot requested ReturnLogprobs.
	Logprobs []float64
}

// newBatchQuery packs slots into the flat tensors an Executor expects.
func newBatchQuery(slots []streamSlot) *BatchQuery {
	bq := &BatchQuery{slots: slots}
	bq.packTensors()
	return bq
}

func (bq *BatchQuery) packTensors() {
	n := 0
	for _, s := range bq.slots {
		n += len(s.tokenIDs)
	}
	bq.PackedTokenIDs = make([]int32, 0, n)
	bq.Positions = make([]int32, 0, n)
	bq.SeqBoundaries = make([]int, 0, len(bq.slots))
	bq.LoraIDs = make([]int32, 0, len(bq.slots))

	for _, s := range bq.slots {
		for i, tok := range s.tokenIDs {
			bq.PackedTokenIDs = append(bq.PackedTokenIDs, tok)
			bq.Positions = append(bq.Positions, int32(s.positionOffset+i))
		}
		bq.SeqBoundaries = append(bq.SeqBoundaries, len(bq.PackedTokenIDs))
		bq.LoraIDs = append(bq.LoraIDs, s.loraID)
	}
}

// Size returns the number of streams participating in this step.
func (bq *BatchQuery) Size() int { return len(bq.slots) }

// StreamAt returns the stream occupying slot i.
func (bq *BatchQuery) StreamAt(i int) *GenerateStream { return bq.slots[i].stream }

// IsPrefillAt reports whether slot i is this stream's prefill step.
func (bq *BatchQuery) IsPrefillAt(i int) bool { return bq.slots[i].isPrefill }
