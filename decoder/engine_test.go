package decoder

import (
	"context"
	"testing"
	"time"
)

func testEngine(t *testing.T) (*Engine, *FakeExecutor) {
	t.Helper()
	cfg := Config{
		MaxSeqLen:        64,
		MaxBatchSize:     4,
		MaxPrefillTokens: 256,
		BlockSize:        4,
		NumCacheBlocks:   32,
		TPSize:           1,
	}
	exec := NewFakeExecutor(100)
	e := New(cfg, exec)
	t.Cleanup(e.Stop)
	return e, exec
}

func TestEngineDecodeRunsToCompletion(t *testing.T) {
	e, _ := testEngine(t)

	stream, err := e.Decode(GenerateInput{
		PromptTokenIDs: []int32{1, 2, 3},
		Config:         GenerateConfig{MaxNewTokens: 5},
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var last GenerateOutput
	gen := uint64(0)
	for {
		out, err := stream.Wait(ctx, gen)
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		last = out
		gen = out.StepGeneration
		if out.Finished() {
			break
		}
	}

	if last.Status != StatusFinishedLength {
		t.Fatalf("Status = %v, want FINISHED_LENGTH", last.Status)
	}
	if len(last.Produced) != 5 {
		t.Fatalf("Produced = %v, want 5 tokens", last.Produced)
	}
}

func TestEngineRejectsEmptyPrompt(t *testing.T) {
	e, _ := testEngine(t)
	if _, err := e.Decode(GenerateInput{PromptTokenIDs: nil}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestEngineRejectsPromptLongerThanMaxSeqLen(t *testing.T) {
	e, _ := testEngine(t)
	prompt := make([]int32, 100)
	if _, err := e.Decode(GenerateInput{PromptTokenIDs: prompt}); err == nil {
		t.Fatal("expected error for over-length prompt")
	}
}

func TestEngineClipsMaxNewTokensToSeqBudget(t *testing.T) {
	e, _ := testEngine(t)
	stream, err := e.Decode(GenerateInput{
		PromptTokenIDs: make([]int32, 60),
		Config:         GenerateConfig{MaxNewTokens: 1000},
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if stream.input.Config.MaxNewTokens != 4 {
		t.Fatalf("MaxNewTokens = %d, want clipped to 4 (64-60)", stream.input.Config.MaxNewTokens)
	}
}

func TestEngineStopCancelsOutstandingStreams(t *testing.T) {
	e, _ := testEngine(t)
	stream, err := e.Decode(GenerateInput{
		PromptTokenIDs: []int32{1, 2, 3},
		Config:         GenerateConfig{MaxNewTokens: 1_000_000},
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	e.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := stream.Wait(ctx, 0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Status != StatusCancelled {
		t.Fatalf("Status = %v, want CANCELLED after Stop", out.Status)
	}
}

func TestEngineDecodeAfterStopReturnsStoppedError(t *testing.T) {
	e, _ := testEngine(t)
	e.Stop()

	if _, err := e.Decode(GenerateInput{PromptTokenIDs: []int32{1}}); err == nil {
		t.Fatal("expected stopped error after Stop")
	}
}

func TestEngineRejectsUnknownLoraAdapter(t *testing.T) {
	e, _ := testEngine(t)
	name := "never-loaded"

	if _, err := e.Decode(GenerateInput{
		PromptTokenIDs: []int32{1, 2},
		Config:         GenerateConfig{MaxNewTokens: 2, AdapterName: &name},
	}); err == nil {
		t.Fatal("expected an error for an adapter name that was never loaded")
	}
}

func TestEngineWithLoraAdapterReleasesOnCompletion(t *testing.T) {
	e, exec := testEngine(t)
	name := "my-adapter"
	exec.LoraResource().Load(name)

	stream, err := e.Decode(GenerateInput{
		PromptTokenIDs: []int32{1, 2},
		Config:         GenerateConfig{MaxNewTokens: 2, AdapterName: &name},
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	gen := uint64(0)
	for {
		out, err := stream.Wait(ctx, gen)
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		gen = out.StepGeneration
		if out.Finished() {
			break
		}
	}

	stream.ReleaseResources()
	if !exec.LoraResource().Unload(name) {
		t.Fatal("expected adapter to be unloadable once the owning stream released its read ref")
	}
}
