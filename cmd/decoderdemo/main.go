package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/coldforge/decoder-engine/decoder"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	numRequests := 8
	maxNewTokens := 16
	vocab := 200

	for _, arg := range os.Args[1:] {
		switch arg {
		case "--help", "-h":
			fmt.Println("decoderdemo - run a batch of synthetic requests through the decoder engine")
			fmt.Println()
			fmt.Println("Usage: decoderdemo [OPTIONS]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --requests N       number of synthetic requests to submit (default: 8)")
			fmt.Println("  --max-new-tokens N cap on generated tokens per request (default: 16)")
			fmt.Println("  --help, -h         show this help message")
			os.Exit(0)
		}
	}
	for i, arg := range os.Args[1:] {
		switch arg {
		case "--requests":
			if i+1 < len(os.Args[1:]) {
				fmt.Sscanf(os.Args[i+2], "%d", &numRequests)
			}
		case "--max-new-tokens":
			if i+1 < len(os.Args[1:]) {
				fmt.Sscanf(os.Args[i+2], "%d", &maxNewTokens)
			}
		}
	}

	cfg := decoder.Config{
		MaxSeqLen:        512,
		MaxBatchSize:     16,
		MaxPrefillTokens: 4096,
		BlockSize:        16,
		NumCacheBlocks:   256,
		TPSize:           1,
	}

	exec := decoder.NewFakeExecutor(int32(vocab))
	engine := decoder.New(cfg, exec)
	defer engine.Stop()

	rng := rand.New(rand.NewSource(1))
	streams := make([]*decoder.GenerateStream, 0, numRequests)

	for i := 0; i < numRequests; i++ {
		promptLen := 4 + rng.Intn(12)
		prompt := make([]int32, promptLen)
		for j := range prompt {
			prompt[j] = int32(rng.Intn(vocab))
		}

		stream, err := engine.Decode(decoder.GenerateInput{
			PromptTokenIDs: prompt,
			Config: decoder.GenerateConfig{
				MaxNewTokens: maxNewTokens,
			},
		})
		if err != nil {
			fmt.Printf("request %d rejected: %v\n", i, err)
			continue
		}
		streams = append(streams, stream)
		fmt.Printf("submitted request %d: %d prompt tokens\n", stream.RequestID(), promptLen)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stream := range streams {
		gen := uint64(0)
		for {
			out, err := stream.Wait(ctx, gen)
			if err != nil {
				fmt.Printf("request %d: wait error: %v\n", stream.RequestID(), err)
				break
			}
			gen = out.StepGeneration
			if out.Finished() {
				fmt.Printf("request %d finished (%s): %v\n", stream.RequestID(), out.Status, out.Produced)
				break
			}
		}
	}
}
