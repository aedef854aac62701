package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
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

	port := 9877
	for i, arg := range os.Args[1:] {
		switch arg {
		case "--help", "-h":
			fmt.Println("decodermcp - expose a decoder engine over MCP for inspection and control")
			fmt.Println()
			fmt.Println("Usage: decodermcp [OPTIONS]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --port PORT   MCP HTTP server port (default: 9877)")
			fmt.Println("  --help, -h    show this help message")
			fmt.Println()
			fmt.Println("Tools exposed:")
			fmt.Println("  list_streams    list known generation streams and their status")
			fmt.Println("  engine_stats    report batch size, wait queue depth, cache usage")
			fmt.Println("  cancel_stream   cancel a stream by request id")
			os.Exit(0)
		case "--port":
			if i+1 < len(os.Args[1:]) {
				fmt.Sscanf(os.Args[i+2], "%d", &port)
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
	exec := decoder.NewFakeExecutor(200)
	engine := decoder.New(cfg, exec)
	defer engine.Stop()

	stopGenerator := make(chan struct{})
	go generateLoad(engine, 300, stopGenerator)
	defer close(stopGenerator)

	ops, err := newOpsServer(engine, port)
	if err != nil {
		fmt.Printf("error creating MCP server: %v\n", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("decoder engine MCP server listening on :%d/mcp\n", port)
		if err := ops.Start(); err != nil {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println("\nshutting down...")
	case err := <-errCh:
		fmt.Printf("MCP server error: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ops.Shutdown(ctx)
}

func generateLoad(engine *decoder.Engine, arrivalMs int, stop chan struct{}) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-stop:
			return
		default:
		}

		promptLen := 4 + rng.Intn(20)
		prompt := make([]int32, promptLen)
		for i := range prompt {
			prompt[i] = int32(rng.Intn(200))
		}

		_, _ = engine.Decode(decoder.GenerateInput{
			PromptTokenIDs: prompt,
			Config: decoder.GenerateConfig{
				MaxNewTokens: 8 + rng.Intn(40),
			},
		})

		jitter := time.Duration(arrivalMs/2+rng.Intn(arrivalMs)) * time.Millisecond
		select {
		case <-stop:
			return
		case <-time.After(jitter):
		}
	}
}
