package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/coldforge/decoder-engine/decoder"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	arrivalMs := 300
	for i, arg := range os.Args[1:] {
		switch arg {
		case "--help", "-h":
			fmt.Println("decodertop - live dashboard over a synthetic decoder engine workload")
			fmt.Println()
			fmt.Println("Usage: decodertop [OPTIONS]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --arrival-ms N   average milliseconds between synthetic request arrivals (default: 300)")
			fmt.Println("  --help, -h       show this help message")
			os.Exit(0)
		case "--arrival-ms":
			if i+1 < len(os.Args[1:]) {
				fmt.Sscanf(os.Args[i+2], "%d", &arrivalMs)
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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	stopGenerator := make(chan struct{})
	go generateLoad(engine, arrivalMs, stopGenerator)

	m := newModel(engine)
	p := tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		<-sigChan
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		fmt.Printf("error running program: %v\n", err)
	}

	close(stopGenerator)
	engine.Stop()
}

// generateLoad submits a steady stream of synthetic requests so the
// dashboard has something to show without a real client population.
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
