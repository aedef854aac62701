package decoder

import "testing"

type capturingLogger struct {
	lines []string
}

func (c *capturingLogger) Printf(format string, args ...any) {
	c.lines = append(c.lines, format)
}

func TestEngineUsesInjectedLogger(t *testing.T) {
	cfg := Config{
		MaxSeqLen:      64,
		MaxBatchSize:   4,
		BlockSize:      4,
		NumCacheBlocks: 16,
		TPSize:         1,
	}
	logger := &capturingLogger{}
	e := New(cfg, NewFakeExecutor(10), WithLogger(logger))
	e.Stop()

	if len(logger.lines) == 0 {
		t.Fatal("expected Stop to log at least one line via the injected logger")
	}
}
