package decoder

import "time"

// Clock abstracts time so scheduler/engine tests don't depend on wall-clock
// sleeps. The teacher calls time.Now() directly everywhere it needs a
// timestamp; we add this one seam, which the engine uses to time each step
// (async_iterate_latency_ms) and to stamp EngineStats.LastStepAt, so that a
// fake clock can stand in for it.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock is the default Clock used outside tests.
var RealClock Clock = realClock{}

// MetricsSink is the gauge/counter emission capability spec.md §6 requires
// the core to expose without binding to any concrete backend.
type MetricsSink interface {
	SetGauge(name string, value float64)
	IncCounter(name string, delta float64)
}

// NoopSink discards every metric. It is the default MetricsSink when the
// caller does not supply one.
type NoopSink struct{}

func (NoopSink) SetGauge(string, float64)   {}
func (NoopSink) IncCounter(string, float64) {}

const (
	MetricAsyncBatchSize        = "async_batch_size"
	MetricAsyncWaitQuerySize    = "async_wait_query_size"
	MetricAsyncIterateLatencyMs = "async_iterate_latency_ms"
	MetricKVCacheMemUsedRatio   = "kv_cache_mem_used_ratio"
	MetricErrorExit             = "error_exit"
)
