package decoder

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const crashLogPath = "/tmp/decoder-engine-crash.log"

// dumpFatal writes a crash report to crashLogPath and stderr, mirroring the
// teacher's writeCrashLog. A panic inside the worker loop is always fatal
// here: the loop cannot safely resume mid-batch with half-updated streams,
// unlike the teacher's per-container goroutines where one crash is isolated.
func dumpFatal(r interface{}, goroutineName string) {
	if r == nil {
		return
	}
	f, err := os.OpenFile(crashLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open crash log: %v\n", err)
		f = os.Stderr
	}
	defer f.Close()

	fmt.Fprintf(f, "\n\nCRASH REPORT - %s\n", time.Now().Format("2006-01-02 15:04:05.000"))
	fmt.Fprintf(f, "Goroutine: %s\n\n", goroutineName)
	fmt.Fprintf(f, "Error: %v\n\n", r)
	fmt.Fprintf(f, "Crashing goroutine stack:\n")
	f.Write(debug.Stack())

	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	fmt.Fprintf(f, "\nAll goroutines:\n")
	f.Write(buf[:n])

	if f != os.Stderr {
		fmt.Fprintf(os.Stderr, "\nfatal: engine worker loop panicked, see %s\n", crashLogPath)
	}
}

// acceleratorMarkers are substrings an executor's error text uses to report
// a failure in the accelerator itself (device OOM, ECC fault, driver reset)
// rather than in ordinary request handling.
var acceleratorMarkers = []string{"cuda", "nccl", "accelerator", "hbm", "xla", "device oom"}

func isAcceleratorFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range acceleratorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// abortFatal dumps a crash report and terminates the process immediately.
// It deliberately does not panic: a panic here would only unwind into
// safeGo's recover and leave the worker loop silently dead, which is exactly
// the outcome this path exists to avoid. os.Exit skips all deferred
// recovery and takes the whole process down instead.
func (e *Engine) abortFatal(reason string) {
	e.log.Printf("fatal: %s", reason)
	dumpFatal(reason, "decoder-engine-worker")
	time.Sleep(50 * time.Millisecond)
	os.Exit(1)
}

// Engine is the top-level async decoder engine (spec.md §2/§5/§6). It owns a
// single dedicated worker-loop goroutine that is the exclusive mutator of
// its Scheduler; all other methods only enqueue work or observe streams.
type Engine struct {
	cfg      Config
	exec     Executor
	cache    *CacheManager
	sched    *Scheduler
	notifier *generationNotifier
	sink     MetricsSink
	clock    Clock
	log      Logger

	incoming chan *GenerateStream
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	nextID atomic.Uint64

	statsMu sync.RWMutex
	stats   EngineStats

	registryMu sync.Mutex
	registry   map[uint64]*GenerateStream
}

// EngineStats is a point-in-time snapshot of engine load, safe to read from
// any goroutine (unlike the Scheduler, which the worker loop owns
// exclusively).
type EngineStats struct {
	RunningBatchSize int
	WaitQueueSize    int
	CacheUsedRatio   float64
	LastStepAt       time.Time
}

// Stats returns the most recent snapshot taken at the end of a step.
func (e *Engine) Stats() EngineStats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

// EngineOption customizes New.
type EngineOption func(*Engine)

// WithMetricsSink overrides the default NoopSink.
func WithMetricsSink(sink MetricsSink) EngineOption {
	return func(e *Engine) { e.sink = sink }
}

// WithClock overrides the default RealClock.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger overrides the default stderr logger.
func WithLogger(logger Logger) EngineOption {
	return func(e *Engine) { e.log = logger }
}

// New constructs an Engine and starts its worker loop goroutine.
func New(cfg Config, exec Executor, opts ...EngineOption) *Engine {
	notifier := newGenerationNotifier()
	cache := NewCacheManager(cfg.NumCacheBlocks)

	e := &Engine{
		cfg:      cfg,
		exec:     exec,
		cache:    cache,
		sched:    NewScheduler(cfg, cache, notifier),
		notifier: notifier,
		sink:     NoopSink{},
		clock:    RealClock,
		log:      defaultLogger,
		incoming: make(chan *GenerateStream, 256),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		registry: make(map[uint64]*GenerateStream),
	}
	for _, opt := range opts {
		opt(e)
	}

	safeGo("decoder-engine-worker", e.runWorkerLoop)
	return e
}

// safeGo launches fn in its own goroutine, recovering any panic into a
// crash dump rather than taking the whole process down silently.
func safeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				dumpFatal(r, name)
			}
		}()
		fn()
	}()
}

// Decode submits a new generation request and returns its stream handle.
// The stream enters StatusQueued immediately; the caller observes progress
// via stream.Wait.
func (e *Engine) Decode(in GenerateInput) (*GenerateStream, error) {
	if len(in.PromptTokenIDs) == 0 {
		return nil, newEngineError(KindEmptyPrompt, "prompt must not be empty")
	}

	clipped := in.Config.MaxNewTokens
	budget := e.cfg.MaxSeqLen - len(in.PromptTokenIDs)
	if budget <= 0 {
		return nil, newEngineError(KindLongPrompt, "prompt length %d exceeds max_seq_len %d", len(in.PromptTokenIDs), e.cfg.MaxSeqLen)
	}
	if clipped <= 0 || clipped > budget {
		in.Config.MaxNewTokens = budget
	}

	in.LoraID = NoLoraID
	if in.Config.AdapterName != nil {
		loraID, err := e.exec.LoraResource().ReadAcquire(*in.Config.AdapterName)
		if err != nil {
			return nil, err
		}
		in.LoraID = loraID
	}

	id := e.nextID.Add(1)
	stream := newGenerateStream(id, in, e.notifier)
	if in.Config.AdapterName != nil {
		loraID := in.LoraID
		stream.loraID = loraID
		stream.addDestructor(func() { e.exec.LoraResource().ReadRelease(loraID) })
	}
	if in.Embedding != nil && in.Embedding.Release != nil {
		release := in.Embedding.Release
		stream.addDestructor(release)
	}

	select {
	case <-e.stopCh:
		return nil, newEngineError(KindStopped, "engine is stopped")
	default:
	}
	select {
	case e.incoming <- stream:
	case <-e.stopCh:
		return nil, newEngineError(KindStopped, "engine is stopped")
	}

	e.registryMu.Lock()
	e.registry[id] = stream
	e.registryMu.Unlock()

	return stream, nil
}

// ListStreams returns every stream the engine has accepted, queued, running,
// or terminal (terminal streams are never dropped from the registry), in no
// particular order. Callers wanting only live work should filter on
// !Status().IsTerminal().
func (e *Engine) ListStreams() []*GenerateStream {
	e.registryMu.Lock()
	defer e.registryMu.Unlock()

	out := make([]*GenerateStream, 0, len(e.registry))
	for _, s := range e.registry {
		out = append(out, s)
	}
	return out
}

// CancelStream cancels the stream with the given request id, if it is still
// known to the engine. Returns false if no such stream exists.
func (e *Engine) CancelStream(requestID uint64, reason string) bool {
	e.registryMu.Lock()
	stream, ok := e.registry[requestID]
	e.registryMu.Unlock()
	if !ok {
		return false
	}
	stream.Cancel(reason)
	return true
}

// Stop cancels every queued and running stream, stops accepting new
// submissions, and waits for the worker loop to exit.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.log.Printf("stopping engine, cancelling outstanding streams")
		close(e.stopCh)
	})
	<-e.doneCh
}

// drainIncoming moves any requests queued in the incoming channel into the
// scheduler's wait queue without blocking.
func (e *Engine) drainIncoming() {
	for {
		select {
		case stream := <-e.incoming:
			e.sched.Enqueue(stream)
		default:
			return
		}
	}
}

// runWorkerLoop is the dedicated goroutine body. It is pinned to its OS
// thread the way the teacher pins nothing but a GPU-backed executor would
// need to: CUDA/accelerator contexts are thread-affine, so every call into
// exec.Process must happen from the same OS thread for the engine's
// lifetime.
func (e *Engine) runWorkerLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.doneCh)

	ctx := context.Background()

	for {
		select {
		case <-e.stopCh:
			e.sched.cancelAll(ctx)
			e.drainRemaining()
			return
		default:
		}

		e.drainIncoming()

		if !e.sched.HaveStreams() {
			select {
			case stream := <-e.incoming:
				e.sched.Enqueue(stream)
			case <-e.stopCh:
				e.sched.cancelAll(ctx)
				e.drainRemaining()
				return
			}
			continue
		}

		e.step(ctx)
	}
}

// drainRemaining cancels any requests that arrived after Stop was called
// but before the loop observed stopCh, so Decode callers never hang.
func (e *Engine) drainRemaining() {
	for {
		select {
		case stream := <-e.incoming:
			stream.Cancel("engine stopped")
		default:
			return
		}
	}
}

// step runs one scheduling + execution round. Collectives.TPSync is called
// unconditionally, even when Schedule found nothing to run: in a
// tensor-parallel group every rank must still take part in the round, or a
// rank with work would hang waiting on a peer that decided to idle instead.
func (e *Engine) step(ctx context.Context) {
	start := e.clock.Now()

	// A panic still ends the worker loop (safeGo dumps it), but the streams
	// of the batch being run are errored first so their callers see it.
	var bq *BatchQuery
	defer func() {
		if r := recover(); r != nil {
			if bq != nil {
				e.sched.UpdateAllErrors(bq, fmt.Errorf("panic in worker step: %v", r))
			}
			e.sink.IncCounter(MetricErrorExit, 1)
			panic(r)
		}
	}()

	bq = e.sched.Schedule()

	if err := e.exec.Collectives().TPSync(bq); err != nil {
		if bq != nil {
			e.sched.UpdateAllErrors(bq, err)
		}
		e.log.Printf("TPSync failed: %v", err)
		if e.cfg.TPSize > 1 || isAcceleratorFailure(err) {
			e.abortFatal(fmt.Sprintf("collective sync failure in tensor-parallel group: %v", err))
		}
		return
	}

	if bq == nil {
		return
	}

	if err := e.exec.Process(ctx, bq); err != nil {
		e.log.Printf("batch step failed (size=%d): %v", bq.Size(), err)
		e.sched.UpdateAllErrors(bq, err)
		e.sink.IncCounter(MetricErrorExit, 1)
		if e.cfg.TPSize > 1 || isAcceleratorFailure(err) {
			e.abortFatal(fmt.Sprintf("executor failure in tensor-parallel group: %v", err))
		}
		return
	}

	e.sched.UpdateBatchQuery(bq)

	e.sink.SetGauge(MetricAsyncBatchSize, float64(bq.Size()))
	e.sink.SetGauge(MetricAsyncWaitQuerySize, float64(e.sched.WaitStreamSize()))
	e.sink.SetGauge(MetricKVCacheMemUsedRatio, e.cache.BlockUsedRatio())
	e.sink.SetGauge(MetricAsyncIterateLatencyMs, float64(e.clock.Now().Sub(start).Milliseconds()))

	e.statsMu.Lock()
	e.stats = EngineStats{
		RunningBatchSize: e.sched.RunningBatchSize(),
		WaitQueueSize:    e.sched.WaitStreamSize(),
		CacheUsedRatio:   e.cache.BlockUsedRatio(),
		LastStepAt:       e.clock.Now(),
	}
	e.statsMu.Unlock()
}
