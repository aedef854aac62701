package decoder

import "sync"

// loraAdapter is a single loaded adapter and its readers. We intentionally do
// not use sync.RWMutex here: RWMutex is writer-preferring on the standard
// library's implementation, which would block a newly arriving reader once a
// writer is pending — and spec.md §4.2 requires readers never to block
// readers, only drain against a pending unload. A plain mutex plus a
// sync.Cond gives us exact control over who gets woken and when.
type loraAdapter struct {
	id       int32
	name     string
	readers  int
	draining bool
}

// LoraTable is the reference-counted adapter resource table (spec.md §4.2).
type LoraTable struct {
	mu      sync.Mutex
	cond    *sync.Cond
	byName  map[string]*loraAdapter
	byID    map[int32]*loraAdapter
	nextID  int32
}

// NewLoraTable creates an empty adapter table.
func NewLoraTable() *LoraTable {
	t := &LoraTable{
		byName: make(map[string]*loraAdapter),
		byID:   make(map[int32]*loraAdapter),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Load registers name as a loaded adapter, or returns the id of the existing
// one if name is already loaded. It does not block on readers.
func (t *LoraTable) Load(name string) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if a, ok := t.byName[name]; ok {
		return a.id
	}
	id := t.nextID
	t.nextID++
	a := &loraAdapter{id: id, name: name}
	t.byName[name] = a
	t.byID[id] = a
	return id
}

// ReadAcquire increments the reader count for name and returns the id to
// attach to a request. It blocks only while an unload of that adapter is
// draining. name must already be registered via Load; an unloaded or
// never-loaded name returns a KindAdapterNotFound error rather than
// conjuring a fresh empty adapter.
func (t *LoraTable) ReadAcquire(name string) (int32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.byName[name]
	if !ok {
		return NoLoraID, newEngineError(KindAdapterNotFound, "lora adapter %q is not loaded", name)
	}
	for a.draining {
		t.cond.Wait()
		if t.byName[name] != a {
			return NoLoraID, newEngineError(KindAdapterNotFound, "lora adapter %q was unloaded", name)
		}
	}
	a.readers++
	return a.id, nil
}

// GetID looks up the id registered for name without touching its reader
// count, the read-only counterpart to ReadAcquire.
func (t *LoraTable) GetID(name string) (int32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.byName[name]
	if !ok {
		return NoLoraID, false
	}
	return a.id, true
}

// ReadRelease decrements the reader count for id. It wakes anyone waiting on
// a drain once the count reaches zero.
func (t *LoraTable) ReadRelease(id int32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.byID[id]
	if !ok {
		return
	}
	a.readers--
	if a.readers <= 0 {
		t.cond.Broadcast()
	}
}

// Unload marks name as draining, blocks until all current readers release,
// then removes it from the table. New readers arriving while draining block
// behind the drain rather than behind unrelated adapters.
func (t *LoraTable) Unload(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.byName[name]
	if !ok {
		return false
	}
	a.draining = true
	for a.readers > 0 {
		t.cond.Wait()
	}
	delete(t.byName, name)
	delete(t.byID, a.id)
	t.cond.Broadcast()
	return true
}

// NameOf returns the adapter name registered under id, if any.
func (t *LoraTable) NameOf(id int32) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.byID[id]
	if !ok {
		return "", false
	}
	return a.name, true
}

// Len returns the number of currently loaded adapters.
func (t *LoraTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byName)
}
