package mapstore

import "sync"

// Checkpointer wraps a Store with call deduplication for checkpoint saves:
// if a scheduled checkpoint and a manual saveMap() request land on the same
// path concurrently, only one serialize-and-rename runs and both callers
// observe its result. Checkpoint paths are always strings, so this is a
// narrow in-flight-by-path map rather than a general keyed call group.
type Checkpointer struct {
	store *Store

	mu       sync.Mutex
	inFlight map[string]*checkpointCall
}

type checkpointCall struct {
	done chan struct{}
	err  error
}

// NewCheckpointer returns a Checkpointer backed by store.
func NewCheckpointer(store *Store) *Checkpointer {
	return &Checkpointer{store: store}
}

// Save serializes the map at key to path, deduplicating concurrent saves to
// the same path. Callers that arrive while a save to path is already
// running block on that save's result instead of starting a second one.
func (c *Checkpointer) Save(key, path string) error {
	c.mu.Lock()
	if c.inFlight == nil {
		c.inFlight = make(map[string]*checkpointCall)
	}
	if call, ok := c.inFlight[path]; ok {
		c.mu.Unlock()
		<-call.done
		return call.err
	}

	call := &checkpointCall{done: make(chan struct{})}
	c.inFlight[path] = call
	c.mu.Unlock()

	call.err = c.store.SaveCheckpoint(key, path)
	close(call.done)

	c.mu.Lock()
	delete(c.inFlight, path)
	c.mu.Unlock()

	return call.err
}
