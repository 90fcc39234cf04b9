package client

import (
	"context"
	"sync"
)

// abortHandle ties a request key to the cancel function of one running call.
type abortHandle struct {
	id     uint64
	key    string
	cancel context.CancelCauseFunc
}

// handleTable tracks abort handles per request key. Several handles may share
// a key when deduplication is off.
type handleTable struct {
	mu     sync.Mutex
	nextID uint64
	byKey  map[string]map[uint64]*abortHandle
}

func newHandleTable() *handleTable {
	return &handleTable{byKey: make(map[string]map[uint64]*abortHandle)}
}

func (t *handleTable) add(key string, cancel context.CancelCauseFunc) *abortHandle {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	h := &abortHandle{id: t.nextID, key: key, cancel: cancel}
	if t.byKey[key] == nil {
		t.byKey[key] = make(map[uint64]*abortHandle)
	}
	t.byKey[key][h.id] = h
	apiInFlight.Inc()
	return h
}

// remove drops h. It is a no-op if h was already cancelled out of the table.
func (t *handleTable) remove(h *abortHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	handles, ok := t.byKey[h.key]
	if !ok {
		return
	}
	if _, ok := handles[h.id]; !ok {
		return
	}
	delete(handles, h.id)
	if len(handles) == 0 {
		delete(t.byKey, h.key)
	}
	apiInFlight.Dec()
}

// cancelKey cancels and removes every handle for key.
func (t *handleTable) cancelKey(key string, cause error) int {
	t.mu.Lock()
	handles := t.byKey[key]
	delete(t.byKey, key)
	t.mu.Unlock()

	for _, h := range handles {
		h.cancel(cause)
	}
	apiInFlight.Sub(float64(len(handles)))
	return len(handles)
}

// cancelAll cancels every handle and returns the affected keys.
func (t *handleTable) cancelAll(cause error) []string {
	t.mu.Lock()
	all := t.byKey
	t.byKey = make(map[string]map[uint64]*abortHandle)
	t.mu.Unlock()

	keys := make([]string, 0, len(all))
	n := 0
	for key, handles := range all {
		keys = append(keys, key)
		for _, h := range handles {
			h.cancel(cause)
			n++
		}
	}
	apiInFlight.Sub(float64(n))
	return keys
}

func (t *handleTable) has(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byKey[key]
	return ok
}

func (t *handleTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, handles := range t.byKey {
		n += len(handles)
	}
	return n
}
