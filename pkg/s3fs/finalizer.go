package s3fs

import (
	"sync"
)

// finalizer is the process-wide registry that guarantees no S3 client
// call is in flight after Finalize returns.
//
// Lock discipline: holders take mu in shared mode for the duration of a
// single S3 call; Finalize takes it exclusively. A pending exclusive
// acquirer blocks later shared acquirers, so callers must never hold a
// ClientLock across a call that acquires another one.
type finalizer struct {
	mu        sync.RWMutex
	finalized bool

	regMu   sync.Mutex
	holders map[uint64]*ClientHolder
	nextID  uint64
}

var globalFinalizer = &finalizer{holders: make(map[uint64]*ClientHolder)}

// Finalize shuts down the S3 subsystem. It blocks until every
// outstanding client lock is released, then clears each registered
// holder's client. After Finalize, every filesystem operation fails
// with ErrFinalized.
func Finalize() {
	globalFinalizer.finalize()
}

// IsFinalized reports whether the subsystem has been finalized.
func IsFinalized() bool {
	globalFinalizer.mu.RLock()
	defer globalFinalizer.mu.RUnlock()
	return globalFinalizer.finalized
}

func (f *finalizer) finalize() {
	f.mu.Lock()
	f.finalized = true
	f.mu.Unlock()

	// The exclusive phase above drained all shared lockers; clearing the
	// holders afterwards keeps holder mutexes out of the barrier's lock
	// ordering.
	f.regMu.Lock()
	holders := make([]*ClientHolder, 0, len(f.holders))
	for _, h := range f.holders {
		holders = append(holders, h)
	}
	f.holders = make(map[uint64]*ClientHolder)
	f.regMu.Unlock()

	for _, h := range holders {
		h.finalizeHolder()
	}
}

func (f *finalizer) register(h *ClientHolder) (uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.finalized {
		return 0, ErrFinalized
	}
	f.regMu.Lock()
	defer f.regMu.Unlock()
	f.nextID++
	id := f.nextID
	f.holders[id] = h
	return id, nil
}

func (f *finalizer) unregister(id uint64) {
	f.regMu.Lock()
	delete(f.holders, id)
	f.regMu.Unlock()
}

// ClientHolder owns a client on behalf of a FileSystem and hands out
// lifetime-safe locks on it.
type ClientHolder struct {
	fin *finalizer
	id  uint64

	mu     sync.Mutex
	client s3API
}

// newClientHolder registers a holder with the global finalizer.
func newClientHolder(client s3API) (*ClientHolder, error) {
	h := &ClientHolder{fin: globalFinalizer, client: client}
	id, err := globalFinalizer.register(h)
	if err != nil {
		return nil, err
	}
	h.id = id
	return h, nil
}

// Lock captures the client for a single S3 call. It returns ErrFinalized
// once the subsystem has been finalized.
//
// The returned lock pins the finalization barrier open: Finalize cannot
// complete until the lock is released. Never hold a lock across a call
// that may acquire another one; release between consecutive S3 requests.
func (h *ClientHolder) Lock() (*ClientLock, error) {
	h.fin.mu.RLock()
	if h.fin.finalized {
		h.fin.mu.RUnlock()
		return nil, ErrFinalized
	}
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		h.fin.mu.RUnlock()
		return nil, ErrFinalized
	}
	return &ClientLock{holder: h, client: client}, nil
}

// finalizeHolder clears the client exactly once.
func (h *ClientHolder) finalizeHolder() {
	h.mu.Lock()
	h.client = nil
	h.mu.Unlock()
}

// Close releases the holder's client and deregisters it. Safe to call
// repeatedly; concurrent S3 calls already holding a lock finish first.
func (h *ClientHolder) Close() {
	h.fin.unregister(h.id)
	h.finalizeHolder()
}

// ClientLock is a released-exactly-once shared lock on the finalization
// barrier, carrying the captured client.
type ClientLock struct {
	holder *ClientHolder
	client s3API
}

// Client returns the locked client. Only valid until Unlock.
func (l *ClientLock) Client() s3API { return l.client }

// Unlock releases the lock. Safe to call repeatedly.
func (l *ClientLock) Unlock() {
	if l.holder != nil {
		l.holder.fin.mu.RUnlock()
		l.holder = nil
		l.client = nil
	}
}

// Move transfers the release duty out of l so the release point is
// syntactically visible at the call site:
//
//	defer lock.Move().Unlock()
//
// l keeps its client for the call that follows; Unlock on l becomes a
// no-op.
func (l *ClientLock) Move() *ClientLock {
	moved := &ClientLock{holder: l.holder, client: l.client}
	l.holder = nil
	return moved
}

// resetFinalizerForTesting reopens the barrier between tests.
func resetFinalizerForTesting() {
	globalFinalizer.mu.Lock()
	globalFinalizer.finalized = false
	globalFinalizer.mu.Unlock()
	globalFinalizer.regMu.Lock()
	globalFinalizer.holders = make(map[uint64]*ClientHolder)
	globalFinalizer.regMu.Unlock()
}
