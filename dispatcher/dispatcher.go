// Package dispatcher implements the reusable fan-out engine shared by the
// receiver (event handlers) and the stack-trace adapter (span handlers):
// register/unregister (callback, context) pairs and emit one payload to all
// of them, either synchronously on the caller's goroutine or through a
// fixed worker pool, blocking until every handler has finished.
package dispatcher

import (
	"errors"
	"sync"
)

// ErrCapacityExceeded is returned by Register when the handler table is
// already at max capacity.
var ErrCapacityExceeded = errors.New("dispatcher: handler capacity exceeded")

// ErrNotFound is returned by Unregister when no matching (callback,
// context) pair is registered.
var ErrNotFound = errors.New("dispatcher: handler not found")

// MaxQueue bounds the number of outstanding worker tasks across all
// in-flight Emit calls. An Emit that would push the queue past this bound
// blocks on the dispatcher's condition variable until enough tasks have
// drained.
const MaxQueue = 128

// Callback receives the payload handed to Emit along with the context it
// was registered with.
type Callback func(payload any, ctx any)

type handler struct {
	cb  Callback
	ctx any
}

type task struct {
	h       handler
	payload any
}

// Dispatcher is a fan-out engine with a fixed handler capacity and either
// zero workers (synchronous mode: Emit runs handlers on the caller's
// goroutine) or a fixed pool of worker goroutines (worker mode: Emit
// enqueues one task per handler and blocks until all have run).
type Dispatcher struct {
	mu   sync.Mutex
	cond *sync.Cond // guards taskAvail / spaceAvail / pendingDone, all keyed off mu

	maxHandlers int
	handlers    []handler

	numWorkers int
	queue      []task
	pending    int
	running    bool
	wg         sync.WaitGroup
}

// New constructs a running Dispatcher. numWorkers == 0 selects synchronous
// mode; numWorkers > 0 starts that many worker goroutines immediately.
func New(maxHandlers, numWorkers int) *Dispatcher {
	d := &Dispatcher{
		maxHandlers: maxHandlers,
		numWorkers:  numWorkers,
		running:     true,
	}
	d.cond = sync.NewCond(&d.mu)

	for i := 0; i < numWorkers; i++ {
		d.wg.Add(1)
		go d.workerLoop()
	}
	return d
}

// Register appends (cb, ctx) if not already present and capacity remains.
// Registering an identical (cb, ctx) pair a second time is a no-op success,
// not an error. Ordering of the handler list is insertion order.
func (d *Dispatcher) Register(cb Callback, ctx any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, h := range d.handlers {
		if sameHandler(h, handler{cb: cb, ctx: ctx}) {
			return nil
		}
	}
	if len(d.handlers) >= d.maxHandlers {
		return ErrCapacityExceeded
	}
	d.handlers = append(d.handlers, handler{cb: cb, ctx: ctx})
	return nil
}

// Unregister removes the matching (cb, ctx) pair, preserving the insertion
// order of the remainder. Returns ErrNotFound if no such pair is
// registered.
func (d *Dispatcher) Unregister(cb Callback, ctx any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	target := handler{cb: cb, ctx: ctx}
	for i, h := range d.handlers {
		if sameHandler(h, target) {
			d.handlers = append(d.handlers[:i], d.handlers[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// UnregisterContext removes every handler registered with the given
// context, regardless of callback identity. It returns the number of
// handlers removed. Used by higher-level wrappers that own a context
// (closure, object pointer) and want to tear down every registration tied
// to it in one call.
func (d *Dispatcher) UnregisterContext(ctx any) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.handlers[:0:0]
	removed := 0
	for _, h := range d.handlers {
		if sameCtx(h.ctx, ctx) {
			removed++
			continue
		}
		kept = append(kept, h)
	}
	d.handlers = kept
	return removed
}

// Emit fans payload out to every registered handler and blocks until all
// of them have finished. In synchronous mode handlers run in registration
// order on the caller's goroutine, serialized against register/unregister.
// In worker mode handlers may run concurrently on the worker pool; their
// relative completion order is unspecified, but Emit still does not return
// until every one of them has completed. Successive Emit calls on the same
// dispatcher do not overlap: the second begins strictly after the first
// returns, so callers that feed Emit in a fixed order (e.g. ring order)
// preserve that order at the handler boundary.
func (d *Dispatcher) Emit(payload any) {
	d.mu.Lock()

	if d.numWorkers == 0 {
		// Handlers run while mu is still held, matching the C original's
		// dispatcher_emit: the non-threaded branch invokes callbacks inside
		// the same pthread_mutex_lock span that guards the handler table, so
		// a concurrent Register/Unregister cannot shift the slice mid-loop.
		defer d.mu.Unlock()
		for _, h := range d.handlers {
			h.cb(payload, h.ctx)
		}
		return
	}

	handlers := d.handlers
	for len(d.queue)+len(handlers) > MaxQueue {
		d.cond.Wait()
	}
	for _, h := range handlers {
		d.queue = append(d.queue, task{h: h, payload: payload})
	}
	d.pending += len(handlers)
	d.cond.Broadcast()

	for d.pending > 0 {
		d.cond.Wait()
	}
	d.mu.Unlock()
}

// Destroy stops accepting work, wakes and joins every worker goroutine,
// and releases the dispatcher's resources. No operation on the dispatcher
// is valid after Destroy returns.
func (d *Dispatcher) Destroy() {
	d.mu.Lock()
	d.running = false
	d.cond.Broadcast()
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) workerLoop() {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		for d.running && len(d.queue) == 0 {
			d.cond.Wait()
		}
		if !d.running && len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		t := d.queue[0]
		d.queue = d.queue[1:]
		d.cond.Broadcast() // wake any Emit blocked on queue space
		d.mu.Unlock()

		t.h.cb(t.payload, t.h.ctx)

		d.mu.Lock()
		d.pending--
		if d.pending == 0 {
			d.cond.Broadcast()
		}
		d.mu.Unlock()
	}
}

func sameHandler(a, b handler) bool {
	return sameCb(a.cb, b.cb) && sameCtx(a.ctx, b.ctx)
}

// sameCb compares callback identity by pointer. Go function values are not
// comparable in general, so Register/Unregister rely on reflect to compare
// the underlying code pointers; callers that register the same closure
// literal at two call sites get two distinct, non-matching entries, which
// matches the spec's pointer-identity model (see registry.Registry for the
// plain-callback trampoline that makes this usable from ergonomic call
// sites).
func sameCb(a, b Callback) bool {
	return funcPointer(a) == funcPointer(b)
}

func sameCtx(a, b any) bool {
	return a == b
}
