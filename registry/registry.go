// Package registry provides a uniform handler-registration facade over a
// dispatcher.Dispatcher, used identically by the receiver (event handlers)
// and the stack-trace adapter (span handlers): register a context-free
// callback, register a context-carrying callback, unregister by pair, or
// unregister every registration sharing a context.
package registry

import (
	"reflect"
	"sync"

	"github.com/yanet-platform/tracering/dispatcher"
)

// Func is a context-free handler for payload T.
type Func[T any] func(*T)

// FuncWithContext is a context-carrying handler for payload T.
type FuncWithContext[T any] func(*T, any)

// Registry wraps a *dispatcher.Dispatcher with typed registration entry
// points for a single payload type T (event.Event for the receiver,
// event.Span for the adapter).
type Registry[T any] struct {
	d *dispatcher.Dispatcher

	mu    sync.Mutex
	pairs []*ctxEntry[T]
}

// ctxEntry is the wrapper context a RegisterWithContext registration is
// actually stored under in the dispatcher: it bundles the caller's fn and
// ctx behind a single stable pointer, so the dispatcher's own ctx-identity
// removal (UnregisterContext) can be used to drop exactly one registration,
// letting Unregister below match fn by code pointer rather than with ==.
// The caller's ctx is still compared with == by Unregister and
// UnregisterContext, so it must hold a comparable value.
type ctxEntry[T any] struct {
	fn  FuncWithContext[T]
	ctx any
}

// New wraps an existing dispatcher. The dispatcher's lifecycle (Destroy)
// remains the caller's responsibility.
func New[T any](d *dispatcher.Dispatcher) *Registry[T] {
	return &Registry[T]{d: d}
}

// trampoline gives a plain, context-free callback a stable, comparable
// identity to register under: the dispatcher stores (callback, context)
// pairs and Go function values are not comparable, so a context-free
// registration is implemented internally as a context-carrying entry whose
// context is the trampoline itself (a single allocated pointer) and whose
// callback forwards to the wrapped function. Registering the same function
// value twice therefore allocates two distinct trampolines and is NOT
// treated as a duplicate by the dispatcher — to match spec.md's
// pointer-identity model exactly, callers that need idempotent
// registration of a plain callback must keep and reuse the same *Func[T]
// across calls (see RegisterFuncStable).
type trampoline[T any] struct {
	fn Func[T]
}

// RegisterFunc registers a context-free callback. Each call allocates a
// fresh trampoline, so calling RegisterFunc twice with an equivalent
// function literal registers two handlers, consistent with Go function
// values having no identity to deduplicate on.
func (r *Registry[T]) RegisterFunc(fn Func[T]) error {
	tr := &trampoline[T]{fn: fn}
	return r.d.Register(func(payload any, ctx any) {
		ctx.(*trampoline[T]).fn(payload.(*T))
	}, tr)
}

// RegisterFuncStable registers a context-free callback under a
// caller-supplied, reusable trampoline handle. Passing the same handle
// twice is recognized as a duplicate no-op, matching spec.md's general
// duplicate-registration rule for the case where the caller maintains
// pointer identity explicitly (the behavior spec.md leaves open in its
// §9 discussion of plain-callback registration).
func (r *Registry[T]) RegisterFuncStable(handle *Func[T]) error {
	return r.d.Register(func(payload any, ctx any) {
		(*ctx.(*Func[T]))(payload.(*T))
	}, handle)
}

// RegisterWithContext registers a context-carrying callback directly.
func (r *Registry[T]) RegisterWithContext(fn FuncWithContext[T], ctx any) error {
	entry := &ctxEntry[T]{fn: fn, ctx: ctx}
	if err := r.d.Register(func(payload any, c any) {
		e := c.(*ctxEntry[T])
		e.fn(payload.(*T), e.ctx)
	}, entry); err != nil {
		return err
	}

	r.mu.Lock()
	r.pairs = append(r.pairs, entry)
	r.mu.Unlock()
	return nil
}

// Unregister removes the registration made by RegisterWithContext(fn, ctx)
// for the exact (fn, ctx) pair, matching fn by code pointer the same way
// dispatcher.Unregister matches callbacks. It returns dispatcher.ErrNotFound
// if no such pair is registered.
func (r *Registry[T]) Unregister(fn FuncWithContext[T], ctx any) error {
	r.mu.Lock()
	target := reflect.ValueOf(fn).Pointer()
	var found *ctxEntry[T]
	for i, e := range r.pairs {
		if reflect.ValueOf(e.fn).Pointer() == target && e.ctx == ctx {
			found = e
			r.pairs = append(r.pairs[:i], r.pairs[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if found == nil {
		return dispatcher.ErrNotFound
	}
	r.d.UnregisterContext(found)
	return nil
}

// UnregisterContext removes every registration sharing ctx: both
// RegisterWithContext(fn, ctx) registrations matching on the caller's own
// ctx, and any RegisterFuncStable handle passed directly as ctx. It returns
// the number of handlers removed.
func (r *Registry[T]) UnregisterContext(ctx any) int {
	r.mu.Lock()
	kept := r.pairs[:0:0]
	removed := 0
	for _, e := range r.pairs {
		if e.ctx == ctx {
			removed += r.d.UnregisterContext(e)
			continue
		}
		kept = append(kept, e)
	}
	r.pairs = kept
	r.mu.Unlock()

	return removed + r.d.UnregisterContext(ctx)
}

// Emit fans payload out to every registered handler, blocking until all
// have completed.
func (r *Registry[T]) Emit(payload *T) {
	r.d.Emit(payload)
}
