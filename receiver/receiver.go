// Package receiver implements the consumer-side poll loop: it owns the
// shared ring's lifecycle and forwards every polled event to a dispatcher
// of registered handlers.
package receiver

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/yanet-platform/tracering/dispatcher"
	"github.com/yanet-platform/tracering/event"
	"github.com/yanet-platform/tracering/registry"
	"github.com/yanet-platform/tracering/ring"
)

// Default worker pool shape for the receiver's dispatcher, per spec.md
// §4.D.
const (
	DefaultWorkers         = 4
	DefaultHandlerCapacity = 16
)

// Config controls ring creation and the receiver's dispatcher shape.
type Config struct {
	Name            string
	K               uint
	AllowOverwrite  bool
	Workers         int
	HandlerCapacity int
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = ring.DefaultName
	}
	if c.K == 0 {
		c.K = ring.DefaultK
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.HandlerCapacity == 0 {
		c.HandlerCapacity = DefaultHandlerCapacity
	}
	return c
}

// Receiver owns the shared ring and the dispatcher that fans polled events
// out to registered handlers.
type Receiver struct {
	cfg Config
	r   *ring.Ring
	d   *dispatcher.Dispatcher
	reg *registry.Registry[event.Event]
}

// New constructs an uninitialized Receiver.
func New() *Receiver {
	return &Receiver{}
}

// Init creates the shared ring (truncating it to the configured size),
// zeroes its indices, and constructs the event dispatcher. On any failure
// partially created state is torn down before Init returns.
func (rc *Receiver) Init(cfg Config) error {
	cfg = cfg.withDefaults()

	r, err := ring.Create(cfg.Name, cfg.K, cfg.AllowOverwrite)
	if err != nil {
		return fmt.Errorf("receiver: create ring: %w", err)
	}

	d := dispatcher.New(cfg.HandlerCapacity, cfg.Workers)

	rc.cfg = cfg
	rc.r = r
	rc.d = d
	rc.reg = registry.New[event.Event](d)
	return nil
}

// Poll drains every event published since the previous Poll call and
// forwards each, in ring order, to the dispatcher — blocking until every
// handler of that event has run before moving to the next. Poll must be
// called from a single goroutine at a time; the receiver enforces no such
// exclusion itself, matching spec.md's documented contract violation.
func (rc *Receiver) Poll() int {
	return rc.r.Poll(func(e *event.Event) {
		rc.reg.Emit(e)
	})
}

// Stats reports the underlying ring's delivery counters.
func (rc *Receiver) Stats() ring.Stats {
	return rc.r.Stats()
}

// RegisterHandler registers a context-free event handler.
func (rc *Receiver) RegisterHandler(fn registry.Func[event.Event]) error {
	return rc.reg.RegisterFunc(fn)
}

// RegisterHandlerStable registers a context-free event handler under a
// caller-owned, reusable handle so a later identical registration is
// recognized as a duplicate no-op (see registry.Registry.RegisterFuncStable).
func (rc *Receiver) RegisterHandlerStable(handle *registry.Func[event.Event]) error {
	return rc.reg.RegisterFuncStable(handle)
}

// RegisterHandlerWithContext registers a context-carrying event handler.
func (rc *Receiver) RegisterHandlerWithContext(fn registry.FuncWithContext[event.Event], ctx any) error {
	return rc.reg.RegisterWithContext(fn, ctx)
}

// UnregisterHandler removes every handler registered under ctx (the handle
// passed to RegisterHandlerStable, or the caller-supplied context for
// RegisterHandlerWithContext). It returns the number of handlers removed.
// RegisterHandler stores its handler under an internal trampoline that is
// not exposed, so such registrations cannot be removed through this method.
func (rc *Receiver) UnregisterHandler(ctx any) int {
	return rc.reg.UnregisterContext(ctx)
}

// Shutdown destroys the dispatcher (joining its workers), then unmaps and
// unlinks the shared ring. Errors from each step are aggregated rather
// than short-circuited, so a failure unmapping does not hide a failure
// unlinking.
func (rc *Receiver) Shutdown() error {
	var result error

	rc.d.Destroy()

	if err := rc.r.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("receiver: close ring: %w", err))
	}
	if err := rc.r.Unlink(); err != nil {
		result = multierror.Append(result, fmt.Errorf("receiver: unlink ring: %w", err))
	}

	return result
}
