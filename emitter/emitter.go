// Package emitter implements the producer side of the tracing fabric:
// publishing event records into the shared ring from any goroutine of the
// producer process.
package emitter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sys/unix"

	"github.com/yanet-platform/tracering/event"
	"github.com/yanet-platform/tracering/ring"
)

// Emitter maps the ring read/write region and publishes events into it.
// Publish is safe to call from any number of goroutines concurrently; it
// never retains a reference to the caller's event.
type Emitter struct {
	r atomic.Pointer[ring.Ring]
}

// Config controls how an Emitter attaches to the shared ring.
type Config struct {
	Name           string
	K              uint
	AllowOverwrite bool
}

// New returns an unattached Emitter; Publish is a silent no-op until
// Attach succeeds.
func New() *Emitter {
	return &Emitter{}
}

// Attach maps the ring's read/write region, created ahead of time by the
// receiver. Since the producer may start before the consumer has created
// the shared region, Attach retries with exponential backoff, bounded by
// ctx, instead of failing on the first attempt.
func (em *Emitter) Attach(ctx context.Context, cfg Config) error {
	if cfg.Name == "" {
		cfg.Name = ring.DefaultName
	}
	if cfg.K == 0 {
		cfg.K = ring.DefaultK
	}

	r, err := backoff.Retry(ctx, func() (*ring.Ring, error) {
		return ring.Attach(cfg.Name, cfg.K, cfg.AllowOverwrite)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(0))
	if err != nil {
		return err
	}

	em.r.Store(r)
	return nil
}

// Shutdown unmaps the ring; it does not unlink the shared object, which
// remains owned by the receiver.
func (em *Emitter) Shutdown() error {
	r := em.r.Swap(nil)
	if r == nil {
		return nil
	}
	return r.Close()
}

// Stamp fills e's Timestamp (wall-clock nanoseconds, the monotonic-clock
// analogue available without platform-specific calls) and ThreadID (the
// OS thread id of the calling goroutine). A goroutine may migrate between
// OS threads between calls; callers that need a stable id across a
// begin/end pair should pin with runtime.LockOSThread, exactly as the
// platform-call non-goal assumes callers handle themselves.
func Stamp(label string) event.Event {
	e := event.New(label)
	e.Timestamp = uint64(time.Now().UnixNano())
	e.ThreadID = uint32(unix.Gettid())
	return e
}

// Publish performs the ring publish. If the emitter is not attached, it is
// a silent no-op returning false, matching the unmapped-emitter failure
// mode.
func (em *Emitter) Publish(e event.Event) bool {
	r := em.r.Load()
	if r == nil {
		return false
	}
	return r.Publish(&e)
}

// Begin stamps and publishes a begin event for label. End does the same
// for the matching end event. These replace the compile-time macro sugar
// that the spec excludes from scope: Go has no macro layer, so an ordinary
// function pair is the idiomatic equivalent of a user-written trace site.
func (em *Emitter) Begin(label string) {
	em.Publish(Stamp(label))
}

// End stamps and publishes an end event for label.
func (em *Emitter) End(label string) {
	em.Publish(Stamp(label))
}
