// Package adapter implements the stack-trace adapter: it subscribes to a
// receiver, maintains per-thread shadow stacks, and on each matching
// begin/end pair of events emits a span carrying the semicolon-joined call
// path through its own dispatcher instance.
package adapter

import (
	"sync"

	"github.com/yanet-platform/tracering/dispatcher"
	"github.com/yanet-platform/tracering/event"
	"github.com/yanet-platform/tracering/receiver"
	"github.com/yanet-platform/tracering/registry"
)

// DMax is the maximum shadow-stack depth per thread. Begins past this
// depth are dropped silently.
const DMax = 32

// TMax is the maximum number of distinct thread ids tracked at once.
// Events from further threads are silently ignored once the table is full.
const TMax = 64

type stackEntry struct {
	label          [event.LabelSize]byte
	startTimestamp uint64
	fullPath       [event.FullPathSize]byte
	fullPathLen    int
}

type threadSlot struct {
	threadID uint32
	inUse    bool
	depth    int
	stack    [DMax]stackEntry
}

// Adapter subscribes to a receiver and converts matched begin/end events
// into spans.
type Adapter struct {
	mu      sync.Mutex
	slots   [TMax]threadSlot
	occ     occupancy
	handle  registry.Func[event.Event]
	spanD   *dispatcher.Dispatcher
	spanReg *registry.Registry[event.Span]
	rcv     *receiver.Receiver
}

// New constructs an uninitialized Adapter.
func New() *Adapter {
	return &Adapter{}
}

// Init registers the adapter as a receiver handler and creates the span
// dispatcher in synchronous mode (spec.md fixes the adapter's dispatcher
// at zero workers, meaning span handlers run on the polling goroutine).
func (a *Adapter) Init(rcv *receiver.Receiver) error {
	a.rcv = rcv
	a.spanD = dispatcher.New(receiver.DefaultHandlerCapacity, 0)
	a.spanReg = registry.New[event.Span](a.spanD)

	a.handle = func(e *event.Event) {
		a.handleEvent(e)
	}
	return rcv.RegisterHandlerStable(&a.handle)
}

// ActiveThreads reports how many of the TMax thread slots are currently in
// use. It is an introspection aid for operators and tests, resolving
// spec.md §9's open question by making "silently ignored once full"
// observable to the operator without changing its silence to the
// producer.
func (a *Adapter) ActiveThreads() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.occ.count()
}

// ActiveDepthForTest reports the current shadow-stack depth for threadID,
// or -1 if the thread is not tracked. It exists for tests that need to
// assert on the depth cap without reaching past the adapter's lock.
func (a *Adapter) ActiveDepthForTest(threadID uint32) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.slots {
		if a.slots[i].inUse && a.slots[i].threadID == threadID {
			return a.slots[i].depth
		}
	}
	return -1
}

// RegisterSpanHandler registers a context-free span handler.
func (a *Adapter) RegisterSpanHandler(fn registry.Func[event.Span]) error {
	return a.spanReg.RegisterFunc(fn)
}

// RegisterSpanHandlerWithContext registers a context-carrying span
// handler.
func (a *Adapter) RegisterSpanHandlerWithContext(fn registry.FuncWithContext[event.Span], ctx any) error {
	return a.spanReg.RegisterWithContext(fn, ctx)
}

// UnregisterSpanHandler removes every span handler registered under ctx.
func (a *Adapter) UnregisterSpanHandler(ctx any) int {
	return a.spanReg.UnregisterContext(ctx)
}

// Shutdown unregisters the adapter from its receiver, destroys the span
// dispatcher (joining its workers), and zeros the thread table. Any
// begins still open on any shadow stack are discarded without emitting a
// span, per spec.md's unmatched-begins-at-shutdown invariant.
func (a *Adapter) Shutdown() error {
	if a.rcv != nil {
		a.rcv.UnregisterHandler(&a.handle)
	}
	if a.spanD != nil {
		a.spanD.Destroy()
	}

	a.mu.Lock()
	a.slots = [TMax]threadSlot{}
	a.occ = 0
	a.mu.Unlock()

	return nil
}

// handleEvent implements spec.md §4.F's event handling rule.
func (a *Adapter) handleEvent(e *event.Event) {
	if e.Label[0] == 0 {
		return // empty label: ignore
	}

	a.mu.Lock()

	slot := a.lookupOrAllocate(e.ThreadID)
	if slot == nil {
		a.mu.Unlock()
		return // thread table full: ignore
	}

	if slot.depth > 0 && slot.stack[slot.depth-1].label == e.Label {
		// End: pop, build the span, release the lock, then publish.
		top := slot.stack[slot.depth-1]
		slot.depth--

		span := event.Span{
			StartTimestamp: top.startTimestamp,
			EndTimestamp:   e.Timestamp,
			ThreadID:       e.ThreadID,
		}
		copy(span.FullPath[:], top.fullPath[:top.fullPathLen])

		a.mu.Unlock()
		a.spanReg.Emit(&span)
		return
	}

	// Begin: push if there is room, else drop silently.
	if slot.depth < DMax {
		entry := &slot.stack[slot.depth]
		entry.label = e.Label
		entry.startTimestamp = e.Timestamp
		entry.fullPathLen = buildFullPath(entry.fullPath[:], slot, slot.depth, e.Label)
		slot.depth++
	}

	a.mu.Unlock()
}

// buildFullPath writes the joined call path for a new entry at the given
// depth into dst (sized event.FullPathSize) and returns the number of
// bytes written (excluding the trailing zero terminator, which it always
// writes right after the path; the path is truncated to leave room for it).
func buildFullPath(dst []byte, slot *threadSlot, depth int, label [event.LabelSize]byte) int {
	labelStr := cString(label[:])

	var n int
	if depth == 0 {
		n = copy(dst[:len(dst)-1], labelStr)
	} else {
		parent := &slot.stack[depth-1]
		parentPath := parent.fullPath[:parent.fullPathLen]

		n = copy(dst[:len(dst)-1], parentPath)
		if n < len(dst)-1 {
			n += copy(dst[n:len(dst)-1], ";")
		}
		if n < len(dst)-1 {
			n += copy(dst[n:len(dst)-1], labelStr)
		}
	}

	// dst may hold a stale, longer path from a previous occupant of this
	// stack slot; always re-plant the terminator right after what we just
	// wrote so cString never reads past this entry's own content.
	dst[n] = 0
	return n
}

// lookupOrAllocate finds the slot for threadID, allocating a free one if
// none is tracked yet. It returns nil if the table is full and threadID is
// not already tracked. Caller must hold a.mu.
func (a *Adapter) lookupOrAllocate(threadID uint32) *threadSlot {
	for i := range a.slots {
		if a.occ.isSet(i) && a.slots[i].threadID == threadID {
			return &a.slots[i]
		}
	}

	i, ok := a.occ.firstFree()
	if !ok {
		return nil
	}

	a.occ.set(i)
	free := &a.slots[i]
	free.inUse = true
	free.threadID = threadID
	free.depth = 0
	return free
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
