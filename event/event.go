// Package event defines the fixed-size records that cross the shared-memory
// ring and the spans the stack-trace adapter derives from them.
package event

import (
	"time"
	"unsafe"
)

// LabelSize is the fixed width of an event label, including its terminator.
const LabelSize = 52

// FullPathSize is the fixed width of a span's joined call path, including
// its terminator.
const FullPathSize = 256

// Event is the wire record published into the shared ring. Its layout is
// the system's ABI and must stay byte-compatible between producer and
// consumer binaries: 8-byte timestamp, 4-byte thread id, 52-byte label,
// 64 bytes total, no implicit padding.
type Event struct {
	Timestamp uint64
	ThreadID  uint32
	Label     [LabelSize]byte
}

// Size is the on-the-wire size of Event, asserted against unsafe.Sizeof at
// package init so a layout change trips immediately rather than silently
// corrupting the shared ring.
const Size = 8 + 4 + LabelSize

func init() {
	if unsafe.Sizeof(Event{}) != Size {
		panic("event: Event layout drifted from the fixed 64-byte ABI")
	}
}

// New builds an event with the given label, truncating to LabelSize-1 bytes
// and leaving the record zero-terminated. Timestamp and ThreadID are left
// zero; callers normally go through emitter.Stamp instead.
func New(label string) Event {
	var e Event
	e.SetLabel(label)
	return e
}

// SetLabel copies label into the fixed array, truncating to LabelSize-1
// bytes and always leaving a trailing zero byte. The ring and dispatcher
// never interpret Label; only the adapter compares it.
func (e *Event) SetLabel(label string) {
	e.Label = [LabelSize]byte{}
	copy(e.Label[:LabelSize-1], label)
}

// LabelString returns the label as a Go string, stopping at the first zero
// byte.
func (e *Event) LabelString() string {
	return cString(e.Label[:])
}

// Span is a matched begin/end pair promoted to a duration record with a
// nested call path.
type Span struct {
	FullPath       [FullPathSize]byte
	StartTimestamp uint64
	EndTimestamp   uint64
	ThreadID       uint32
}

// FullPathString returns the span's path as a Go string, stopping at the
// first zero byte.
func (s *Span) FullPathString() string {
	return cString(s.FullPath[:])
}

// Duration is a pure convenience derived from the two timestamps already
// present on the span; it is not part of the wire contract.
func (s *Span) Duration() time.Duration {
	if s.EndTimestamp < s.StartTimestamp {
		return 0
	}
	return time.Duration(s.EndTimestamp - s.StartTimestamp)
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
