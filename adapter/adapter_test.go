package adapter

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/tracering/emitter"
	"github.com/yanet-platform/tracering/event"
	"github.com/yanet-platform/tracering/receiver"
)

// testFabric wires a receiver and an attached emitter over the same
// shared ring, so adapter tests exercise the real publish -> poll path
// rather than reaching into adapter internals.
type testFabric struct {
	rcv *receiver.Receiver
	em  *emitter.Emitter
}

func newTestFabric(t *testing.T) *testFabric {
	t.Helper()

	name := "/tracering_test_adapter_" + strings.ReplaceAll(t.Name(), "/", "_")
	rcv := receiver.New()
	require.NoError(t, rcv.Init(receiver.Config{Name: name, K: 6, Workers: 0}))
	t.Cleanup(func() { _ = rcv.Shutdown() })

	em := emitter.New()
	require.NoError(t, em.Attach(t.Context(), emitter.Config{Name: name, K: 6}))
	t.Cleanup(func() { _ = em.Shutdown() })

	return &testFabric{rcv: rcv, em: em}
}

func (f *testFabric) publish(t *testing.T, ts uint64, tid uint32, label string) {
	t.Helper()
	e := event.New(label)
	e.Timestamp = ts
	e.ThreadID = tid
	require.True(t, f.em.Publish(e))
}

type spanResult struct {
	path  string
	start uint64
	end   uint64
	tid   uint32
}

func collectSpans(a *Adapter) *[]spanResult {
	var mu sync.Mutex
	var got []spanResult
	_ = a.RegisterSpanHandler(func(s *event.Span) {
		mu.Lock()
		got = append(got, spanResult{
			path:  s.FullPathString(),
			start: s.StartTimestamp,
			end:   s.EndTimestamp,
			tid:   s.ThreadID,
		})
		mu.Unlock()
	})
	return &got
}

func Test_MatchedSpanSingleThread(t *testing.T) {
	f := newTestFabric(t)
	a := New()
	require.NoError(t, a.Init(f.rcv))
	defer a.Shutdown()

	got := collectSpans(a)

	f.publish(t, 10, 1, "A")
	f.publish(t, 20, 1, "B")
	f.publish(t, 30, 1, "B")
	f.publish(t, 40, 1, "A")
	f.rcv.Poll()

	require.Len(t, *got, 2)
	assert.Equal(t, spanResult{path: "A;B", start: 20, end: 30, tid: 1}, (*got)[0])
	assert.Equal(t, spanResult{path: "A", start: 10, end: 40, tid: 1}, (*got)[1])
}

func Test_TwoThreadsInterleavedNoCrossContamination(t *testing.T) {
	f := newTestFabric(t)
	a := New()
	require.NoError(t, a.Init(f.rcv))
	defer a.Shutdown()

	got := collectSpans(a)

	f.publish(t, 5, 1, "A")
	f.publish(t, 6, 2, "A")
	f.publish(t, 10, 1, "A")
	f.publish(t, 11, 2, "A")
	f.rcv.Poll()

	require.Len(t, *got, 2)
	assert.Contains(t, *got, spanResult{path: "A", start: 5, end: 10, tid: 1})
	assert.Contains(t, *got, spanResult{path: "A", start: 6, end: 11, tid: 2})
}

func Test_UnmatchedBeginsAtShutdownEmitNoSpans(t *testing.T) {
	f := newTestFabric(t)
	a := New()
	require.NoError(t, a.Init(f.rcv))

	got := collectSpans(a)

	f.publish(t, 1, 1, "A")
	f.publish(t, 2, 1, "B")
	f.rcv.Poll()

	require.NoError(t, a.Shutdown())
	assert.Empty(t, *got)
}

func Test_EmptyLabelIgnored(t *testing.T) {
	f := newTestFabric(t)
	a := New()
	require.NoError(t, a.Init(f.rcv))
	defer a.Shutdown()

	got := collectSpans(a)

	f.publish(t, 1, 1, "")
	f.publish(t, 2, 1, "A")
	f.publish(t, 3, 1, "A")
	f.rcv.Poll()

	require.Len(t, *got, 1)
	assert.Equal(t, "A", (*got)[0].path)
}

func Test_ShadowStackDepthCapDropsFurtherBegins(t *testing.T) {
	f := newTestFabric(t)
	a := New()
	require.NoError(t, a.Init(f.rcv))
	defer a.Shutdown()

	got := collectSpans(a)

	// Push DMax begins (fills the stack exactly), then 5 more that must
	// be silently dropped since the stack is at capacity.
	for i := 0; i < DMax+5; i++ {
		f.publish(t, uint64(i), 1, fmt.Sprintf("L%d", i))
	}
	f.rcv.Poll()
	assert.Equal(t, DMax, a.ActiveDepthForTest(1))

	// The matching end for the last label that was actually pushed
	// (L{DMax-1}) still pops correctly, proving the cap didn't corrupt
	// the stack state.
	f.publish(t, 1000, 1, fmt.Sprintf("L%d", DMax-1))
	f.rcv.Poll()

	require.Len(t, *got, 1)
	assert.Equal(t, DMax-1, a.ActiveDepthForTest(1))
}

func Test_ThreadTableCapIgnoresFurtherThreads(t *testing.T) {
	f := newTestFabric(t)
	a := New()
	require.NoError(t, a.Init(f.rcv))
	defer a.Shutdown()

	got := collectSpans(a)

	for tid := uint32(1); tid <= TMax; tid++ {
		f.publish(t, uint64(tid), tid, "A")
	}
	f.rcv.Poll()
	assert.Equal(t, TMax, a.ActiveThreads())

	// The (TMax+1)th thread is silently dropped...
	f.publish(t, 9999, TMax+1, "A")
	f.rcv.Poll()
	assert.Equal(t, TMax, a.ActiveThreads())

	// ...but existing threads still work.
	f.publish(t, 5000, 1, "A")
	f.rcv.Poll()
	require.Len(t, *got, 1)
	assert.EqualValues(t, 1, (*got)[0].tid)
}
