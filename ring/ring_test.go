package ring

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/tracering/event"
)

func testName(t *testing.T) string {
	t.Helper()
	return "/tracering_test_" + strings.ReplaceAll(t.Name(), "/", "_")
}

func createTestRing(t *testing.T, k uint, allowOverwrite bool) *Ring {
	t.Helper()

	name := testName(t)
	r, err := Create(name, k, allowOverwrite)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = r.Close()
		_ = r.Unlink()
	})
	return r
}

func Test_PublishPollRoundTrip(t *testing.T) {
	r := createTestRing(t, 4, false) // N=16

	e := event.New("A")
	e.Timestamp = 100
	e.ThreadID = 7

	ok := r.Publish(&e)
	require.True(t, ok)

	var got []event.Event
	n := r.Poll(func(ev *event.Event) {
		got = append(got, *ev)
	})

	assert.Equal(t, 1, n)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(100), got[0].Timestamp)
	assert.Equal(t, uint32(7), got[0].ThreadID)
	assert.Equal(t, "A", got[0].LabelString())
}

func Test_PublishDeliveredInOrder(t *testing.T) {
	r := createTestRing(t, 8, false) // N=256

	for i := 0; i < 10; i++ {
		e := event.New(fmt.Sprintf("ev-%d", i))
		e.Timestamp = uint64(i)
		require.True(t, r.Publish(&e))
	}

	var order []uint64
	r.Poll(func(ev *event.Event) {
		order = append(order, ev.Timestamp)
	})

	for i, ts := range order {
		assert.EqualValues(t, i, ts)
	}
}

func Test_NonOverwriteDropsWhenFull(t *testing.T) {
	const k = 4 // N=16
	r := createTestRing(t, k, false)

	n := r.N()
	for i := uint32(0); i < n; i++ {
		e := event.New("x")
		require.True(t, r.Publish(&e), "publish %d should succeed", i)
	}

	overflow := event.New("overflow")
	ok := r.Publish(&overflow)
	assert.False(t, ok, "publish N+1'th event should be dropped under non-overwrite")

	stats := r.Stats()
	assert.EqualValues(t, 1, stats.Dropped)
	assert.EqualValues(t, n, stats.Published)
}

func Test_PollThenPublishAgainFillsRing(t *testing.T) {
	r := createTestRing(t, 4, false) // N=16
	n := r.N()

	for i := uint32(0); i < n; i++ {
		e := event.New("x")
		require.True(t, r.Publish(&e))
	}
	delivered := r.Poll(func(*event.Event) {})
	assert.EqualValues(t, n, delivered)

	for i := uint32(0); i < n; i++ {
		e := event.New("y")
		assert.True(t, r.Publish(&e), "ring should accept N more events after a full drain")
	}
}

func Test_OverwritePolicyNeverDrops(t *testing.T) {
	r := createTestRing(t, 4, true) // N=16

	n := r.N()
	for i := uint32(0); i < 2*n; i++ {
		e := event.New("x")
		assert.True(t, r.Publish(&e), "overwrite policy must never report a drop")
	}

	stats := r.Stats()
	assert.EqualValues(t, 0, stats.Dropped)
	assert.EqualValues(t, 2*n, stats.Published)
}

func Test_AttachSeesPublishedEvents(t *testing.T) {
	name := testName(t)
	consumer, err := Create(name, 4, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = consumer.Close()
		_ = consumer.Unlink()
	})

	producer, err := Attach(name, 4, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = producer.Close() })

	e := event.New("cross-process")
	e.Timestamp = 42
	require.True(t, producer.Publish(&e))

	var got []event.Event
	consumer.Poll(func(ev *event.Event) { got = append(got, *ev) })

	require.Len(t, got, 1)
	assert.Equal(t, uint64(42), got[0].Timestamp)
}
