package emitter

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/tracering/event"
	"github.com/yanet-platform/tracering/ring"
)

func testRingName(t *testing.T) string {
	t.Helper()
	return "/tracering_test_" + strings.ReplaceAll(t.Name(), "/", "_")
}

func Test_PublishWithoutAttachIsNoop(t *testing.T) {
	em := New()
	ok := em.Publish(Stamp("A"))
	assert.False(t, ok)
}

func Test_AttachPublishShutdown(t *testing.T) {
	name := testRingName(t)

	consumer, err := ring.Create(name, 4, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = consumer.Close()
		_ = consumer.Unlink()
	})

	em := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, em.Attach(ctx, Config{Name: name, K: 4}))
	t.Cleanup(func() { _ = em.Shutdown() })

	for i := 0; i < 5; i++ {
		ok := em.Publish(Stamp(fmt.Sprintf("label-%d", i)))
		assert.True(t, ok)
	}

	var labels []string
	n := consumer.Poll(func(ev *event.Event) {
		labels = append(labels, ev.LabelString())
	})
	assert.Equal(t, 5, n)
	assert.Equal(t, []string{"label-0", "label-1", "label-2", "label-3", "label-4"}, labels)
}
