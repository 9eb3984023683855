package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/tracering/dispatcher"
)

type payload struct{ n int }

func Test_RegisterWithContextThenUnregisterPair(t *testing.T) {
	d := dispatcher.New(4, 0)
	defer d.Destroy()

	r := New[payload](d)

	var got int
	fn := func(p *payload, _ any) { got = p.n }
	ctx := "ctx-a"

	require.NoError(t, r.RegisterWithContext(fn, ctx))
	r.Emit(&payload{n: 1})
	assert.Equal(t, 1, got)

	require.NoError(t, r.Unregister(fn, ctx))

	got = 0
	r.Emit(&payload{n: 2})
	assert.Equal(t, 0, got, "handler must not fire after Unregister")
}

func Test_UnregisterUnknownPairReturnsNotFound(t *testing.T) {
	d := dispatcher.New(4, 0)
	defer d.Destroy()

	r := New[payload](d)
	fn := func(p *payload, _ any) {}

	err := r.Unregister(fn, "never-registered")
	assert.ErrorIs(t, err, dispatcher.ErrNotFound)
}

func Test_UnregisterContextRemovesContextPairKeepsStableHandle(t *testing.T) {
	d := dispatcher.New(4, 0)
	defer d.Destroy()

	r := New[payload](d)

	var fromPair, fromStable int
	ctx := "shared-ctx"
	require.NoError(t, r.RegisterWithContext(func(p *payload, _ any) { fromPair = p.n }, ctx))

	var stableHandle Func[payload] = func(p *payload) { fromStable = p.n }
	require.NoError(t, r.RegisterFuncStable(&stableHandle))

	removed := r.UnregisterContext(ctx)
	assert.Equal(t, 1, removed)

	r.Emit(&payload{n: 7})
	assert.Equal(t, 0, fromPair)
	assert.Equal(t, 7, fromStable, "stable handle registration must be unaffected")
}
