package store

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseAdapter runs the behaviour every backend has to share.
func exerciseAdapter(t *testing.T, a Adapter) {
	t.Helper()
	ctx := context.Background()

	_, found, err := a.Get(ctx, "@cached_events")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, a.Set(ctx, "@cached_events", `{"data":[],"timestamp":1}`))
	v, found, err := a.Get(ctx, "@cached_events")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"data":[],"timestamp":1}`, v)

	// overwrite is wholesale
	require.NoError(t, a.Set(ctx, "@cached_events", `{"data":[1],"timestamp":2}`))
	v, _, err = a.Get(ctx, "@cached_events")
	require.NoError(t, err)
	assert.Equal(t, `{"data":[1],"timestamp":2}`, v)

	require.NoError(t, a.Set(ctx, "@cached_news", "n"))
	require.NoError(t, a.Set(ctx, "@cached_users", "u"))

	if lister, ok := a.(KeyLister); ok {
		keys, err := lister.Keys(ctx)
		require.NoError(t, err)
		sort.Strings(keys)
		assert.Equal(t, []string{"@cached_events", "@cached_news", "@cached_users"}, keys)
	}

	require.NoError(t, a.Remove(ctx, "@cached_events"))
	require.NoError(t, a.Remove(ctx, "@cached_events"), "removing twice is fine")
	_, found, err = a.Get(ctx, "@cached_events")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, a.MultiRemove(ctx, []string{"@cached_news", "@cached_users"}))
	for _, key := range []string{"@cached_news", "@cached_users"} {
		_, found, err = a.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, found, key)
	}
}
