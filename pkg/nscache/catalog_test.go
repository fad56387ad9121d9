package nscache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmgrid/nsfabric/pkg/nscatalog"
	"github.com/dmgrid/nsfabric/pkg/nsinode/memory"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
	"github.com/dmgrid/nsfabric/pkg/nssecurity"
)

// unreachableRedis points at a port nothing listens on, so Store degrades
// to local-LRU-only behaviour — enough to exercise the decorator's
// caching and invalidation logic without a live Redis server.
func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
}

func newTestCache(t *testing.T) (*Catalog, context.Context) {
	t.Helper()
	pm := nsplugin.NewPluginManager()
	si := nsplugin.NewStackInstance(pm)
	si.SetSecurityContext(&nssecurity.Context{User: nssecurity.UserInfo{UID: 0}})

	base := nscatalog.NewBuiltin(memory.New(), 0)
	base.SetStackInstance(si)
	cache := Wrap(base, unreachableRedis(), 64, time.Minute)
	cache.SetStackInstance(si)
	return cache, context.Background()
}

func TestCacheImplIDComposesWithInner(t *testing.T) {
	cache, _ := newTestCache(t)
	assert.Equal(t, "Cache over Builtin", cache.ImplID())
}

func TestCacheServesStatFromLocalTierOnSecondCall(t *testing.T) {
	cache, ctx := newTestCache(t)
	require.NoError(t, cache.MakeDir(ctx, "/d", 0o755))

	st1, err := cache.ExtendedStat(ctx, "/d", true)
	require.NoError(t, err)

	st2, err := cache.ExtendedStat(ctx, "/d", true)
	require.NoError(t, err)
	assert.Equal(t, st1.ID, st2.ID)

	_, _, hits, _, _, _, _ := cache.store.Stats()
	assert.GreaterOrEqual(t, hits, uint64(1))
}

func TestCacheInvalidatesStatOnWrite(t *testing.T) {
	cache, ctx := newTestCache(t)
	require.NoError(t, cache.MakeDir(ctx, "/d", 0o755))
	_, err := cache.ExtendedStat(ctx, "/d", true)
	require.NoError(t, err)

	require.NoError(t, cache.SetMode(ctx, "/d", 0o700))

	st, err := cache.ExtendedStat(ctx, "/d", true)
	require.NoError(t, err)
	assert.EqualValues(t, 0o700, st.Stat.Mode)
}

func TestParentOfRoot(t *testing.T) {
	assert.Equal(t, "/", parentOf("/d"))
	assert.Equal(t, "/a", parentOf("/a/b"))
	assert.Equal(t, "/", parentOf("/"))
}
