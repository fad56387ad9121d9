package nscache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocalLRUGetSetHitMiss(t *testing.T) {
	c := newLocalLRU(10)
	_, ok := c.get("a")
	assert.False(t, ok)

	c.set("a", []byte("1"), time.Minute)
	v, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", string(v))

	st := c.snapshotStats()
	assert.EqualValues(t, 2, st.gets)
	assert.EqualValues(t, 1, st.misses)
	assert.EqualValues(t, 1, st.hits)
}

func TestLocalLRUEvictsOverCapacity(t *testing.T) {
	c := newLocalLRU(2)
	c.set("a", []byte("1"), time.Minute)
	c.set("b", []byte("2"), time.Minute)
	c.set("c", []byte("3"), time.Minute)

	_, ok := c.get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.get("c")
	assert.True(t, ok)
}

func TestLocalLRUExpiresEntries(t *testing.T) {
	c := newLocalLRU(10)
	c.set("a", []byte("1"), -time.Second)
	_, ok := c.get("a")
	assert.False(t, ok)
	assert.EqualValues(t, 1, c.snapshotStats().expired)
}

func TestLocalLRUDelete(t *testing.T) {
	c := newLocalLRU(10)
	c.set("a", []byte("1"), time.Minute)
	c.del("a")
	_, ok := c.get("a")
	assert.False(t, ok)
}

func TestLocalLRUPromotesOnHit(t *testing.T) {
	c := newLocalLRU(2)
	c.set("a", []byte("1"), time.Minute)
	c.set("b", []byte("2"), time.Minute)
	c.get("a") // a is now most-recently-used
	c.set("c", []byte("3"), time.Minute)

	_, ok := c.get("b")
	assert.False(t, ok, "b should be evicted since a was promoted")
	_, ok = c.get("a")
	assert.True(t, ok)
}

func TestBuildKeyHashesLongIdentifiers(t *testing.T) {
	short := buildKey(prefixStat, "/a/b")
	assert.Equal(t, "stat:/a/b", short)

	long := ""
	for i := 0; i < 250; i++ {
		long += "x"
	}
	key := buildKey(prefixStat, long)
	assert.Less(t, len(key), maxKeyLen+10)
	assert.NotContains(t, key, long)
}
