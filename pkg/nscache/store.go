// Package nscache implements the distributed cache overlay of spec.md
// §4.6: a Catalog decorator backed by a shared Redis tier plus a bounded
// per-process LRU, write-through on read and delete-on-write.
package nscache

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dmgrid/nsfabric/pkg/nslog"
)

var logger = nslog.Get("nscache")

// jitterMax bounds the random TTL jitter spec.md §4.6 asks for ("0-63s").
const jitterMax = 64 * time.Second

// Store is the two-tier cache primitive behind the Catalog decorator: a
// local LRU in front of a shared Redis KV. It's exported standalone so
// other decorators (a future pool-list cache) can reuse the same tiering
// without depending on nscache.Catalog.
type Store struct {
	rdb    *redis.Client
	local  *localLRU
	ttl    time.Duration
	prefix string
}

// NewStore wires a Store to rdb, a local LRU capped at localCap entries,
// and a base remote TTL.
func NewStore(rdb *redis.Client, localCap int, ttl time.Duration) *Store {
	return &Store{rdb: rdb, local: newLocalLRU(localCap), ttl: ttl}
}

func jitteredTTL(base time.Duration) time.Duration {
	return base + time.Duration(rand.Int63n(int64(jitterMax)))
}

// Get consults the local LRU, then Redis, returning (value, true) on a hit
// at either tier. A Redis hit is written back into the local tier.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := s.local.get(key); ok {
		return v, true
	}
	v, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	s.local.set(key, v, s.ttl)
	return v, true
}

// Set writes through both tiers with jittered TTL (spec.md §4.6).
func (s *Store) Set(ctx context.Context, key string, value []byte) {
	ttl := jitteredTTL(s.ttl)
	s.local.set(key, value, ttl)
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		logger.Warnf("cache set %s: %v", key, err)
	}
}

// Delete invalidates key in both tiers. Best-effort ("noreply"): a failed
// remote delete is logged, not returned, since the remote TTL is the
// ultimate backstop (spec.md §4.6).
func (s *Store) Delete(ctx context.Context, key string) {
	s.local.del(key)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		logger.Warnf("cache delete %s: %v", key, err)
	}
}

// Stats reports the local tier's accumulated counters.
func (s *Store) Stats() (gets, sets, hits, misses, dels, purged, expired uint64) {
	st := s.local.snapshotStats()
	return st.gets, st.sets, st.hits, st.misses, st.dels, st.purged, st.expired
}
