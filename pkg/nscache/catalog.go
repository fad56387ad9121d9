package nscache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dmgrid/nsfabric/pkg/nsacl"
	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsinode"
	"github.com/dmgrid/nsfabric/pkg/nscatalog"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
)

// Catalog is the cache-overlay decorator of spec.md §4.6: it sits in front
// of an inner Catalog, serving reads from the local LRU / Redis tiers
// before delegating, and invalidating on every write.
type Catalog struct {
	nscatalog.Catalog
	store *Store
}

// Wrap decorates inner with a cache backed by rdb, a local LRU capped at
// localCap entries, and base TTL ttl (jitter is added per spec.md §4.6).
func Wrap(inner nscatalog.Catalog, rdb *redis.Client, localCap int, ttl time.Duration) *Catalog {
	return &Catalog{Catalog: inner, store: NewStore(rdb, localCap, ttl)}
}

func (c *Catalog) ImplID() string { return "Cache over " + c.Catalog.ImplID() }

func (c *Catalog) SetStackInstance(si *nsplugin.StackInstance) {
	if sa, ok := c.Catalog.(interface{ SetStackInstance(*nsplugin.StackInstance) }); ok {
		sa.SetStackInstance(si)
	}
}

func dirKey(path string) string { return buildKey(prefixDir, path) }

func (c *Catalog) ExtendedStat(ctx context.Context, path string, followSym bool) (nscatalog.ExtendedStat, error) {
	key := buildKey(prefixStat, path)
	if v, ok := c.store.Get(ctx, key); ok {
		var st nscatalog.ExtendedStat
		if err := json.Unmarshal(v, &st); err == nil {
			return st, nil
		}
	}
	st, err := c.Catalog.ExtendedStat(ctx, path, followSym)
	if err != nil {
		return st, err
	}
	if b, err := json.Marshal(st); err == nil {
		c.store.Set(ctx, key, b)
	}
	return st, nil
}

func (c *Catalog) GetReplicas(ctx context.Context, lfn string) ([]nsinode.Replica, error) {
	key := buildKey(prefixReplicas, lfn)
	if v, ok := c.store.Get(ctx, key); ok {
		var rs []nsinode.Replica
		if err := json.Unmarshal(v, &rs); err == nil {
			return rs, nil
		}
	}
	rs, err := c.Catalog.GetReplicas(ctx, lfn)
	if err != nil {
		return rs, err
	}
	if b, err := json.Marshal(rs); err == nil {
		c.store.Set(ctx, key, b)
	}
	return rs, nil
}

func (c *Catalog) GetComment(ctx context.Context, path string) (string, error) {
	key := buildKey(prefixComment, path)
	if v, ok := c.store.Get(ctx, key); ok {
		return string(v), nil
	}
	comment, err := c.Catalog.GetComment(ctx, path)
	if err != nil {
		return comment, err
	}
	c.store.Set(ctx, key, []byte(comment))
	return comment, nil
}

// OpenDir serves a cached, serialised child-name listing when available;
// otherwise it enumerates through the inner Catalog and eagerly populates
// both tiers with the listing, per spec.md §4.6's directory-listing rule.
func (c *Catalog) OpenDir(ctx context.Context, path string) (nsinode.Dir, error) {
	key := dirKey(path)
	if v, ok := c.store.Get(ctx, key); ok {
		var names []string
		if err := json.Unmarshal(v, &names); err == nil {
			return &cachedDir{names: names}, nil
		}
	}

	inner, err := c.Catalog.OpenDir(ctx, path)
	if err != nil {
		return nil, err
	}
	var names []string
	var entries []nsinode.Entry
	for {
		e, ok := inner.ReadDir()
		if !ok {
			break
		}
		names = append(names, e.Name)
		entries = append(entries, e)
	}
	inner.Close()
	if b, err := json.Marshal(names); err == nil {
		c.store.Set(ctx, key, b)
	}
	return &replayDir{entries: entries}, nil
}

// cachedDir replays a name-only listing recovered from the cache. Only names
// were persisted, so ReadDir entries carry no inode number and ReadDirx
// returns an INode with only Name set.
type cachedDir struct {
	names []string
	pos   int
}

func (d *cachedDir) ReadDir() (nsinode.Entry, bool) {
	if d.pos >= len(d.names) {
		return nsinode.Entry{}, false
	}
	n := d.names[d.pos]
	d.pos++
	return nsinode.Entry{Name: n}, true
}

func (d *cachedDir) ReadDirx() (nsinode.INode, bool) {
	e, ok := d.ReadDir()
	if !ok {
		return nsinode.INode{}, false
	}
	return nsinode.INode{Name: e.Name}, true
}

func (d *cachedDir) Close() error { return nil }

type replayDir struct {
	entries []nsinode.Entry
	pos     int
}

func (d *replayDir) ReadDir() (nsinode.Entry, bool) {
	if d.pos >= len(d.entries) {
		return nsinode.Entry{}, false
	}
	e := d.entries[d.pos]
	d.pos++
	return e, true
}

func (d *replayDir) ReadDirx() (nsinode.INode, bool) {
	e, ok := d.ReadDir()
	if !ok {
		return nsinode.INode{}, false
	}
	return nsinode.INode{ID: e.Ino, Name: e.Name}, true
}

func (d *replayDir) Close() error { return nil }

// invalidate deletes each path's own cache entries and the cached listing
// of its parent directory.
func (c *Catalog) invalidate(ctx context.Context, paths ...string) {
	for _, p := range paths {
		c.store.Delete(ctx, buildKey(prefixStat, p))
		c.store.Delete(ctx, buildKey(prefixReplicas, p))
		c.store.Delete(ctx, buildKey(prefixComment, p))
		c.store.Delete(ctx, dirKey(parentOf(p)))
	}
}

func parentOf(path string) string {
	path = strings.TrimRight(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func (c *Catalog) MakeDir(ctx context.Context, path string, mode uint16) error {
	err := c.Catalog.MakeDir(ctx, path, mode)
	if err == nil {
		c.invalidate(ctx, path)
	}
	return err
}

func (c *Catalog) Create(ctx context.Context, path string, mode uint16) error {
	err := c.Catalog.Create(ctx, path, mode)
	if err == nil {
		c.invalidate(ctx, path)
	}
	return err
}

func (c *Catalog) RemoveDir(ctx context.Context, path string) error {
	err := c.Catalog.RemoveDir(ctx, path)
	if err == nil {
		c.invalidate(ctx, path)
	}
	return err
}

func (c *Catalog) Unlink(ctx context.Context, path string) error {
	err := c.Catalog.Unlink(ctx, path)
	if err == nil {
		c.invalidate(ctx, path)
	}
	return err
}

func (c *Catalog) Rename(ctx context.Context, oldPath, newPath string) error {
	err := c.Catalog.Rename(ctx, oldPath, newPath)
	if err == nil {
		c.invalidate(ctx, oldPath, newPath)
	}
	return err
}

func (c *Catalog) Symlink(ctx context.Context, path, target string) error {
	err := c.Catalog.Symlink(ctx, path, target)
	if err == nil {
		c.invalidate(ctx, path)
	}
	return err
}

func (c *Catalog) AddReplica(ctx context.Context, lfn string, r nsinode.Replica) (nsinode.Replica, error) {
	rep, err := c.Catalog.AddReplica(ctx, lfn, r)
	if err == nil {
		c.invalidate(ctx, lfn)
	}
	return rep, err
}

func (c *Catalog) DeleteReplica(ctx context.Context, lfn string, replicaID uint64) error {
	err := c.Catalog.DeleteReplica(ctx, lfn, replicaID)
	if err == nil {
		c.invalidate(ctx, lfn)
	}
	return err
}

func (c *Catalog) SetSize(ctx context.Context, path string, size uint64) error {
	err := c.Catalog.SetSize(ctx, path, size)
	if err == nil {
		c.invalidate(ctx, path)
	}
	return err
}

func (c *Catalog) SetChecksum(ctx context.Context, path string, csum nsinode.Checksum) error {
	err := c.Catalog.SetChecksum(ctx, path, csum)
	if err == nil {
		c.invalidate(ctx, path)
	}
	return err
}

func (c *Catalog) SetMode(ctx context.Context, path string, mode uint16) error {
	err := c.Catalog.SetMode(ctx, path, mode)
	if err == nil {
		c.invalidate(ctx, path)
	}
	return err
}

func (c *Catalog) SetOwner(ctx context.Context, path string, uid, gid int) error {
	err := c.Catalog.SetOwner(ctx, path, uid, gid)
	if err == nil {
		c.invalidate(ctx, path)
	}
	return err
}

func (c *Catalog) Utime(ctx context.Context, path string, atime, mtime int64) error {
	err := c.Catalog.Utime(ctx, path, atime, mtime)
	if err == nil {
		c.invalidate(ctx, path)
	}
	return err
}

func (c *Catalog) SetAcl(ctx context.Context, path string, acl nsacl.ACL) error {
	err := c.Catalog.SetAcl(ctx, path, acl)
	if err == nil {
		c.invalidate(ctx, path)
	}
	return err
}

func (c *Catalog) SetComment(ctx context.Context, path string, comment string) error {
	err := c.Catalog.SetComment(ctx, path, comment)
	if err == nil {
		c.invalidate(ctx, path)
	}
	return err
}

func (c *Catalog) SetGuid(ctx context.Context, path string, guid string) error {
	err := c.Catalog.SetGuid(ctx, path, guid)
	if err == nil {
		c.invalidate(ctx, path)
	}
	return err
}

func (c *Catalog) SetXattr(ctx context.Context, path, name string, value interface{}) error {
	err := c.Catalog.SetXattr(ctx, path, name, value)
	if err == nil {
		c.invalidate(ctx, path)
	}
	return err
}

func (c *Catalog) RemoveXattr(ctx context.Context, path, name string) error {
	err := c.Catalog.RemoveXattr(ctx, path, name)
	if err == nil {
		c.invalidate(ctx, path)
	}
	return err
}

// Factory composes the cache decorator in front of whatever Catalog
// factory registered before it, per spec.md §8 scenario 1 ("Profiler over
// Cache over Builtin").
func Factory(rdb *redis.Client, localCap int, ttl time.Duration) nsplugin.FactoryBuilder {
	return func(prev nsplugin.Factory) nsplugin.Factory {
		return nsplugin.NewSimpleFactory(nil, func(si *nsplugin.StackInstance) (nsplugin.Component, error) {
			if prev == nil {
				return nil, nserr.New(nserr.Internal, "nscache: no predecessor catalog factory registered")
			}
			c, err := prev.Create(si)
			if err != nil {
				return nil, err
			}
			inner, ok := c.(nscatalog.Catalog)
			if !ok {
				return nil, nserr.New(nserr.Internal, "nscache: predecessor does not implement nscatalog.Catalog")
			}
			return Wrap(inner, rdb, localCap, ttl), nil
		})
	}
}
