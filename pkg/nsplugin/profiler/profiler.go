// Package profiler implements the call-counting Catalog decorator of
// SPEC_FULL.md's supplemented-features section, grounded on dmlite's
// MemcacheFunctionCounter/ProfilerCatalog pattern (original_source
// plugins/memcache): wrap any Catalog and tally invocations per method
// name into a single mutex-guarded map.
package profiler

import (
	"context"
	"sync"

	"github.com/dmgrid/nsfabric/pkg/nsacl"
	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsinode"
	"github.com/dmgrid/nsfabric/pkg/nscatalog"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
)

// Catalog wraps an inner nscatalog.Catalog, counting every call.
type Catalog struct {
	nscatalog.Catalog

	mu     sync.Mutex
	counts map[string]uint64
}

// Wrap constructs a profiling decorator around inner.
func Wrap(inner nscatalog.Catalog) *Catalog {
	return &Catalog{Catalog: inner, counts: make(map[string]uint64)}
}

func (c *Catalog) ImplID() string { return "Profiler over " + c.Catalog.ImplID() }

func (c *Catalog) SetStackInstance(si *nsplugin.StackInstance) {
	if sa, ok := c.Catalog.(interface {
		SetStackInstance(*nsplugin.StackInstance)
	}); ok {
		sa.SetStackInstance(si)
	}
}

func (c *Catalog) count(name string) {
	c.mu.Lock()
	c.counts[name]++
	c.mu.Unlock()
}

// Counters returns a snapshot of the call counts, for /proc/stack-style
// introspection or administrative dumps.
func (c *Catalog) Counters() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

func (c *Catalog) ExtendedStat(ctx context.Context, path string, followSym bool) (nscatalog.ExtendedStat, error) {
	c.count("ExtendedStat")
	return c.Catalog.ExtendedStat(ctx, path, followSym)
}

func (c *Catalog) AddReplica(ctx context.Context, lfn string, r nsinode.Replica) (nsinode.Replica, error) {
	c.count("AddReplica")
	return c.Catalog.AddReplica(ctx, lfn, r)
}

func (c *Catalog) DeleteReplica(ctx context.Context, lfn string, replicaID uint64) error {
	c.count("DeleteReplica")
	return c.Catalog.DeleteReplica(ctx, lfn, replicaID)
}

func (c *Catalog) GetReplicas(ctx context.Context, lfn string) ([]nsinode.Replica, error) {
	c.count("GetReplicas")
	return c.Catalog.GetReplicas(ctx, lfn)
}

func (c *Catalog) MakeDir(ctx context.Context, path string, mode uint16) error {
	c.count("MakeDir")
	return c.Catalog.MakeDir(ctx, path, mode)
}

func (c *Catalog) Create(ctx context.Context, path string, mode uint16) error {
	c.count("Create")
	return c.Catalog.Create(ctx, path, mode)
}

func (c *Catalog) RemoveDir(ctx context.Context, path string) error {
	c.count("RemoveDir")
	return c.Catalog.RemoveDir(ctx, path)
}

func (c *Catalog) Unlink(ctx context.Context, path string) error {
	c.count("Unlink")
	return c.Catalog.Unlink(ctx, path)
}

func (c *Catalog) Rename(ctx context.Context, oldPath, newPath string) error {
	c.count("Rename")
	return c.Catalog.Rename(ctx, oldPath, newPath)
}

func (c *Catalog) Symlink(ctx context.Context, path, target string) error {
	c.count("Symlink")
	return c.Catalog.Symlink(ctx, path, target)
}

func (c *Catalog) ReadLink(ctx context.Context, path string) (string, error) {
	c.count("ReadLink")
	return c.Catalog.ReadLink(ctx, path)
}

func (c *Catalog) SetSize(ctx context.Context, path string, size uint64) error {
	c.count("SetSize")
	return c.Catalog.SetSize(ctx, path, size)
}

func (c *Catalog) SetChecksum(ctx context.Context, path string, csum nsinode.Checksum) error {
	c.count("SetChecksum")
	return c.Catalog.SetChecksum(ctx, path, csum)
}

func (c *Catalog) SetMode(ctx context.Context, path string, mode uint16) error {
	c.count("SetMode")
	return c.Catalog.SetMode(ctx, path, mode)
}

func (c *Catalog) SetOwner(ctx context.Context, path string, uid, gid int) error {
	c.count("SetOwner")
	return c.Catalog.SetOwner(ctx, path, uid, gid)
}

func (c *Catalog) Utime(ctx context.Context, path string, atime, mtime int64) error {
	c.count("Utime")
	return c.Catalog.Utime(ctx, path, atime, mtime)
}

func (c *Catalog) SetAcl(ctx context.Context, path string, acl nsacl.ACL) error {
	c.count("SetAcl")
	return c.Catalog.SetAcl(ctx, path, acl)
}

func (c *Catalog) GetComment(ctx context.Context, path string) (string, error) {
	c.count("GetComment")
	return c.Catalog.GetComment(ctx, path)
}

func (c *Catalog) SetComment(ctx context.Context, path string, comment string) error {
	c.count("SetComment")
	return c.Catalog.SetComment(ctx, path, comment)
}

func (c *Catalog) SetGuid(ctx context.Context, path string, guid string) error {
	c.count("SetGuid")
	return c.Catalog.SetGuid(ctx, path, guid)
}

func (c *Catalog) GetXattr(ctx context.Context, path, name string) (interface{}, bool, error) {
	c.count("GetXattr")
	return c.Catalog.GetXattr(ctx, path, name)
}

func (c *Catalog) SetXattr(ctx context.Context, path, name string, value interface{}) error {
	c.count("SetXattr")
	return c.Catalog.SetXattr(ctx, path, name, value)
}

func (c *Catalog) RemoveXattr(ctx context.Context, path, name string) error {
	c.count("RemoveXattr")
	return c.Catalog.RemoveXattr(ctx, path, name)
}

func (c *Catalog) ListXattr(ctx context.Context, path string) (map[string]interface{}, error) {
	c.count("ListXattr")
	return c.Catalog.ListXattr(ctx, path)
}

func (c *Catalog) OpenDir(ctx context.Context, path string) (nsinode.Dir, error) {
	c.count("OpenDir")
	return c.Catalog.OpenDir(ctx, path)
}

// Factory registers the profiler decorator with an nsplugin.PluginManager,
// so LoadPlugin-style composition (spec.md §8 scenario 1) produces
// "Profiler over ...".
func Factory() nsplugin.FactoryBuilder {
	return func(prev nsplugin.Factory) nsplugin.Factory {
		return nsplugin.NewSimpleFactory(nil, func(si *nsplugin.StackInstance) (nsplugin.Component, error) {
			c, err := prev.Create(si)
			if err != nil {
				return nil, err
			}
			inner, ok := c.(nscatalog.Catalog)
			if !ok {
				return nil, nserr.New(nserr.Internal, "profiler: predecessor factory does not produce an nscatalog.Catalog")
			}
			return Wrap(inner), nil
		})
	}
}
