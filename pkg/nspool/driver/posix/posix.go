// Package posix is the local-filesystem PoolDriver of SPEC_FULL.md's
// domain stack: pools are directories on a mounted filesystem, pfns are
// plain paths, and extended attributes pass through via
// github.com/pkg/xattr the way dmlite's filesystem plugin stores checksum
// and comment metadata directly on the file.
package posix

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/xattr"

	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsinode"
	"github.com/dmgrid/nsfabric/pkg/nslog"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
	"github.com/dmgrid/nsfabric/pkg/nspool"
)

var logger = nslog.Get("nspool.posix")

// Driver is the filesystem-backed nspool.Driver. A pool's Extra map
// carries "root", the filesystem directory that pool's pfns are rooted at.
type Driver struct {
	si *nsplugin.StackInstance
}

func New() *Driver { return &Driver{} }

func (d *Driver) ImplID() string               { return "posix" }
func (d *Driver) PoolType() string             { return "posix" }
func (d *Driver) SetStackInstance(si *nsplugin.StackInstance) { d.si = si }

func (d *Driver) root(pool nspool.Pool) string {
	return pool.Extra.StringOr("root", "/")
}

func (d *Driver) TotalSpace(ctx context.Context, pool nspool.Pool) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(d.root(pool), &stat); err != nil {
		return 0, nserr.Wrap(nserr.BackendUnavailable, pool.Name, err)
	}
	return stat.Blocks * uint64(stat.Bsize), nil
}

func (d *Driver) FreeSpace(ctx context.Context, pool nspool.Pool) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(d.root(pool), &stat); err != nil {
		return 0, nserr.Wrap(nserr.BackendUnavailable, pool.Name, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

func (d *Driver) Availability(ctx context.Context, pool nspool.Pool) nspool.Availability {
	if _, err := os.Stat(d.root(pool)); err != nil {
		return nspool.AvailabilityNone
	}
	return nspool.AvailabilityBoth
}

func (d *Driver) ReplicaIsAvailable(ctx context.Context, pool nspool.Pool, r nsinode.Replica) bool {
	_, err := os.Stat(r.PFN)
	return err == nil
}

func (d *Driver) WhereToRead(ctx context.Context, pool nspool.Pool, r nsinode.Replica) (nspool.Location, error) {
	info, err := os.Stat(r.PFN)
	if err != nil {
		return nil, nserr.Wrap(nserr.NotFound, r.PFN, err)
	}
	return nspool.Location{{
		URL:  nspool.URL{Scheme: "file", Path: r.PFN},
		Size: uint64(info.Size()),
	}}, nil
}

func (d *Driver) WhereToWrite(ctx context.Context, pool nspool.Pool, lfn string) (nspool.Location, string, error) {
	root := d.root(pool)
	pfn := filepath.Join(root, uuid.NewString())
	if err := os.MkdirAll(filepath.Dir(pfn), 0o755); err != nil {
		return nil, "", nserr.Wrap(nserr.BackendUnavailable, pfn, err)
	}
	loc := nspool.Location{{URL: nspool.URL{Scheme: "file", Path: pfn}}}
	logger.Debugf("allocated pfn %s for lfn %s in pool %s", pfn, lfn, pool.Name)
	return loc, pfn, nil
}

func (d *Driver) RemoveReplica(ctx context.Context, pool nspool.Pool, r nsinode.Replica) error {
	if err := os.Remove(r.PFN); err != nil && !os.IsNotExist(err) {
		return nserr.Wrap(nserr.BackendUnavailable, r.PFN, err)
	}
	return nil
}

func (d *Driver) CancelWrite(ctx context.Context, pool nspool.Pool, loc nspool.Location) error {
	for _, c := range loc {
		if err := os.Remove(c.URL.Path); err != nil && !os.IsNotExist(err) {
			return nserr.Wrap(nserr.BackendUnavailable, c.URL.Path, err)
		}
	}
	return nil
}

func (d *Driver) Stat(ctx context.Context, pool nspool.Pool, pfn string) (uint64, error) {
	info, err := os.Stat(pfn)
	if err != nil {
		return 0, nserr.Wrap(nserr.NotFound, pfn, err)
	}
	return uint64(info.Size()), nil
}

// SetChecksumXattr stores a checksum directly on the replica file, the
// xattr passthrough feature named in SPEC_FULL.md's domain stack table.
func SetChecksumXattr(pfn string, csum nsinode.Checksum) error {
	name := fmt.Sprintf("user.checksum.%s", csum.Type)
	if err := xattr.Set(pfn, name, []byte(csum.Value)); err != nil {
		return nserr.Wrap(nserr.BackendUnavailable, pfn, err)
	}
	return nil
}

// GetChecksumXattr reads back a checksum stored by SetChecksumXattr.
func GetChecksumXattr(pfn, checksumType string) (string, error) {
	v, err := xattr.Get(pfn, fmt.Sprintf("user.checksum.%s", checksumType))
	if err != nil {
		return "", nserr.Wrap(nserr.NotFound, pfn, err)
	}
	return string(v), nil
}

// Factory registers the posix driver under nsplugin.PoolDriverKind("posix").
func Factory() nsplugin.FactoryBuilder {
	return func(prev nsplugin.Factory) nsplugin.Factory {
		return nsplugin.NewSimpleFactory(nil, func(si *nsplugin.StackInstance) (nsplugin.Component, error) {
			return New(), nil
		})
	}
}
