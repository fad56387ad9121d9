// Package hdfs is the distributed-filesystem PoolDriver of SPEC_FULL.md's
// domain stack, backed by github.com/colinmarc/hdfs/v2. Clients are kept
// in a small channel-backed pool, the same acquire-blocks-when-exhausted
// shape as nspool/driver/s3 (spec.md §9 "Connection-pool-backed pool
// drivers").
package hdfs

import (
	"context"
	"fmt"
	"time"

	"github.com/colinmarc/hdfs/v2"
	"github.com/google/uuid"

	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsinode"
	"github.com/dmgrid/nsfabric/pkg/nslog"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
	"github.com/dmgrid/nsfabric/pkg/nspool"
)

var logger = nslog.Get("nspool.hdfs")

type clientPool struct {
	ch chan *hdfs.Client
}

func newClientPool(namenode, user string, size int) (*clientPool, error) {
	p := &clientPool{ch: make(chan *hdfs.Client, size)}
	for i := 0; i < size; i++ {
		opts := hdfs.ClientOptions{Addresses: []string{namenode}, User: user}
		c, err := hdfs.NewClient(opts)
		if err != nil {
			return nil, nserr.Wrap(nserr.BackendUnavailable, namenode, err)
		}
		p.ch <- c
	}
	return p, nil
}

func (p *clientPool) acquire(ctx context.Context) (*hdfs.Client, error) {
	select {
	case c := <-p.ch:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *clientPool) release(c *hdfs.Client) { p.ch <- c }

// Driver is the HDFS-backed nspool.Driver. Pool.Extra carries "namenode"
// (host:port) and "user" (the HDFS principal to connect as), and "root"
// (the directory new pfns are allocated under).
type Driver struct {
	si    *nsplugin.StackInstance
	pools map[string]*clientPool
}

func New() *Driver { return &Driver{pools: make(map[string]*clientPool)} }

func (d *Driver) ImplID() string                            { return "hdfs" }
func (d *Driver) PoolType() string                          { return "hdfs" }
func (d *Driver) SetStackInstance(si *nsplugin.StackInstance) { d.si = si }

func (d *Driver) poolFor(pool nspool.Pool) (*clientPool, error) {
	if p, ok := d.pools[pool.Name]; ok {
		return p, nil
	}
	size, _ := pool.Extra.Int("poolSize")
	if size <= 0 {
		size = 4
	}
	cp, err := newClientPool(pool.Extra.StringOr("namenode", ""), pool.Extra.StringOr("user", "hdfs"), size)
	if err != nil {
		return nil, err
	}
	d.pools[pool.Name] = cp
	return cp, nil
}

func (d *Driver) root(pool nspool.Pool) string { return pool.Extra.StringOr("root", "/nsfabric") }

func (d *Driver) TotalSpace(ctx context.Context, pool nspool.Pool) (uint64, error) {
	cp, err := d.poolFor(pool)
	if err != nil {
		return 0, err
	}
	c, err := cp.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer cp.release(c)
	fs, err := c.StatFs()
	if err != nil {
		return 0, nserr.Wrap(nserr.BackendUnavailable, pool.Name, err)
	}
	return fs.Capacity, nil
}

func (d *Driver) FreeSpace(ctx context.Context, pool nspool.Pool) (uint64, error) {
	cp, err := d.poolFor(pool)
	if err != nil {
		return 0, err
	}
	c, err := cp.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer cp.release(c)
	fs, err := c.StatFs()
	if err != nil {
		return 0, nserr.Wrap(nserr.BackendUnavailable, pool.Name, err)
	}
	return fs.Remaining, nil
}

func (d *Driver) Availability(ctx context.Context, pool nspool.Pool) nspool.Availability {
	cp, err := d.poolFor(pool)
	if err != nil {
		return nspool.AvailabilityNone
	}
	c, err := cp.acquire(ctx)
	if err != nil {
		return nspool.AvailabilityNone
	}
	defer cp.release(c)
	if _, err := c.Stat(d.root(pool)); err != nil {
		return nspool.AvailabilityNone
	}
	return nspool.AvailabilityBoth
}

func (d *Driver) ReplicaIsAvailable(ctx context.Context, pool nspool.Pool, r nsinode.Replica) bool {
	cp, err := d.poolFor(pool)
	if err != nil {
		return false
	}
	c, err := cp.acquire(ctx)
	if err != nil {
		return false
	}
	defer cp.release(c)
	_, err = c.Stat(r.PFN)
	return err == nil
}

func (d *Driver) WhereToRead(ctx context.Context, pool nspool.Pool, r nsinode.Replica) (nspool.Location, error) {
	cp, err := d.poolFor(pool)
	if err != nil {
		return nil, err
	}
	c, err := cp.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cp.release(c)
	info, err := c.Stat(r.PFN)
	if err != nil {
		return nil, nserr.Wrap(nserr.NotFound, r.PFN, err)
	}
	return nspool.Location{{URL: nspool.URL{Scheme: "hdfs", Path: r.PFN}, Size: uint64(info.Size())}}, nil
}

func (d *Driver) WhereToWrite(ctx context.Context, pool nspool.Pool, lfn string) (nspool.Location, string, error) {
	pfn := fmt.Sprintf("%s/%s/%s", d.root(pool), time.Now().UTC().Format("2006/01/02"), uuid.NewString())
	cp, err := d.poolFor(pool)
	if err != nil {
		return nil, "", err
	}
	c, err := cp.acquire(ctx)
	if err != nil {
		return nil, "", err
	}
	defer cp.release(c)
	if err := c.MkdirAll(pfn[:len(pfn)-len(uuid.Nil.String())], 0o755); err != nil {
		return nil, "", nserr.Wrap(nserr.BackendUnavailable, pfn, err)
	}
	logger.Debugf("allocated hdfs path %s for lfn %s in pool %s", pfn, lfn, pool.Name)
	return nspool.Location{{URL: nspool.URL{Scheme: "hdfs", Path: pfn}}}, pfn, nil
}

func (d *Driver) RemoveReplica(ctx context.Context, pool nspool.Pool, r nsinode.Replica) error {
	cp, err := d.poolFor(pool)
	if err != nil {
		return err
	}
	c, err := cp.acquire(ctx)
	if err != nil {
		return err
	}
	defer cp.release(c)
	if err := c.Remove(r.PFN); err != nil {
		return nserr.Wrap(nserr.BackendUnavailable, r.PFN, err)
	}
	return nil
}

func (d *Driver) CancelWrite(ctx context.Context, pool nspool.Pool, loc nspool.Location) error {
	cp, err := d.poolFor(pool)
	if err != nil {
		return err
	}
	c, err := cp.acquire(ctx)
	if err != nil {
		return err
	}
	defer cp.release(c)
	for _, chunk := range loc {
		if err := c.Remove(chunk.URL.Path); err != nil {
			return nserr.Wrap(nserr.BackendUnavailable, chunk.URL.Path, err)
		}
	}
	return nil
}

func (d *Driver) Stat(ctx context.Context, pool nspool.Pool, pfn string) (uint64, error) {
	cp, err := d.poolFor(pool)
	if err != nil {
		return 0, err
	}
	c, err := cp.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer cp.release(c)
	info, err := c.Stat(pfn)
	if err != nil {
		return 0, nserr.Wrap(nserr.NotFound, pfn, err)
	}
	return uint64(info.Size()), nil
}

// Factory registers the hdfs driver under nsplugin.PoolDriverKind("hdfs").
func Factory() nsplugin.FactoryBuilder {
	return func(prev nsplugin.Factory) nsplugin.Factory {
		return nsplugin.NewSimpleFactory(nil, func(si *nsplugin.StackInstance) (nsplugin.Component, error) {
			return New(), nil
		})
	}
}
