// Package s3 is the object-storage PoolDriver of SPEC_FULL.md's domain
// stack, backed by github.com/aws/aws-sdk-go. Clients are kept in a small
// channel-backed pool (spec.md §9 supplemented features, "Connection-pool-
// backed pool drivers", grounded on dmlite's PoolContainer/PoolElementFactory
// pattern in plugins/memcache/Memcache.h): acquire blocks when exhausted.
package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"

	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsinode"
	"github.com/dmgrid/nsfabric/pkg/nslog"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
	"github.com/dmgrid/nsfabric/pkg/nspool"
)

var logger = nslog.Get("nspool.s3")

// clientPool is a bounded, channel-backed pool of *s3.S3 clients. All
// clients in a pool share one session/config, so pooling here buys
// concurrency headroom rather than connection reuse per se — matching the
// teacher pack's general "bounded acquire, blocks when exhausted" pattern.
type clientPool struct {
	ch chan *s3.S3
}

func newClientPool(sess *session.Session, size int) *clientPool {
	p := &clientPool{ch: make(chan *s3.S3, size)}
	for i := 0; i < size; i++ {
		p.ch <- s3.New(sess)
	}
	return p
}

func (p *clientPool) acquire(ctx context.Context) (*s3.S3, error) {
	select {
	case c := <-p.ch:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *clientPool) release(c *s3.S3) { p.ch <- c }

// Driver is the S3-backed nspool.Driver. Pool.Extra carries "bucket",
// "region", "endpoint" (optional, for S3-compatible stores), and
// "accessKey"/"secretKey".
type Driver struct {
	si    *nsplugin.StackInstance
	pools map[string]*clientPool
}

func New() *Driver { return &Driver{pools: make(map[string]*clientPool)} }

func (d *Driver) ImplID() string                            { return "s3" }
func (d *Driver) PoolType() string                          { return "s3" }
func (d *Driver) SetStackInstance(si *nsplugin.StackInstance) { d.si = si }

func (d *Driver) poolFor(pool nspool.Pool) (*clientPool, error) {
	if p, ok := d.pools[pool.Name]; ok {
		return p, nil
	}
	region := pool.Extra.StringOr("region", "us-east-1")
	cfg := aws.NewConfig().WithRegion(region)
	if ep := pool.Extra.StringOr("endpoint", ""); ep != "" {
		cfg = cfg.WithEndpoint(ep).WithS3ForcePathStyle(true)
	}
	if ak := pool.Extra.StringOr("accessKey", ""); ak != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(ak, pool.Extra.StringOr("secretKey", ""), ""))
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, nserr.Wrap(nserr.BackendUnavailable, pool.Name, err)
	}
	size, _ := pool.Extra.Int("poolSize")
	if size <= 0 {
		size = 4
	}
	cp := newClientPool(sess, size)
	d.pools[pool.Name] = cp
	return cp, nil
}

func (d *Driver) bucket(pool nspool.Pool) string { return pool.Extra.StringOr("bucket", pool.Name) }

func (d *Driver) TotalSpace(ctx context.Context, pool nspool.Pool) (uint64, error) {
	// S3 buckets have no fixed capacity; report an unbounded pool.
	return 1 << 60, nil
}

func (d *Driver) FreeSpace(ctx context.Context, pool nspool.Pool) (uint64, error) {
	return 1 << 60, nil
}

func (d *Driver) Availability(ctx context.Context, pool nspool.Pool) nspool.Availability {
	cp, err := d.poolFor(pool)
	if err != nil {
		return nspool.AvailabilityNone
	}
	client, err := cp.acquire(ctx)
	if err != nil {
		return nspool.AvailabilityNone
	}
	defer cp.release(client)
	if _, err := client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(d.bucket(pool))}); err != nil {
		return nspool.AvailabilityNone
	}
	return nspool.AvailabilityBoth
}

func (d *Driver) ReplicaIsAvailable(ctx context.Context, pool nspool.Pool, r nsinode.Replica) bool {
	cp, err := d.poolFor(pool)
	if err != nil {
		return false
	}
	client, err := cp.acquire(ctx)
	if err != nil {
		return false
	}
	defer cp.release(client)
	_, err = client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{Bucket: aws.String(d.bucket(pool)), Key: aws.String(r.PFN)})
	return err == nil
}

func (d *Driver) WhereToRead(ctx context.Context, pool nspool.Pool, r nsinode.Replica) (nspool.Location, error) {
	return nspool.Location{{
		URL: nspool.URL{Scheme: "s3", Host: d.bucket(pool), Path: r.PFN},
	}}, nil
}

func (d *Driver) WhereToWrite(ctx context.Context, pool nspool.Pool, lfn string) (nspool.Location, string, error) {
	key := fmt.Sprintf("%s/%s", time.Now().UTC().Format("2006/01/02"), uuid.NewString())
	loc := nspool.Location{{URL: nspool.URL{Scheme: "s3", Host: d.bucket(pool), Path: key}}}
	logger.Debugf("allocated s3 key %s for lfn %s in pool %s", key, lfn, pool.Name)
	return loc, key, nil
}

func (d *Driver) RemoveReplica(ctx context.Context, pool nspool.Pool, r nsinode.Replica) error {
	cp, err := d.poolFor(pool)
	if err != nil {
		return err
	}
	client, err := cp.acquire(ctx)
	if err != nil {
		return err
	}
	defer cp.release(client)
	_, err = client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{Bucket: aws.String(d.bucket(pool)), Key: aws.String(r.PFN)})
	if err != nil {
		return nserr.Wrap(nserr.BackendUnavailable, r.PFN, err)
	}
	return nil
}

func (d *Driver) CancelWrite(ctx context.Context, pool nspool.Pool, loc nspool.Location) error {
	cp, err := d.poolFor(pool)
	if err != nil {
		return err
	}
	client, err := cp.acquire(ctx)
	if err != nil {
		return err
	}
	defer cp.release(client)
	for _, c := range loc {
		if _, err := client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{Bucket: aws.String(c.URL.Host), Key: aws.String(c.URL.Path)}); err != nil {
			return nserr.Wrap(nserr.BackendUnavailable, c.URL.Path, err)
		}
	}
	return nil
}

func (d *Driver) Stat(ctx context.Context, pool nspool.Pool, pfn string) (uint64, error) {
	cp, err := d.poolFor(pool)
	if err != nil {
		return 0, err
	}
	client, err := cp.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer cp.release(client)
	out, err := client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{Bucket: aws.String(d.bucket(pool)), Key: aws.String(pfn)})
	if err != nil {
		return 0, nserr.Wrap(nserr.NotFound, pfn, err)
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return uint64(*out.ContentLength), nil
}

// Factory registers the s3 driver under nsplugin.PoolDriverKind("s3").
func Factory() nsplugin.FactoryBuilder {
	return func(prev nsplugin.Factory) nsplugin.Factory {
		return nsplugin.NewSimpleFactory(nil, func(si *nsplugin.StackInstance) (nsplugin.Component, error) {
			return New(), nil
		})
	}
}
