package nspool

import (
	"context"
	"sync"
	"time"

	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsinode"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
	"github.com/dmgrid/nsfabric/pkg/nssecurity"
	"github.com/dmgrid/nsfabric/pkg/nstoken"
)

// Manager is the PoolManager component of spec.md §4.5, routing placement
// decisions to the Driver registered for each pool's type and issuing the
// capability tokens embedded in the resulting Location.
type Manager struct {
	si *nsplugin.StackInstance

	mu    sync.RWMutex
	pools map[string]Pool

	secret string
	ttl    time.Duration
}

// NewManager constructs an empty pool table. secret/ttl parameterise the
// tokens issued by WhereToRead/WhereToWrite (spec.md §4.4).
func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{pools: make(map[string]Pool), secret: secret, ttl: ttl}
}

func (m *Manager) ImplID() string { return "Builtin" }

func (m *Manager) SetStackInstance(si *nsplugin.StackInstance) { m.si = si }

func (m *Manager) GetPools(ctx context.Context, avail Availability) ([]Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Pool, 0, len(m.pools))
	for _, p := range m.pools {
		if avail == AvailabilityAny || avail == "" {
			out = append(out, p)
			continue
		}
		drv, err := m.driverFor(p.Type)
		if err != nil {
			continue
		}
		a := drv.Availability(ctx, p)
		if a == avail || a == AvailabilityBoth {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Manager) GetPool(ctx context.Context, name string) (Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	if !ok {
		return Pool{}, nserr.New(nserr.NotFound, name)
	}
	return p, nil
}

func (m *Manager) NewPool(ctx context.Context, p Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pools[p.Name]; exists {
		return nserr.New(nserr.Exists, p.Name)
	}
	m.pools[p.Name] = p
	return nil
}

func (m *Manager) UpdatePool(ctx context.Context, p Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pools[p.Name]; !exists {
		return nserr.New(nserr.NotFound, p.Name)
	}
	m.pools[p.Name] = p
	return nil
}

func (m *Manager) DeletePool(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pools[name]; !exists {
		return nserr.New(nserr.NotFound, name)
	}
	delete(m.pools, name)
	return nil
}

func (m *Manager) driverFor(poolType string) (Driver, error) {
	if m.si == nil {
		return nil, nserr.New(nserr.Internal, "pool manager has no stack instance")
	}
	c, err := m.si.GetPoolDriver(poolType)
	if err != nil {
		return nil, err
	}
	drv, ok := c.(Driver)
	if !ok {
		return nil, nserr.New(nserr.Internal, "registered driver for "+poolType+" does not implement nspool.Driver")
	}
	return drv, nil
}

func (m *Manager) userID() string {
	if m.si == nil || m.si.SecurityContext() == nil {
		return nssecurity.TunnelUserGeneric
	}
	return m.si.SecurityContext().TokenIdentity(m.si.TokenIDMode())
}

func (m *Manager) signChunks(loc Location, write bool) Location {
	userID := m.userID()
	for i := range loc {
		c := &loc[i]
		if c.Extra == nil {
			c.Extra = make(map[string]interface{})
		}
		c.Extra["token"] = nstoken.Generate(userID, c.URL.Path, m.secret, m.ttl, write)
	}
	return loc
}

// WhereToRead resolves a replica to a signed read Location (spec.md §4.5).
func (m *Manager) WhereToRead(ctx context.Context, r nsinode.Replica) (Location, error) {
	p, err := m.GetPool(ctx, r.Pool)
	if err != nil {
		return nil, err
	}
	drv, err := m.driverFor(p.Type)
	if err != nil {
		return nil, err
	}
	loc, err := drv.WhereToRead(ctx, p, r)
	if err != nil {
		return nil, err
	}
	return m.signChunks(loc, false), nil
}

// WhereToWrite selects a pool, allocates a pfn, and returns a signed write
// Location. Pool selection is the most-free-space pool among those
// accepting writes (spec.md §4.5 "selects a pool").
func (m *Manager) WhereToWrite(ctx context.Context, lfn, preferredPool string) (Location, error) {
	pool, err := m.selectWritablePool(ctx, preferredPool)
	if err != nil {
		return nil, err
	}
	drv, err := m.driverFor(pool.Type)
	if err != nil {
		return nil, err
	}
	loc, _, err := drv.WhereToWrite(ctx, pool, lfn)
	if err != nil {
		return nil, err
	}
	return m.signChunks(loc, true), nil
}

func (m *Manager) selectWritablePool(ctx context.Context, preferred string) (Pool, error) {
	if preferred != "" {
		return m.GetPool(ctx, preferred)
	}
	pools, err := m.GetPools(ctx, AvailabilityWrite)
	if err != nil {
		return Pool{}, err
	}
	if len(pools) == 0 {
		return Pool{}, nserr.New(nserr.NotFound, "no writable pool")
	}
	best := pools[0]
	bestFree := uint64(0)
	for _, p := range pools {
		drv, err := m.driverFor(p.Type)
		if err != nil {
			continue
		}
		free, err := drv.FreeSpace(ctx, p)
		if err != nil {
			continue
		}
		if free > bestFree {
			bestFree = free
			best = p
		}
	}
	return best, nil
}

// CancelWrite deletes a just-started unfinished replica (spec.md §4.5).
func (m *Manager) CancelWrite(ctx context.Context, poolName string, loc Location) error {
	p, err := m.GetPool(ctx, poolName)
	if err != nil {
		return err
	}
	drv, err := m.driverFor(p.Type)
	if err != nil {
		return err
	}
	return drv.CancelWrite(ctx, p, loc)
}

// DoneWriting finalises a put by reporting the size actually written,
// falling back to a Stat through the owning driver when the caller doesn't
// know it (SPEC_FULL.md open question (c)).
func (m *Manager) DoneWriting(ctx context.Context, poolName, pfn string, knownSize uint64) (uint64, error) {
	p, err := m.GetPool(ctx, poolName)
	if err != nil {
		return 0, err
	}
	if knownSize > 0 {
		return knownSize, nil
	}
	drv, err := m.driverFor(p.Type)
	if err != nil {
		return 0, err
	}
	return drv.Stat(ctx, p, pfn)
}

// RemoveReplica asks the owning driver to delete the physical bytes.
func (m *Manager) RemoveReplica(ctx context.Context, r nsinode.Replica) error {
	p, err := m.GetPool(ctx, r.Pool)
	if err != nil {
		return err
	}
	drv, err := m.driverFor(p.Type)
	if err != nil {
		return err
	}
	return drv.RemoveReplica(ctx, p, r)
}

// FromStack type-asserts the StackInstance's registered PoolManager.
func FromStack(si *nsplugin.StackInstance) (*Manager, error) {
	c, err := si.Get(nsplugin.KindPoolManager)
	if err != nil {
		return nil, err
	}
	m, ok := c.(*Manager)
	if !ok {
		return nil, nserr.New(nserr.Internal, "registered pool manager factory does not produce *nspool.Manager")
	}
	return m, nil
}
