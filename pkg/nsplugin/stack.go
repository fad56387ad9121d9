package nsplugin

import (
	"sync"

	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nssecurity"
	"github.com/dmgrid/nsfabric/pkg/nsvalue"
)

// StackAware lets a component receive its owning StackInstance once every
// component exists, per spec.md §4.1 "After all components exist,
// setStackInstance(this) is invoked on each" — needed because decorators
// must navigate to peer components (e.g. the cache overlay delegates to
// the inner Catalog, the PoolManager consults the INode layer).
type StackAware interface {
	SetStackInstance(si *StackInstance)
}

// SecurityAware lets a component receive the SecurityContext once
// credentials are set on the owning StackInstance.
type SecurityAware interface {
	SetSecurityContext(ctx *nssecurity.Context)
}

// StackInstance is the per-request composition of service implementations
// (spec.md §3 "StackInstance"). It is not safe for concurrent use by more
// than one goroutine (spec.md §5 "Thread affinity of components").
type StackInstance struct {
	pm *PluginManager

	mu          sync.Mutex
	components  map[Kind]Component
	poolDrivers map[string]Component

	securityContext *nssecurity.Context
	cwd             string
	umask           uint16
	scratch         nsvalue.Map
	tokenIDMode     nssecurity.TokenIDMode
}

// NewStackInstance constructs an (initially empty) per-request arena bound
// to pm. Components are materialised lazily on first access.
func NewStackInstance(pm *PluginManager) *StackInstance {
	return &StackInstance{
		pm:          pm,
		components:  make(map[Kind]Component),
		poolDrivers: make(map[string]Component),
		scratch:     nsvalue.New(),
		cwd:         "/",
		umask:       0o022,
	}
}

// Manager returns the owning PluginManager, so decorators can navigate to
// other factories (e.g. a pool driver resolving a second driver kind).
func (si *StackInstance) Manager() *PluginManager { return si.pm }

// Scratch is the untyped key/value scratch area for cross-component state
// (spec.md §3).
func (si *StackInstance) Scratch() nsvalue.Map { return si.scratch }

// Cwd returns the current working directory used to resolve relative
// paths (spec.md §4.3): per-instance, not per-process.
func (si *StackInstance) Cwd() string {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.cwd
}

func (si *StackInstance) SetCwd(path string) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.cwd = path
}

// Umask returns the current creation mask and optionally replaces it,
// mirroring dmlite's Catalog::umask (spec.md §9 supplemented features):
// pass -1 to read without changing.
func (si *StackInstance) Umask(mask int) uint16 {
	si.mu.Lock()
	defer si.mu.Unlock()
	prev := si.umask
	if mask >= 0 {
		si.umask = uint16(mask) & 0o777
	}
	return prev
}

func (si *StackInstance) TokenIDMode() nssecurity.TokenIDMode {
	si.mu.Lock()
	defer si.mu.Unlock()
	if si.tokenIDMode == "" {
		return nssecurity.TokenIDByDN
	}
	return si.tokenIDMode
}

func (si *StackInstance) SetTokenIDMode(mode nssecurity.TokenIDMode) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.tokenIDMode = mode
}

// SecurityContext returns the context installed by SetSecurityContext, or nil.
func (si *StackInstance) SecurityContext() *nssecurity.Context {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.securityContext
}

// SetSecurityContext installs ctx and propagates it to every already
// materialised component that implements SecurityAware, per spec.md
// invariant 7 ("every component observes the same SecurityContext").
func (si *StackInstance) SetSecurityContext(ctx *nssecurity.Context) {
	si.mu.Lock()
	si.securityContext = ctx
	comps := make([]Component, 0, len(si.components)+len(si.poolDrivers))
	for _, c := range si.components {
		comps = append(comps, c)
	}
	for _, c := range si.poolDrivers {
		comps = append(comps, c)
	}
	si.mu.Unlock()

	for _, c := range comps {
		if sa, ok := c.(SecurityAware); ok {
			sa.SetSecurityContext(ctx)
		}
	}
}

// Get lazily materialises (and caches) the component for kind by invoking
// the front-of-list factory, then calls SetStackInstance and
// SetSecurityContext on it if supported.
func (si *StackInstance) Get(kind Kind) (Component, error) {
	si.mu.Lock()
	if c, ok := si.components[kind]; ok {
		si.mu.Unlock()
		return c, nil
	}
	si.mu.Unlock()

	f, ok := si.pm.Front(kind)
	if !ok {
		return nil, nserr.New(nserr.Internal, "no factory registered for "+string(kind))
	}
	c, err := f.Create(si)
	if err != nil {
		return nil, err
	}
	si.initComponent(c)

	si.mu.Lock()
	si.components[kind] = c
	si.mu.Unlock()
	return c, nil
}

// GetPoolDriver lazily materialises the driver for a specific pool type,
// cached independently of the generic Kind components map since pool
// drivers are selected by pool type rather than by a single winner
// (spec.md §4.5, DESIGN NOTES "Dynamic dispatch in the hot path").
func (si *StackInstance) GetPoolDriver(poolType string) (Component, error) {
	si.mu.Lock()
	if c, ok := si.poolDrivers[poolType]; ok {
		si.mu.Unlock()
		return c, nil
	}
	si.mu.Unlock()

	f, ok := si.pm.Front(PoolDriverKind(poolType))
	if !ok {
		return nil, nserr.New(nserr.NotFound, "pool driver: "+poolType)
	}
	c, err := f.Create(si)
	if err != nil {
		return nil, err
	}
	si.initComponent(c)

	si.mu.Lock()
	si.poolDrivers[poolType] = c
	si.mu.Unlock()
	return c, nil
}

func (si *StackInstance) initComponent(c Component) {
	if sa, ok := c.(StackAware); ok {
		sa.SetStackInstance(si)
	}
	if ctx := si.SecurityContext(); ctx != nil {
		if sc, ok := c.(SecurityAware); ok {
			sc.SetSecurityContext(ctx)
		}
	}
}

// Close drops every materialised component and pool driver from the
// instance. It calls no teardown method on them and follows no particular
// order; creation order is not recorded.
func (si *StackInstance) Close() {
	si.mu.Lock()
	defer si.mu.Unlock()
	for k := range si.components {
		delete(si.components, k)
	}
	for k := range si.poolDrivers {
		delete(si.poolDrivers, k)
	}
}
