// Package nsplugin implements the plugin registry and per-request stack
// composition described in spec.md §4.1: a dynamic registry of factories
// producing layered service instances, decorator chaining, and a shared
// per-request context (StackInstance).
package nsplugin

import (
	"fmt"
	"plugin"
	"sync"

	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nslog"
)

var logger = nslog.Get("nsplugin")

// APIVersion is the ABI version shared libraries must match, per spec.md
// §6 "Plugin ABI". A mismatch fails with kApiVersionMismatch.
const APIVersion = 1

// Kind names an interface bundle a factory produces. Pool drivers are
// registered under a dynamic kind ("pooldriver:<type>") since they are
// selected by pool type rather than by a single front-of-list winner.
type Kind string

const (
	KindAuthn       Kind = "authn"
	KindINode       Kind = "inode"
	KindCatalog     Kind = "catalog"
	KindPoolManager Kind = "poolmanager"
	KindIODriver    Kind = "iodriver"
)

// PoolDriverKind builds the dynamic registry kind for a pool type.
func PoolDriverKind(poolType string) Kind {
	return Kind("pooldriver:" + poolType)
}

// Component is implemented by every pluggable instance. ImplID identifies
// the concrete implementation (and, for decorators, what it wraps) for the
// /proc-like introspection tree (spec.md §4.8) and for test scenario 1 in
// §8 ("Profiler over Cache over Builtin").
type Component interface {
	ImplID() string
}

// Factory produces one Component instance, optionally wrapping a
// previously-registered factory's output (the decorator pattern of
// spec.md §4.1: "the last-loaded factory wraps its predecessors").
type Factory interface {
	// Configure recognises a configuration key/value pair or fails with a
	// nserr.UnknownOption error.
	Configure(key, value string) error
	// Create instantiates the component for the given StackInstance.
	Create(si *StackInstance) (Component, error)
}

// FactoryBuilder constructs a Factory given the previously front-of-list
// factory for the same Kind (nil if this is the first registration).
type FactoryBuilder func(prev Factory) Factory

// PluginManager is the process-scoped registry of factories; ordered
// (front-of-list wins) for each interface kind, per spec.md §3
// "PluginManager".
type PluginManager struct {
	mu        sync.RWMutex
	factories map[Kind][]Factory // index 0 is front-of-list (wins)
	dlHandles []*plugin.Plugin
}

func NewPluginManager() *PluginManager {
	return &PluginManager{factories: make(map[Kind][]Factory)}
}

// IDCard is the symbol every plugin shared object must export, matching
// spec.md §6 "a versioned identification record containing (ApiVersion,
// registration function)".
type IDCard struct {
	APIVersion uint32
	Register   func(pm *PluginManager) error
}

// LoadPlugin dlopen()s the shared object at path and looks up symbol,
// which must be an *IDCard. This is the one place in the module where the
// Go standard library's plugin package is used instead of a third-party
// dependency: there is no ecosystem replacement for dynamic shared-object
// loading, and the teacher and pack repos universally rely on the
// language's own mechanism for this (cgo / dlopen equivalents) rather than
// a library (see DESIGN.md).
func (pm *PluginManager) LoadPlugin(path, symbol string) error {
	p, err := plugin.Open(path)
	if err != nil {
		return nserr.Wrap(nserr.NotFound, path, err)
	}
	sym, err := p.Lookup(symbol)
	if err != nil {
		return nserr.Wrap(nserr.NotFound, symbol, err)
	}
	idCard, ok := sym.(*IDCard)
	if !ok {
		return nserr.New(nserr.InvalidArgument, symbol+": not an IDCard")
	}
	if idCard.APIVersion != APIVersion {
		return nserr.New(nserr.ApiVersionMismatch,
			fmt.Sprintf("%s: plugin api version %d != %d", path, idCard.APIVersion, APIVersion))
	}
	if err := idCard.Register(pm); err != nil {
		return err
	}
	pm.mu.Lock()
	pm.dlHandles = append(pm.dlHandles, p)
	pm.mu.Unlock()
	logger.Infof("loaded plugin %s (%s)", path, symbol)
	return nil
}

// RegisterFactory inserts a new factory at the head of kind's list, per
// spec.md §4.1 "Registration order is significant: factories are inserted
// at the head of their per-interface list, so the last-loaded factory
// wraps its predecessors."
func (pm *PluginManager) RegisterFactory(kind Kind, build FactoryBuilder) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	var prev Factory
	if lst := pm.factories[kind]; len(lst) > 0 {
		prev = lst[0]
	}
	f := build(prev)
	pm.factories[kind] = append([]Factory{f}, pm.factories[kind]...)
}

// Front returns the current front-of-list factory for kind.
func (pm *PluginManager) Front(kind Kind) (Factory, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	lst := pm.factories[kind]
	if len(lst) == 0 {
		return nil, false
	}
	return lst[0], true
}

// Configure forwards (key, value) to every registered factory of every
// kind; it fails with kUnknownOption only if no factory recognised the
// pair, per spec.md §4.1.
func (pm *PluginManager) Configure(key, value string) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	recognised := false
	for _, lst := range pm.factories {
		for _, f := range lst {
			if err := f.Configure(key, value); err != nil {
				if nserr.Is(err, nserr.UnknownOption) {
					continue
				}
				return err
			}
			recognised = true
		}
	}
	if !recognised {
		return nserr.New(nserr.UnknownOption, key)
	}
	return nil
}
