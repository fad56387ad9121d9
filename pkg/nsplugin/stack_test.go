package nsplugin

import (
	"testing"

	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	implID string
	si     *StackInstance
}

func (c *fakeCatalog) ImplID() string { return c.implID }

func (c *fakeCatalog) SetStackInstance(si *StackInstance) { c.si = si }

func builtinFactory() FactoryBuilder {
	return func(prev Factory) Factory {
		return NewSimpleFactory(nil, func(si *StackInstance) (Component, error) {
			return &fakeCatalog{implID: "Builtin"}, nil
		})
	}
}

func decoratorFactory(name string) FactoryBuilder {
	return func(prev Factory) Factory {
		return NewSimpleFactory(nil, func(si *StackInstance) (Component, error) {
			inner, err := prev.Create(si)
			if err != nil {
				return nil, err
			}
			return &fakeCatalog{implID: name + " over " + inner.ImplID()}, nil
		})
	}
}

func TestPluginCompositionOrder(t *testing.T) {
	pm := NewPluginManager()
	pm.RegisterFactory(KindCatalog, builtinFactory())
	pm.RegisterFactory(KindCatalog, decoratorFactory("Cache"))
	pm.RegisterFactory(KindCatalog, decoratorFactory("Profiler"))

	si := NewStackInstance(pm)
	c, err := si.Get(KindCatalog)
	require.NoError(t, err)
	assert.Equal(t, "Profiler over Cache over Builtin", c.ImplID())

	// Cached: a second Get returns the same instance.
	c2, err := si.Get(KindCatalog)
	require.NoError(t, err)
	assert.Same(t, c, c2)
}

func TestConfigureAggregatesAcrossFactories(t *testing.T) {
	pm := NewPluginManager()
	var seen string
	pm.RegisterFactory(KindCatalog, func(prev Factory) Factory {
		return NewSimpleFactory(func(key, value string) error {
			if key != "MyOption" {
				return nserr.New(nserr.UnknownOption, key)
			}
			seen = value
			return nil
		}, func(si *StackInstance) (Component, error) {
			return &fakeCatalog{implID: "Builtin"}, nil
		})
	})

	require.NoError(t, pm.Configure("MyOption", "42"))
	assert.Equal(t, "42", seen)

	err := pm.Configure("Unrecognised", "x")
	require.Error(t, err)
}
