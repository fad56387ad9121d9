package nsplugin

import "github.com/dmgrid/nsfabric/pkg/nserr"

// ConfigFunc is a per-key configuration handler. Returning
// nserr.UnknownOption marks the key as unrecognised by this factory, per
// spec.md §4.1.
type ConfigFunc func(key, value string) error

// SimpleFactory is a convenience Factory implementation for plugins with a
// handful of recognised keys and a plain constructor function, avoiding
// repetitive boilerplate for every small decorator (mirrors how
// juicefs's pkg/meta registers drivers by name with a single Creator func).
type SimpleFactory struct {
	configure ConfigFunc
	create    func(si *StackInstance) (Component, error)
}

// NewSimpleFactory builds a Factory from a configure callback (nil means
// "recognises nothing") and a create callback.
func NewSimpleFactory(configure ConfigFunc, create func(si *StackInstance) (Component, error)) *SimpleFactory {
	return &SimpleFactory{configure: configure, create: create}
}

func (f *SimpleFactory) Configure(key, value string) error {
	if f.configure == nil {
		return nserr.New(nserr.UnknownOption, key)
	}
	return f.configure(key, value)
}

func (f *SimpleFactory) Create(si *StackInstance) (Component, error) {
	return f.create(si)
}
