package nspool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmgrid/nsfabric/pkg/nsinode"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
)

// fakeDriver is an in-memory stand-in for a PoolDriver, enough to exercise
// Manager's selection and token-signing logic without a real backend.
type fakeDriver struct {
	poolType string
	free     map[string]uint64
	removed  []string
}

func (f *fakeDriver) ImplID() string                             { return "fake-" + f.poolType }
func (f *fakeDriver) SetStackInstance(si *nsplugin.StackInstance) {}
func (f *fakeDriver) PoolType() string                            { return f.poolType }
func (f *fakeDriver) TotalSpace(ctx context.Context, p Pool) (uint64, error) { return 1 << 30, nil }
func (f *fakeDriver) FreeSpace(ctx context.Context, p Pool) (uint64, error) {
	return f.free[p.Name], nil
}
func (f *fakeDriver) Availability(ctx context.Context, p Pool) Availability { return AvailabilityBoth }
func (f *fakeDriver) ReplicaIsAvailable(ctx context.Context, p Pool, r nsinode.Replica) bool {
	return true
}
func (f *fakeDriver) WhereToRead(ctx context.Context, p Pool, r nsinode.Replica) (Location, error) {
	return Location{{URL: URL{Scheme: "fake", Path: r.PFN}}}, nil
}
func (f *fakeDriver) WhereToWrite(ctx context.Context, p Pool, lfn string) (Location, string, error) {
	pfn := "/fake/" + p.Name + "/" + lfn
	return Location{{URL: URL{Scheme: "fake", Path: pfn}}}, pfn, nil
}
func (f *fakeDriver) RemoveReplica(ctx context.Context, p Pool, r nsinode.Replica) error {
	f.removed = append(f.removed, r.PFN)
	return nil
}
func (f *fakeDriver) CancelWrite(ctx context.Context, p Pool, loc Location) error { return nil }
func (f *fakeDriver) Stat(ctx context.Context, p Pool, pfn string) (uint64, error) { return 42, nil }

func newTestManager(t *testing.T, drv *fakeDriver) *Manager {
	t.Helper()
	pm := nsplugin.NewPluginManager()
	pm.RegisterFactory(nsplugin.PoolDriverKind(drv.poolType), func(prev nsplugin.Factory) nsplugin.Factory {
		return nsplugin.NewSimpleFactory(nil, func(si *nsplugin.StackInstance) (nsplugin.Component, error) {
			return drv, nil
		})
	})
	si := nsplugin.NewStackInstance(pm)
	m := NewManager("testsecret", time.Minute)
	m.SetStackInstance(si)
	return m
}

func TestWhereToWriteSelectsMostFreePool(t *testing.T) {
	drv := &fakeDriver{poolType: "fake", free: map[string]uint64{"a": 100, "b": 500}}
	m := newTestManager(t, drv)
	ctx := context.Background()

	require.NoError(t, m.NewPool(ctx, Pool{Name: "a", Type: "fake"}))
	require.NoError(t, m.NewPool(ctx, Pool{Name: "b", Type: "fake"}))

	loc, err := m.WhereToWrite(ctx, "/lfn/file", "")
	require.NoError(t, err)
	require.Len(t, loc, 1)
	assert.Contains(t, loc[0].URL.Path, "/fake/b/")
	assert.NotEmpty(t, loc[0].Extra["token"])
}

func TestWhereToWriteHonorsPreferredPool(t *testing.T) {
	drv := &fakeDriver{poolType: "fake", free: map[string]uint64{"a": 100, "b": 500}}
	m := newTestManager(t, drv)
	ctx := context.Background()

	require.NoError(t, m.NewPool(ctx, Pool{Name: "a", Type: "fake"}))
	require.NoError(t, m.NewPool(ctx, Pool{Name: "b", Type: "fake"}))

	loc, err := m.WhereToWrite(ctx, "/lfn/file", "a")
	require.NoError(t, err)
	assert.Contains(t, loc[0].URL.Path, "/fake/a/")
}

func TestWhereToReadSignsLocation(t *testing.T) {
	drv := &fakeDriver{poolType: "fake", free: map[string]uint64{"a": 100}}
	m := newTestManager(t, drv)
	ctx := context.Background()
	require.NoError(t, m.NewPool(ctx, Pool{Name: "a", Type: "fake"}))

	loc, err := m.WhereToRead(ctx, nsinode.Replica{Pool: "a", PFN: "/fake/a/x"})
	require.NoError(t, err)
	require.Len(t, loc, 1)
	assert.NotEmpty(t, loc[0].Extra["token"])
}

func TestDoneWritingFallsBackToStat(t *testing.T) {
	drv := &fakeDriver{poolType: "fake", free: map[string]uint64{"a": 100}}
	m := newTestManager(t, drv)
	ctx := context.Background()
	require.NoError(t, m.NewPool(ctx, Pool{Name: "a", Type: "fake"}))

	size, err := m.DoneWriting(ctx, "a", "/fake/a/x", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 42, size)

	size, err = m.DoneWriting(ctx, "a", "/fake/a/x", 7)
	require.NoError(t, err)
	assert.EqualValues(t, 7, size)
}

func TestRemoveReplicaDelegatesToDriver(t *testing.T) {
	drv := &fakeDriver{poolType: "fake", free: map[string]uint64{"a": 100}}
	m := newTestManager(t, drv)
	ctx := context.Background()
	require.NoError(t, m.NewPool(ctx, Pool{Name: "a", Type: "fake"}))

	require.NoError(t, m.RemoveReplica(ctx, nsinode.Replica{Pool: "a", PFN: "/fake/a/gone"}))
	assert.Contains(t, drv.removed, "/fake/a/gone")
}

func TestGetPoolUnknownReturnsError(t *testing.T) {
	drv := &fakeDriver{poolType: "fake"}
	m := newTestManager(t, drv)
	_, err := m.GetPool(context.Background(), "nope")
	assert.Error(t, err)
}
