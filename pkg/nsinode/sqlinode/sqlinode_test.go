package sqlinode

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"xorm.io/xorm"

	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsinode"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	engine, err := xorm.NewEngine("sqlite3", ":memory:")
	require.NoError(t, err)
	b, err := New(engine)
	require.NoError(t, err)
	return b
}

func TestSqlCreateAndStat(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	n, err := b.Create(ctx, nsinode.RootIno, "foo", 100, 200, 0o644, 0, nsinode.TypeFile, nsinode.StatusOnline, nsinode.Checksum{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "foo", n.Name)

	got, err := b.StatByName(ctx, nsinode.RootIno, "foo")
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)

	_, err = b.Create(ctx, nsinode.RootIno, "foo", 100, 200, 0o644, 0, nsinode.TypeFile, nsinode.StatusOnline, nsinode.Checksum{}, nil)
	require.Error(t, err)
	assert.True(t, nserr.Is(err, nserr.Exists))
}

func TestSqlReplicaLifecycle(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	f, err := b.Create(ctx, nsinode.RootIno, "data", 0, 0, 0o644, 0, nsinode.TypeFile, nsinode.StatusBeingPopulated, nsinode.Checksum{}, nil)
	require.NoError(t, err)

	r, err := b.AddReplica(ctx, nsinode.Replica{FileID: f.ID, PFN: "/store/data.0", Pool: "default"})
	require.NoError(t, err)
	assert.NotZero(t, r.ID)

	reps, err := b.GetReplicas(ctx, f.ID)
	require.NoError(t, err)
	assert.Len(t, reps, 1)

	require.NoError(t, b.DeleteReplica(ctx, r.ID))
	reps, err = b.GetReplicas(ctx, f.ID)
	require.NoError(t, err)
	assert.Empty(t, reps)
}

func TestSqlTransactionBeginCommit(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	txn, err := b.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
}

func TestSqlXattrRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	f, err := b.Create(ctx, nsinode.RootIno, "z", 0, 0, 0o644, 0, nsinode.TypeFile, nsinode.StatusOnline, nsinode.Checksum{}, nil)
	require.NoError(t, err)

	require.NoError(t, b.SetXattr(ctx, f.ID, "key", "value"))
	v, ok, err := b.GetXattr(ctx, f.ID, "key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value", v)

	require.NoError(t, b.SetXattr(ctx, f.ID, "key", "value2"))
	v, ok, err = b.GetXattr(ctx, f.ID, "key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value2", v)
}

func TestSqlOpenDir(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	dir, err := b.Create(ctx, nsinode.RootIno, "d", 0, 0, 0o755, 0, nsinode.TypeDir, nsinode.StatusOnline, nsinode.Checksum{}, nil)
	require.NoError(t, err)
	_, err = b.Create(ctx, dir.ID, "a", 0, 0, 0o644, 0, nsinode.TypeFile, nsinode.StatusOnline, nsinode.Checksum{}, nil)
	require.NoError(t, err)

	d, err := b.OpenDir(ctx, dir.ID)
	require.NoError(t, err)
	defer d.Close()

	e, ok := d.ReadDir()
	require.True(t, ok)
	assert.Equal(t, "a", e.Name)

	_, ok = d.ReadDir()
	assert.False(t, ok)
}
