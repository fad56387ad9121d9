package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmgrid/nsfabric/pkg/nsacl"
	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsinode"
)

func TestCreateAndStat(t *testing.T) {
	b := New()
	ctx := context.Background()

	n, err := b.Create(ctx, nsinode.RootIno, "foo", 100, 200, 0o644, 0, nsinode.TypeFile, nsinode.StatusOnline, nsinode.Checksum{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "foo", n.Name)
	assert.NotEmpty(t, n.GUID)

	got, err := b.StatByName(ctx, nsinode.RootIno, "foo")
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)

	_, err = b.Create(ctx, nsinode.RootIno, "foo", 100, 200, 0o644, 0, nsinode.TypeFile, nsinode.StatusOnline, nsinode.Checksum{}, nil)
	require.Error(t, err)
	assert.True(t, nserr.Is(err, nserr.Exists))
}

func TestUnlinkRequiresEmptyDir(t *testing.T) {
	b := New()
	ctx := context.Background()

	dir, err := b.Create(ctx, nsinode.RootIno, "d", 0, 0, 0o755, 0, nsinode.TypeDir, nsinode.StatusOnline, nsinode.Checksum{}, nil)
	require.NoError(t, err)
	_, err = b.Create(ctx, dir.ID, "child", 0, 0, 0o644, 0, nsinode.TypeFile, nsinode.StatusOnline, nsinode.Checksum{}, nil)
	require.NoError(t, err)

	err = b.Unlink(ctx, dir.ID)
	require.Error(t, err)
	assert.True(t, nserr.Is(err, nserr.IsDirectory))
}

func TestReplicaLifecycle(t *testing.T) {
	b := New()
	ctx := context.Background()

	f, err := b.Create(ctx, nsinode.RootIno, "data", 0, 0, 0o644, 0, nsinode.TypeFile, nsinode.StatusBeingPopulated, nsinode.Checksum{}, nil)
	require.NoError(t, err)

	r, err := b.AddReplica(ctx, nsinode.Replica{FileID: f.ID, PFN: "/store/data.0", Pool: "default"})
	require.NoError(t, err)
	assert.NotZero(t, r.ID)

	got, err := b.GetReplica(ctx, "/store/data.0")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	reps, err := b.GetReplicas(ctx, f.ID)
	require.NoError(t, err)
	assert.Len(t, reps, 1)

	require.NoError(t, b.DeleteReplica(ctx, r.ID))
	reps, err = b.GetReplicas(ctx, f.ID)
	require.NoError(t, err)
	assert.Empty(t, reps)
}

func TestTransactionRollbackUndoesMutation(t *testing.T) {
	b := New()
	ctx := context.Background()

	f, err := b.Create(ctx, nsinode.RootIno, "x", 0, 0, 0o644, 0, nsinode.TypeFile, nsinode.StatusOnline, nsinode.Checksum{}, nil)
	require.NoError(t, err)

	txn, err := b.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, b.SetSize(ctx, f.ID, 4096))
	require.NoError(t, txn.Rollback())

	got, err := b.StatByIno(ctx, f.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.Stat.Size, "rollback restores the snapshot taken at Begin, undoing the SetSize")
}

func TestOpenDirListsChildren(t *testing.T) {
	b := New()
	ctx := context.Background()

	dir, err := b.Create(ctx, nsinode.RootIno, "d", 0, 0, 0o755, 0, nsinode.TypeDir, nsinode.StatusOnline, nsinode.Checksum{}, nil)
	require.NoError(t, err)
	_, err = b.Create(ctx, dir.ID, "a", 0, 0, 0o644, 0, nsinode.TypeFile, nsinode.StatusOnline, nsinode.Checksum{}, nil)
	require.NoError(t, err)
	_, err = b.Create(ctx, dir.ID, "b", 0, 0, 0o644, 0, nsinode.TypeFile, nsinode.StatusOnline, nsinode.Checksum{}, nil)
	require.NoError(t, err)

	d, err := b.OpenDir(ctx, dir.ID)
	require.NoError(t, err)
	defer d.Close()

	names := map[string]bool{}
	for {
		e, ok := d.ReadDir()
		if !ok {
			break
		}
		names[e.Name] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, names)
}

func TestSetAclValidatesBeforeStoring(t *testing.T) {
	b := New()
	ctx := context.Background()
	f, err := b.Create(ctx, nsinode.RootIno, "y", 0, 0, 0o644, 0, nsinode.TypeFile, nsinode.StatusOnline, nsinode.Checksum{}, nil)
	require.NoError(t, err)

	bad := nsacl.ACL{{Type: nsacl.User, ID: 7, Perm: 4}} // extended entry without required mask/group_obj/user_obj
	err = b.SetAcl(ctx, f.ID, bad)
	require.Error(t, err)
}

func TestXattrRoundTrip(t *testing.T) {
	b := New()
	ctx := context.Background()
	f, err := b.Create(ctx, nsinode.RootIno, "z", 0, 0, 0o644, 0, nsinode.TypeFile, nsinode.StatusOnline, nsinode.Checksum{}, nil)
	require.NoError(t, err)

	require.NoError(t, b.SetXattr(ctx, f.ID, "checksum.adler32", "abc123"))
	v, ok, err := b.GetXattr(ctx, f.ID, "checksum.adler32")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc123", v)

	require.NoError(t, b.RemoveXattr(ctx, f.ID, "checksum.adler32"))
	_, ok, err = b.GetXattr(ctx, f.ID, "checksum.adler32")
	require.NoError(t, err)
	assert.False(t, ok)
}
