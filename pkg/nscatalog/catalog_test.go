package nscatalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmgrid/nsfabric/pkg/nsacl"
	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsinode"
	"github.com/dmgrid/nsfabric/pkg/nsinode/memory"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
	"github.com/dmgrid/nsfabric/pkg/nssecurity"
)

func newTestCatalog(t *testing.T, uid, gid int) (*Builtin, *nsplugin.StackInstance) {
	t.Helper()
	pm := nsplugin.NewPluginManager()
	backend := memory.New()
	// The fresh root is uid 0, mode 0755; open it up so non-root test users
	// can create entries directly under /.
	require.NoError(t, backend.SetMode(context.Background(), nsinode.RootIno, 0o777))
	cat := NewBuiltin(backend, 0)
	si := nsplugin.NewStackInstance(pm)
	cat.SetStackInstance(si)
	si.SetSecurityContext(&nssecurity.Context{
		User:   nssecurity.UserInfo{UID: uid, Name: "u"},
		Groups: []nssecurity.GroupInfo{{GID: gid, Name: "g"}},
	})
	return cat, si
}

func TestMakeDirAndCreateUnderIt(t *testing.T) {
	cat, _ := newTestCatalog(t, 100, 200)
	ctx := context.Background()

	require.NoError(t, cat.MakeDir(ctx, "/data", 0o755))
	require.NoError(t, cat.Create(ctx, "/data/file.txt", 0o644))

	st, err := cat.ExtendedStat(ctx, "/data/file.txt", true)
	require.NoError(t, err)
	assert.Equal(t, 100, st.Stat.UID)
	assert.Equal(t, 200, st.Stat.GID)
}

func TestCreateRequiresWriteOnParent(t *testing.T) {
	cat, _ := newTestCatalog(t, 100, 200)
	ctx := context.Background()
	require.NoError(t, cat.MakeDir(ctx, "/data", 0o555)) // no write bit for owner

	err := cat.Create(ctx, "/data/file.txt", 0o644)
	require.Error(t, err)
	assert.True(t, nserr.Is(err, nserr.Permission))
}

func TestUnlinkRefusesDirectory(t *testing.T) {
	cat, _ := newTestCatalog(t, 100, 200)
	ctx := context.Background()
	require.NoError(t, cat.MakeDir(ctx, "/d", 0o755))

	err := cat.Unlink(ctx, "/d")
	require.Error(t, err)
	assert.True(t, nserr.Is(err, nserr.IsDirectory))
}

func TestRenameMovesAcrossDirectories(t *testing.T) {
	cat, _ := newTestCatalog(t, 100, 200)
	ctx := context.Background()
	require.NoError(t, cat.MakeDir(ctx, "/a", 0o755))
	require.NoError(t, cat.MakeDir(ctx, "/b", 0o755))
	require.NoError(t, cat.Create(ctx, "/a/f", 0o644))

	require.NoError(t, cat.Rename(ctx, "/a/f", "/b/g"))

	_, err := cat.ExtendedStat(ctx, "/a/f", true)
	require.Error(t, err)
	st, err := cat.ExtendedStat(ctx, "/b/g", true)
	require.NoError(t, err)
	assert.Equal(t, "g", st.Name)
}

func TestRenameRejectsMovingDirectoryIntoDescendant(t *testing.T) {
	cat, _ := newTestCatalog(t, 100, 200)
	ctx := context.Background()
	require.NoError(t, cat.MakeDir(ctx, "/a", 0o755))
	require.NoError(t, cat.MakeDir(ctx, "/a/b", 0o755))

	err := cat.Rename(ctx, "/a", "/a/b/a")
	require.Error(t, err)
}

func TestSetOwnerRestrictedToRoot(t *testing.T) {
	cat, _ := newTestCatalog(t, 100, 200)
	ctx := context.Background()
	require.NoError(t, cat.Create(ctx, "/f", 0o644))

	err := cat.SetOwner(ctx, "/f", 999, -1)
	require.Error(t, err)
	assert.True(t, nserr.Is(err, nserr.Permission))
}

func TestAclInheritanceOnCreateUnderDefaultAcl(t *testing.T) {
	cat, _ := newTestCatalog(t, 0, 0) // root, so setAcl passes permission checks
	ctx := context.Background()
	require.NoError(t, cat.MakeDir(ctx, "/d", 0o755))

	// Minimal valid ACL with a default subset: USER_OBJ/GROUP_OBJ/OTHER plus
	// DEFAULT USER_OBJ/GROUP_OBJ/OTHER (no MASK, as there are no USER/GROUP entries).
	defaultACL := parseTestACL(t)
	require.NoError(t, cat.SetAcl(ctx, "/d", defaultACL))

	require.NoError(t, cat.MakeDir(ctx, "/d/child", 0o755))
	st, err := cat.ExtendedStat(ctx, "/d/child", true)
	require.NoError(t, err)
	assert.NotEmpty(t, st.ACL)
}

func TestSymlinkResolutionFollowsTarget(t *testing.T) {
	cat, _ := newTestCatalog(t, 100, 200)
	ctx := context.Background()
	require.NoError(t, cat.Create(ctx, "/real", 0o644))
	require.NoError(t, cat.Symlink(ctx, "/link", "/real"))

	st, err := cat.ExtendedStat(ctx, "/link", true)
	require.NoError(t, err)
	assert.Equal(t, "real", st.Name)

	target, err := cat.ReadLink(ctx, "/link")
	require.NoError(t, err)
	assert.Equal(t, "/real", target)
}

func TestOpenDirListsEntries(t *testing.T) {
	cat, _ := newTestCatalog(t, 100, 200)
	ctx := context.Background()
	require.NoError(t, cat.MakeDir(ctx, "/d", 0o755))
	require.NoError(t, cat.Create(ctx, "/d/a", 0o644))

	dir, err := cat.OpenDir(ctx, "/d")
	require.NoError(t, err)
	defer dir.Close()

	e, ok := dir.ReadDir()
	require.True(t, ok)
	assert.Equal(t, "a", e.Name)
}

func TestReplicaAddAllowedForOwnerWithWrite(t *testing.T) {
	owner, _ := newTestCatalog(t, 100, 200)
	ctx := context.Background()
	require.NoError(t, owner.Create(ctx, "/f", 0o600))

	_, err := owner.AddReplica(ctx, "/f", nsinode.Replica{PFN: "/store/f.0"})
	require.NoError(t, err)

	reps, err := owner.GetReplicas(ctx, "/f")
	require.NoError(t, err)
	assert.Len(t, reps, 1)
}

func parseTestACL(t *testing.T) nsacl.ACL {
	t.Helper()
	return nsacl.ACL{
		{Type: nsacl.UserObj, ID: 0, Perm: 7},
		{Type: nsacl.GroupObj, ID: 0, Perm: 5},
		{Type: nsacl.Other, ID: 0, Perm: 5},
		{Type: nsacl.UserObj | nsacl.Default, ID: 0, Perm: 7},
		{Type: nsacl.GroupObj | nsacl.Default, ID: 0, Perm: 5},
		{Type: nsacl.Other | nsacl.Default, ID: 0, Perm: 5},
	}
}
