package nsio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmgrid/nsfabric/pkg/nserr"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
	"github.com/dmgrid/nsfabric/pkg/nssecurity"
	"github.com/dmgrid/nsfabric/pkg/nstoken"
	"github.com/dmgrid/nsfabric/pkg/nsvalue"
)

func newTestDriver(t *testing.T, secret string) *Builtin {
	t.Helper()
	pm := nsplugin.NewPluginManager()
	si := nsplugin.NewStackInstance(pm)
	si.SetSecurityContext(&nssecurity.Context{
		User:        nssecurity.UserInfo{UID: 500},
		Credentials: nssecurity.Credentials{ClientDN: "/CN=tester"},
	})
	d := NewBuiltin(secret)
	d.SetStackInstance(si)
	return d
}

func TestCreateIOHandlerRejectsMissingToken(t *testing.T) {
	d := newTestDriver(t, "shh")
	pfn := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(pfn, []byte("data"), 0o644))

	_, err := d.CreateIOHandler(context.Background(), pfn, FlagRead, nsvalue.New(), 0o644)
	require.Error(t, err)
	assert.True(t, nserr.Is(err, nserr.InvalidToken))
}

func TestCreateIOHandlerAcceptsValidToken(t *testing.T) {
	d := newTestDriver(t, "shh")
	pfn := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(pfn, []byte("hello world"), 0o644))

	tok := nstoken.Generate("/CN=tester", pfn, "shh", time.Minute, false)
	extras := nsvalue.New()
	extras.Set("token", tok)

	h, err := d.CreateIOHandler(context.Background(), pfn, FlagRead, extras, 0o644)
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 5)
	n, err := h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
}

func TestCreateIOHandlerInsecureSkipsToken(t *testing.T) {
	d := newTestDriver(t, "shh")
	pfn := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(pfn, []byte("data"), 0o644))

	h, err := d.CreateIOHandler(context.Background(), pfn, FlagRead|FlagInsecure, nsvalue.New(), 0o644)
	require.NoError(t, err)
	defer h.Close()
}

func TestReadSetsEOFOnShortRead(t *testing.T) {
	d := newTestDriver(t, "shh")
	pfn := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(pfn, []byte("hi"), 0o644))

	h, err := d.CreateIOHandler(context.Background(), pfn, FlagRead|FlagInsecure, nsvalue.New(), 0o644)
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 10)
	n, err := h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, h.Eof())
}

func TestPwriteThenPread(t *testing.T) {
	d := newTestDriver(t, "shh")
	pfn := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(pfn, []byte("xxxxxxxxxx"), 0o644))

	h, err := d.CreateIOHandler(context.Background(), pfn, FlagRead|FlagWrite|FlagInsecure, nsvalue.New(), 0o644)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Pwrite([]byte("AB"), 2)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := h.Pread(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "xAB", string(buf[:3]))
}
