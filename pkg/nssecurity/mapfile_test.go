package nssecurity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMapFileHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapfile")
	require.NoError(t, os.WriteFile(path, []byte("DN1 voA\n"), 0644))

	r := NewMapFileResolver()
	vo, err := r.VOFromDN(path, "DN1")
	require.NoError(t, err)
	require.Equal(t, "voA", vo)

	// Touch the mtime forward and append a new mapping.
	future := time.Now().Add(time.Second)
	require.NoError(t, os.WriteFile(path, []byte("DN1 voA\nDN2 voB\n"), 0644))
	require.NoError(t, os.Chtimes(path, future, future))

	vo2, err := r.VOFromDN(path, "DN2")
	require.NoError(t, err)
	require.Equal(t, "voB", vo2)
}

func TestMapFileUnmappedDN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapfile")
	require.NoError(t, os.WriteFile(path, []byte("# comment\n\nDN1 voA\n"), 0644))

	r := NewMapFileResolver()
	_, err := r.VOFromDN(path, "unknown-dn")
	require.Error(t, err)
}

func TestMapFileMissing(t *testing.T) {
	r := NewMapFileResolver()
	_, err := r.VOFromDN("/nonexistent/mapfile", "DN1")
	require.Error(t, err)
}

func TestVOFromRole(t *testing.T) {
	require.Equal(t, "atlas", VOFromRole("/atlas/Role=NULL/Capability=NULL"))
	require.Equal(t, "atlas/production", VOFromRole("/atlas/production/Role=NULL"))
}
