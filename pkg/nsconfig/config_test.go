package nsconfig

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSkipsCommentsAndBlankLines(t *testing.T) {
	src := `
# a comment

TokenSecret hunter2
LoadPlugin RegisterInode libinode_mysql.so
`
	ds, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, ds, 2)

	assert.Equal(t, "TokenSecret", ds[0].Key)
	assert.Equal(t, "hunter2", ds[0].Value)

	assert.True(t, ds[1].Plugin)
	assert.Equal(t, "RegisterInode", ds[1].Symbol)
	assert.Equal(t, "libinode_mysql.so", ds[1].Path)
}

func TestParseRejectsMalformedLoadPlugin(t *testing.T) {
	_, err := Parse(strings.NewReader("LoadPlugin onlyOneArg\n"))
	assert.Error(t, err)
}

func TestParseRejectsSingleTokenLine(t *testing.T) {
	_, err := Parse(strings.NewReader("justakey\n"))
	assert.Error(t, err)
}

type testOptions struct {
	PoolSize int    `config:"poolSize"`
	Bucket   string `config:"bucket"`
}

func TestDecodeWeaklyTypesStrings(t *testing.T) {
	var opts testOptions
	err := Decode(map[string]string{"poolSize": "8", "bucket": "grid-data"}, &opts)
	require.NoError(t, err)
	assert.Equal(t, 8, opts.PoolSize)
	assert.Equal(t, "grid-data", opts.Bucket)
}
