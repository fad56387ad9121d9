package profiler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmgrid/nsfabric/pkg/nsinode/memory"
	"github.com/dmgrid/nsfabric/pkg/nscatalog"
	"github.com/dmgrid/nsfabric/pkg/nsplugin"
	"github.com/dmgrid/nsfabric/pkg/nssecurity"
)

func TestProfilerCountsCallsAndComposesImplID(t *testing.T) {
	pm := nsplugin.NewPluginManager()
	si := nsplugin.NewStackInstance(pm)
	si.SetSecurityContext(&nssecurity.Context{User: nssecurity.UserInfo{UID: 0}})

	cat := nscatalog.NewBuiltin(memory.New(), 0)
	cat.SetStackInstance(si)

	p := Wrap(cat)
	assert.Equal(t, "Profiler over Builtin", p.ImplID())

	ctx := context.Background()
	require.NoError(t, p.MakeDir(ctx, "/d", 0o755))
	_, err := p.ExtendedStat(ctx, "/d", true)
	require.NoError(t, err)

	counters := p.Counters()
	assert.EqualValues(t, 1, counters["MakeDir"])
	assert.EqualValues(t, 1, counters["ExtendedStat"])
}
