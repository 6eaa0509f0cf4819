package partitions

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/zhmcctl/internal/hmc"
	"github.com/dokzlo13/zhmcctl/internal/hmc/hmcfake"
)

// setup creates two DPM CPCs, one classic CPC and a partition on each. CPC2
// does not allow listing its partitions.
func setup(t *testing.T, hmcVersion string) (*hmcfake.Server, *Lister) {
	t.Helper()
	srv := hmcfake.New(hmcVersion)
	t.Cleanup(srv.Close)

	cpc1 := srv.AddCPC("CPC1", nil)
	cpc2 := srv.AddCPC("CPC2", map[string]any{"se-version": "2.14.1"})
	classic := srv.AddCPC("CLASSIC", map[string]any{"dpm-enabled": false})
	srv.AddPartition(cpc1, "a", nil)
	srv.AddPartition(cpc1, "b", map[string]any{"status": "degraded", "has-unacceptable-status": true})
	srv.AddPartition(cpc2, "c", map[string]any{"status": "stopped"})
	srv.AddPartition(classic, "d", nil)
	srv.Forbid(cpc2)

	client, err := hmc.Open(context.Background(), srv.Options(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	srv.ResetJournal()
	return srv, New(client, zerolog.Nop())
}

var (
	infoA = Info{Name: "a", CPCName: "CPC1", SEVersion: "2.15.0", Status: "active"}
	infoB = Info{Name: "b", CPCName: "CPC1", SEVersion: "2.15.0", Status: "degraded", HasUnacceptableStatus: true}
	infoC = Info{Name: "c", CPCName: "CPC2", SEVersion: "2.14.1", Status: "stopped"}
)

func TestList_Legacy(t *testing.T) {
	srv, lister := setup(t, "2.13.5")

	infos, err := lister.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []Info{infoA, infoB}, infos)

	assert.Zero(t, srv.Count(http.MethodGet, "list-permitted-partitions"))
	assert.Equal(t, 1, srv.Count(http.MethodGet, "^/api/cpcs$"))
	// CLASSIC is skipped before its partitions are listed.
	assert.Equal(t, 2, srv.Count(http.MethodGet, "^/api/cpcs/[^/]+/partitions$"))
}

func TestList_LegacyByCPC(t *testing.T) {
	srv, lister := setup(t, "2.13.5")

	infos, err := lister.List(context.Background(), "CPC1")
	require.NoError(t, err)
	assert.Equal(t, []Info{infoA, infoB}, infos)
	assert.Equal(t, 1, srv.Count(http.MethodGet, "^/api/cpcs/[^/]+/partitions$"))

	_, err = lister.List(context.Background(), "CPC9")
	assert.True(t, hmc.IsNotFound(err))
}

func TestList_Permitted(t *testing.T) {
	srv, lister := setup(t, "2.14.1")

	infos, err := lister.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []Info{infoA, infoB, infoC}, infos)

	assert.Equal(t, 1, srv.Count(http.MethodGet, "list-permitted-partitions"))
	assert.Zero(t, srv.Count(http.MethodGet, "^/api/cpcs"), "no per-CPC calls")
	assert.Zero(t, srv.Count(http.MethodGet, "^/api/partitions/"), "no per-partition calls")
}

func TestList_PermittedWithoutSEVersion(t *testing.T) {
	srv, lister := setup(t, "2.14.0")

	infos, err := lister.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []Info{infoA, infoB, infoC}, infos)

	// One retrieval per CPC, not per partition.
	assert.Equal(t, 2, srv.Count(http.MethodGet, "^/api/cpcs/[^/]+$"))
}

func TestList_PermittedByCPC(t *testing.T) {
	srv, lister := setup(t, "2.16.0")

	infos, err := lister.List(context.Background(), "CPC2")
	require.NoError(t, err)
	assert.Equal(t, []Info{infoC}, infos)

	var query string
	for _, r := range srv.Requests() {
		if strings.HasSuffix(r.Path, "list-permitted-partitions") {
			query = r.Query
		}
	}
	assert.Equal(t, "cpc-name=CPC2", query)
}

func TestList_BadVersion(t *testing.T) {
	_, lister := setup(t, "unknown")

	_, err := lister.List(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse HMC version")
}
