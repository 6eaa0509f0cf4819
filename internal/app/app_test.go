package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/zhmcctl/internal/config"
	"github.com/dokzlo13/zhmcctl/internal/hmc"
	"github.com/dokzlo13/zhmcctl/internal/hmc/hmcfake"
	"github.com/dokzlo13/zhmcctl/internal/ledger"
	"github.com/dokzlo13/zhmcctl/internal/props"
	"github.com/dokzlo13/zhmcctl/internal/reconcile"
	"github.com/dokzlo13/zhmcctl/internal/reconcile/vfunction"
)

func newApp(t *testing.T, srv *hmcfake.Server, ledgerPath string) *App {
	t.Helper()
	opts := srv.Options()
	verify := false
	cfg := &config.Config{
		HMC: config.HMCConfig{
			Host:         opts.Host,
			RateLimitRPS: 1000,
			Auth: config.AuthConfig{
				Userid:   opts.Userid,
				Password: opts.Password,
				Verify:   &verify,
			},
		},
		Ledger: config.LedgerConfig{Path: ledgerPath, RetentionDays: 30},
	}
	require.NoError(t, cfg.Validate())

	a, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func newServer(t *testing.T) *hmcfake.Server {
	t.Helper()
	srv := hmcfake.New("2.15.0")
	t.Cleanup(srv.Close)
	cpc := srv.AddCPC("CPC1", nil)
	srv.AddPartition(cpc, "part1", nil)
	srv.AddAdapter(cpc, "ABC-123", nil)
	return srv
}

func TestVirtualFunction(t *testing.T) {
	srv := newServer(t)
	a := newApp(t, srv, filepath.Join(t.TempDir(), "ledger.sqlite"))

	params := vfunction.Params{
		CPCName:       "CPC1",
		PartitionName: "part1",
		Name:          "vf1",
		State:         reconcile.StatePresent,
		Properties:    map[string]any{"description": "accel", "adapter_name": "ABC-123"},
	}
	res, err := a.VirtualFunction(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "accel", res.Properties["description"])
	assert.Zero(t, srv.ActiveSessions(), "session is logged off")

	entries, err := a.History(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EventInvocationSucceeded, entries[0].EventType)
	assert.Equal(t, "vfunction", entries[0].Module)
	assert.Equal(t, "CPC1/part1/vf1", entries[0].Target)
	assert.Equal(t, "present", entries[0].State)
	assert.True(t, entries[0].Changed)
	assert.Equal(t, "accel", entries[0].Payload["description"])
}

func TestVirtualFunction_Failure(t *testing.T) {
	srv := newServer(t)
	a := newApp(t, srv, filepath.Join(t.TempDir(), "ledger.sqlite"))

	_, err := a.VirtualFunction(context.Background(), vfunction.Params{
		CPCName:       "CPC1",
		PartitionName: "missing",
		Name:          "vf1",
		State:         reconcile.StateAbsent,
	})
	require.Error(t, err)
	assert.True(t, hmc.IsNotFound(err))
	assert.Zero(t, srv.ActiveSessions(), "session is logged off after a failure")

	entries, err := a.History(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EventInvocationFailed, entries[0].EventType)
	assert.Contains(t, entries[0].Message, "NotFoundError: ")
	assert.False(t, entries[0].Changed)
}

func TestPartitions(t *testing.T) {
	srv := newServer(t)
	a := newApp(t, srv, filepath.Join(t.TempDir(), "ledger.sqlite"))

	infos, err := a.Partitions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "part1", infos[0].Name)
	assert.Equal(t, "CPC1", infos[0].CPCName)
	assert.Zero(t, srv.ActiveSessions())

	entries, err := a.History(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "partitions", entries[0].Module)
	assert.Equal(t, float64(1), entries[0].Payload["count"])
}

func TestInvocation(t *testing.T) {
	srv := newServer(t)
	a := newApp(t, srv, filepath.Join(t.TempDir(), "ledger.sqlite"))

	_, err := a.Partitions(context.Background(), "")
	require.NoError(t, err)
	_, err = a.Partitions(context.Background(), "CPC1")
	require.NoError(t, err)

	recent, err := a.History(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	entries, err := a.Invocation(recent[0].RunID[:8])
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, recent[0].RunID, entries[0].RunID)
	assert.Equal(t, "CPC1", entries[0].Target)

	_, err = a.Invocation("ffffffff-0000")
	assert.ErrorIs(t, err, props.ErrParameter)

	_, err = a.Invocation("")
	assert.ErrorIs(t, err, props.ErrParameter)
}

func TestLedgerDisabled(t *testing.T) {
	srv := newServer(t)
	a := newApp(t, srv, "")

	_, err := a.Partitions(context.Background(), "CPC1")
	require.NoError(t, err)

	_, err = a.History(10)
	assert.ErrorIs(t, err, props.ErrParameter)

	_, err = a.Invocation("abc")
	assert.ErrorIs(t, err, props.ErrParameter)
}
