package hmc_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/zhmcctl/internal/hmc"
	"github.com/dokzlo13/zhmcctl/internal/hmc/hmcfake"
)

func open(t *testing.T, srv *hmcfake.Server) *hmc.Client {
	t.Helper()
	c, err := hmc.Open(context.Background(), srv.Options(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := hmc.Open(ctx, hmc.Options{Userid: "u", Password: "p"}, zerolog.Nop())
	assert.Error(t, err, "host is required")

	_, err = hmc.Open(ctx, hmc.Options{Host: "hmc1"}, zerolog.Nop())
	assert.Error(t, err, "no credentials")

	_, err = hmc.Open(ctx, hmc.Options{Host: "hmc1", Userid: "u", Password: "p", SessionID: "s"}, zerolog.Nop())
	assert.Error(t, err, "credentials and session id")

	_, err = hmc.Open(ctx, hmc.Options{Host: "hmc1", SessionID: "s", Verify: true, CACerts: filepath.Join(t.TempDir(), "missing.pem")}, zerolog.Nop())
	assert.Error(t, err, "missing CA file")
}

func TestOpen_CACertsWithoutPEM(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.pem"), []byte("not a certificate"), 0o600))

	_, err := hmc.Open(context.Background(), hmc.Options{Host: "hmc1", SessionID: "s", Verify: true, CACerts: dir}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no PEM certificates")
}

func TestLogonLogoff(t *testing.T) {
	srv := hmcfake.New("2.15.0")
	defer srv.Close()

	c, err := hmc.Open(context.Background(), srv.Options(), zerolog.Nop())
	require.NoError(t, err)
	assert.NotEmpty(t, c.SessionID())
	assert.Equal(t, 1, srv.ActiveSessions())

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, 0, srv.ActiveSessions())
	assert.Equal(t, 1, srv.Count(http.MethodDelete, "^/api/sessions/this-session$"))
}

func TestLogon_BadCredentials(t *testing.T) {
	srv := hmcfake.New("2.15.0")
	defer srv.Close()

	opts := srv.Options()
	opts.Password = "wrong"
	_, err := hmc.Open(context.Background(), opts, zerolog.Nop())
	require.Error(t, err)

	var herr *hmc.HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusForbidden, herr.Status)
}

func TestExistingSessionIsNotLoggedOff(t *testing.T) {
	srv := hmcfake.New("2.15.0")
	defer srv.Close()

	opts := srv.Options()
	opts.Userid, opts.Password = "", ""
	opts.SessionID = srv.NewSession()

	c, err := hmc.Open(context.Background(), opts, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, opts.SessionID, c.SessionID())

	_, err = c.ListCPCs(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, 1, srv.ActiveSessions())
	assert.Zero(t, srv.Count(http.MethodPost, "^/api/sessions$"))
	assert.Zero(t, srv.Count(http.MethodDelete, "^/api/sessions/"))
}

func TestConnectionError(t *testing.T) {
	srv := hmcfake.New("2.15.0")
	opts := srv.Options()
	srv.Close()

	_, err := hmc.Open(context.Background(), opts, zerolog.Nop())
	require.Error(t, err)

	var cerr *hmc.ConnectionError
	assert.True(t, errors.As(err, &cerr))
}

func TestQueryAPIVersion(t *testing.T) {
	srv := hmcfake.New("2.14.1")
	defer srv.Close()
	c := open(t, srv)

	v, err := c.QueryAPIVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.14.1", v.HMCVersion)
	assert.Equal(t, "FAKEHMC", v.HMCName)
	assert.Equal(t, 4, v.APIMajorVersion)
}

func TestFind(t *testing.T) {
	srv := hmcfake.New("2.15.0")
	defer srv.Close()

	cpcURI := srv.AddCPC("CPC1", nil)
	srv.AddCPC("CPC10", nil)
	srv.AddPartition(cpcURI, "part1", nil)
	srv.AddPartition(cpcURI, "dup", nil)
	srv.AddPartition(cpcURI, "dup", nil)
	srv.AddAdapter(cpcURI, "zedc1", nil)

	c := open(t, srv)
	ctx := context.Background()

	cpc, err := c.FindCPC(ctx, "CPC1")
	require.NoError(t, err)
	assert.Equal(t, cpcURI, cpc.URI)

	_, err = c.FindCPC(ctx, "CPC2")
	assert.True(t, hmc.IsNotFound(err))

	p, err := c.FindPartition(ctx, cpc, "part1")
	require.NoError(t, err)
	assert.Equal(t, "part1", p.Name)
	assert.Same(t, cpc, p.CPC)

	_, err = c.FindPartition(ctx, cpc, "nope")
	assert.True(t, hmc.IsNotFound(err))
	assert.Contains(t, err.Error(), "CPC CPC1")

	_, err = c.FindPartition(ctx, cpc, "dup")
	var nerr *hmc.NoUniqueMatchError
	require.True(t, errors.As(err, &nerr))
	assert.Len(t, nerr.URIs, 2)
	assert.False(t, hmc.IsNotFound(err))

	a, err := c.FindAdapter(ctx, cpc, "zedc1")
	require.NoError(t, err)
	assert.Equal(t, "zedc1", a.Name)

	_, err = c.FindAdapter(ctx, cpc, "zedc2")
	assert.True(t, hmc.IsNotFound(err))

	parts, err := c.ListPartitions(ctx, cpc)
	require.NoError(t, err)
	assert.Len(t, parts, 3)
}

func TestGetProperty_PullsOnce(t *testing.T) {
	srv := hmcfake.New("2.15.0")
	defer srv.Close()
	cpcURI := srv.AddCPC("CPC1", nil)

	c := open(t, srv)
	ctx := context.Background()
	cpc, err := c.FindCPC(ctx, "CPC1")
	require.NoError(t, err)

	v, err := c.GetProperty(ctx, &cpc.Resource, "se-version")
	require.NoError(t, err)
	assert.Equal(t, "2.15.0", v)

	_, err = c.GetProperty(ctx, &cpc.Resource, "dpm-enabled")
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Count(http.MethodGet, "^"+cpcURI+"$"))

	_, err = c.GetProperty(ctx, &cpc.Resource, "no-such-property")
	assert.Error(t, err)
}

func TestVirtualFunctionLifecycle(t *testing.T) {
	srv := hmcfake.New("2.15.0")
	defer srv.Close()
	cpcURI := srv.AddCPC("CPC1", nil)
	partURI := srv.AddPartition(cpcURI, "part1", nil)
	adapterURI := srv.AddAdapter(cpcURI, "zedc1", nil)
	srv.AddVirtualFunction(partURI, "other", nil)

	c := open(t, srv)
	ctx := context.Background()
	cpc, err := c.FindCPC(ctx, "CPC1")
	require.NoError(t, err)
	p, err := c.FindPartition(ctx, cpc, "part1")
	require.NoError(t, err)

	_, err = c.FindVirtualFunction(ctx, p, "vf1")
	require.True(t, hmc.IsNotFound(err))

	vf, err := c.CreateVirtualFunction(ctx, p, map[string]any{
		"name":          "vf1",
		"adapter-uri":   adapterURI,
		"device-number": "01AB",
	})
	require.NoError(t, err)
	assert.Equal(t, "vf1", vf.Name)
	assert.Contains(t, vf.URI, partURI+"/virtual-functions/")
	assert.Equal(t, "01AB", vf.Properties["device-number"], "local copy holds what was sent")
	assert.Equal(t, "01ab", srv.Properties(vf.URI)["device-number"])

	found, err := c.FindVirtualFunction(ctx, p, "vf1")
	require.NoError(t, err)
	assert.Equal(t, vf.URI, found.URI)
	assert.Equal(t, "virtual-function", found.Properties["class"])

	require.NoError(t, c.UpdateProperties(ctx, &found.Resource, map[string]any{"description": "updated"}))
	assert.Equal(t, "updated", found.Properties["description"])
	assert.Equal(t, "updated", srv.Properties(vf.URI)["description"])

	require.NoError(t, c.Delete(ctx, &found.Resource))
	assert.Nil(t, srv.Properties(vf.URI))

	_, err = c.FindVirtualFunction(ctx, p, "vf1")
	assert.True(t, hmc.IsNotFound(err))
}

func TestCreateVirtualFunction_BadAdapter(t *testing.T) {
	srv := hmcfake.New("2.15.0")
	defer srv.Close()
	cpcURI := srv.AddCPC("CPC1", nil)
	srv.AddPartition(cpcURI, "part1", nil)

	c := open(t, srv)
	ctx := context.Background()
	cpc, err := c.FindCPC(ctx, "CPC1")
	require.NoError(t, err)
	p, err := c.FindPartition(ctx, cpc, "part1")
	require.NoError(t, err)

	_, err = c.CreateVirtualFunction(ctx, p, map[string]any{"name": "vf1", "adapter-uri": "/api/adapters/nope"})
	var herr *hmc.HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusBadRequest, herr.Status)
	assert.Equal(t, 8, herr.Reason)
}

func TestFindVirtualFunction_NotUnique(t *testing.T) {
	srv := hmcfake.New("2.15.0")
	defer srv.Close()
	cpcURI := srv.AddCPC("CPC1", nil)
	partURI := srv.AddPartition(cpcURI, "part1", nil)
	srv.AddVirtualFunction(partURI, "vf1", nil)
	srv.AddVirtualFunction(partURI, "vf1", nil)

	c := open(t, srv)
	ctx := context.Background()
	cpc, err := c.FindCPC(ctx, "CPC1")
	require.NoError(t, err)
	p, err := c.FindPartition(ctx, cpc, "part1")
	require.NoError(t, err)

	_, err = c.FindVirtualFunction(ctx, p, "vf1")
	var nerr *hmc.NoUniqueMatchError
	assert.True(t, errors.As(err, &nerr))
}

func TestWaitForTransitionCompletion(t *testing.T) {
	srv := hmcfake.New("2.15.0")
	defer srv.Close()
	cpcURI := srv.AddCPC("CPC1", nil)
	partURI := srv.AddPartition(cpcURI, "part1", nil)

	c := open(t, srv)
	ctx := context.Background()
	cpc, err := c.FindCPC(ctx, "CPC1")
	require.NoError(t, err)
	p, err := c.FindPartition(ctx, cpc, "part1")
	require.NoError(t, err)

	srv.SetStatuses(partURI, "starting", "starting", "active")
	require.NoError(t, c.WaitForTransitionCompletion(ctx, p))
	assert.Equal(t, "active", p.Properties["status"])
	assert.Equal(t, 3, srv.Count(http.MethodGet, "^"+partURI+"$"))

	srv.SetStatuses(partURI, "stopping")
	err = c.WaitForTransitionCompletion(ctx, p)
	var serr *hmc.StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "stopping", serr.Status)
	assert.Equal(t, "part1", serr.Partition)
}

func TestWaitForTransitionCompletion_Canceled(t *testing.T) {
	srv := hmcfake.New("2.15.0")
	defer srv.Close()
	cpcURI := srv.AddCPC("CPC1", nil)
	partURI := srv.AddPartition(cpcURI, "part1", nil)
	srv.SetStatuses(partURI, "starting")

	opts := srv.Options()
	opts.StatusTimeout = time.Minute
	c, err := hmc.Open(context.Background(), opts, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close(context.Background())

	cpc, err := c.FindCPC(context.Background(), "CPC1")
	require.NoError(t, err)
	p, err := c.FindPartition(context.Background(), cpc, "part1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.WaitForTransitionCompletion(ctx, p)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListPermittedPartitions(t *testing.T) {
	srv := hmcfake.New("2.15.0")
	defer srv.Close()
	cpc1 := srv.AddCPC("CPC1", nil)
	cpc2 := srv.AddCPC("CPC2", nil)
	srv.AddCPC("CLASSIC", map[string]any{"dpm-enabled": false})
	srv.AddPartition(cpc1, "a", nil)
	srv.AddPartition(cpc1, "b", map[string]any{"status": "stopped"})
	srv.AddPartition(cpc2, "c", nil)

	c := open(t, srv)
	ctx := context.Background()

	parts, err := c.ListPermittedPartitions(ctx, "")
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, "CPC1", parts[0].CPC.Name)
	assert.Same(t, parts[0].CPC, parts[1].CPC, "partitions of one CPC share the parent")
	assert.Equal(t, "stopped", parts[1].Properties["status"])
	assert.Equal(t, "2.15.0", parts[2].Properties["se-version"])

	parts, err = c.ListPermittedPartitions(ctx, "CPC2")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "c", parts[0].Name)
}

func TestRequestWithoutSession(t *testing.T) {
	srv := hmcfake.New("2.15.0")
	defer srv.Close()

	opts := srv.Options()
	opts.Userid, opts.Password = "", ""
	opts.SessionID = "expired"
	c, err := hmc.Open(context.Background(), opts, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.ListCPCs(context.Background())
	var herr *hmc.HTTPError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, http.StatusForbidden, herr.Status)
	assert.Equal(t, 5, herr.Reason)
}
