package hub

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcphub-go/internal/hubtest"
	"mcphub-go/internal/mcperr"
	"mcphub-go/internal/store"
)

func TestSetup_InvalidPort(t *testing.T) {
	cfg := testConfig(t, 70000)
	sink := &errorSink{}
	st := store.New(store.Options{})

	c, err := Setup(context.Background(), Options{Config: cfg, Store: st, OnError: sink.add}, SetupOptions{})

	assert.Nil(t, c)
	assert.True(t, mcperr.Matches(err, mcperr.CategorySetup, mcperr.CodeInvalidPort))
	snap := st.Snapshot()
	assert.Equal(t, store.SetupFailed, snap.Setup.State)
	require.NotNil(t, snap.Setup.Error)
	assert.Equal(t, mcperr.CodeInvalidPort, snap.Setup.Error.Code)
	assert.Len(t, snap.ErrorsFor(mcperr.CategorySetup), 1)
	assert.Equal(t, []mcperr.Code{mcperr.CodeInvalidPort}, sink.codes())
}

func TestSetup_MissingConfigFile(t *testing.T) {
	cfg := testConfig(t, 37373)
	cfg.ConfigPath = filepath.Join(t.TempDir(), "missing.json")
	st := store.New(store.Options{})

	_, err := Setup(context.Background(), Options{Config: cfg, Store: st}, SetupOptions{})

	assert.True(t, mcperr.Matches(err, mcperr.CategorySetup, mcperr.CodeInvalidConfig))
	assert.Equal(t, store.SetupFailed, st.Snapshot().Setup.State)
}

func TestSetup_MissingHubBinary(t *testing.T) {
	h := hubtest.New(t)
	h.Fail("GET /health", 503, "starting", -1)
	cfg := testConfig(t, h.Port())
	cfg.SkipVersionCheck = false
	cfg.HubCommand = "mcphub-test-binary-that-does-not-exist"
	sink := &errorSink{}

	c, err := Setup(context.Background(), Options{Config: cfg, Logger: zap.NewNop(), OnError: sink.add}, SetupOptions{})

	assert.Nil(t, c)
	assert.True(t, mcperr.Matches(err, mcperr.CategorySetup, mcperr.CodeMissingDependency))
	assert.Equal(t, []mcperr.Code{mcperr.CodeMissingDependency}, sink.codes())
	// the ping failure is expected and stays out of the feed
	assert.Equal(t, 1, h.Hits("GET /health"))
}

func TestSetup_RunningHubSkipsBinaryCheck(t *testing.T) {
	h := hubtest.New(t)
	h.SetServers(weatherServer())
	cfg := testConfig(t, h.Port())
	cfg.SkipVersionCheck = false
	cfg.HubCommand = "mcphub-test-binary-that-does-not-exist"
	st := store.New(store.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Setup(ctx, Options{Config: cfg, Store: st, Logger: zap.NewNop()}, SetupOptions{Wait: true})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	assert.True(t, c.IsReady())
	snap := st.Snapshot()
	assert.Equal(t, store.SetupCompleted, snap.Setup.State)
	assert.Equal(t, cfg.ConfigPath, snap.Config.Path)
	require.NotNil(t, snap.Config.File)
	assert.Len(t, snap.Config.File.MCPServers, 2)
	assert.Same(t, st, c.Store())
}

func TestSetup_AsyncStart(t *testing.T) {
	h := hubtest.New(t)
	cfg := testConfig(t, h.Port())
	st := store.New(store.Options{})
	ready := make(chan struct{})

	c, err := Setup(context.Background(), Options{
		Config:  cfg,
		Store:   st,
		OnReady: func(*Client) { close(ready) },
	}, SetupOptions{})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	assert.Equal(t, store.SetupCompleted, st.Snapshot().Setup.State)

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("client never became ready")
	}
	assert.Equal(t, []string{c.ClientID()}, h.Registered())
}
