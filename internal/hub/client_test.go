package hub

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub-go/internal/config"
	"mcphub-go/internal/contracts"
	"mcphub-go/internal/events"
	"mcphub-go/internal/hub/lifecycle"
	"mcphub-go/internal/mcperr"
	"mcphub-go/internal/store"
)

func TestNew_RequiresValidConfig(t *testing.T) {
	_, err := New(Options{})
	assert.True(t, mcperr.Matches(err, mcperr.CategorySetup, mcperr.CodeInvalidConfig))

	cfg := config.DefaultClientConfig()
	cfg.Port = 0
	cfg.ConfigPath = "servers.json"
	_, err = New(Options{Config: cfg})
	assert.True(t, mcperr.Matches(err, mcperr.CategorySetup, mcperr.CodeInvalidPort))
}

func TestClientID_Format(t *testing.T) {
	f := newFixture(t)
	id := f.client.ClientID()

	assert.Regexp(t, `^\d+_[0-9A-HJKMNP-TV-Z]{26}$`, id)
	other := newFixture(t)
	assert.NotEqual(t, id, other.client.ClientID())
}

func TestStart_AttachesToRunningHub(t *testing.T) {
	var readyCalls int
	f := newFixture(t, func(o *Options) {
		o.OnReady = func(*Client) { readyCalls++ }
	})
	ready := f.client.Bus().Subscribe(events.HubReady)

	f.start(t)

	assert.True(t, f.client.IsReady())
	assert.False(t, f.client.IsOwner())
	assert.Equal(t, lifecycle.StateConnected, f.client.State())
	assert.Equal(t, []string{f.client.ClientID()}, f.hub.Registered())
	assert.Equal(t, 1, readyCalls)
	waitEvent(t, ready, events.HubReady)

	snap := f.client.Store().Snapshot()
	assert.Equal(t, "connected", snap.Server.ConnectionState)
	assert.Equal(t, "4.2.1", snap.Server.Version)
	assert.Equal(t, 1, snap.Server.ActiveClients)
	require.Len(t, snap.Server.Servers, 2)
	assert.Contains(t, snap.Server.Prompt, "## weather")
	assert.Contains(t, snap.Server.Prompt, "Prefer metric units.")
	assert.NotContains(t, snap.Server.Prompt, "secret")
}

func TestStart_RejectedWhileConnected(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	err := f.client.Start(context.Background())
	assert.True(t, mcperr.Matches(err, mcperr.CategoryRuntime, mcperr.CodeInvalidState))
}

func TestStop_UnregistersWithSameID(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.client.Stop()

	assert.Equal(t, lifecycle.StateDisconnected, f.client.State())
	assert.False(t, f.client.IsReady())
	assert.Eventually(t, func() bool {
		return len(f.hub.Unregistered()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, f.client.ClientID(), f.hub.Unregistered()[0])

	// a second start reuses the id
	f.start(t)
	assert.Equal(t, []string{f.client.ClientID(), f.client.ClientID()}, f.hub.Registered())
}

func TestStop_UnregisterFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.hub.Fail("POST /client/unregister", 500, "boom", -1)

	f.client.Stop()

	assert.Equal(t, lifecycle.StateDisconnected, f.client.State())
	assert.Eventually(t, func() bool { return f.hub.Hits("POST /client/unregister") == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.client.Store().Snapshot().ErrorCount())
	assert.Empty(t, f.errs.all())
}

func TestShutdown_WaitsForUnregister(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f.client.Shutdown(ctx)

	// no polling: the request completed before Shutdown returned
	assert.Equal(t, []string{f.client.ClientID()}, f.hub.Unregistered())
	assert.Equal(t, lifecycle.StateDisconnected, f.client.State())
}

func TestShutdown_BoundedByContext(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.hub.Delay("POST /client/unregister", 500*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	started := time.Now()
	f.client.Shutdown(ctx)

	assert.Less(t, time.Since(started), 400*time.Millisecond)
	assert.Empty(t, f.hub.Unregistered())
	assert.Empty(t, f.errs.all())
}

func TestShutdown_UnregisterFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.hub.Fail("POST /client/unregister", 500, "boom", -1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f.client.Shutdown(ctx)

	assert.Equal(t, 1, f.hub.Hits("POST /client/unregister"))
	assert.Zero(t, f.client.Store().Snapshot().ErrorCount())
}

func TestTransitions_MirroredToBus(t *testing.T) {
	f := newFixture(t)
	ch := f.client.Bus().Subscribe(events.ConnectionStateChanged)

	f.start(t)

	first := waitEvent(t, ch, events.ConnectionStateChanged)
	assert.Equal(t, events.StatePayload{From: "disconnected", To: "connecting"}, first.Payload)
	assert.Equal(t, f.client.ClientID(), first.ClientID())
	second := waitEvent(t, ch, events.ConnectionStateChanged)
	assert.Equal(t, events.StatePayload{From: "connecting", To: "connected"}, second.Payload)
}

func TestRegisterFailure_ReportsConnection(t *testing.T) {
	f := newFixture(t)
	f.hub.Fail("POST /client/register", 500, contracts.APIError{Error: "no room"}, -1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := f.client.StartAndWait(ctx)

	assert.True(t, mcperr.Matches(err, mcperr.CategoryServer, mcperr.CodeConnection))
	assert.Equal(t, []mcperr.Code{mcperr.CodeConnection}, f.errs.codes())
	// the hub answered, so the connection state is kept
	assert.Equal(t, lifecycle.StateConnected, f.client.State())
	assert.Len(t, f.client.Store().Snapshot().ErrorsFor(mcperr.CategoryServer), 1)
}

func TestRestart_NonOwnerRefreshes(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	before := f.hub.Hits("GET /health")

	require.NoError(t, f.client.Restart(context.Background()))

	assert.Equal(t, before+1, f.hub.Hits("GET /health"))
	assert.True(t, f.client.IsReady())
	assert.Len(t, f.hub.Registered(), 1)
}

func TestRequestsBeforeReadyAreRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.client.GetServerInfo(context.Background(), "weather")
	assert.True(t, mcperr.Matches(err, mcperr.CategoryServer, mcperr.CodeInvalidState))

	_, err = f.client.CallTool(context.Background(), "weather", "forecast", nil, CallOptions{})
	assert.True(t, mcperr.Matches(err, mcperr.CategoryServer, mcperr.CodeInvalidState))

	assert.Zero(t, f.hub.Hits("GET /servers/{name}/info"))
	assert.Zero(t, f.hub.Hits("POST /servers/{name}/tools"))
	assert.Zero(t, f.client.Store().Snapshot().ErrorCount())
}

func TestGetServers_AppliesOverlay(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	rec, ok := f.client.GetServer("weather")
	require.True(t, ok)
	assert.Equal(t, []string{"forecast"}, toolNames(rec))
	require.NotNil(t, rec.Instructions)
	assert.Equal(t, "Prefer metric units.", rec.Instructions.Text)

	// the raw record keeps the disabled tool for config UIs
	raw, ok := f.client.Store().Snapshot().FindServer("weather")
	require.True(t, ok)
	assert.Equal(t, []string{"forecast", "secret"}, toolNames(raw))
	assert.Equal(t, []string{"secret"}, raw.DisabledTools)

	_, ok = f.client.GetServer("nope")
	assert.False(t, ok)
	assert.Len(t, f.client.GetServers(), 2)
}

func TestGetServerInfo(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	rec, err := f.client.GetServerInfo(context.Background(), "weather")
	require.NoError(t, err)
	assert.Equal(t, "weather", rec.Name)
	assert.Equal(t, []string{"secret"}, rec.DisabledTools)

	_, err = f.client.GetServerInfo(context.Background(), "missing")
	e, ok := mcperr.As(err)
	require.True(t, ok)
	assert.Equal(t, mcperr.CodeAPIError, e.Code)
	assert.Equal(t, "SERVER_NOT_FOUND", e.Details["code"])

	_, err = f.client.GetServerInfo(context.Background(), "")
	assert.True(t, mcperr.Matches(err, mcperr.CategoryRuntime, mcperr.CodeInvalidParams))
}

func TestRefresh_ReplacesServersAndEmits(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ch := f.client.Bus().Subscribe(events.ServersUpdated)

	f.hub.SetServers(weatherServer())
	require.NoError(t, f.client.Refresh(context.Background()))

	evt := waitEvent(t, ch, events.ServersUpdated)
	payload, ok := evt.Payload.(events.ServersPayload)
	require.True(t, ok)
	require.Len(t, payload.Servers, 1)
	assert.Equal(t, []string{"forecast"}, toolNames(payload.Servers[0]))
	assert.Contains(t, payload.Prompt, "- forecast: Daily forecast")
	assert.Len(t, f.client.GetServers(), 1)

	require.NoError(t, f.client.HardRefresh(context.Background()))
	assert.Equal(t, 1, f.hub.Hits("GET /refresh"))
}

func TestUpdateToolConfig_PersistsAndReapplies(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ch := f.client.Bus().Subscribe(events.ServersUpdated)

	require.NoError(t, f.client.UpdateToolConfig("weather", "forecast", true))

	waitEvent(t, ch, events.ServersUpdated)
	rec, _ := f.client.GetServer("weather")
	assert.Empty(t, toolNames(rec))

	data, err := os.ReadFile(f.client.ConfigPath())
	require.NoError(t, err)
	file, err := config.Parse(data)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"secret", "forecast"}, file.Server("weather").DisabledTools)
	assert.Contains(t, string(data), `"theme"`)

	_, err = f.client.CallTool(context.Background(), "weather", "forecast", nil, CallOptions{})
	assert.True(t, mcperr.Matches(err, mcperr.CategoryRuntime, mcperr.CodeInvalidState))
	assert.Empty(t, f.hub.ToolCalls())

	require.NoError(t, f.client.UpdateToolConfig("weather", "forecast", false))
	rec, _ = f.client.GetServer("weather")
	assert.Equal(t, []string{"forecast"}, toolNames(rec))
}

func TestUpdateCustomInstructions(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	require.NoError(t, f.client.UpdateCustomInstructions("weather", nil, true))
	rec, _ := f.client.GetServer("weather")
	require.NotNil(t, rec.Instructions)
	assert.True(t, rec.Instructions.Disabled)
	assert.Equal(t, "Prefer metric units.", rec.Instructions.Text)
	assert.NotContains(t, f.client.Store().Snapshot().Server.Prompt, "Prefer metric units.")

	text := "Use kelvin."
	require.NoError(t, f.client.UpdateCustomInstructions("weather", &text, false))
	assert.Contains(t, f.client.Store().Snapshot().Server.Prompt, "Use kelvin.")
}

func TestUpdateServerConfig_ConfigErrorsAreRuntime(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	require.NoError(t, os.WriteFile(f.client.ConfigPath(), []byte(`{"nope": true}`), 0o600))
	err := f.client.UpdateServerConfig("weather", &config.ServerConfig{Command: "other"})

	e, ok := mcperr.As(err)
	require.True(t, ok)
	assert.Equal(t, mcperr.CategoryRuntime, e.Category)
	assert.Equal(t, mcperr.CodeConfigUpdate, e.Code)
}

func TestStopMCPServer_DisablePersistsAndRefreshes(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	require.NoError(t, f.client.StopMCPServer(context.Background(), "weather", true))

	assert.Equal(t, []string{"disable=true"}, f.hub.Queries("POST /servers/{name}/stop"))
	rec, _ := f.client.GetServer("weather")
	assert.Equal(t, contracts.StatusDisabled, rec.Status)

	file := f.client.Store().Snapshot().Config.File
	require.NotNil(t, file)
	assert.True(t, file.Server("weather").IsDisabled())

	require.NoError(t, f.client.StartMCPServer(context.Background(), "weather"))
	rec, _ = f.client.GetServer("weather")
	assert.Equal(t, contracts.StatusConnected, rec.Status)
	assert.False(t, f.client.Store().Snapshot().Config.File.Server("weather").IsDisabled())
}

func TestServerAction_OptimisticStatus(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.hub.Delay("POST /servers/{name}/start", 200*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- f.client.StartMCPServer(context.Background(), "files") }()

	assert.Eventually(t, func() bool {
		rec, _ := f.client.Store().Snapshot().FindServer("files")
		return rec.Status == contracts.StatusConnecting
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, <-done)
	rec, _ := f.client.GetServer("files")
	assert.Equal(t, contracts.StatusConnected, rec.Status)
}

func TestServerAction_FailureWrapsAndRefreshes(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	before := f.hub.Hits("GET /health")

	err := f.client.StopMCPServer(context.Background(), "ghost", false)

	e, ok := mcperr.As(err)
	require.True(t, ok)
	assert.Equal(t, mcperr.CategoryServer, e.Category)
	assert.Equal(t, mcperr.CodeServerStop, e.Code)
	assert.Equal(t, string(mcperr.CodeAPIError), e.Details["cause_code"])
	assert.Equal(t, before+1, f.hub.Hits("GET /health"))

	err = f.client.StartMCPServer(context.Background(), "")
	assert.True(t, mcperr.Matches(err, mcperr.CategoryRuntime, mcperr.CodeInvalidParams))
}

func TestServerAction_RequiresConnection(t *testing.T) {
	f := newFixture(t)

	err := f.client.StartMCPServer(context.Background(), "weather")
	assert.True(t, mcperr.Matches(err, mcperr.CategoryServer, mcperr.CodeInvalidState))
	assert.Zero(t, f.hub.Hits("POST /servers/{name}/start"))
}

func TestStoreReset_OnRestartKeepsSubscribers(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	var changes int
	unsub := f.client.Store().Subscribe(func(store.Change) { changes++ }, store.SectionServer)
	defer unsub()

	f.client.Store().Reset()
	assert.Equal(t, 1, changes)
	assert.Empty(t, f.client.Store().Snapshot().Server.Servers)
}

func TestCallTool_ReturnsResult(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.hub.SetToolResult("weather", "forecast", `{"content":[{"type":"text","text":"sunny"}]}`)

	result, err := f.client.CallTool(context.Background(), "weather", "forecast",
		map[string]any{"city": "Oslo", "days": 2}, CallOptions{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"sunny"}]}`, string(result))

	calls := f.hub.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "forecast", calls[0].Tool)
	assert.Equal(t, "Oslo", calls[0].Arguments["city"])
	assert.EqualValues(t, 2, calls[0].Arguments["days"])
}

func TestCallToolAsync_DeliversOnce(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	results := make(chan json.RawMessage, 2)
	f.client.CallToolAsync(context.Background(), "weather", "forecast", nil, CallOptions{},
		func(body json.RawMessage, err error) {
			assert.NoError(t, err)
			results <- body
		})

	select {
	case body := <-results:
		assert.JSONEq(t, `{"content":[{"type":"text","text":"ok"}]}`, string(body))
	case <-time.After(3 * time.Second):
		t.Fatal("callback not delivered")
	}

	errs := make(chan error, 1)
	f.client.CallToolAsync(context.Background(), "weather", "secret", nil, CallOptions{},
		func(_ json.RawMessage, err error) { errs <- err })
	select {
	case err := <-errs:
		assert.True(t, mcperr.Matches(err, mcperr.CategoryRuntime, mcperr.CodeInvalidState))
	case <-time.After(3 * time.Second):
		t.Fatal("callback not delivered")
	}
}

func TestCallTool_TimeoutOverride(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.hub.Delay("POST /servers/{name}/tools", time.Second)

	_, err := f.client.CallTool(context.Background(), "weather", "forecast", nil,
		CallOptions{Timeout: 50 * time.Millisecond})
	e, ok := mcperr.As(err)
	require.True(t, ok)
	assert.Equal(t, mcperr.CodeTimeout, e.Code)
	assert.Equal(t, "timeout", e.Details["reason"])
}

func TestAccessResource(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	result, err := f.client.AccessResource(context.Background(), "weather", "weather://stations", CallOptions{})
	require.NoError(t, err)
	assert.Contains(t, string(result), `"text":"ok"`)
	assert.Equal(t, []string{"weather://stations"}, f.hub.ResourceReads())

	done := make(chan error, 1)
	f.client.AccessResourceAsync(context.Background(), "weather", "", CallOptions{},
		func(_ json.RawMessage, err error) { done <- err })
	select {
	case err := <-done:
		assert.True(t, mcperr.Matches(err, mcperr.CategoryRuntime, mcperr.CodeInvalidParams))
	case <-time.After(3 * time.Second):
		t.Fatal("callback not delivered")
	}
}
