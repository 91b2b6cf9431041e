//go:build !windows

package hub

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub-go/internal/hub/lifecycle"
	"mcphub-go/internal/mcperr"
	"mcphub-go/internal/monitor"
)

const hubReadyLine = `{"type":"info","message":"MCP_HUB_STARTED","data":{"status":"ready"}}`

func writeHubScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcp-hub")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// spawnFixture points the client at a fake hub whose first health check
// fails, so the client spawns script and then talks to the fake hub
func spawnFixture(t *testing.T, script string, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := newFixture(t, append([]func(*Options){func(o *Options) {
		o.Config.HubCommand = script
		o.Config.HubArgs = []string{"--watch"}
	}}, mutate...)...)
	f.hub.Fail("GET /health", 503, "no hub yet", 1)
	return f
}

// reap terminates the spawned process; Stop only detaches it
func reap(t *testing.T, c *Client) {
	t.Helper()
	c.mu.Lock()
	proc := c.proc
	c.mu.Unlock()
	if proc != nil {
		t.Cleanup(func() { _ = proc.Terminate() })
	}
}

func TestSpawn_ReadyRecordConnectsAsOwner(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	script := writeHubScript(t, `echo "$@" > `+argsFile+`
echo '{"type":"error","code":"CONNECTION","message":"server files failed"}'
echo '`+hubReadyLine+`'
exec sleep 30`)
	f := spawnFixture(t, script)

	require.NoError(t, f.client.Start(context.Background()))
	require.Eventually(t, func() bool {
		f.client.mu.Lock()
		defer f.client.mu.Unlock()
		return f.client.proc != nil
	}, 3*time.Second, 5*time.Millisecond)
	reap(t, f.client)

	require.Eventually(t, f.client.IsReady, 5*time.Second, 10*time.Millisecond)
	assert.True(t, f.client.IsOwner())
	assert.True(t, f.client.Store().Snapshot().Server.IsOwner)
	assert.Eventually(t, func() bool { return len(f.hub.Registered()) == 1 }, 3*time.Second, 10*time.Millisecond)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "--port")
	assert.Contains(t, string(args), "--auto-shutdown --shutdown-delay 600000 --watch")

	// error records are surfaced without failing the start
	require.Eventually(t, func() bool { return len(f.errs.all()) > 0 }, 3*time.Second, 10*time.Millisecond)
	first := f.errs.all()[0]
	assert.Equal(t, mcperr.CodeConnection, first.Code)
	assert.Equal(t, "hub", first.Details["source"])
	assert.NotEmpty(t, f.client.Store().Snapshot().Logs)

	f.client.Stop()
	assert.False(t, f.client.IsOwner())
	f.client.mu.Lock()
	assert.Nil(t, f.client.proc)
	f.client.mu.Unlock()
}

func TestSpawn_StopDetachesWithoutKilling(t *testing.T) {
	script := writeHubScript(t, `echo '`+hubReadyLine+`'
exec sleep 30`)
	f := spawnFixture(t, script)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.client.StartAndWait(ctx))

	f.client.mu.Lock()
	proc := f.client.proc
	f.client.mu.Unlock()
	require.NotNil(t, proc)
	t.Cleanup(func() { _ = proc.Terminate() })

	f.client.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.True(t, monitor.Alive(proc.PID()))
	assert.Equal(t, lifecycle.StateDisconnected, f.client.State())
}

func TestSpawn_ExitBeforeReady(t *testing.T) {
	script := writeHubScript(t, `exit 3`)
	f := spawnFixture(t, script)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := f.client.StartAndWait(ctx)

	e, ok := mcperr.As(err)
	require.True(t, ok)
	assert.Equal(t, mcperr.CodeProcessExit, e.Code)
	assert.Equal(t, 3, e.Details["exit_code"])
	assert.Equal(t, lifecycle.StateDisconnected, f.client.State())
	assert.False(t, f.client.IsOwner())
	assert.Equal(t, []mcperr.Code{mcperr.CodeProcessExit}, f.errs.codes())
}

func TestSpawn_Failure(t *testing.T) {
	f := spawnFixture(t, filepath.Join(t.TempDir(), "missing-hub"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := f.client.StartAndWait(ctx)

	assert.True(t, mcperr.Matches(err, mcperr.CategoryServer, mcperr.CodeStartFailed))
	assert.Equal(t, lifecycle.StateDisconnected, f.client.State())
	assert.Len(t, f.client.Store().Snapshot().ErrorsFor(mcperr.CategoryServer), 1)
}

func TestSpawn_StartupTimeoutTerminates(t *testing.T) {
	script := writeHubScript(t, `exec sleep 30`)
	f := spawnFixture(t, script, func(o *Options) {
		o.Config.StartupTimeout = 200 * time.Millisecond
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := f.client.StartAndWait(ctx)

	e, ok := mcperr.As(err)
	require.True(t, ok)
	assert.Equal(t, mcperr.CodeStartFailed, e.Code)
	assert.Equal(t, "startup_timeout", e.Details["reason"])
	assert.Equal(t, lifecycle.StateDisconnected, f.client.State())
}

func TestSpawn_ExitAfterReady(t *testing.T) {
	trigger := filepath.Join(t.TempDir(), "exit-now")
	script := writeHubScript(t, `echo '`+hubReadyLine+`'
while [ ! -f `+trigger+` ]; do sleep 0.05; done
exit 7`)
	f := spawnFixture(t, script)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.client.StartAndWait(ctx))
	transitions, unsubscribe := f.client.Transitions()
	defer unsubscribe()

	require.NoError(t, os.WriteFile(trigger, nil, 0o600))

	select {
	case tr := <-transitions:
		assert.Equal(t, lifecycle.StateConnected, tr.From)
		assert.Equal(t, lifecycle.StateDisconnected, tr.To)
		assert.Equal(t, lifecycle.EventProcessExit, tr.Event)
	case <-time.After(5 * time.Second):
		t.Fatal("no transition after exit")
	}
	assert.Eventually(t, func() bool {
		for _, code := range f.errs.codes() {
			if code == mcperr.CodeProcessExit {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
	assert.False(t, f.client.IsOwner())
}
