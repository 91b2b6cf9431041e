package hub

import (
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub-go/internal/contracts"
	"mcphub-go/internal/events"
)

func startStreaming(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.start(t)
	require.Eventually(t, func() bool { return f.hub.Streams() == 1 }, 3*time.Second, 10*time.Millisecond)
	return f
}

func TestStream_ToolListChangedPatchesOneServer(t *testing.T) {
	f := startStreaming(t)
	ch := f.client.Bus().Subscribe(events.ToolListChanged)
	healthHits := f.hub.Hits("GET /health")

	f.hub.Publish("tool_list_changed", contracts.ToolListChanged{
		Server: "weather",
		Tools:  []mcp.Tool{mcp.NewTool("alerts", mcp.WithDescription("Severe weather alerts"))},
	})

	evt := waitEvent(t, ch, events.ToolListChanged)
	payload, ok := evt.Payload.(contracts.ToolListChanged)
	require.True(t, ok)
	assert.Equal(t, "weather", payload.Server)

	rec, _ := f.client.GetServer("weather")
	assert.Equal(t, []string{"alerts"}, toolNames(rec))
	assert.Contains(t, f.client.Store().Snapshot().Server.Prompt, "- alerts: Severe weather alerts")
	// resources are untouched and no refresh happened
	assert.Len(t, rec.Capabilities.Resources, 1)
	assert.Equal(t, healthHits, f.hub.Hits("GET /health"))
}

func TestStream_ResourceListChanged(t *testing.T) {
	f := startStreaming(t)
	ch := f.client.Bus().Subscribe(events.ResourceListChanged)

	f.hub.Publish("resource_list_changed", contracts.ResourceListChanged{
		Server:    "weather",
		Resources: []mcp.Resource{mcp.NewResource("weather://radar", "radar")},
	})

	waitEvent(t, ch, events.ResourceListChanged)
	rec, _ := f.client.GetServer("weather")
	require.Len(t, rec.Capabilities.Resources, 1)
	assert.Equal(t, "weather://radar", rec.Capabilities.Resources[0].URI)
	assert.Empty(t, rec.Capabilities.ResourceTemplates)
	assert.Equal(t, []string{"forecast"}, toolNames(rec))
}

func TestStream_UnknownServerIgnored(t *testing.T) {
	f := startStreaming(t)
	ch := f.client.Bus().Subscribe(events.ToolListChanged)

	f.hub.Publish("tool_list_changed", contracts.ToolListChanged{Server: "ghost"})

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %s", evt.Name)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Len(t, f.client.GetServers(), 2)
}

func TestStream_ServersUpdatedTriggersRefresh(t *testing.T) {
	f := startStreaming(t)
	ch := f.client.Bus().Subscribe(events.ServersUpdated)

	f.hub.SetServers(weatherServer())
	f.hub.Publish("servers_updated", map[string]any{"reason": "config_changed"})

	waitEvent(t, ch, events.ServersUpdated)
	assert.Len(t, f.client.GetServers(), 1)
}

func TestStream_LogRecordsStored(t *testing.T) {
	f := startStreaming(t)

	f.hub.Publish("log", contracts.LogRecord{Type: "warn", Message: "server weather slow"})

	require.Eventually(t, func() bool {
		return len(f.client.Store().Snapshot().Logs) == 1
	}, 3*time.Second, 10*time.Millisecond)
	rec := f.client.Store().Snapshot().Logs[0]
	assert.Equal(t, "warn", rec.Type)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestStream_ClosedOnStop(t *testing.T) {
	f := startStreaming(t)

	f.client.Stop()

	assert.Eventually(t, func() bool { return f.hub.Streams() == 0 }, 3*time.Second, 10*time.Millisecond)
}
