package main

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub-go/internal/cli/output"
	"mcphub-go/internal/contracts"
	"mcphub-go/internal/events"
	"mcphub-go/internal/invoker"
	"mcphub-go/internal/mcperr"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitCodeSuccess},
		{"plain", errors.New("boom"), ExitCodeGeneralError},
		{"setup", mcperr.Setup(mcperr.CodeMissingDependency, "no hub", nil), ExitCodeSetupError},
		{"server wrapped", fmt.Errorf("listing: %w", mcperr.Server(mcperr.CodeTimeout, "slow", nil)), ExitCodeHubError},
		{"invalid params", mcperr.Runtime(mcperr.CodeInvalidParams, "bad", nil), ExitCodeInvalidInput},
		{"tool error", mcperr.Runtime(mcperr.CodeToolError, "bad result", nil), ExitCodeToolError},
		{"marketplace", mcperr.Marketplace(mcperr.CodeFetchError, "down", nil), ExitCodeMarketplaceError},
		{"explicit", &exitError{code: ExitCodeToolError, err: errSilent}, ExitCodeToolError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}

func TestExitCodesHelp(t *testing.T) {
	help := exitCodesHelp()
	assert.Contains(t, help, "  0  Success\n")
	assert.Contains(t, help, "  5  Tool reported a failure\n")
	assert.Equal(t, "Unknown error", exitCodeDescription(42))
}

func TestParseAssignments(t *testing.T) {
	values, err := parseAssignments([]string{"city=Utrecht", "query=a=b", "empty=", `tags=["x"]`})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"city": "Utrecht", "query": "a=b", "empty": "", "tags": `["x"]`}, values)

	_, err = parseAssignments([]string{"city"})
	assert.True(t, mcperr.Matches(err, mcperr.CategoryRuntime, mcperr.CodeInvalidParams))

	_, err = parseAssignments([]string{"=x"})
	assert.Error(t, err)

	_, err = parseAssignments([]string{"city=a", "city=b"})
	assert.ErrorContains(t, err, "given more than once")
}

func TestResolveResource(t *testing.T) {
	rec := contracts.ServerRecord{
		Name:   "weather",
		Status: contracts.StatusConnected,
		Capabilities: contracts.Capabilities{
			Resources:         []mcp.Resource{mcp.NewResource("weather://stations", "stations")},
			ResourceTemplates: []mcp.ResourceTemplate{mcp.NewResourceTemplate("weather://city/{name}", "city")},
		},
	}
	resolve := func(name string) (invoker.Capability, error) {
		return resolveResource(rec.Name, name, func(kind invoker.Kind) (invoker.Capability, error) {
			return invoker.Resolve(rec, kind, name)
		})
	}

	c, err := resolve("weather://stations")
	require.NoError(t, err)
	assert.Equal(t, invoker.KindResource, c.Kind)

	c, err = resolve("city")
	require.NoError(t, err)
	assert.Equal(t, invoker.KindResourceTemplate, c.Kind)

	_, err = resolve("weather://nowhere")
	assert.True(t, mcperr.Matches(err, mcperr.CategoryRuntime, mcperr.CodeUnknownCapability))
	assert.ErrorContains(t, err, "no resource or resource template weather://nowhere")
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "2 servers, 1 connected", summarize(events.Event{Payload: events.ServersPayload{
		Servers: []contracts.ServerRecord{
			{Name: "a", Status: contracts.StatusConnected},
			{Name: "b", Status: contracts.StatusDisabled},
		},
	}}))
	assert.Equal(t, "connected -> disconnected", summarize(events.Event{Payload: events.StatePayload{From: "connected", To: "disconnected"}}))
	assert.Equal(t, "weather: 3 tools", summarize(events.Event{Payload: contracts.ToolListChanged{
		Server: "weather", Tools: make([]mcp.Tool, 3),
	}}))
	assert.Equal(t, "[SERVER.PROCESS_EXIT] hub exited", summarize(events.Event{Payload: events.ErrorPayload{
		Err: mcperr.Server(mcperr.CodeProcessExit, "hub exited", nil),
	}}))
	assert.Empty(t, summarize(events.Event{Name: events.HubReady}))
}

func TestHubLost(t *testing.T) {
	state := func(from, to string) events.Event {
		return events.Event{Name: events.ConnectionStateChanged, Payload: events.StatePayload{From: from, To: to}}
	}
	assert.True(t, hubLost(state("connected", "disconnected")))
	assert.False(t, hubLost(state("disconnecting", "disconnected")))
	assert.False(t, hubLost(state("connecting", "disconnected")))
	assert.False(t, hubLost(events.Event{Name: events.HubReady}))
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "-", formatUptime(0))
	assert.Equal(t, "42s", formatUptime(41.6))
	assert.Equal(t, "2h5m0s", formatUptime((2*time.Hour + 5*time.Minute + 10*time.Second).Seconds()))
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "Daily forecast", firstLine("  Daily forecast\nfor a city"))
	long := firstLine(string(make([]rune, 100)))
	assert.Len(t, []rune(long), 72)
}

func TestCapabilityRows_IncludesDisabledTools(t *testing.T) {
	s := &session{out: &output.TableFormatter{NoColor: true}}
	rec := contracts.ServerRecord{
		Name:          "weather",
		Status:        contracts.StatusConnected,
		DisabledTools: []string{"secret"},
		Capabilities: contracts.Capabilities{
			Tools:     []mcp.Tool{mcp.NewTool("forecast", mcp.WithDescription("Daily forecast")), mcp.NewTool("secret")},
			Resources: []mcp.Resource{mcp.NewResource("weather://stations", "stations", mcp.WithResourceDescription("All stations"))},
		},
	}

	assert.Equal(t, [][]string{
		{"tool", "forecast", "Daily forecast", "enabled"},
		{"tool", "secret", "", "disabled"},
		{"resource", "weather://stations", "All stations", ""},
	}, capabilityRows(s, rec))

	rec.Status = contracts.StatusDisconnected
	assert.Empty(t, capabilityRows(s, rec))
}

func TestParamRows(t *testing.T) {
	rows := paramRows([]invoker.Param{
		{Name: "city", Type: invoker.TypeString, Required: true, Description: "City name"},
		{Name: "units", Type: invoker.TypeEnum, Enum: []string{"metric", "imperial"}},
	})
	assert.Equal(t, [][]string{
		{"city", "string", "yes", "City name"},
		{"units", "metric|imperial", "no", ""},
	}, rows)
}

func TestRenderDetails(t *testing.T) {
	text := renderDetails(contracts.MarketplaceDetails{
		MarketplaceItem: contracts.MarketplaceItem{MCPID: "weather-mcp", Name: "Weather", Stars: 12, Tags: []string{"api", "weather"}},
		ReadmeContent:   "# Weather\n",
	}, true)

	assert.Contains(t, text, "Weather (weather-mcp)\n")
	assert.Contains(t, text, "Tags:     api, weather\n")
	assert.Contains(t, text, "(cached)\n")
	assert.Contains(t, text, "\n# Weather\n")
}
