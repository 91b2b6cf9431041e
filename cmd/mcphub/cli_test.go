package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcphub-go/internal/config"
	"mcphub-go/internal/contracts"
	"mcphub-go/internal/hubtest"
	"mcphub-go/internal/mcperr"
)

// cliHarness runs the root command against a fake hub with its own data dir
type cliHarness struct {
	t       *testing.T
	hub     *hubtest.Hub
	dataDir string
	servers string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	h := hubtest.New(t)
	h.SetServers(contracts.ServerRecord{
		Name:          "weather",
		TransportType: "stdio",
		Status:        contracts.StatusConnected,
		Uptime:        90,
		Capabilities: contracts.Capabilities{
			Tools: []mcp.Tool{
				mcp.NewTool("forecast",
					mcp.WithDescription("Daily forecast"),
					mcp.WithString("city", mcp.Required(), mcp.Description("City name")),
					mcp.WithNumber("days"),
				),
				mcp.NewTool("secret"),
			},
			ResourceTemplates: []mcp.ResourceTemplate{
				mcp.NewResourceTemplate("weather://city/{name}", "city"),
			},
		},
	})

	dir := t.TempDir()
	servers := filepath.Join(dir, config.ServersFileName)
	require.NoError(t, os.WriteFile(servers,
		[]byte(`{"mcpServers":{"weather":{"command":"weather-mcp","disabled_tools":["secret"]}}}`), 0o600))
	return &cliHarness{t: t, hub: h, dataDir: dir, servers: servers}
}

func (c *cliHarness) run(args ...string) (string, error) {
	c.t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{
		"--port", strconv.Itoa(c.hub.Port()),
		"--data-dir", c.dataDir,
		"--config", c.servers,
		"--skip-version-check",
		"--log-level", "error",
		"--no-color",
	}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestCLI_ServersList(t *testing.T) {
	c := newCLIHarness(t)

	out, err := c.run("servers", "list", "-o", "json")
	require.NoError(t, err)

	var rows []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "weather", rows[0]["NAME"])
	assert.Equal(t, "1", rows[0]["TOOLS"], "disabled tool is hidden")
	assert.Equal(t, "1", rows[0]["RESOURCES"])
	assert.Equal(t, "1m30s", rows[0]["UPTIME"])
	assert.Equal(t, "connected", rows[0]["STATUS"])

	// the command returns only after the hub saw the unregister
	assert.Equal(t, c.hub.Registered(), c.hub.Unregistered())
}

func TestCLI_EveryRunUnregisters(t *testing.T) {
	c := newCLIHarness(t)
	for i := 0; i < 3; i++ {
		_, err := c.run("servers", "list")
		require.NoError(t, err)
	}
	assert.Len(t, c.hub.Registered(), 3)
	assert.Equal(t, c.hub.Registered(), c.hub.Unregistered())
	assert.Empty(t, c.hub.Clients())
}

func TestCLI_CallTool(t *testing.T) {
	c := newCLIHarness(t)
	c.hub.SetToolResult("weather", "forecast", `{"content":[{"type":"text","text":"Rain"}]}`)

	out, err := c.run("call", "weather", "forecast", "city=Utrecht", "days=3")
	require.NoError(t, err)
	assert.Equal(t, "Rain\n", out)

	calls := c.hub.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"city": "Utrecht", "days": float64(3)}, calls[0].Arguments)
}

func TestCLI_CallTool_InvalidParamsBlockDispatch(t *testing.T) {
	c := newCLIHarness(t)

	_, err := c.run("call", "weather", "forecast", "city=Utrecht", "days=soon")
	require.Error(t, err)
	assert.True(t, mcperr.Matches(err, mcperr.CategoryRuntime, mcperr.CodeInvalidParams))
	assert.Equal(t, ExitCodeInvalidInput, exitCodeFor(err))
	assert.Empty(t, c.hub.ToolCalls())
}

func TestCLI_CallTool_ErrorResult(t *testing.T) {
	c := newCLIHarness(t)
	c.hub.SetToolResult("weather", "forecast", `{"content":[{"type":"text","text":"no such city"}],"isError":true}`)

	out, err := c.run("call", "weather", "forecast", "city=Atlantis")
	require.Error(t, err)
	assert.Equal(t, ExitCodeToolError, exitCodeFor(err))
	assert.Contains(t, out, "Tool execution failed: no such city")
}

func TestCLI_CallDisabledTool(t *testing.T) {
	c := newCLIHarness(t)

	_, err := c.run("call", "weather", "secret")
	assert.True(t, mcperr.Matches(err, mcperr.CategoryRuntime, mcperr.CodeInvalidState))
	assert.Empty(t, c.hub.ToolCalls())
}

func TestCLI_ListParams(t *testing.T) {
	c := newCLIHarness(t)

	out, err := c.run("call", "weather", "forecast", "--list-params")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "NAME  TYPE    REQUIRED  DESCRIPTION\ncity  string  yes       City name\n"), out)
	assert.Contains(t, out, "days  number  no")
	assert.Empty(t, c.hub.ToolCalls())
}

func TestCLI_ToolsDisable(t *testing.T) {
	c := newCLIHarness(t)

	_, err := c.run("tools", "disable", "weather", "forecast")
	require.NoError(t, err)

	file, err := config.NewStore(c.servers, nil).Load()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"secret", "forecast"}, file.Server("weather").DisabledTools)

	_, err = c.run("tools", "disable", "weather", "nope")
	assert.True(t, mcperr.Matches(err, mcperr.CategoryRuntime, mcperr.CodeUnknownCapability))
}

func TestCLI_ResourceTemplate(t *testing.T) {
	c := newCLIHarness(t)

	out, err := c.run("resource", "weather", "weather://city/{name}", "name=Utrecht")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
	assert.Equal(t, []string{"weather://city/Utrecht"}, c.hub.ResourceReads())
}

func TestCLI_Marketplace(t *testing.T) {
	c := newCLIHarness(t)
	c.hub.SetMarketplace(
		contracts.MarketplaceItem{MCPID: "weather-mcp", Name: "Weather", Category: "data", Stars: 12},
		contracts.MarketplaceItem{MCPID: "git-mcp", Name: "Git", Category: "dev", Stars: 40},
	)

	out, err := c.run("marketplace", "--category", "dev", "--json")
	require.NoError(t, err)

	var rows []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "git-mcp", rows[0]["ID"])
	assert.Contains(t, c.hub.Queries("GET /marketplace"), "category=dev")
}

func TestCLI_SetupFailure(t *testing.T) {
	c := newCLIHarness(t)
	require.NoError(t, os.WriteFile(c.servers, []byte(`{"servers":{}}`), 0o600))

	_, err := c.run("status")
	require.Error(t, err)
	assert.Equal(t, ExitCodeSetupError, exitCodeFor(err))
	assert.Empty(t, c.hub.Registered())
}

func TestPrintError_JSON(t *testing.T) {
	outputFormat, jsonOutput = "", true
	t.Cleanup(func() { jsonOutput = false })

	var buf bytes.Buffer
	printError(&buf, mcperr.Server(mcperr.CodeConnection, "hub unreachable", nil))
	assert.JSONEq(t, `{"category":"SERVER","code":"CONNECTION","message":"hub unreachable","hint":"Check that the hub is running: mcphub status"}`, buf.String())
}
