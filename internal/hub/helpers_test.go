package hub

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcphub-go/internal/config"
	"mcphub-go/internal/contracts"
	"mcphub-go/internal/events"
	"mcphub-go/internal/hubtest"
	"mcphub-go/internal/mcperr"
)

const testServersFile = `{
  "mcpServers": {
    "weather": {
      "command": "weather-mcp",
      "disabled_tools": ["secret"],
      "custom_instructions": {"text": "Prefer metric units."}
    },
    "files": {"command": "files-mcp"}
  },
  "theme": "dark"
}`

func weatherServer() contracts.ServerRecord {
	return contracts.ServerRecord{
		Name:   "weather",
		Status: contracts.StatusConnected,
		Capabilities: contracts.Capabilities{
			Tools: []mcp.Tool{
				mcp.NewTool("forecast",
					mcp.WithDescription("Daily forecast"),
					mcp.WithString("city", mcp.Required()),
					mcp.WithNumber("days"),
				),
				mcp.NewTool("secret", mcp.WithDescription("Hidden tool")),
			},
			Resources: []mcp.Resource{
				mcp.NewResource("weather://stations", "stations", mcp.WithResourceDescription("Station list")),
			},
			ResourceTemplates: []mcp.ResourceTemplate{
				mcp.NewResourceTemplate("weather://city/{name}", "city"),
			},
		},
	}
}

func filesServer() contracts.ServerRecord {
	return contracts.ServerRecord{
		Name:   "files",
		Status: contracts.StatusDisconnected,
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), config.ServersFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testConfig(t *testing.T, port int) *config.ClientConfig {
	t.Helper()
	cfg := config.DefaultClientConfig()
	cfg.Port = port
	cfg.ConfigPath = writeConfig(t, testServersFile)
	cfg.DataDir = t.TempDir()
	cfg.RequestTimeout = 2 * time.Second
	cfg.CallTimeout = 5 * time.Second
	cfg.StartupTimeout = 5 * time.Second
	cfg.SkipVersionCheck = true
	return cfg
}

// errorSink collects errors passed to OnError
type errorSink struct {
	mu   sync.Mutex
	errs []*mcperr.Error
}

func (s *errorSink) add(err *mcperr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) all() []*mcperr.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*mcperr.Error(nil), s.errs...)
}

func (s *errorSink) codes() []mcperr.Code {
	var out []mcperr.Code
	for _, e := range s.all() {
		out = append(out, e.Code)
	}
	return out
}

type fixture struct {
	hub    *hubtest.Hub
	client *Client
	errs   *errorSink
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	h := hubtest.New(t)
	h.SetServers(weatherServer(), filesServer())

	f := &fixture{hub: h, errs: &errorSink{}}
	opts := Options{
		Config:  testConfig(t, h.Port()),
		Logger:  zap.NewNop(),
		OnError: f.errs.add,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	f.client = c
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.client.StartAndWait(ctx))
}

func waitEvent(t *testing.T, ch <-chan events.Event, name events.Name) events.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Name == name {
				return evt
			}
		case <-timeout:
			t.Fatalf("no %s event", name)
			return events.Event{}
		}
	}
}

func toolNames(rec contracts.ServerRecord) []string {
	var names []string
	for _, tool := range rec.Capabilities.Tools {
		names = append(names, tool.Name)
	}
	return names
}
