package hub

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"mcphub-go/internal/config"
	"mcphub-go/internal/contracts"
	"mcphub-go/internal/events"
	"mcphub-go/internal/gateway"
	"mcphub-go/internal/mcperr"
	"mcphub-go/internal/store"
)

const refreshPath = "/refresh"

// Refresh re-reads the server list from GET /health
func (c *Client) Refresh(ctx context.Context) error {
	return c.refresh(ctx, gateway.HealthPath, false)
}

// HardRefresh asks the hub to re-query every server (GET /refresh)
func (c *Client) HardRefresh(ctx context.Context) error {
	return c.refresh(ctx, refreshPath, false)
}

func (c *Client) refresh(ctx context.Context, path string, quiet bool) error {
	req := gateway.Request{
		Method:        http.MethodGet,
		Path:          path,
		Timeout:       c.requestTimeout(),
		SkipErrorFeed: quiet,
	}
	if path == refreshPath {
		req.Timeout = c.cfg.CallTimeout
	}

	// health responses are a superset of the /refresh shape
	var resp contracts.HealthResponse
	if err := c.gw.Call(ctx, req, &resp); err != nil {
		return err
	}
	c.applyServers(resp.Servers, resp.Version, resp.ActiveClients)
	return nil
}

// applyServers replaces the server list wholesale, overlays config and notifies
func (c *Client) applyServers(servers []contracts.ServerRecord, version string, activeClients int) {
	file := c.configFile()
	overlaid := make([]contracts.ServerRecord, len(servers))
	for i, rec := range servers {
		overlaid[i] = applyOverlay(rec, file)
	}
	displayed := displayedOf(overlaid)
	prompt := RenderPrompt(displayed)

	c.store.Batch(func(tx *store.Tx) {
		tx.SetServers(overlaid, prompt)
		if version != "" || activeClients > 0 {
			cur := tx.State().Server
			if version == "" {
				version = cur.Version
			}
			if activeClients == 0 {
				activeClients = cur.ActiveClients
			}
			tx.SetHubInfo(version, activeClients)
		}
	})
	c.recordServerStats(displayed)
	c.bus.Emit(events.ServersUpdated, c, events.ServersPayload{Servers: displayed, Prompt: prompt})
}

// reapplyOverlay re-runs the config overlay on the current list without any I/O
func (c *Client) reapplyOverlay() {
	file := c.configFile()
	var displayed []contracts.ServerRecord
	var prompt string
	c.store.Batch(func(tx *store.Tx) {
		current := tx.State().Server.Servers
		next := make([]contracts.ServerRecord, len(current))
		for i, rec := range current {
			next[i] = applyOverlay(rec, file)
		}
		displayed = displayedOf(next)
		prompt = RenderPrompt(displayed)
		tx.SetServers(next, prompt)
	})
	c.recordServerStats(displayed)
	c.bus.Emit(events.ServersUpdated, c, events.ServersPayload{Servers: displayed, Prompt: prompt})
}

func (c *Client) recordServerStats(displayed []contracts.ServerRecord) {
	connected, tools := 0, 0
	for _, rec := range displayed {
		if rec.Status == contracts.StatusConnected {
			connected++
		}
		tools += len(rec.Capabilities.Tools)
	}
	c.obs.SetServerStats(len(displayed), connected, tools)
}

func displayedOf(servers []contracts.ServerRecord) []contracts.ServerRecord {
	out := make([]contracts.ServerRecord, len(servers))
	for i, rec := range servers {
		out[i] = rec.Displayed()
	}
	return out
}

// applyOverlay copies disabled_tools and custom_instructions from the config
// file onto a hub record. The hub never supplies them.
func applyOverlay(rec contracts.ServerRecord, file *config.ServersFile) contracts.ServerRecord {
	out := rec.Clone()
	out.DisabledTools = nil
	out.Instructions = nil
	if file == nil {
		return out
	}
	sc := file.Server(rec.Name)
	if sc == nil {
		return out
	}
	if len(sc.DisabledTools) > 0 {
		out.DisabledTools = append([]string(nil), sc.DisabledTools...)
	}
	if ci := sc.CustomInstructions; ci != nil {
		instr := &contracts.Instructions{}
		if ci.Text != nil {
			instr.Text = *ci.Text
		}
		if ci.Disabled != nil {
			instr.Disabled = *ci.Disabled
		}
		out.Instructions = instr
	}
	return out
}

// configFile returns the servers file from the store, loading it on first use
func (c *Client) configFile() *config.ServersFile {
	if file := c.store.Snapshot().Config.File; file != nil {
		return file
	}
	file, err := c.reloadConfig()
	if err != nil {
		c.logger.Debug("Servers file unavailable for overlay", zap.Error(err))
		return nil
	}
	return file
}

func (c *Client) reloadConfig() (*config.ServersFile, error) {
	file, err := c.configStore.Load()
	if err != nil {
		return nil, err
	}
	c.store.SetConfig(c.configStore.Path(), file)
	return file, nil
}

// GetServers returns every server as consumers should see it
func (c *Client) GetServers() []contracts.ServerRecord {
	return c.store.Snapshot().DisplayedServers()
}

// GetServer returns one displayed server
func (c *Client) GetServer(name string) (contracts.ServerRecord, bool) {
	rec, ok := c.store.Snapshot().FindServer(name)
	if !ok {
		return contracts.ServerRecord{}, false
	}
	return rec.Displayed(), true
}

// GetServerInfo fetches one server's full record from the hub
func (c *Client) GetServerInfo(ctx context.Context, name string) (contracts.ServerRecord, error) {
	if name == "" {
		return contracts.ServerRecord{}, mcperr.Runtime(mcperr.CodeInvalidParams, "server name is required", nil)
	}
	var resp contracts.ServerInfoResponse
	err := c.gw.Call(ctx, gateway.Request{
		Method:  http.MethodGet,
		Path:    "/servers/" + url.PathEscape(name) + "/info",
		Route:   "/servers/{name}/info",
		Timeout: c.requestTimeout(),
	}, &resp)
	if err != nil {
		return contracts.ServerRecord{}, err
	}
	return applyOverlay(resp.Server, c.configFile()), nil
}

// StartMCPServer enables and starts one downstream server
func (c *Client) StartMCPServer(ctx context.Context, name string) error {
	return c.serverAction(ctx, name, "start", false)
}

// StopMCPServer stops one downstream server, optionally disabling it in the config file
func (c *Client) StopMCPServer(ctx context.Context, name string, disable bool) error {
	return c.serverAction(ctx, name, "stop", disable)
}

func (c *Client) serverAction(ctx context.Context, name, action string, disable bool) error {
	if name == "" {
		return mcperr.Runtime(mcperr.CodeInvalidParams, "server name is required", nil)
	}
	if !c.IsReady() {
		return mcperr.Server(mcperr.CodeInvalidState, "hub is not connected", map[string]any{"server": name})
	}

	optimistic := contracts.StatusConnecting
	if action == "stop" {
		optimistic = contracts.StatusDisconnecting
	}
	c.store.UpdateServer(name, func(rec *contracts.ServerRecord) { rec.Status = optimistic })

	// persist first so a hub restart honours the new state
	var cfgErr error
	switch {
	case action == "start":
		cfgErr = c.persist(func() (*config.ConfigDiff, error) { return c.configStore.SetServerDisabled(name, false) })
	case disable:
		cfgErr = c.persist(func() (*config.ConfigDiff, error) { return c.configStore.SetServerDisabled(name, true) })
	}

	req := gateway.Request{
		Method:  http.MethodPost,
		Path:    "/servers/" + url.PathEscape(name) + "/" + action,
		Route:   "/servers/{name}/" + action,
		Timeout: c.cfg.CallTimeout,
	}
	if disable {
		req.Query = url.Values{"disable": {"true"}}
	}
	var resp contracts.ServerActionResponse
	callErr := c.gw.Call(ctx, req, &resp)

	if err := c.Refresh(ctx); err != nil {
		c.logger.Debug("Refresh after server action failed", zap.String("server", name), zap.Error(err))
	}

	if callErr != nil {
		code := mcperr.CodeServerStart
		if action == "stop" {
			code = mcperr.CodeServerStop
		}
		details := map[string]any{"server": name}
		if e, ok := mcperr.As(callErr); ok {
			details["cause_code"] = string(e.Code)
		}
		return mcperr.Wrap(mcperr.CategoryServer, code, fmt.Sprintf("failed to %s server %s", action, name), callErr, details)
	}
	return cfgErr
}

// persist runs a config mutation and reloads the config section
func (c *Client) persist(fn func() (*config.ConfigDiff, error)) error {
	diff, err := fn()
	if err != nil {
		e := mcperr.From(err, mcperr.CategoryRuntime, mcperr.CodeConfigUpdate)
		if e.Category != mcperr.CategoryRuntime {
			e = mcperr.Wrap(mcperr.CategoryRuntime, mcperr.CodeConfigUpdate, e.Message, e, e.Details)
		}
		c.logger.Warn("Config update failed", zap.String("error", e.Error()))
		return e
	}
	if diff != nil && !diff.IsEmpty() {
		c.logger.Debug("Config updated", zap.Strings("fields", diff.Fields()))
	}
	if _, err := c.reloadConfig(); err != nil {
		return mcperr.From(err, mcperr.CategoryRuntime, mcperr.CodeConfigUpdate)
	}
	return nil
}

// UpdateToolConfig enables or disables one tool in the config overlay
func (c *Client) UpdateToolConfig(server, tool string, disabled bool) error {
	if err := c.persist(func() (*config.ConfigDiff, error) {
		return c.configStore.SetToolDisabled(server, tool, disabled)
	}); err != nil {
		return err
	}
	c.reapplyOverlay()
	return nil
}

// UpdateServerConfig deep-merges patch into the server's config entry. A nil patch removes the entry.
func (c *Client) UpdateServerConfig(server string, patch *config.ServerConfig) error {
	if err := c.persist(func() (*config.ConfigDiff, error) {
		return c.configStore.Update(server, patch)
	}); err != nil {
		return err
	}
	c.reapplyOverlay()
	return nil
}

// UpdateCustomInstructions sets the instruction overlay. A nil text keeps the current text.
func (c *Client) UpdateCustomInstructions(server string, text *string, disabled bool) error {
	if err := c.persist(func() (*config.ConfigDiff, error) {
		return c.configStore.SetCustomInstructions(server, text, disabled)
	}); err != nil {
		return err
	}
	c.reapplyOverlay()
	return nil
}
