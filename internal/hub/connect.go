package hub

import (
	"context"
	"net/http"
	"os"

	"go.uber.org/zap"

	"mcphub-go/internal/contracts"
	"mcphub-go/internal/events"
	"mcphub-go/internal/gateway"
	"mcphub-go/internal/hub/lifecycle"
	"mcphub-go/internal/logs"
	"mcphub-go/internal/mcperr"
	"mcphub-go/internal/monitor"
	"mcphub-go/internal/store"
)

// active reports whether a is still the start attempt in progress
func (c *Client) active(a *attempt) bool {
	c.mu.Lock()
	current := c.attempt == a
	c.mu.Unlock()
	if !current {
		return false
	}
	select {
	case <-a.done:
		return false
	default:
		return true
	}
}

// Ping asks whatever listens on the port whether it is a hub. Failures
// are expected when no hub runs and are not fed to the error feed.
func (c *Client) Ping(ctx context.Context) (*contracts.HealthResponse, error) {
	var health contracts.HealthResponse
	err := c.gw.Call(ctx, gateway.Request{
		Method:         http.MethodGet,
		Path:           gateway.HealthPath,
		Timeout:        c.requestTimeout(),
		SkipReadyCheck: true,
		SkipErrorFeed:  true,
	}, &health)
	if err != nil {
		return nil, err
	}
	if !health.IsHub() {
		return &health, mcperr.Server(mcperr.CodeHealthCheck, "port is served by something other than a ready hub",
			map[string]any{"server_id": health.ServerID, "status": health.Status})
	}
	return &health, nil
}

// connect attaches to a running hub or spawns one
func (c *Client) connect(ctx context.Context, a *attempt) {
	health, err := c.Ping(ctx)
	if err == nil {
		c.logger.Info("Attached to running hub", zap.String("version", health.Version))
		c.setOwner(false)
		c.handleReady(ctx, a)
		return
	}
	c.logger.Debug("No hub answering, spawning one", zap.Error(err))

	if !c.active(a) {
		return
	}
	c.spawn(ctx, a)
}

func (c *Client) setOwner(owner bool) {
	c.mu.Lock()
	c.isOwner = owner
	c.mu.Unlock()
	c.store.Batch(func(tx *store.Tx) { tx.SetOwner(owner) })
}

func (c *Client) spawn(ctx context.Context, a *attempt) {
	args := monitor.HubArgs(c.cfg.Port, c.cfg.ConfigPath, c.cfg.AutoShutdown, c.cfg.ShutdownDelay, c.cfg.HubArgs)
	proc := monitor.NewProcessMonitor(monitor.ProcessConfig{
		Binary:       c.cfg.HubCommand,
		Args:         args,
		Env:          monitor.HubEnvironment(os.Environ()),
		StartTimeout: c.cfg.StartupTimeout,
	}, c.logger.Sugar())

	hubLogger := logs.HubLogger(c.logger)
	handler := monitor.Handler{
		OnRecord: func(stream monitor.Stream, rec contracts.LogRecord) {
			logs.LogHubRecord(hubLogger, rec)
			c.store.AddLog(rec)
			if rec.IsError() {
				c.reportError(hubRecordError(rec), false)
			}
		},
		OnReady: func() {
			// the monitor delivers callbacks serially; readiness work runs
			// elsewhere so output keeps flowing
			go c.handleReady(ctx, a)
		},
		OnExit: func(info monitor.ExitInfo) {
			c.handleExit(a, info)
		},
	}

	c.mu.Lock()
	c.proc = proc
	c.mu.Unlock()
	c.setOwner(true)

	if err := proc.Start(handler); err != nil {
		c.mu.Lock()
		c.proc = nil
		c.mu.Unlock()
		c.setOwner(false)
		serr := mcperr.Wrap(mcperr.CategoryServer, mcperr.CodeStartFailed, "failed to start hub process", err,
			map[string]any{"command": c.cfg.HubCommand, "args": args})
		c.failStart(a, serr)
		return
	}
	c.obs.RecordHubSpawn()
}

// hubRecordError maps an error line printed by the hub to a SERVER error
func hubRecordError(rec contracts.LogRecord) *mcperr.Error {
	code := mcperr.Code(rec.Code)
	details := map[string]any{"source": "hub"}
	if rec.Code != "" {
		details["hub_code"] = rec.Code
	}
	for k, v := range rec.Data {
		if _, taken := details[k]; !taken {
			details[k] = v
		}
	}
	if !mcperr.ValidCode(mcperr.CategoryServer, code) {
		code = mcperr.CodeServerStart
	}
	msg := rec.Message
	if msg == "" {
		msg = "hub reported an error"
	}
	return mcperr.Server(code, msg, details)
}

func (c *Client) failStart(a *attempt, err *mcperr.Error) {
	if _, ferr := c.machine.Fire(lifecycle.EventStartFailed, err); ferr != nil {
		c.logger.Debug("Start failure after state change", zap.Error(ferr))
	}
	c.setOwner(false)
	c.reportError(err, false)
	a.settle(err)
}

func (c *Client) handleExit(a *attempt, info monitor.ExitInfo) {
	if c.shuttingDown() {
		return
	}
	c.mu.Lock()
	c.proc = nil
	c.mu.Unlock()

	details := map[string]any{"exit_code": info.Code, "runtime": info.Runtime.String()}
	if info.Signal != "" {
		details["signal"] = info.Signal
	}

	switch {
	case info.TimedOut:
		details["reason"] = "startup_timeout"
		details["timeout"] = c.cfg.StartupTimeout.String()
		c.failStart(a, mcperr.Server(mcperr.CodeStartFailed, "hub did not become ready in time", details))
	case !info.Ready:
		c.failStart(a, mcperr.Server(mcperr.CodeProcessExit, "hub exited before becoming ready", details))
	default:
		err := mcperr.Server(mcperr.CodeProcessExit, "hub process exited", details)
		c.teardown()
		if _, ferr := c.machine.Fire(lifecycle.EventProcessExit, err); ferr != nil {
			c.logger.Debug("Process exit outside connected state", zap.Error(ferr))
		}
		c.setOwner(false)
		c.reportError(err, false)
		a.settle(err)
	}
}

// handleReady runs once the hub answers: health, registration, then OnReady
func (c *Client) handleReady(ctx context.Context, a *attempt) {
	if !c.active(a) {
		return
	}
	if _, err := c.machine.Fire(lifecycle.EventReady, nil); err != nil {
		return
	}
	c.logger.Info("Hub is ready", zap.Bool("owner", c.IsOwner()))

	if err := c.refresh(ctx, gateway.HealthPath, true); err != nil {
		var details map[string]any
		if e, ok := mcperr.As(err); ok {
			details = e.Details
		}
		herr := mcperr.Wrap(mcperr.CategoryServer, mcperr.CodeHealthCheck, "hub health check failed", err, details)
		c.reportError(herr, false)
	}

	if err := c.register(ctx); err != nil {
		c.reportError(err, false)
		a.settle(err)
		return
	}
	if !c.active(a) {
		return
	}

	c.startStream()
	go c.prefetchMarketplace(ctx)

	c.mu.Lock()
	fire := !a.ready
	a.ready = true
	c.mu.Unlock()
	if fire {
		c.bus.Emit(events.HubReady, c, nil)
		if c.onReady != nil {
			c.onReady(c)
		}
	}
	a.settle(nil)
}

func (c *Client) register(ctx context.Context) *mcperr.Error {
	var resp contracts.ClientResponse
	err := c.gw.Call(ctx, gateway.Request{
		Method:        http.MethodPost,
		Path:          "/client/register",
		Body:          contracts.ClientRequest{ClientID: c.id},
		Timeout:       c.requestTimeout(),
		SkipErrorFeed: true,
	}, &resp)
	if err != nil {
		var details map[string]any
		if e, ok := mcperr.As(err); ok {
			details = e.Details
		}
		return mcperr.Wrap(mcperr.CategoryServer, mcperr.CodeConnection, "failed to register with hub", err, details)
	}
	if resp.ActiveClients > 0 {
		c.store.Batch(func(tx *store.Tx) {
			tx.SetHubInfo(tx.State().Server.Version, resp.ActiveClients)
		})
	}
	c.logger.Info("Registered with hub", zap.Int("active_clients", resp.ActiveClients))
	return nil
}

func (c *Client) prefetchMarketplace(ctx context.Context) {
	if _, err := c.FetchMarketplace(ctx, contracts.MarketplaceQuery{}); err != nil {
		c.logger.Debug("Marketplace prefetch failed", zap.Error(err))
	}
}
