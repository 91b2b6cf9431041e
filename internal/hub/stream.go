package hub

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"mcphub-go/internal/contracts"
	"mcphub-go/internal/events"
	"mcphub-go/internal/gateway"
	"mcphub-go/internal/store"
)

// Event names pushed by the hub over GET /events
const (
	streamToolListChanged     = "tool_list_changed"
	streamResourceListChanged = "resource_list_changed"
	streamServersUpdated      = "servers_updated"
	streamLog                 = "log"
)

// startStream subscribes to the hub event stream until teardown. A dropped
// stream is reopened with exponential backoff while the client stays connected.
func (c *Client) startStream() {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.streamCancel != nil {
		c.streamCancel()
	}
	c.streamCancel = cancel
	c.mu.Unlock()

	go c.streamLoop(ctx)
}

func (c *Client) streamLoop(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 15 * time.Second
	bo.Reset()

	for {
		opened := time.Now()
		err := c.gw.Stream(ctx, c.handleStreamEvent)
		if ctx.Err() != nil || !c.IsReady() {
			return
		}
		if err != nil {
			c.logger.Debug("Event stream closed", zap.Error(err))
		}
		// a stream that stayed up for a while starts the backoff over
		if time.Since(opened) > bo.MaxInterval {
			bo.Reset()
		}

		timer := time.NewTimer(bo.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) handleStreamEvent(evt gateway.ServerEvent) {
	switch evt.Event {
	case streamToolListChanged:
		var payload contracts.ToolListChanged
		if err := evt.Decode(&payload); err != nil {
			c.logger.Debug("Malformed tool_list_changed event", zap.Error(err))
			return
		}
		if c.patchServer(payload.Server, func(rec *contracts.ServerRecord) {
			rec.Capabilities.Tools = payload.Tools
		}) {
			c.bus.Emit(events.ToolListChanged, c, payload)
		}

	case streamResourceListChanged:
		var payload contracts.ResourceListChanged
		if err := evt.Decode(&payload); err != nil {
			c.logger.Debug("Malformed resource_list_changed event", zap.Error(err))
			return
		}
		if c.patchServer(payload.Server, func(rec *contracts.ServerRecord) {
			rec.Capabilities.Resources = payload.Resources
			rec.Capabilities.ResourceTemplates = payload.ResourceTemplates
		}) {
			c.bus.Emit(events.ResourceListChanged, c, payload)
		}

	case streamServersUpdated:
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout())
			defer cancel()
			if err := c.Refresh(ctx); err != nil {
				c.logger.Debug("Refresh after servers_updated failed", zap.Error(err))
			}
		}()

	case streamLog:
		var rec contracts.LogRecord
		if err := evt.Decode(&rec); err != nil {
			c.logger.Debug("Malformed log event", zap.Error(err))
			return
		}
		if rec.Timestamp.IsZero() {
			rec.Timestamp = time.Now()
		}
		c.store.AddLog(rec)

	default:
		c.logger.Debug("Ignoring hub event", zap.String("event", evt.Event))
	}
}

// patchServer replaces one server's capability sub-list in place and
// re-renders the prompt. It reports false for an unknown server.
func (c *Client) patchServer(name string, fn func(*contracts.ServerRecord)) bool {
	var found bool
	c.store.Batch(func(tx *store.Tx) {
		if found = tx.UpdateServer(name, fn); !found {
			return
		}
		tx.SetPrompt(RenderPrompt(tx.State().DisplayedServers()))
	})
	if !found {
		c.logger.Debug("Capability change for unknown server", zap.String("server", name))
		return false
	}
	c.recordServerStats(c.store.Snapshot().DisplayedServers())
	return true
}
