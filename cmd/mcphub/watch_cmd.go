package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"mcphub-go/internal/cache"
	"mcphub-go/internal/cli/output"
	"mcphub-go/internal/contracts"
	"mcphub-go/internal/events"
	"mcphub-go/internal/hub/lifecycle"
	"mcphub-go/internal/observability"
)

// eventView is one line of `mcphub watch` output
type eventView struct {
	Time    time.Time `json:"time" yaml:"time"`
	Event   string    `json:"event" yaml:"event"`
	Client  string    `json:"client_id" yaml:"client_id"`
	Summary string    `json:"summary,omitempty" yaml:"summary,omitempty"`
	Payload any       `json:"payload,omitempty" yaml:"payload,omitempty"`
}

func newWatchCommand() *cobra.Command {
	var (
		restart      bool
		withPayloads bool
		reconnecting atomic.Bool
	)
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay registered with the hub and print its events",
		Long: `Stay registered with the hub and print server, capability and connection
events until interrupted. With --metrics-listen the Prometheus /metrics,
/healthz and /readyz endpoints are served for the lifetime of the command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.close()
			ctx := cmd.Context()

			if s.cfg.MetricsListen != "" {
				registerHealthChecks(s)
				go func() {
					if err := s.obs.Serve(ctx, s.cfg.MetricsListen); err != nil {
						s.logger.Error("Observability listener failed", zap.String("address", s.cfg.MetricsListen), zap.Error(err))
					}
				}()
			}

			// JSON output is one object per line
			if _, ok := s.out.(*output.JSONFormatter); ok {
				s.out = &output.JSONFormatter{}
			}

			ch := s.client.Bus().Subscribe()
			defer s.client.Bus().Unsubscribe(ch)

			if err := s.printEvent(cmd, events.Event{
				Name:      events.ServersUpdated,
				Source:    s.client,
				Timestamp: time.Now().UTC(),
				Payload:   events.ServersPayload{Servers: s.client.GetServers()},
			}, withPayloads); err != nil {
				return err
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case evt, ok := <-ch:
					if !ok {
						return nil
					}
					if err := s.printEvent(cmd, evt, withPayloads); err != nil {
						return err
					}
					if restart && hubLost(evt) && reconnecting.CompareAndSwap(false, true) {
						go func() {
							defer reconnecting.Store(false)
							s.reconnect(ctx)
						}()
					}
				}
			}
		},
	}
	watchCmd.Flags().BoolVar(&restart, "restart", false, "Start the hub again when its process exits")
	watchCmd.Flags().BoolVar(&withPayloads, "payloads", false, "Include full event payloads in json/yaml output")
	return watchCmd
}

// registerHealthChecks reports the cache database as health and the hub
// connection as readiness
func registerHealthChecks(s *session) {
	health := s.obs.Health()
	if s.cache != nil {
		health.AddHealthChecker(observability.NewCacheHealthChecker(func() *bbolt.DB {
			return s.cache.DB()
		}, cache.CacheBucket, cache.CacheStatsBucket))
	}
	health.AddReadinessChecker(observability.NewHubReadinessChecker(s.client.IsReady, func() string {
		return string(s.client.State())
	}))
}

// hubLost reports a connected client dropping without a stop request
func hubLost(evt events.Event) bool {
	if evt.Name != events.ConnectionStateChanged {
		return false
	}
	p, ok := evt.Payload.(events.StatePayload)
	return ok && p.From == string(lifecycle.StateConnected) && p.To == string(lifecycle.StateDisconnected)
}

// reconnect starts the client again until it is ready or ctx ends
func (s *session) reconnect(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.client.StartAndWait(ctx)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(5*time.Minute),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("Hub restart failed, retrying", zap.Error(err), zap.Duration("next", next))
		}),
	)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("Giving up restarting the hub", zap.Error(err))
	}
}

func (s *session) printEvent(cmd *cobra.Command, evt events.Event, withPayload bool) error {
	view := eventView{
		Time:    evt.Timestamp,
		Event:   string(evt.Name),
		Client:  evt.ClientID(),
		Summary: summarize(evt),
	}
	if withPayload {
		view.Payload = evt.Payload
	}
	if !s.isTable() {
		return s.print(cmd, view)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s  %-24s %s\n",
		view.Time.Local().Format("15:04:05"), view.Event, view.Summary)
	return err
}

// summarize renders an event payload as one short line
func summarize(evt events.Event) string {
	switch p := evt.Payload.(type) {
	case events.ServersPayload:
		connected := 0
		for _, rec := range p.Servers {
			if rec.Status == contracts.StatusConnected {
				connected++
			}
		}
		return fmt.Sprintf("%d servers, %d connected", len(p.Servers), connected)
	case events.StatePayload:
		return p.From + " -> " + p.To
	case events.ErrorPayload:
		if p.Err == nil {
			return ""
		}
		return p.Err.Error()
	case contracts.ToolListChanged:
		return fmt.Sprintf("%s: %d tools", p.Server, len(p.Tools))
	case contracts.ResourceListChanged:
		return fmt.Sprintf("%s: %d resources, %d templates", p.Server, len(p.Resources), len(p.ResourceTemplates))
	}
	return ""
}
