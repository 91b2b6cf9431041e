package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mcphub-go/internal/cache"
	"mcphub-go/internal/cli/output"
	"mcphub-go/internal/config"
	"mcphub-go/internal/contracts"
	"mcphub-go/internal/hub"
	"mcphub-go/internal/logs"
	"mcphub-go/internal/mcperr"
	"mcphub-go/internal/observability"
)

// session is one connected hub client plus everything it was built from
type session struct {
	cfg    *config.ClientConfig
	logger *zap.Logger
	obs    *observability.Manager
	cache  *cache.Manager
	client *hub.Client
	out    output.Formatter
}

// openSession loads settings from cmd's flags, sets up logging, metrics and
// the marketplace cache, and starts a client that is connected on return.
// longRunning raises the default console log level from warn to info.
func openSession(cmd *cobra.Command, longRunning bool) (*session, error) {
	out, err := newFormatter()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := logs.SetupCommandLogger(longRunning, cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	s := &session{cfg: cfg, logger: logger, out: out}

	s.obs, err = observability.NewManager(logger, cfg.Tracing, version)
	if err != nil {
		s.close()
		return nil, mcperr.Wrap(mcperr.CategorySetup, mcperr.CodeSetupFailed, "failed to set up tracing", err, nil)
	}

	// the cache only backs marketplace fallbacks, so the client runs without it
	s.cache, err = cache.Open(cfg.CachePath(), cache.Options{TTL: cfg.MarketplaceTTL}, logger)
	if err != nil {
		logger.Warn("Marketplace cache unavailable", zap.String("path", cfg.CachePath()), zap.Error(err))
		s.cache = nil
	}

	client, err := hub.Setup(cmd.Context(), hub.Options{
		Config:        cfg,
		Logger:        logger,
		Observability: s.obs,
		Cache:         s.cache,
	}, hub.SetupOptions{Wait: true})
	s.client = client
	if err != nil {
		s.close()
		return nil, err
	}
	logger.Debug("Hub client ready",
		zap.String("client_id", client.ClientID()),
		zap.Bool("owner", client.IsOwner()))
	return s, nil
}

// unregisterWait bounds how long an exiting command waits for the hub to
// acknowledge its unregister
const unregisterWait = time.Second

// close unregisters and releases local resources. An owned hub keeps running
// until its own auto-shutdown.
func (s *session) close() {
	if s.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), unregisterWait)
		s.client.Shutdown(ctx)
		cancel()
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Debug("Failed to close cache", zap.Error(err))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.obs.Close(ctx)
	_ = s.logger.Sync()
}

// server returns the full record of a known server, disabled tools included
func (s *session) server(name string) (contracts.ServerRecord, error) {
	rec, ok := s.client.Store().Snapshot().FindServer(name)
	if !ok {
		return contracts.ServerRecord{}, mcperr.Runtime(mcperr.CodeUnknownCapability,
			fmt.Sprintf("unknown server %q", name), map[string]any{"server": name})
	}
	return rec, nil
}

// print writes a formatted value to the command's stdout
func (s *session) print(cmd *cobra.Command, data any) error {
	text, err := s.out.Format(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), text)
	return err
}

// printTable writes rows to the command's stdout
func (s *session) printTable(cmd *cobra.Command, headers []string, rows [][]string) error {
	text, err := s.out.FormatTable(headers, rows)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), text)
	return err
}

// status colours the value when rendering a table for a terminal
func (s *session) status(value string) string {
	if tf, ok := s.out.(*output.TableFormatter); ok {
		return tf.Status(value)
	}
	return value
}

// isTable reports whether output is meant for people rather than scripts
func (s *session) isTable() bool {
	_, ok := s.out.(*output.TableFormatter)
	return ok
}
