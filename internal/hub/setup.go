package hub

import (
	"context"

	"go.uber.org/zap"

	"mcphub-go/internal/config"
	"mcphub-go/internal/mcperr"
	"mcphub-go/internal/monitor"
	"mcphub-go/internal/store"
)

// SetupOptions controls how Setup starts the client
type SetupOptions struct {
	// Wait blocks until the hub is ready or the start fails
	Wait bool
}

// Setup validates the configuration, loads the servers file, checks the hub
// binary and its version, then builds and starts a client. Progress is
// recorded in the store's setup section. The binary is not checked when a
// hub already answers on the port.
//
// SETUP failures are reported through OnError and return a nil client. When
// Wait is set and the start itself fails, the client is returned with the
// error so the host can retry.
func Setup(ctx context.Context, opts Options, setup SetupOptions) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config
	if opts.Store == nil {
		st := store.Options{}
		if cfg != nil {
			st = store.Options{MaxErrors: cfg.MaxErrors, MaxLogs: cfg.MaxLogs}
		}
		opts.Store = store.New(st)
	}
	st := opts.Store
	st.SetSetup(store.SetupInProgress, nil)

	fail := func(err error) (*Client, error) {
		e := mcperr.From(err, mcperr.CategorySetup, mcperr.CodeSetupFailed)
		st.Batch(func(tx *store.Tx) {
			tx.SetSetup(store.SetupFailed, e)
			tx.AddError(e)
		})
		opts.Observability.RecordError(string(e.Category), string(e.Code))
		logger.Error("Hub client setup failed", zap.String("error", e.Error()))
		if opts.OnError != nil {
			opts.OnError(e)
		}
		return nil, e
	}

	if cfg == nil {
		return fail(mcperr.Setup(mcperr.CodeInvalidConfig, "client config is required", nil))
	}
	if err := cfg.Validate(); err != nil {
		return fail(err)
	}

	if opts.ConfigStore == nil {
		opts.ConfigStore = config.NewStore(cfg.ConfigPath, logger)
	}
	file, err := opts.ConfigStore.Load()
	if err != nil {
		return fail(err)
	}
	st.SetConfig(opts.ConfigStore.Path(), file)
	logger.Debug("Servers file loaded", zap.String("path", opts.ConfigStore.Path()), zap.Int("servers", len(file.MCPServers)))

	client, err := New(opts)
	if err != nil {
		return fail(err)
	}

	if !cfg.SkipVersionCheck {
		if _, perr := client.Ping(ctx); perr != nil {
			version, verr := monitor.CheckVersion(ctx, cfg.HubCommand, cfg.RequiredVersion)
			if verr != nil {
				client.Stop()
				return fail(verr)
			}
			logger.Info("Hub binary checked", zap.String("command", cfg.HubCommand), zap.String("version", version))
		}
	}

	if !setup.Wait {
		if err := client.Start(ctx); err != nil {
			client.Stop()
			return fail(err)
		}
		st.SetSetup(store.SetupCompleted, nil)
		return client, nil
	}

	if err := client.StartAndWait(ctx); err != nil {
		// the start failure is already in the error feed
		e := mcperr.From(err, mcperr.CategoryServer, mcperr.CodeStartFailed)
		st.SetSetup(store.SetupFailed, e)
		return client, e
	}
	st.SetSetup(store.SetupCompleted, nil)
	return client, nil
}
