// Package hub is the client runtime for one mcp-hub instance: it attaches to
// or spawns the hub, registers with it, and keeps the state store in sync.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"mcphub-go/internal/cache"
	"mcphub-go/internal/config"
	"mcphub-go/internal/events"
	"mcphub-go/internal/gateway"
	"mcphub-go/internal/hub/lifecycle"
	"mcphub-go/internal/mcperr"
	"mcphub-go/internal/monitor"
	"mcphub-go/internal/observability"
	"mcphub-go/internal/store"
)

// Options configures a Client. Config is required; everything else has a default.
type Options struct {
	Config        *config.ClientConfig
	Logger        *zap.Logger
	Store         *store.Store
	Bus           *events.Bus
	Observability *observability.Manager
	Cache         *cache.Manager
	ConfigStore   *config.Store
	HTTPClient    *http.Client
	Dispatcher    gateway.Dispatcher

	// OnReady is called once per start, after registration succeeded
	OnReady func(*Client)
	// OnError receives SETUP and SERVER errors the host should surface
	OnError func(*mcperr.Error)
}

// Client connects one host to one hub
type Client struct {
	cfg         *config.ClientConfig
	id          string
	logger      *zap.Logger
	store       *store.Store
	bus         *events.Bus
	obs         *observability.Manager
	cache       *cache.Manager
	configStore *config.Store
	machine     *lifecycle.Machine
	gw          *gateway.Gateway
	dispatcher  gateway.Dispatcher

	onReady func(*Client)
	onError func(*mcperr.Error)

	mu             sync.Mutex
	isOwner        bool
	isShuttingDown bool
	proc           *monitor.ProcessMonitor
	attempt        *attempt
	streamCancel   context.CancelFunc
}

// attempt tracks one Start until it settles
type attempt struct {
	done  chan struct{}
	once  sync.Once
	err   error
	ready bool // OnReady already fired
}

func newAttempt() *attempt {
	return &attempt{done: make(chan struct{})}
}

func (a *attempt) settle(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

// New builds a client. It does no I/O.
func New(opts Options) (*Client, error) {
	if opts.Config == nil {
		return nil, mcperr.Setup(mcperr.CodeInvalidConfig, "client config is required", nil)
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:         opts.Config,
		id:          newClientID(),
		logger:      opts.Logger,
		store:       opts.Store,
		bus:         opts.Bus,
		obs:         opts.Observability,
		cache:       opts.Cache,
		configStore: opts.ConfigStore,
		dispatcher:  opts.Dispatcher,
		onReady:     opts.OnReady,
		onError:     opts.OnError,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(zap.String("client_id", c.id), zap.Int("port", c.cfg.Port))
	if c.store == nil {
		c.store = store.New(store.Options{MaxErrors: c.cfg.MaxErrors, MaxLogs: c.cfg.MaxLogs})
	}
	if c.bus == nil {
		c.bus = events.NewBus(c.logger)
	}
	if c.dispatcher == nil {
		c.dispatcher = gateway.GoDispatcher
	}
	if c.configStore == nil {
		c.configStore = config.NewStore(c.cfg.ConfigPath, c.logger)
	}

	c.machine = lifecycle.NewMachine(c.logger.Sugar())
	c.machine.OnTransition(c.mirrorTransition)

	c.gw = gateway.New(gateway.Options{
		BaseURL:       c.cfg.BaseURL(),
		HTTPClient:    opts.HTTPClient,
		Logger:        c.logger,
		Store:         c.store,
		Observability: c.obs,
		Dispatcher:    c.dispatcher,
		IsReady:       func() bool { return c.machine.Is(lifecycle.StateConnected) },
	})
	return c, nil
}

// newClientID combines the process id with a ULID so ids are unique across
// processes and over time
func newClientID() string {
	return fmt.Sprintf("%d_%s", os.Getpid(), ulid.Make().String())
}

// ClientID returns the id used for registration. It never changes.
func (c *Client) ClientID() string {
	return c.id
}

// Port returns the hub port
func (c *Client) Port() int {
	return c.cfg.Port
}

// ConfigPath returns the servers file path
func (c *Client) ConfigPath() string {
	return c.cfg.ConfigPath
}

// Store returns the state store the client writes to
func (c *Client) Store() *store.Store {
	return c.store
}

// Bus returns the event bus the client publishes on
func (c *Client) Bus() *events.Bus {
	return c.bus
}

// Gateway returns the request gateway
func (c *Client) Gateway() *gateway.Gateway {
	return c.gw
}

// State returns the lifecycle state
func (c *Client) State() lifecycle.State {
	return c.machine.Current()
}

// Transitions returns a channel of lifecycle transitions and a function that
// stops the subscription
func (c *Client) Transitions() (<-chan lifecycle.Transition, func()) {
	return c.machine.Subscribe()
}

// IsReady reports whether the client is connected
func (c *Client) IsReady() bool {
	return c.machine.Is(lifecycle.StateConnected)
}

// IsOwner reports whether this client spawned the hub
func (c *Client) IsOwner() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOwner
}

// Start begins connecting and returns immediately. Readiness is reported
// through OnReady, the hub_ready event and the state store.
func (c *Client) Start(ctx context.Context) error {
	from := c.machine.Current()
	if _, err := c.machine.Fire(lifecycle.EventStart, nil); err != nil {
		return mcperr.Runtime(mcperr.CodeInvalidState,
			fmt.Sprintf("cannot start while %s", from), map[string]any{"state": string(from)})
	}

	a := newAttempt()
	c.mu.Lock()
	c.isShuttingDown = false
	c.attempt = a
	c.mu.Unlock()

	go c.connect(context.WithoutCancel(ctx), a)
	return nil
}

// StartAndWait starts the client and blocks until it is ready, the start
// fails, or ctx is done. Cancelling ctx does not abort the start.
func (c *Client) StartAndWait(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	a := c.attempt
	c.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return mcperr.Wrap(mcperr.CategoryServer, mcperr.CodeConnection,
			"stopped waiting for hub", ctx.Err(), map[string]any{"reason": "canceled"})
	}
}

// Stop unregisters (without waiting) and disconnects. An owned hub process
// is detached, never killed; the hub's own auto-shutdown handles it.
func (c *Client) Stop() {
	if f := c.stop(); f != nil {
		f.Then(func(_ json.RawMessage, err error) {
			if err != nil {
				c.logger.Debug("Unregister failed", zap.Error(err))
			}
		})
	}
}

// Shutdown stops like Stop but waits for the unregister request until ctx
// ends, so a host about to exit still reaches the hub. Unregister failures
// are logged and swallowed. The event bus is closed afterwards.
func (c *Client) Shutdown(ctx context.Context) {
	if f := c.stop(); f != nil {
		if _, err := f.Wait(ctx); err != nil {
			c.logger.Debug("Unregister did not complete", zap.Error(err))
		}
	}
	c.bus.Close()
}

// Close stops the client and the event bus without waiting for the hub
func (c *Client) Close() {
	c.Stop()
	c.bus.Close()
}

// stop disconnects and returns the pending unregister request, if one was sent
func (c *Client) stop() *gateway.Future {
	c.mu.Lock()
	c.isShuttingDown = true
	a := c.attempt
	c.mu.Unlock()

	var unregister *gateway.Future
	switch c.machine.Current() {
	case lifecycle.StateConnected:
		unregister = c.gw.Send(context.Background(), gateway.Request{
			Method:        http.MethodPost,
			Path:          "/client/unregister",
			Body:          map[string]string{"clientId": c.id},
			SkipErrorFeed: true,
		})
		if _, err := c.machine.Fire(lifecycle.EventStop, nil); err == nil {
			c.teardown()
			_, _ = c.machine.Fire(lifecycle.EventStopped, nil)
		}
	case lifecycle.StateConnecting:
		if _, err := c.machine.Fire(lifecycle.EventStop, nil); err == nil {
			c.teardown()
		}
	}

	if a != nil {
		a.settle(mcperr.Server(mcperr.CodeInvalidState, "client stopped", nil))
	}

	c.mu.Lock()
	c.isOwner = false
	c.isShuttingDown = false
	c.mu.Unlock()
	c.store.Batch(func(tx *store.Tx) { tx.SetOwner(false) })
	c.logger.Info("Hub client stopped")
	return unregister
}

// Restart stops, clears the state store and starts again with the same
// client id. A client that does not own the hub only refreshes.
func (c *Client) Restart(ctx context.Context) error {
	if !c.IsOwner() {
		return c.Refresh(ctx)
	}
	c.Stop()
	c.store.Reset()
	return c.Start(ctx)
}

func (c *Client) teardown() {
	c.mu.Lock()
	cancel := c.streamCancel
	c.streamCancel = nil
	proc := c.proc
	c.proc = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if proc != nil {
		proc.Detach()
	}
}

func (c *Client) shuttingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isShuttingDown
}

// mirrorTransition keeps the store, the bus and metrics in step with the machine
func (c *Client) mirrorTransition(tr lifecycle.Transition) {
	c.store.SetConnectionState(string(tr.To))
	c.obs.RecordStateTransition(string(tr.From), string(tr.To))
	c.bus.Emit(events.ConnectionStateChanged, c, events.StatePayload{From: string(tr.From), To: string(tr.To)})
}

// reportError surfaces err through OnError and the bus. fed is true when
// the gateway already appended it to the error feed.
func (c *Client) reportError(err *mcperr.Error, fed bool) {
	if err == nil {
		return
	}
	if !fed {
		c.store.AddError(err)
		c.obs.RecordError(string(err.Category), string(err.Code))
	}
	c.logger.Warn("Hub client error", zap.String("error", err.Error()))
	c.bus.Emit(events.HubError, c, events.ErrorPayload{Err: err})
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Client) requestTimeout() time.Duration {
	return c.cfg.RequestTimeout
}

func (c *Client) callTimeout(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return c.cfg.CallTimeout
}
