// Package invoker turns raw user-entered parameter values into tool calls and
// resource reads, and flattens their results for display.
package invoker

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mcphub-go/internal/hub"
	"mcphub-go/internal/mcperr"
)

// DefaultTimeout bounds one tool call or resource read
const DefaultTimeout = 30 * time.Second

// Options configures an Invoker
type Options struct {
	Registry *Registry
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Invoker runs one capability invocation at a time
type Invoker struct {
	caller   Caller
	registry *Registry
	timeout  time.Duration
	logger   *zap.Logger

	busy atomic.Bool
}

// New creates an Invoker dispatching through caller
func New(caller Caller, opts Options) *Invoker {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Invoker{
		caller:   caller,
		registry: opts.Registry,
		timeout:  opts.Timeout,
		logger:   opts.Logger.Named("invoker"),
	}
}

// Params lists the inputs a capability takes, required first
func (i *Invoker) Params(c Capability) ([]Param, error) {
	h, err := i.registry.Handler(c.Kind)
	if err != nil {
		return nil, err
	}
	return h.Params(c), nil
}

// Validate checks raw values without dispatching
func (i *Invoker) Validate(c Capability, values map[string]string) error {
	h, err := i.registry.Handler(c.Kind)
	if err != nil {
		return err
	}
	return h.Validate(c, values)
}

// InFlight reports whether an invocation is pending
func (i *Invoker) InFlight() bool {
	return i.busy.Load()
}

// Invoke validates, converts and dispatches one invocation and waits for the
// normalized result. A second call while one is pending fails immediately
// with RUNTIME.IN_PROGRESS.
func (i *Invoker) Invoke(ctx context.Context, c Capability, values map[string]string) (*Result, error) {
	if err := i.acquire(c); err != nil {
		return nil, err
	}
	defer i.busy.Store(false)
	return i.run(ctx, c, values)
}

// InvokeAsync is Invoke delivering its outcome to cb on another goroutine.
// The in-progress check happens before it returns.
func (i *Invoker) InvokeAsync(ctx context.Context, c Capability, values map[string]string, cb func(*Result, error)) error {
	if err := i.acquire(c); err != nil {
		return err
	}
	go func() {
		res, err := i.run(ctx, c, values)
		i.busy.Store(false)
		if cb != nil {
			cb(res, err)
		}
	}()
	return nil
}

func (i *Invoker) acquire(c Capability) error {
	if i.busy.CompareAndSwap(false, true) {
		return nil
	}
	i.logger.Warn("Invocation rejected, another is pending",
		zap.String("server", c.Server), zap.String("capability", c.Name()))
	return mcperr.Runtime(mcperr.CodeInProgress, "an invocation is already in progress",
		map[string]any{"server": c.Server, "capability": c.Name()})
}

func (i *Invoker) run(ctx context.Context, c Capability, values map[string]string) (*Result, error) {
	h, err := i.registry.Handler(c.Kind)
	if err != nil {
		return nil, err
	}
	if err := h.Validate(c, values); err != nil {
		i.logger.Debug("Invocation parameters rejected",
			zap.String("server", c.Server), zap.String("capability", c.Name()), zap.Error(err))
		return nil, err
	}
	call, err := h.Convert(c, values)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	raw, err := h.Dispatch(ctx, i.caller, call, hub.CallOptions{Timeout: i.timeout})
	if err != nil {
		i.logger.Warn("Invocation failed",
			zap.String("server", c.Server),
			zap.String("capability", c.Name()),
			zap.Duration("duration", time.Since(started)),
			zap.Error(err))
		return nil, err
	}
	res, err := h.Normalize(raw)
	if err != nil {
		return nil, err
	}
	i.logger.Debug("Invocation completed",
		zap.String("server", c.Server),
		zap.String("capability", c.Name()),
		zap.Bool("is_error", res.IsError),
		zap.Duration("duration", time.Since(started)))
	return res, nil
}
