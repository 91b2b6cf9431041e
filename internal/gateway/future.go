package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"mcphub-go/internal/mcperr"
)

// Dispatcher runs completion callbacks. The default starts a goroutine per callback;
// hosts with their own event loop can queue fn onto it instead.
type Dispatcher func(fn func())

// GoDispatcher runs every callback on a new goroutine
func GoDispatcher(fn func()) {
	go fn()
}

// Callback receives the outcome of a request. err is nil or an *mcperr.Error.
type Callback func(body json.RawMessage, err error)

// Future is the pending outcome of one request. It completes exactly once.
type Future struct {
	done       chan struct{}
	once       sync.Once
	body       json.RawMessage
	status     int
	err        *mcperr.Error
	dispatcher Dispatcher
}

func newFuture(dispatcher Dispatcher) *Future {
	if dispatcher == nil {
		dispatcher = GoDispatcher
	}
	return &Future{done: make(chan struct{}), dispatcher: dispatcher}
}

// Completed returns a future that already holds the given outcome
func Completed(body json.RawMessage, err *mcperr.Error, dispatcher Dispatcher) *Future {
	f := newFuture(dispatcher)
	f.complete(body, 0, err)
	return f
}

func (f *Future) complete(body json.RawMessage, status int, err *mcperr.Error) {
	f.once.Do(func() {
		f.body = body
		f.status = status
		f.err = err
		close(f.done)
	})
}

// Done is closed when the request has completed
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the request completes or ctx ends. A cancelled ctx only stops
// the wait; the request itself keeps running to its own timeout.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.result()
	case <-ctx.Done():
		return nil, mcperr.Wrap(mcperr.CategoryServer, mcperr.CodeConnection,
			"stopped waiting for hub response", ctx.Err(), map[string]any{"reason": "canceled"})
	}
}

// StatusCode is the HTTP status of a completed request, or 0 when none was received
func (f *Future) StatusCode() int {
	<-f.done
	return f.status
}

func (f *Future) result() (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

// Decode waits and unmarshals the body into out. A body that does not match
// out is reported as SERVER.API_ERROR with reason invalid_response.
func (f *Future) Decode(ctx context.Context, out any) error {
	body, err := f.Wait(ctx)
	if err != nil {
		return err
	}
	return decodeInto(body, out)
}

func decodeInto(body json.RawMessage, out any) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return mcperr.Wrap(mcperr.CategoryServer, mcperr.CodeAPIError, "unexpected response shape from hub", err,
			map[string]any{"reason": "invalid_response"})
	}
	return nil
}

// Then registers cb to run through the dispatcher once the request completes.
// Each registered callback fires exactly once, even if registered after completion.
func (f *Future) Then(cb Callback) *Future {
	if cb == nil {
		return f
	}
	go func() {
		<-f.done
		body, err := f.result()
		f.dispatcher(func() { cb(body, err) })
	}()
	return f
}
