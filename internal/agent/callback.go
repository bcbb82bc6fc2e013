package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// SystemContext marks callback execution as running with system privilege,
// distinct from any per-request user identity. Only the callback router
// constructs it.
type SystemContext struct {
	context.Context
}

// NewSystemContext wraps ctx with the system privilege marker.
func NewSystemContext(ctx context.Context) SystemContext {
	return SystemContext{Context: ctx}
}

// CallbackFunc handles one asynchronous agent result. result is the raw
// JSON value; passBack is returned from the original dispatch untouched.
type CallbackFunc func(ctx SystemContext, result json.RawMessage, passBack map[string]any) error

// CallbackRegistry routes agent callbacks to registered handlers. The set
// of routable targets is closed: only explicitly registered
// "res_model.res_method" tags are callable.
type CallbackRegistry struct {
	mu       sync.RWMutex
	handlers map[string]CallbackFunc
	logger   *slog.Logger
}

// NewCallbackRegistry creates an empty callback registry.
func NewCallbackRegistry(logger *slog.Logger) *CallbackRegistry {
	return &CallbackRegistry{
		handlers: make(map[string]CallbackFunc),
		logger:   logger.With("subsystem", "callback"),
	}
}

// Register binds a handler to a res_model/res_method pair. Registering the
// same pair twice panics; the registry is assembled once at startup.
func (r *CallbackRegistry) Register(resModel, resMethod string, fn CallbackFunc) {
	key := resModel + "." + resMethod
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[key]; exists {
		panic("agent: duplicate callback registration: " + key)
	}
	r.handlers[key] = fn
}

// Dispatch routes a callback to its handler under system privilege.
// Unknown targets return an error; handler errors and panics are logged
// and never propagated, so a failing handler cannot break the agent's
// delivery loop.
func (r *CallbackRegistry) Dispatch(ctx context.Context, resModel, resMethod string, result json.RawMessage, passBack map[string]any) error {
	key := resModel + "." + resMethod

	r.mu.RLock()
	fn, ok := r.handlers[key]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("callback for unknown target rejected", "target", key)
		return fmt.Errorf("agent: unknown callback target %q", key)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("callback handler panicked", "target", key, "panic", rec)
		}
	}()

	if err := fn(NewSystemContext(ctx), result, passBack); err != nil {
		r.logger.Error("callback handler failed", "target", key, "error", err)
	}
	return nil
}
