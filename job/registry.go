package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased job handler. It receives the raw JSON
// payload and returns the raw JSON result. The typed Definition[T, R]
// is converted to a HandlerFunc at registration time by closing over
// JSON marshalling and the typed handler.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Definition is a typed job definition with a handler function.
// T is the payload type, R the result type (both JSON-serializable).
type Definition[T, R any] struct {
	// Type is the tag jobs carry to select this handler.
	Type string

	// Handler processes the decoded payload and returns the result
	// stored on the job.
	Handler func(ctx context.Context, payload T) (R, error)

	// Opts are the default enqueue options for this job type,
	// overridable per enqueue.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T, R any](jobType string, handler func(ctx context.Context, payload T) (R, error), opts ...Option) *Definition[T, R] {
	def := &Definition[T, R]{
		Type:    jobType,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// Registry maps job types to type-erased handler functions and their
// default options. One handler per type; re-registering overwrites.
// It is safe for concurrent use and shared by both scheduler backends,
// so registrations survive a backend hot-swap.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	defaults map[string]Options
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		defaults: make(map[string]Options),
	}
}

// RegisterDefinition registers a typed job definition, replacing any
// prior handler for the same type. The generic handler is wrapped in a
// closure that unmarshals the payload into T and marshals the R result.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T, R any](r *Registry, def *Definition[T, R]) {
	handler := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return nil, fmt.Errorf("unmarshal payload for job type %q: %w", def.Type, err)
			}
		}

		result, err := def.Handler(ctx, t)
		if err != nil {
			return nil, err
		}

		out, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result for job type %q: %w", def.Type, err)
		}
		return out, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Type] = handler
	r.defaults[def.Type] = def.Opts
}

// Register registers a raw HandlerFunc for the given type, replacing
// any prior handler.
func (r *Registry) Register(jobType string, handler HandlerFunc, opts ...Option) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = handler
	r.defaults[jobType] = o
}

// Get returns the handler for the given job type.
// Returns false if no handler is registered.
func (r *Registry) Get(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// DefaultsFor returns the registered default options for a type, or
// DefaultOptions if the type is unknown.
func (r *Registry) DefaultsFor(jobType string) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if o, ok := r.defaults[jobType]; ok {
		return o
	}
	return DefaultOptions()
}

// Types returns all registered job types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
