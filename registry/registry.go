// Package registry implements the call registry: the mapping from
// (service name, method name) to an invocable Handler.
//
// A Registry is built before the server starts accepting and is frozen
// afterwards; lookups on a frozen registry take no locks.
package registry

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"muxrpc/codec"
	"muxrpc/rpcerr"
)

// Handler is the uniform shape every exported method is adapted to: it
// decodes args with cdc, runs, and returns the encoded result. Argument decode
// failures must wrap rpcerr.ErrArgumentDecode; any other error is reported to
// the caller as an application error.
type Handler func(ctx context.Context, cdc codec.Codec, args []byte) ([]byte, error)

// Method is one exported (MethodName, Handler) pair.
type Method struct {
	Name    string
	Handler Handler
}

// ErrFrozen is returned by Register once the registry serves traffic.
var ErrFrozen = errors.New("registry is frozen")

type Registry struct {
	mu       sync.Mutex // serializes registrations
	frozen   atomic.Bool
	services map[string]map[string]Handler
}

func New() *Registry {
	return &Registry{services: make(map[string]map[string]Handler)}
}

// Register adds every method under serviceName. It fails if the name is
// already taken, if two methods share a name, or after Freeze.
func (r *Registry) Register(serviceName string, methods ...Method) error {
	if serviceName == "" {
		return errors.New("registry: empty service name")
	}

	table := make(map[string]Handler, len(methods))
	for _, m := range methods {
		if m.Name == "" {
			return errors.Errorf("registry: service %s: empty method name", serviceName)
		}
		if m.Handler == nil {
			return errors.Errorf("registry: %s.%s: nil handler", serviceName, m.Name)
		}
		if _, dup := table[m.Name]; dup {
			return errors.Errorf("registry: %s.%s: duplicate method", serviceName, m.Name)
		}
		table[m.Name] = m.Handler
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return errors.Wrapf(ErrFrozen, "registry: register %s", serviceName)
	}
	if _, exists := r.services[serviceName]; exists {
		return errors.Errorf("registry: service %s is already registered", serviceName)
	}
	r.services[serviceName] = table
	return nil
}

// Freeze stops further registration. Safe to call more than once.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Lookup resolves a handler. Not-found errors wrap rpcerr.ErrServiceNotFound
// or rpcerr.ErrMethodNotFound so callers can tell them apart.
func (r *Registry) Lookup(serviceName, methodName string) (Handler, error) {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	methods, ok := r.services[serviceName]
	if !ok {
		return nil, errors.Wrap(rpcerr.ErrServiceNotFound, serviceName)
	}
	h, ok := methods[methodName]
	if !ok {
		return nil, errors.Wrap(rpcerr.ErrMethodNotFound, serviceName+"."+methodName)
	}
	return h, nil
}

// Services returns the registered service names, sorted.
func (r *Registry) Services() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Methods returns the method names of one service, sorted, or nil.
func (r *Registry) Methods(serviceName string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	methods, ok := r.services[serviceName]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
