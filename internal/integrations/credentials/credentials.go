// Package credentials resolves the API credentials used by outbound calls.
//
// Credentials are resolved at the call site, not at startup: a missing
// credential fails the call that needs it with a *ConfigurationError and
// leaves the rest of the process serving.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrMissing is returned by StaticGetter for unset credentials.
var ErrMissing = errors.New("credentials: not set")

// Getter is the interface that wraps GetParameter.
// *paramstore.Client satisfies it.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ConfigurationError reports a required credential that could not be resolved.
type ConfigurationError struct {
	Parameter string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("credentials: %s not configured", e.Parameter)
	}
	return fmt.Sprintf("credentials: %s not configured: %v", e.Parameter, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Resolver reads credentials under a parameter prefix and caches the ones
// it found. Failed lookups are not cached and are retried on the next call.
type Resolver struct {
	getter Getter
	prefix string

	mu    sync.RWMutex
	cache map[string]string
}

// NewResolver creates a Resolver. An empty prefix resolves bare names.
func NewResolver(g Getter, prefix string) (*Resolver, error) {
	if g == nil {
		return nil, errors.New("credentials: getter must not be nil")
	}
	return &Resolver{
		getter: g,
		prefix: strings.TrimRight(strings.TrimSpace(prefix), "/"),
		cache:  make(map[string]string),
	}, nil
}

// Resolve returns the credential stored under name.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	key := r.parameterName(name)

	r.mu.RLock()
	v, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err := r.getter.GetParameter(ctx, key)
	if err != nil {
		return "", &ConfigurationError{Parameter: key, Err: err}
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", &ConfigurationError{Parameter: key}
	}

	r.mu.Lock()
	r.cache[key] = v
	r.mu.Unlock()
	return v, nil
}

func (r *Resolver) parameterName(name string) string {
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if r.prefix == "" {
		return name
	}
	return r.prefix + "/" + name
}

// StaticGetter serves credentials from a fixed map, e.g. process environment
// read once at startup by the local binary.
type StaticGetter map[string]string

func (s StaticGetter) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s", ErrMissing, name)
	}
	return v, nil
}
