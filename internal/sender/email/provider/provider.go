// Package provider defines the email backend interface and a registry that
// picks the best configured backend, with ordered fallback on send failure.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Request is one email to deliver.
type Request struct {
	From    string
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Provider is a single email backend (SES, Resend, SMTP).
type Provider interface {
	// Name returns the backend name (e.g. "ses", "resend", "smtp").
	Name() string

	// Send delivers the email through this backend.
	Send(ctx context.Context, req *Request) error

	// IsConfigured reports whether the backend has usable credentials.
	IsConfigured() bool
}

// Registry holds the registered backends and the preferred ordering.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	primary   string
	fallback  []string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a backend to the registry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	slog.Info("registered email provider", "name", p.Name(), "configured", p.IsConfigured())
}

// SetPrimary selects the preferred backend by name.
func (r *Registry) SetPrimary(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("email provider %q not registered", name)
	}
	r.primary = name
	return nil
}

// SetFallback sets the backends tried, in order, when the primary is
// unconfigured or fails.
func (r *Registry) SetFallback(names ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if _, ok := r.providers[name]; !ok {
			return fmt.Errorf("email provider %q not registered", name)
		}
	}
	r.fallback = names
	return nil
}

// Get returns a backend by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// pick returns the primary backend if configured, then the fallbacks in
// order, then any configured backend at all.
func (r *Registry) pick() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.primary != "" {
		if p, ok := r.providers[r.primary]; ok && p.IsConfigured() {
			return p, nil
		}
	}

	for _, name := range r.fallback {
		if p, ok := r.providers[name]; ok && p.IsConfigured() {
			slog.Warn("primary email provider not configured, using fallback",
				"primary", r.primary,
				"fallback", name,
			)
			return p, nil
		}
	}

	for name, p := range r.providers {
		if p.IsConfigured() {
			slog.Warn("using first available email provider", "name", name)
			return p, nil
		}
	}

	return nil, fmt.Errorf("no configured email provider available")
}

// Send delivers the email through the best available backend, trying the
// fallbacks in order when the chosen backend fails.
func (r *Registry) Send(ctx context.Context, req *Request) error {
	primary, err := r.pick()
	if err != nil {
		return err
	}

	err = primary.Send(ctx, req)
	if err == nil {
		return nil
	}

	r.mu.RLock()
	fallbacks := r.fallback
	r.mu.RUnlock()

	for _, name := range fallbacks {
		p, ok := r.Get(name)
		if !ok || !p.IsConfigured() || p.Name() == primary.Name() {
			continue
		}
		slog.Warn("email provider failed, trying fallback",
			"failed", primary.Name(),
			"fallback", name,
			"error", err,
		)
		if fbErr := p.Send(ctx, req); fbErr == nil {
			return nil
		}
	}
	return err
}

// GetEnvOrDefault returns the env var value, or def when unset or empty.
func GetEnvOrDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
