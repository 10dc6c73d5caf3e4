package flagkit

import (
	"log/slog"
	"sync"
)

// Registry tracks live clients by SDK key.
// Create one per process and pass it to every client with WithRegistry.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{clients: map[string]*Client{}, log: log}
}

// Register stores c under sdkKey. A second client for the same key replaces the
// first and logs a warning: both would share caches and logs.
func (r *Registry) Register(sdkKey string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[sdkKey]; ok && existing != c {
		r.log.Warn("creating multiple clients with the same sdk key is not supported",
			slog.String("sdk_key_fingerprint", keyFingerprint(sdkKey)))
	}
	r.clients[sdkKey] = c
}

// Unregister removes c. It does nothing when another client has replaced c since.
func (r *Registry) Unregister(sdkKey string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[sdkKey] == c {
		delete(r.clients, sdkKey)
	}
}

func (r *Registry) Lookup(sdkKey string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[sdkKey]
	return c, ok
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
