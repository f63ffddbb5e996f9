package httpclient

import "sync"

// Registry lazily builds and caches one Client per key.
//
// It replaces a hidden package-level client: the application owns the
// registry and tests can Reset it.
//
// Example:
//
//	clients := httpclient.NewRegistry(func(key string) *httpclient.Client {
//	    return httpclient.New(cfg.BaseURLs[key], httpclient.WithServiceName(key))
//	})
//
//	billing := clients.Get("billing")
type Registry struct {
	factory func(key string) *Client

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry returns a Registry that builds clients with factory.
func NewRegistry(factory func(key string) *Client) *Registry {
	return &Registry{
		factory: factory,
		clients: make(map[string]*Client),
	}
}

// Get returns the client for key, building it on first use.
func (r *Registry) Get(key string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[key]; ok {
		return c
	}
	c := r.factory(key)
	r.clients[key] = c
	return c
}

// Reset drops every cached client. The next Get builds a new one.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = make(map[string]*Client)
}
