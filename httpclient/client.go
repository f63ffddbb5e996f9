package httpclient

import (
	"context"
	"net/http"
	"sync"
)

// Client orchestrates requests against one base URL: it composes the URL
// and headers, retries transient failures, recovers from 401 responses
// and shares one execution between concurrent identical requests.
//
// Create a Client using New():
//
//	client := httpclient.New("https://api.example.com",
//	    httpclient.WithServiceName("payment-service"),
//	    httpclient.WithRetryOn(502, 503, 504),
//	)
//
//	v, err := client.Get(ctx, "/payments/:id", &httpclient.Request{
//	    Params: map[string]any{"id": paymentID},
//	})
//
// A Client is safe for concurrent use.
type Client struct {
	// config holds all client configuration.
	config *internalConfig

	// fetch performs wire requests unless a request brings its own.
	fetch FetchFunc

	// dedup shares executions between identical concurrent requests.
	dedup *Deduplicator

	mu          sync.RWMutex
	bearerToken string
	authHandler AuthFailureHandler
}

// New creates a Client for baseURL. Trailing slashes of baseURL are
// removed; request paths are appended as given.
//
// Without WithFetch the client uses a pooled net/http fetch with
// OpenTelemetry tracing and metrics.
//
// Example - With auth recovery:
//
//	client := httpclient.New("https://api.example.com")
//	client.SetBearerToken(token)
//	client.OnAuthFailure(func(ctx context.Context, _ *http.Response) error {
//	    fresh, err := auth.Refresh(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    client.SetBearerToken(fresh)
//	    return nil
//	})
func New(baseURL string, opts ...Option) *Client {
	cfg := newConfig(baseURL, opts...)

	fetch := cfg.Fetch
	if fetch == nil {
		fetch = newDefaultFetch(cfg)
	}

	return &Client{
		config: cfg,
		fetch:  fetch,
		dedup:  NewDeduplicator(),
	}
}

// BaseURL returns the base URL requests are composed against.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// SetBearerToken sets the token sent as "Authorization: Bearer <token>".
// An empty token stops the header from being sent.
func (c *Client) SetBearerToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bearerToken = token
}

// BearerToken returns the current bearer token.
func (c *Client) BearerToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bearerToken
}

// OnAuthFailure registers the handler run when a request gets a 401.
// A nil handler disables recovery.
func (c *Client) OnAuthFailure(handler AuthFailureHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authHandler = handler
}

func (c *Client) authFailureHandler() AuthFailureHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authHandler
}

// Do sends req and returns the normalized response value.
//
// The value is nil for 204, 205 and HEAD responses, a *Response in raw
// mode, the decoded JSON for JSON responses and the body text otherwise.
// A non-2xx response is returned as a *StatusError holding that value.
//
// Cancelling ctx returns early with the context error. The execution
// itself keeps running, since identical concurrent requests may share it.
func (c *Client) Do(ctx context.Context, req *Request) (any, error) {
	out, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return out.value, nil
}

// do runs req through the deduplicator and returns the shared outcome.
func (c *Client) do(ctx context.Context, req *Request) (*outcome, error) {
	if req == nil {
		req = &Request{}
	}

	cl, err := c.build(req)
	if err != nil {
		return nil, err
	}

	// Only the caller whose function runs sets led; the result channel
	// orders the write before the read below.
	led := false
	ch := c.dedup.Do(cl.key, func() (any, error) {
		led = true
		return c.execute(context.WithoutCancel(ctx), cl)
	})

	select {
	case res := <-ch:
		if !led {
			c.config.Metrics.recordCoalesced(ctx, c.config.baseAttributes())
			if c.config.Logs {
				logCoalesced(requestLogger(c.config.Logger, cl), cl.key)
			}
		}
		out, _ := res.Val.(*outcome)
		if res.Err == nil && out == nil {
			out = &outcome{}
		}
		return out, res.Err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// Head sends a HEAD request. The value is always nil.
func (c *Client) Head(ctx context.Context, path string, req *Request) (any, error) {
	return c.Do(ctx, req.with(http.MethodHead, path))
}

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, path string, req *Request) (any, error) {
	return c.Do(ctx, req.with(http.MethodGet, path))
}

// Post sends a POST request.
func (c *Client) Post(ctx context.Context, path string, req *Request) (any, error) {
	return c.Do(ctx, req.with(http.MethodPost, path))
}

// Put sends a PUT request.
func (c *Client) Put(ctx context.Context, path string, req *Request) (any, error) {
	return c.Do(ctx, req.with(http.MethodPut, path))
}

// Patch sends a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, req *Request) (any, error) {
	return c.Do(ctx, req.with(http.MethodPatch, path))
}

// Delete sends a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, req *Request) (any, error) {
	return c.Do(ctx, req.with(http.MethodDelete, path))
}
