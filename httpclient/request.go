package httpclient

import (
	"context"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
)

// Request describes one logical request.
//
// The zero value is a GET of the base URL. Path may be an absolute
// http(s) URL, in which case the base URL is not prepended.
type Request struct {
	// Operation names the request in spans and logs.
	Operation string

	// Method is the HTTP method. Empty means GET.
	Method string

	// Path is the path template, e.g. "/users/:id".
	Path string

	// Params fills ":name" placeholders in Path.
	Params map[string]any

	// Query is appended to the URL in order.
	Query Query

	// Headers override client and fetch option headers.
	Headers map[string]string

	// Body is JSON-encoded, sent verbatim when it is a json.RawMessage,
	// or passed through when it is a *Form.
	Body any

	// RawResponse returns the *Response instead of the decoded body.
	RawResponse bool

	// Fetch overrides the client fetch for this request.
	Fetch FetchFunc

	// FetchOptions are layered over the client fetch options.
	FetchOptions *FetchOptions
}

// with returns a copy of r with method and path set.
func (r *Request) with(method, path string) *Request {
	var out Request
	if r != nil {
		out = *r
	}
	out.Method = method
	out.Path = path
	return &out
}

// RequestBuilder provides a fluent API for constructing a Request.
//
// Create a RequestBuilder using Client.Request():
//
//	var user User
//	_, err := client.Request("GetUser").
//	    Param("id", userID).
//	    Query("expand", "roles").
//	    Decode(&user).
//	    Get(ctx, "/users/:id")
type RequestBuilder struct {
	client *Client
	req    Request
	target any
}

// Request creates a new RequestBuilder for the given operation name.
//
// The operation name is used for span naming ("HTTP GET GetUser") and
// as the "operation" field in logs.
func (c *Client) Request(operation string) *RequestBuilder {
	return &RequestBuilder{
		client: c,
		req:    Request{Operation: operation},
	}
}

// Param sets the value of the ":name" path placeholder.
func (rb *RequestBuilder) Param(name string, value any) *RequestBuilder {
	if rb.req.Params == nil {
		rb.req.Params = make(map[string]any)
	}
	rb.req.Params[name] = value
	return rb
}

// Params sets several path parameters.
func (rb *RequestBuilder) Params(params map[string]any) *RequestBuilder {
	for k, v := range params {
		rb.Param(k, v)
	}
	return rb
}

// Query appends a query parameter. Slices expand to repeated keys; nil,
// "", false and zero values are dropped.
//
// Example:
//
//	client.Request("SearchUsers").
//	    Query("q", "john").
//	    Query("status", []string{"active", "invited"}).
//	    Get(ctx, "/users")
func (rb *RequestBuilder) Query(key string, value any) *RequestBuilder {
	rb.req.Query = rb.req.Query.Add(key, value)
	return rb
}

// Header sets a request header.
func (rb *RequestBuilder) Header(key, value string) *RequestBuilder {
	if rb.req.Headers == nil {
		rb.req.Headers = make(map[string]string)
	}
	rb.req.Headers[key] = value
	return rb
}

// Headers sets several request headers.
func (rb *RequestBuilder) Headers(headers map[string]string) *RequestBuilder {
	for k, v := range headers {
		rb.Header(k, v)
	}
	return rb
}

// Body sets the request body, encoded as JSON.
func (rb *RequestBuilder) Body(v any) *RequestBuilder {
	rb.req.Body = v
	return rb
}

// Form sets a multipart form body.
//
// Example:
//
//	client.Request("UploadReport").
//	    Form(httpclient.NewForm().Field("title", "Q4").File("report", path)).
//	    Post(ctx, "/reports")
func (rb *RequestBuilder) Form(f *Form) *RequestBuilder {
	rb.req.Body = f
	return rb
}

// Raw asks for the *Response instead of the decoded body.
func (rb *RequestBuilder) Raw() *RequestBuilder {
	rb.req.RawResponse = true
	return rb
}

// Fetch overrides the client fetch for this request.
func (rb *RequestBuilder) Fetch(fn FetchFunc) *RequestBuilder {
	rb.req.Fetch = fn
	return rb
}

// FetchOptions sets per-request fetch options.
func (rb *RequestBuilder) FetchOptions(opts FetchOptions) *RequestBuilder {
	rb.req.FetchOptions = &opts
	return rb
}

// Decode unmarshals a successful response body into v.
//
// Each caller gets its own copy, also when the request was shared with
// identical concurrent requests.
func (rb *RequestBuilder) Decode(v any) *RequestBuilder {
	rb.target = v
	return rb
}

// Head sends the request as HEAD.
func (rb *RequestBuilder) Head(ctx context.Context, path string) (any, error) {
	return rb.Send(ctx, http.MethodHead, path)
}

// Get sends the request as GET.
func (rb *RequestBuilder) Get(ctx context.Context, path string) (any, error) {
	return rb.Send(ctx, http.MethodGet, path)
}

// Post sends the request as POST.
func (rb *RequestBuilder) Post(ctx context.Context, path string) (any, error) {
	return rb.Send(ctx, http.MethodPost, path)
}

// Put sends the request as PUT.
func (rb *RequestBuilder) Put(ctx context.Context, path string) (any, error) {
	return rb.Send(ctx, http.MethodPut, path)
}

// Patch sends the request as PATCH.
func (rb *RequestBuilder) Patch(ctx context.Context, path string) (any, error) {
	return rb.Send(ctx, http.MethodPatch, path)
}

// Delete sends the request as DELETE.
func (rb *RequestBuilder) Delete(ctx context.Context, path string) (any, error) {
	return rb.Send(ctx, http.MethodDelete, path)
}

// Send sends the request with the given method and path.
func (rb *RequestBuilder) Send(ctx context.Context, method, path string) (any, error) {
	out, err := rb.client.do(ctx, rb.req.with(method, path))
	if err != nil {
		return nil, err
	}

	if rb.target != nil && len(out.body) > 0 {
		if err := json.Unmarshal(out.body, rb.target); err != nil {
			return out.value, fmt.Errorf("%w: %w", ErrDecodeResponse, err)
		}
	}
	return out.value, nil
}
