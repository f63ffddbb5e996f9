package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// FetchFunc performs one wire request.
//
// It is the only place the client touches the network. The response body
// is owned by the client from then on: it is read, drained or closed by
// the orchestrator.
type FetchFunc func(ctx context.Context, url string, opts *WireOptions) (*http.Response, error)

// WireOptions is the fully built request handed to a FetchFunc.
type WireOptions struct {
	// Method is the HTTP method.
	Method string

	// Header holds the composed request headers.
	Header http.Header

	// Body is the encoded JSON body. Nil when there is no body or the
	// body is a Form.
	Body []byte

	// Form is the multipart body, passed through untouched. The fetch
	// encodes it and sets the multipart content type.
	Form *Form

	// Host overrides the Host header.
	Host string

	// Close closes the connection after the response.
	Close bool
}

// Compile-time interface check.
var _ http.RoundTripper = (*otelTransport)(nil)

type operationKey struct{}

// withOperation stores the operation name for span naming.
func withOperation(ctx context.Context, operation string) context.Context {
	if operation == "" {
		return ctx
	}
	return context.WithValue(ctx, operationKey{}, operation)
}

func operationFrom(ctx context.Context) string {
	op, _ := ctx.Value(operationKey{}).(string)
	return op
}

// HTTPFetch adapts an *http.Client to a FetchFunc.
//
// Use it to drive the orchestrator with a client you already have:
//
//	client := httpclient.New("https://api.example.com",
//	    httpclient.WithFetch(httpclient.HTTPFetch(myHTTPClient)),
//	)
func HTTPFetch(hc *http.Client) FetchFunc {
	return func(ctx context.Context, url string, opts *WireOptions) (*http.Response, error) {
		req, err := newHTTPRequest(ctx, url, opts)
		if err != nil {
			return nil, err
		}
		return hc.Do(req)
	}
}

// newHTTPRequest converts wire options into an *http.Request.
func newHTTPRequest(ctx context.Context, url string, opts *WireOptions) (*http.Request, error) {
	if opts == nil {
		opts = &WireOptions{}
	}

	header := opts.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}

	var body io.Reader
	switch {
	case opts.Form != nil:
		data, contentType, err := opts.Form.Encode()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncodeBody, err)
		}
		header.Set(headerContentType, contentType)
		body = bytes.NewReader(data)
	case opts.Body != nil:
		body = bytes.NewReader(opts.Body)
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header = header
	req.Host = opts.Host
	req.Close = opts.Close
	return req, nil
}

// newDefaultFetch builds the net/http fetch used when no FetchFunc is
// configured: pooled transport, optional circuit breaker, tracing and
// metrics on the outside.
func newDefaultFetch(cfg *internalConfig) FetchFunc {
	guarded := newCircuitBreakerTransport(cfg.buildTransport(), cfg)

	return HTTPFetch(&http.Client{
		Transport: newOtelTransport(guarded, cfg),
		Timeout:   cfg.httpConfig.Timeout,
	})
}

// otelTransport wraps an http.RoundTripper with OpenTelemetry instrumentation.
type otelTransport struct {
	base       http.RoundTripper
	cfg        *internalConfig
	propagator propagation.TextMapPropagator
}

func newOtelTransport(base http.RoundTripper, cfg *internalConfig) *otelTransport {
	return &otelTransport{
		base: base,
		cfg:  cfg,
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
}

// RoundTrip implements http.RoundTripper with tracing and metrics.
func (t *otelTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	ctx := req.Context()

	// "HTTP {method}" or "HTTP {method} {operation}"
	spanName := "HTTP " + req.Method
	if op := operationFrom(ctx); op != "" {
		spanName += " " + op
	}

	ctx, span := t.cfg.Tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.requestAttributes(req)...),
	)
	defer span.End()

	// RoundTrippers must not modify the caller's request.
	req = req.Clone(ctx)
	t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	baseAttrs := t.cfg.baseAttributes()
	t.cfg.Metrics.recordActiveRequestStart(ctx, baseAttrs)
	defer t.cfg.Metrics.recordActiveRequestEnd(ctx, baseAttrs)

	if req.ContentLength > 0 {
		t.cfg.Metrics.recordRequestBodySize(ctx, req.ContentLength, baseAttrs)
	}

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		errorType := classifyError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.type", errorType))
		t.cfg.Metrics.recordError(ctx, errorType, baseAttrs)
		t.cfg.Metrics.recordRequestDuration(ctx, duration,
			with(t.serverAttributes(req), attribute.String("error.type", errorType)))
		return nil, err
	}

	span.SetAttributes(t.responseAttributes(resp)...)
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		span.SetAttributes(attribute.String("error.type", strconv.Itoa(resp.StatusCode)))
	}

	if resp.ContentLength > 0 {
		t.cfg.Metrics.recordResponseBodySize(ctx, resp.ContentLength, baseAttrs)
	}

	attrs := with(t.serverAttributes(req), attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		attrs = append(attrs, attribute.String("error.type", strconv.Itoa(resp.StatusCode)))
	}
	t.cfg.Metrics.recordRequestDuration(ctx, duration, attrs)

	return resp, nil
}

// serverAttributes returns the attributes shared by spans and metrics.
func (t *otelTransport) serverAttributes(req *http.Request) []attribute.KeyValue {
	attrs := with(t.cfg.baseAttributes(), attribute.String("http.request.method", req.Method))
	if req.URL == nil {
		return attrs
	}

	if host := req.URL.Hostname(); host != "" {
		attrs = append(attrs, attribute.String("server.address", host))
	}

	if port := req.URL.Port(); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			attrs = append(attrs, attribute.Int("server.port", p))
		}
	} else {
		switch req.URL.Scheme {
		case "http":
			attrs = append(attrs, attribute.Int("server.port", 80))
		case "https":
			attrs = append(attrs, attribute.Int("server.port", 443))
		}
	}
	return attrs
}

func (t *otelTransport) requestAttributes(req *http.Request) []attribute.KeyValue {
	attrs := t.serverAttributes(req)

	if req.URL != nil {
		attrs = append(attrs,
			attribute.String("url.full", req.URL.Redacted()),
			attribute.String("url.scheme", req.URL.Scheme),
		)
	}
	if req.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.request.body.size", req.ContentLength))
	}
	if ua := req.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}
	return attrs
}

func (t *otelTransport) responseAttributes(resp *http.Response) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.Int("http.response.status_code", resp.StatusCode)}

	if resp.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.response.body.size", resp.ContentLength))
	}

	// "HTTP/1.1" -> "1.1", "HTTP/2.0" -> "2"
	if resp.ProtoMajor > 0 {
		version := strconv.Itoa(resp.ProtoMajor)
		if resp.ProtoMajor == 1 {
			version += "." + strconv.Itoa(resp.ProtoMinor)
		}
		attrs = append(attrs, attribute.String("network.protocol.version", version))
	}
	return attrs
}

// classifyError maps a fetch error to a low-cardinality error.type value.
func classifyError(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	}

	if isNetworkError(err) {
		return "network"
	}
	return "unknown"
}
