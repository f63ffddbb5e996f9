package httpclient

import (
	"context"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/courier-go/httpclient"
)

// =============================================================================
// Config - Default Fetch Transport Configuration
// =============================================================================

// Config tunes the net/http transport behind the default fetch.
// It has no effect when a custom fetch is supplied with WithFetch.
//
// Example:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.MaxIdleConnsPerHost = 50
//
//	client := httpclient.New("https://api.example.com",
//	    httpclient.WithConfig(cfg),
//	)
type Config struct {
	// Timeout bounds a single fetch, body read included. Zero means no
	// limit; the orchestrator itself never times out a request.
	//
	// Default: 0
	Timeout time.Duration

	// MaxIdleConns caps idle keep-alive connections across all hosts.
	//
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle connections kept per host.
	//
	// Default: 20
	MaxIdleConnsPerHost int

	// MaxConnsPerHost caps all connections per host. Zero is unlimited.
	//
	// Default: 100
	MaxConnsPerHost int

	// IdleConnTimeout is how long an idle connection stays pooled.
	//
	// Default: 90s
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake.
	//
	// Default: 10s
	TLSHandshakeTimeout time.Duration

	// ExpectContinueTimeout bounds the wait for "100 Continue".
	//
	// Default: 1s
	ExpectContinueTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers.
	// Zero means no limit.
	//
	// Default: 0
	ResponseHeaderTimeout time.Duration

	// DialTimeout bounds TCP connection establishment.
	//
	// Default: 5s
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive probe interval.
	//
	// Default: 30s
	KeepAlive time.Duration

	// DisableKeepAlives forces a new connection per request.
	//
	// Default: false
	DisableKeepAlives bool

	// DisableCompression stops the transport from asking for gzip.
	//
	// Default: true
	DisableCompression bool

	// ForceHTTP2 attempts HTTP/2 when a custom dialer is configured.
	//
	// Default: false
	ForceHTTP2 bool
}

// DefaultConfig returns a balanced configuration suitable for most use cases.
func DefaultConfig() Config {
	return Config{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DialTimeout:           5 * time.Second,
		KeepAlive:             30 * time.Second,
		DisableCompression:    true,
	}
}

// HighThroughputConfig returns a configuration for many concurrent
// requests to the same hosts: bigger pools, unlimited conns per host.
func HighThroughputConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxIdleConns = 500
	cfg.MaxIdleConnsPerHost = 100
	cfg.MaxConnsPerHost = 0
	cfg.IdleConnTimeout = 120 * time.Second
	return cfg
}

// LowLatencyConfig returns a configuration that fails fast on slow
// connects and handshakes.
func LowLatencyConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxIdleConns = 50
	cfg.MaxIdleConnsPerHost = 25
	cfg.MaxConnsPerHost = 50
	cfg.IdleConnTimeout = 60 * time.Second
	cfg.TLSHandshakeTimeout = 5 * time.Second
	cfg.ExpectContinueTimeout = 500 * time.Millisecond
	cfg.DialTimeout = 2 * time.Second
	cfg.KeepAlive = 15 * time.Second
	cfg.ForceHTTP2 = true
	return cfg
}

// =============================================================================
// Request-level settings shared by client and request options
// =============================================================================

// FetchOptions are transport overrides applied to outgoing requests.
//
// Client-level FetchOptions apply to every request; a request's own
// FetchOptions are layered on top (headers merge, Host and Close override
// when set).
type FetchOptions struct {
	// Header holds headers sent with the request.
	Header http.Header

	// Host overrides the Host header.
	Host string

	// Close closes the connection after the response.
	Close bool
}

// HookContext is passed to request hooks.
type HookContext struct {
	// Client is the client issuing the request.
	Client *Client

	// URL is the composed request URL.
	URL string

	// Options is the wire request about to be, or just, sent. Before
	// hooks may modify it.
	Options *WireOptions

	// Response is the fetch response. It is nil in BeforeRequest.
	Response *http.Response
}

// HookFunc is a request lifecycle hook. A returned error fails the attempt.
type HookFunc func(ctx context.Context, hc *HookContext) error

// Hooks are called around every fetch, retries included.
type Hooks struct {
	// BeforeRequest runs right before the fetch.
	BeforeRequest HookFunc

	// AfterRequest runs right after the fetch returns a response.
	AfterRequest HookFunc
}

// =============================================================================
// Internal Configuration
// =============================================================================

// internalConfig holds all client configuration.
type internalConfig struct {
	// httpConfig tunes the default fetch transport.
	httpConfig Config

	// BaseURL is prepended to relative request paths, trailing slashes removed.
	BaseURL string

	// Fetch performs the wire request. Nil selects the default fetch.
	Fetch FetchFunc

	// FetchOptions apply to every request.
	FetchOptions *FetchOptions

	// Retry is the retry policy.
	Retry RetryPolicy

	// Hooks run around each fetch.
	Hooks Hooks

	// Logs enables request outcome logging.
	Logs bool

	// Logger receives log output when Logs is set.
	Logger zerolog.Logger

	// AuthCoordinator serializes 401 recovery.
	AuthCoordinator *AuthCoordinator

	// ServiceName identifies the client in spans and metrics.
	ServiceName string

	// BreakerConfig enables the circuit breaker around the default fetch.
	BreakerConfig *BreakerConfig

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	Metrics        *metrics
}

// newConfig creates a new internal config with defaults and applies options.
func newConfig(baseURL string, opts ...Option) *internalConfig {
	cfg := &internalConfig{
		httpConfig:      DefaultConfig(),
		BaseURL:         strings.TrimRight(baseURL, "/"),
		Retry:           DefaultRetryPolicy(),
		Logger:          defaultLogger,
		AuthCoordinator: DefaultAuthCoordinator(),
		TracerProvider:  otel.GetTracerProvider(),
		MeterProvider:   otel.GetMeterProvider(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Retry.Count < 0 {
		cfg.Retry.Count = 0
	}
	if cfg.Retry.Delay < 0 {
		cfg.Retry.Delay = 0
	}

	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)

	// Instruments that fail to register stay nil and are skipped.
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	return cfg
}

// buildTransport creates an http.Transport from the configuration.
func (cfg *internalConfig) buildTransport() *http.Transport {
	hc := cfg.httpConfig

	dialer := &net.Dialer{
		Timeout:   hc.DialTimeout,
		KeepAlive: hc.KeepAlive,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          hc.MaxIdleConns,
		MaxIdleConnsPerHost:   hc.MaxIdleConnsPerHost,
		MaxConnsPerHost:       hc.MaxConnsPerHost,
		IdleConnTimeout:       hc.IdleConnTimeout,
		TLSHandshakeTimeout:   hc.TLSHandshakeTimeout,
		ResponseHeaderTimeout: hc.ResponseHeaderTimeout,
		ExpectContinueTimeout: hc.ExpectContinueTimeout,
		DisableKeepAlives:     hc.DisableKeepAlives,
		DisableCompression:    hc.DisableCompression,
		ForceAttemptHTTP2:     hc.ForceHTTP2,
	}
}

// baseAttributes returns common attributes for all spans and metrics.
func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 1)
	if cfg.ServiceName != "" {
		attrs = append(attrs, attribute.String("http.client.name", cfg.ServiceName))
	}
	return attrs
}

// =============================================================================
// Options - Functional Options for Client Configuration
// =============================================================================

// Option configures the HTTP client.
type Option func(*internalConfig)

// WithConfig sets the transport configuration of the default fetch.
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig = c
	}
}

// WithFetch replaces the default net/http fetch.
//
// Example - Route through a test double:
//
//	mock := httpclient.NewMockFetch().StubResponse(200, `{"ok":true}`)
//	client := httpclient.New("http://localhost", httpclient.WithFetch(mock.Fetch))
func WithFetch(fn FetchFunc) Option {
	return func(cfg *internalConfig) {
		cfg.Fetch = fn
	}
}

// WithFetchOptions sets transport overrides applied to every request.
func WithFetchOptions(opts FetchOptions) Option {
	return func(cfg *internalConfig) {
		o := opts
		o.Header = opts.Header.Clone()
		cfg.FetchOptions = &o
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(cfg *internalConfig) {
		if cfg.FetchOptions == nil {
			cfg.FetchOptions = &FetchOptions{}
		}
		if cfg.FetchOptions.Header == nil {
			cfg.FetchOptions.Header = make(http.Header)
		}
		cfg.FetchOptions.Header.Set(key, value)
	}
}

// WithRetryPolicy sets the whole retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(cfg *internalConfig) {
		cfg.Retry = p
	}
}

// WithRetryCount sets how many times a request may be retried.
//
// Default: 2
func WithRetryCount(n int) Option {
	return func(cfg *internalConfig) {
		cfg.Retry.Count = n
	}
}

// WithRetryOn sets the status codes that are retried. Without it nothing
// is retried.
func WithRetryOn(statusCodes ...int) Option {
	return func(cfg *internalConfig) {
		cfg.Retry.On = append([]int(nil), statusCodes...)
	}
}

// WithRetryDelay sets the linear backoff step: the n-th retry waits
// delay × n.
//
// Default: 500ms
func WithRetryDelay(delay time.Duration) Option {
	return func(cfg *internalConfig) {
		cfg.Retry.Delay = delay
	}
}

// WithHooks sets the request lifecycle hooks.
//
// Example:
//
//	client := httpclient.New(baseURL, httpclient.WithHooks(httpclient.Hooks{
//	    BeforeRequest: func(ctx context.Context, hc *httpclient.HookContext) error {
//	        hc.Options.Header.Set("X-Request-Start", time.Now().Format(time.RFC3339Nano))
//	        return nil
//	    },
//	}))
func WithHooks(h Hooks) Option {
	return func(cfg *internalConfig) {
		cfg.Hooks = h
	}
}

// WithLogs enables logging of every request outcome.
//
// Default: false
func WithLogs(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.Logs = enabled
	}
}

// WithLogger sets the zerolog logger used when logs are enabled.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = logger
	}
}

// WithAuthCoordinator sets the coordinator used for 401 recovery.
//
// Clients sharing a coordinator run at most one recovery between them.
// By default all clients share DefaultAuthCoordinator(); pass a fresh
// NewAuthCoordinator() to isolate a client.
func WithAuthCoordinator(a *AuthCoordinator) Option {
	return func(cfg *internalConfig) {
		if a != nil {
			cfg.AuthCoordinator = a
		}
	}
}

// WithServiceName sets an identifier for this client in traces and metrics.
// It is added as the "http.client.name" attribute.
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) {
		cfg.ServiceName = name
	}
}

// WithTracerProvider sets a custom OpenTelemetry TracerProvider.
// If not called, the global provider from otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider sets a custom OpenTelemetry MeterProvider.
// If not called, the global provider from otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		cfg.MeterProvider = mp
	}
}

// WithCircuitBreaker wraps the default fetch in a circuit breaker.
func WithCircuitBreaker(bc BreakerConfig) Option {
	return func(cfg *internalConfig) {
		cfg.BreakerConfig = &bc
	}
}

// defaultLogger is the package-level zerolog logger.
var defaultLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
