package httpclient

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the metric instruments for client operations.
//
// Fetch-level instruments are recorded by the default fetch; the rest are
// recorded by the orchestrator and apply whatever fetch is configured.
type metrics struct {
	// === Fetch ===

	// requestDuration measures a single fetch in seconds.
	requestDuration metric.Float64Histogram

	// requestBodySize measures request bodies in bytes.
	requestBodySize metric.Int64Histogram

	// responseBodySize measures response bodies in bytes.
	responseBodySize metric.Int64Histogram

	// activeRequests tracks fetches in flight.
	activeRequests metric.Int64UpDownCounter

	// requestErrors counts failed fetches by error type.
	requestErrors metric.Int64Counter

	// === Retry ===

	// retryAttempts counts retries. The first attempt is not counted.
	retryAttempts metric.Int64Counter

	// retryExhausted counts requests that ended on a retryable status
	// with no retries left.
	retryExhausted metric.Int64Counter

	// retryDuration measures the whole retry loop of requests that retried.
	retryDuration metric.Float64Histogram

	// === Auth & Deduplication ===

	// authRecoveries counts 401 recoveries by role (started, joined) and result.
	authRecoveries metric.Int64Counter

	// coalescedRequests counts calls that joined an identical call in flight.
	coalescedRequests metric.Int64Counter

	// === Circuit Breaker ===

	// breakerRequests counts fetches through the breaker by result.
	breakerRequests metric.Int64Counter

	// breakerState reports the breaker state (0 closed, 1 half-open, 2 open).
	breakerState metric.Int64Gauge
}

var (
	durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10}
	sizeBuckets     = []float64{0, 100, 1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024}
	retryBuckets    = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
)

// newMetrics creates and registers metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	if m.requestDuration, err = meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("Duration of HTTP client requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}

	if m.requestBodySize, err = meter.Int64Histogram(
		"http.client.request.body.size",
		metric.WithDescription("Size of HTTP client request bodies in bytes"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...),
	); err != nil {
		return nil, err
	}

	if m.responseBodySize, err = meter.Int64Histogram(
		"http.client.response.body.size",
		metric.WithDescription("Size of HTTP client response bodies in bytes"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...),
	); err != nil {
		return nil, err
	}

	if m.activeRequests, err = meter.Int64UpDownCounter(
		"http.client.active_requests",
		metric.WithDescription("Number of active HTTP client requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.requestErrors, err = meter.Int64Counter(
		"http.client.request.error",
		metric.WithDescription("Number of HTTP client request errors"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if m.retryAttempts, err = meter.Int64Counter(
		"http.client.retry.attempts",
		metric.WithDescription("Number of HTTP client retry attempts"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}

	if m.retryExhausted, err = meter.Int64Counter(
		"http.client.retry.exhausted",
		metric.WithDescription("Number of requests that exhausted all retries"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.retryDuration, err = meter.Float64Histogram(
		"http.client.retry.duration",
		metric.WithDescription("Total time spent in retry loop in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(retryBuckets...),
	); err != nil {
		return nil, err
	}

	if m.authRecoveries, err = meter.Int64Counter(
		"http.client.auth.recoveries",
		metric.WithDescription("Number of 401 recoveries started or joined"),
		metric.WithUnit("{recovery}"),
	); err != nil {
		return nil, err
	}

	if m.coalescedRequests, err = meter.Int64Counter(
		"http.client.coalesced_requests",
		metric.WithDescription("Number of requests served by an identical in-flight request"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.breakerRequests, err = meter.Int64Counter(
		"http.client.breaker.requests",
		metric.WithDescription("Number of requests through the circuit breaker"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.breakerState, err = meter.Int64Gauge(
		"http.client.breaker.state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 half-open, 2 open"),
		metric.WithUnit("{state}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// with returns attrs plus extra in a new slice.
func with(attrs []attribute.KeyValue, extra ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs)+len(extra))
	out = append(out, attrs...)
	return append(out, extra...)
}

func (m *metrics) recordRequestDuration(ctx context.Context, duration time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordRequestBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m == nil || m.requestBodySize == nil {
		return
	}
	m.requestBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
}

func (m *metrics) recordResponseBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m == nil || m.responseBodySize == nil {
		return
	}
	m.responseBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
}

func (m *metrics) recordActiveRequestStart(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordActiveRequestEnd(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, -1, metric.WithAttributes(attrs...))
}

// recordError records a failed fetch.
func (m *metrics) recordError(ctx context.Context, errorType string, attrs []attribute.KeyValue) {
	if m == nil || m.requestErrors == nil {
		return
	}
	m.requestErrors.Add(ctx, 1, metric.WithAttributes(with(attrs, attribute.String("error.type", errorType))...))
}

// recordRetryAttempt records a retry about to happen.
func (m *metrics) recordRetryAttempt(ctx context.Context, attrs []attribute.KeyValue, attempt int) {
	if m == nil || m.retryAttempts == nil {
		return
	}
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(with(attrs, attribute.Int("retry.attempt", attempt))...))
}

func (m *metrics) recordRetryExhausted(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.retryExhausted == nil {
		return
	}
	m.retryExhausted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordRetryDuration(ctx context.Context, attrs []attribute.KeyValue, duration time.Duration) {
	if m == nil || m.retryDuration == nil {
		return
	}
	m.retryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// recordAuthRecovery records a recovery this request started or joined.
func (m *metrics) recordAuthRecovery(ctx context.Context, attrs []attribute.KeyValue, started bool, err error) {
	if m == nil || m.authRecoveries == nil {
		return
	}
	role, result := "joined", "success"
	if started {
		role = "started"
	}
	if err != nil {
		result = "failure"
	}
	m.authRecoveries.Add(ctx, 1, metric.WithAttributes(with(attrs,
		attribute.String("auth.role", role),
		attribute.String("auth.result", result),
	)...))
}

func (m *metrics) recordCoalesced(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.coalescedRequests == nil {
		return
	}
	m.coalescedRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// recordBreakerRequest records the outcome of a fetch guarded by the
// breaker: success, failure or rejected.
func (m *metrics) recordBreakerRequest(ctx context.Context, name, result string) {
	if m == nil || m.breakerRequests == nil {
		return
	}
	m.breakerRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker.name", name),
		attribute.String("breaker.result", result),
	))
}

func (m *metrics) recordBreakerState(ctx context.Context, name string, state int64) {
	if m == nil || m.breakerState == nil {
		return
	}
	m.breakerState.Record(ctx, state, metric.WithAttributes(attribute.String("breaker.name", name)))
}
