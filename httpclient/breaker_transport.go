package httpclient

import (
	"context"
	"errors"
	"net/http"

	gobreaker "github.com/sony/gobreaker/v2"
)

// defaultBreakerName names the breaker of a client without a service name.
const defaultBreakerName = "courier-http-client"

// circuitBreaker is satisfied by both gobreaker breaker flavours.
type circuitBreaker interface {
	Execute(req func() (*http.Response, error)) (*http.Response, error)
}

// errCountedFailure marks a response the classifier counts as a failure.
// It never leaves the transport: the response itself is returned.
var errCountedFailure = errors.New("httpclient: response counted as breaker failure")

// circuitBreakerTransport guards a RoundTripper with a circuit breaker.
type circuitBreakerTransport struct {
	breaker    circuitBreaker
	next       http.RoundTripper
	classifier BreakerClassifier
	metrics    *metrics
	name       string
}

// RoundTrip implements http.RoundTripper.
func (t *circuitBreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req) //nolint:bodyclose
		if t.classifier(resp, err) && err == nil {
			return resp, errCountedFailure
		}
		return resp, err
	})

	switch {
	case err == nil:
		t.metrics.recordBreakerRequest(ctx, t.name, "success")
		return resp, nil
	case errors.Is(err, errCountedFailure):
		t.metrics.recordBreakerRequest(ctx, t.name, "failure")
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		t.metrics.recordBreakerRequest(ctx, t.name, "rejected")
		return nil, err
	default:
		t.metrics.recordBreakerRequest(ctx, t.name, "failure")
		if resp != nil {
			closeBody(resp)
		}
		return nil, err
	}
}

// newCircuitBreakerTransport wraps next in a breaker when one is configured.
func newCircuitBreakerTransport(next http.RoundTripper, cfg *internalConfig) http.RoundTripper {
	if cfg.BreakerConfig == nil {
		return next
	}
	bc := *cfg.BreakerConfig
	if bc.Classifier == nil {
		bc.Classifier = DefaultBreakerClassifier
	}

	name := cfg.ServiceName
	if name == "" {
		name = defaultBreakerName
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: bc.readyToTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Metrics.recordBreakerState(context.Background(), name, int64(to))
			if cfg.Logs {
				cfg.Logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state changed")
			}
			if bc.OnStateChange != nil {
				bc.OnStateChange(name, from, to)
			}
		},
	}

	var cb circuitBreaker = gobreaker.NewCircuitBreaker[*http.Response](st)
	if bc.Store != nil {
		// A local breaker still protects this process if the shared one
		// cannot be created.
		if dcb, err := gobreaker.NewDistributedCircuitBreaker[*http.Response](bc.Store, st); err == nil {
			cb = dcb
		} else if cfg.Logs {
			cfg.Logger.Warn().Err(err).Str("breaker", name).Msg("falling back to local circuit breaker")
		}
	}

	return &circuitBreakerTransport{
		breaker:    cb,
		next:       next,
		classifier: bc.Classifier,
		metrics:    cfg.Metrics,
		name:       name,
	}
}
