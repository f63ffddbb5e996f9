package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

type NetError struct {
	Msg string
}

func (e *NetError) Error() string   { return e.Msg }
func (e *NetError) Timeout() bool   { return false }
func (e *NetError) Temporary() bool { return false }

type mockBreaker struct {
	mock.Mock
}

func (m *mockBreaker) Execute(req func() (*http.Response, error)) (*http.Response, error) {
	args := m.Called(req)
	if fn, ok := args.Get(0).(func(func() (*http.Response, error)) (*http.Response, error)); ok {
		return fn(req)
	}
	resp, _ := args.Get(0).(*http.Response)
	return resp, args.Error(1)
}

type mockRoundTripper struct {
	mock.Mock
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*http.Response)
	return resp, args.Error(1)
}

func passThrough(req func() (*http.Response, error)) (*http.Response, error) {
	return req()
}

func TestDefaultBreakerConfig(t *testing.T) {
	cfg := DefaultBreakerConfig()
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, uint32(20), cfg.FailureThreshold)
	assert.InEpsilon(t, 0.5, cfg.FailureRatio, 0.001)
	assert.Equal(t, uint32(5), cfg.ConsecutiveFailures)
	assert.Nil(t, cfg.Store)
	assert.NotNil(t, cfg.Classifier)
}

func TestDistributedBreakerConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewRedisStore(rdb)
	cfg := DistributedBreakerConfig(store)

	assert.Equal(t, store, cfg.Store)
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Equal(t, uint32(5), cfg.ConsecutiveFailures)
}

func TestDefaultBreakerClassifier(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		err  error
		want bool
	}{
		{name: "given 200, then not a failure", resp: &http.Response{StatusCode: 200}},
		{name: "given 401, then not a failure", resp: &http.Response{StatusCode: 401}},
		{name: "given 429, then not a failure", resp: &http.Response{StatusCode: 429}},
		{name: "given 500, then a failure", resp: &http.Response{StatusCode: 500}, want: true},
		{name: "given 503, then a failure", resp: &http.Response{StatusCode: 503}, want: true},
		{name: "given net error, then a failure", err: &NetError{Msg: "dial"}, want: true},
		{name: "given connection refused, then a failure", err: syscall.ECONNREFUSED, want: true},
		{name: "given context canceled, then not a failure", err: context.Canceled},
		{name: "given nil response and nil error, then not a failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultBreakerClassifier(tt.resp, tt.err))
		})
	}
}

func TestBreakerConfig_ReadyToTrip(t *testing.T) {
	cfg := DefaultBreakerConfig()

	tests := []struct {
		name   string
		counts gobreaker.Counts
		want   bool
	}{
		{
			name:   "given consecutive failures at limit, then trips",
			counts: gobreaker.Counts{Requests: 5, TotalFailures: 5, ConsecutiveFailures: 5},
			want:   true,
		},
		{
			name:   "given high ratio below threshold, then does not trip",
			counts: gobreaker.Counts{Requests: 10, TotalFailures: 8, ConsecutiveFailures: 2},
		},
		{
			name:   "given ratio at limit over threshold, then trips",
			counts: gobreaker.Counts{Requests: 20, TotalFailures: 10, ConsecutiveFailures: 1},
			want:   true,
		},
		{
			name:   "given low ratio over threshold, then does not trip",
			counts: gobreaker.Counts{Requests: 40, TotalFailures: 4, ConsecutiveFailures: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.readyToTrip(tt.counts))
		})
	}
}

func TestBreakerTransport_RoundTrip(t *testing.T) {
	netErr := &NetError{Msg: "network error"}

	tests := []struct {
		name    string
		mockFn  func(*mockBreaker, *mockRoundTripper)
		wantErr error
		wantSC  int
	}{
		{
			name: "given successful execution, then returns response and no error",
			mockFn: func(cb *mockBreaker, rt *mockRoundTripper) {
				cb.On("Execute", mock.Anything).Return(passThrough, nil).Once()
				rt.On("RoundTrip", mock.Anything).Return(&http.Response{StatusCode: http.StatusOK}, nil).Once()
			},
			wantSC: 200,
		},
		{
			name: "given circuit open, then returns ErrOpenState",
			mockFn: func(cb *mockBreaker, _ *mockRoundTripper) {
				cb.On("Execute", mock.Anything).Return(nil, gobreaker.ErrOpenState).Once()
			},
			wantErr: gobreaker.ErrOpenState,
		},
		{
			name: "given half-open limit reached, then returns ErrTooManyRequests",
			mockFn: func(cb *mockBreaker, _ *mockRoundTripper) {
				cb.On("Execute", mock.Anything).Return(nil, gobreaker.ErrTooManyRequests).Once()
			},
			wantErr: gobreaker.ErrTooManyRequests,
		},
		{
			name: "given 500 counted as failure, then returns the response",
			mockFn: func(cb *mockBreaker, rt *mockRoundTripper) {
				cb.On("Execute", mock.Anything).Return(passThrough, nil).Once()
				rt.On("RoundTrip", mock.Anything).
					Return(&http.Response{StatusCode: http.StatusInternalServerError, Body: http.NoBody}, nil).Once()
			},
			wantSC: 500,
		},
		{
			name: "given network error, then returns error",
			mockFn: func(cb *mockBreaker, rt *mockRoundTripper) {
				cb.On("Execute", mock.Anything).Return(passThrough, nil).Once()
				rt.On("RoundTrip", mock.Anything).Return(nil, netErr).Once()
			},
			wantErr: netErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := &mockBreaker{}
			rt := &mockRoundTripper{}
			tt.mockFn(cb, rt)

			m, _ := newMetrics(noop.NewMeterProvider().Meter("test"))
			tr := &circuitBreakerTransport{
				breaker:    cb,
				next:       rt,
				classifier: DefaultBreakerClassifier,
				metrics:    m,
				name:       "test-service",
			}

			req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
			resp, err := tr.RoundTrip(req)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, resp)
			} else {
				require.NoError(t, err)
				require.NotNil(t, resp)
				assert.Equal(t, tt.wantSC, resp.StatusCode)
			}

			cb.AssertExpectations(t)
			rt.AssertExpectations(t)
		})
	}
}

func TestNewCircuitBreakerTransport(t *testing.T) {
	t.Run("given no breaker config, then transport is returned as is", func(t *testing.T) {
		next := &mockRoundTripper{}
		cfg := newConfig("http://localhost")

		assert.Same(t, next, newCircuitBreakerTransport(next, cfg))
	})

	t.Run("given redis store, then distributed breaker is used", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		cfg := newConfig("http://localhost",
			WithServiceName("billing"),
			WithCircuitBreaker(DistributedBreakerConfig(NewRedisStore(rdb))),
		)

		tr, ok := newCircuitBreakerTransport(&mockRoundTripper{}, cfg).(*circuitBreakerTransport)
		require.True(t, ok)
		assert.Equal(t, "billing", tr.name)
		assert.IsType(t, &gobreaker.DistributedCircuitBreaker[*http.Response]{}, tr.breaker)
	})

	t.Run("given local config without name, then default name is used", func(t *testing.T) {
		cfg := newConfig("http://localhost", WithCircuitBreaker(DefaultBreakerConfig()))

		tr, ok := newCircuitBreakerTransport(&mockRoundTripper{}, cfg).(*circuitBreakerTransport)
		require.True(t, ok)
		assert.Equal(t, defaultBreakerName, tr.name)
		assert.IsType(t, &gobreaker.CircuitBreaker[*http.Response]{}, tr.breaker)
	})
}

func TestClient_CircuitBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	var transitions []gobreaker.State
	bc := DefaultBreakerConfig()
	bc.ConsecutiveFailures = 2
	bc.Timeout = time.Minute
	bc.OnStateChange = func(_ string, _, to gobreaker.State) {
		transitions = append(transitions, to)
	}

	c := New(srv.URL,
		WithCircuitBreaker(bc),
		WithAuthCoordinator(NewAuthCoordinator()),
	)

	for range 2 {
		_, err := c.Get(context.Background(), "/", nil)
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusServiceUnavailable, se.Status)
	}

	_, err := c.Get(context.Background(), "/", nil)

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)
}

func TestIsNetworkError(t *testing.T) {
	assert.False(t, isNetworkError(nil))
	assert.False(t, isNetworkError(errors.New("boom")))
	assert.True(t, isNetworkError(&NetError{Msg: "x"}))
	assert.True(t, isNetworkError(syscall.ECONNRESET))
	assert.True(t, isNetworkError(syscall.ETIMEDOUT))
}
