package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// call is a logical request after the URL and body have been built.
type call struct {
	operation string
	method    string
	url       string

	// bodyValue is the caller's body, kept for content type decisions.
	bodyValue any
	body      []byte
	form      *Form

	headers   map[string]string
	fetchOpts *FetchOptions
	fetch     FetchFunc
	raw       bool

	// key is the deduplication fingerprint.
	key string
}

// build composes the URL and wire body of req and fingerprints it.
// Headers are composed per attempt so a refreshed token is picked up.
func (c *Client) build(req *Request) (*call, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	cl := &call{
		operation: req.Operation,
		method:    method,
		url:       composeURL(c.config.BaseURL, req.Path, req.Params, req.Query),
		bodyValue: req.Body,
		headers:   req.Headers,
		fetchOpts: req.FetchOptions,
		fetch:     req.Fetch,
		raw:       req.RawResponse,
	}
	if cl.fetch == nil {
		cl.fetch = c.fetch
	}

	var fingerprint []byte
	switch body := req.Body.(type) {
	case nil:
	case *Form:
		cl.form = body
		fingerprint = fmt.Appendf(nil, "form:%p", body)
	case json.RawMessage:
		cl.body = body
		fingerprint = body
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncodeBody, err)
		}
		cl.body = data
		fingerprint = data
	}

	cl.key = GenerateCoalesceKey(method, cl.url, fingerprint, cl.raw)
	return cl, nil
}

// retryableStatus tells backoff.Retry to retry a response. It never
// reaches the caller: the loop has no other way to stop on it.
type retryableStatus int

func (s retryableStatus) Error() string {
	return "httpclient: retryable status " + strconv.Itoa(int(s))
}

// execution is the state of one logical request across its attempts.
type execution struct {
	client *Client
	call   *call
	logger zerolog.Logger
	attrs  []attribute.KeyValue

	retry retryState

	// recovered is set once this request has been through a 401 recovery.
	recovered bool
}

// execute runs the attempt loop of cl until it settles.
func (c *Client) execute(ctx context.Context, cl *call) (*outcome, error) {
	ctx = withOperation(ctx, cl.operation)
	start := time.Now()

	ex := &execution{
		client: c,
		call:   cl,
		logger: zerolog.Nop(),
		attrs:  with(c.config.baseAttributes(), attribute.String("http.request.method", cl.method)),
		retry:  retryState{policy: c.config.Retry},
	}
	if c.config.Logs {
		ex.logger = requestLogger(c.config.Logger, cl)
	}

	out, err := backoff.Retry(ctx, func() (*outcome, error) {
		return ex.attempt(ctx)
	},
		backoff.WithBackOff(NewLinearBackOff(c.config.Retry.Delay)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.config.Metrics.recordRetryAttempt(ctx, ex.attrs, ex.retry.attempts)
			if c.config.Logs {
				logRetry(ex.logger, err, ex.retry.attempts, wait)
			}
		}),
	)

	ex.finish(ctx, out, err, time.Since(start))
	return out, err
}

// attempt runs one retry-loop iteration. A 401 recovery replays the
// attempt here without going back through the backoff.
func (ex *execution) attempt(ctx context.Context) (*outcome, error) {
	c := ex.client
	auth := c.config.AuthCoordinator

	for {
		if err := auth.Wait(ctx); err != nil {
			return ex.fail(err)
		}

		resp, err := ex.send(ctx)
		if err != nil {
			return ex.fail(err)
		}

		if resp.StatusCode == http.StatusUnauthorized && !ex.recovered {
			if handler := c.authFailureHandler(); handler != nil {
				ex.recovered = true
				started, rerr := auth.Recover(ctx, resp, handler)
				drainBody(resp)

				c.config.Metrics.recordAuthRecovery(ctx, ex.attrs, started, rerr)
				if c.config.Logs {
					logAuthRecovery(ex.logger, started, rerr)
				}
				if rerr != nil {
					return ex.fail(rerr)
				}
				continue
			}
		}

		if ex.retry.onResponse(resp.StatusCode) {
			drainBody(resp)
			return nil, retryableStatus(resp.StatusCode)
		}

		out, err := normalize(ex.call.method, resp, ex.call.raw)
		if err != nil {
			return out, backoff.Permanent(err)
		}
		return out, nil
	}
}

// fail applies the error retry rule to err.
func (ex *execution) fail(err error) (*outcome, error) {
	if ex.retry.onError(err) {
		return nil, err
	}
	return nil, backoff.Permanent(err)
}

// send builds the wire options of one attempt and fetches them between
// the request hooks.
func (ex *execution) send(ctx context.Context) (*http.Response, error) {
	c := ex.client
	cl := ex.call

	wire := &WireOptions{
		Method: cl.method,
		Header: composeHeaders(c.config.FetchOptions, cl.fetchOpts, cl.headers, cl.method, cl.bodyValue, c.BearerToken()),
		Body:   cl.body,
		Form:   cl.form,
	}
	for _, o := range []*FetchOptions{c.config.FetchOptions, cl.fetchOpts} {
		if o == nil {
			continue
		}
		if o.Host != "" {
			wire.Host = o.Host
		}
		if o.Close {
			wire.Close = true
		}
	}

	hc := &HookContext{Client: c, URL: cl.url, Options: wire}
	if hook := c.config.Hooks.BeforeRequest; hook != nil {
		if err := hook(ctx, hc); err != nil {
			return nil, err
		}
		if hc.Options == nil {
			hc.Options = wire
		}
	}

	if c.config.Logs {
		logAttempt(ex.logger, hc.URL, hc.Options)
	}

	resp, err := cl.fetch(ctx, hc.URL, hc.Options)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrNilResponse
	}

	if hook := c.config.Hooks.AfterRequest; hook != nil {
		hc.Response = resp
		if err := hook(ctx, hc); err != nil {
			drainBody(resp)
			return nil, err
		}
	}
	return resp, nil
}

// finish records and logs how the request settled.
func (ex *execution) finish(ctx context.Context, out *outcome, err error, duration time.Duration) {
	c := ex.client
	policy := c.config.Retry

	status := 0
	if out != nil {
		status = out.status
	}
	if s, ok := statusOf(err); ok {
		status = s
	}

	if ex.retry.attempts > 0 {
		c.config.Metrics.recordRetryDuration(ctx, ex.attrs, duration)
	}
	if policy.IsEnabled() && policy.retryable(status) && ex.retry.attempts >= policy.Count {
		c.config.Metrics.recordRetryExhausted(ctx, ex.attrs)
	}

	if c.config.Logs {
		logOutcome(ex.logger, status, ex.retry.attempts, duration, err)
	}
}
