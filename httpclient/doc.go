// Package httpclient orchestrates HTTP requests between an application and
// a pluggable fetch function.
//
// # Features
//
//   - URL composition from a base URL, ":name" path templates and ordered queries
//   - Header merging with bearer token injection and JSON content type
//   - Opt-in retries on chosen status codes with linear backoff
//   - Single-flight 401 recovery shared by every client in the process
//   - Deduplication of concurrent identical requests
//   - JSON/text/raw response normalization with typed status errors
//   - OpenTelemetry tracing and metrics, zerolog logging, optional circuit breaker
//
// # Quick Start
//
//	client := httpclient.New("https://api.example.com",
//	    httpclient.WithServiceName("my-service"),
//	)
//
//	// GET /users/42?expand=roles
//	v, err := client.Get(ctx, "/users/:id", &httpclient.Request{
//	    Params: map[string]any{"id": 42},
//	    Query:  httpclient.Query{}.Add("expand", "roles"),
//	})
//
//	// The same with the fluent builder, decoding into a struct
//	var user User
//	_, err = client.Request("GetUser").
//	    Param("id", 42).
//	    Query("expand", "roles").
//	    Decode(&user).
//	    Get(ctx, "/users/:id")
//
// # Responses and Errors
//
// Successful calls return the decoded JSON (map[string]any, []any, ...),
// the body text for non-JSON content, nil for 204, 205 and HEAD, or a
// *Response when RawResponse is set. Non-2xx responses return a
// *StatusError whose Value is what a success would have returned:
//
//	_, err := client.Post(ctx, "/orders", &httpclient.Request{Body: order})
//	var se *httpclient.StatusError
//	if errors.As(err, &se) {
//	    log.Printf("status %d: %v", se.Status, se.Value)
//	}
//
// # Retries
//
// Nothing is retried unless WithRetryOn lists status codes. A request is
// retried at most RetryCount times (default 2); the n-th retry waits
// RetryDelay × n (default 500ms):
//
//	client := httpclient.New(baseURL,
//	    httpclient.WithRetryOn(502, 503, 504),
//	    httpclient.WithRetryCount(3),
//	    httpclient.WithRetryDelay(200*time.Millisecond),
//	)
//
// Fetch errors are retried only when they implement StatusCoder with a
// listed status.
//
// # Auth Recovery
//
// When a request gets a 401 and the client has an AuthFailureHandler, the
// handler runs once for all requests that hit 401 meanwhile, across every
// client sharing the AuthCoordinator (by default, the whole process).
// Requests about to be sent wait for it. Each request then replays once
// without using a retry; a second 401 is returned as a *StatusError.
//
//	client.OnAuthFailure(func(ctx context.Context, _ *http.Response) error {
//	    token, err := refresh(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    client.SetBearerToken(token)
//	    return nil
//	})
//
// Use WithAuthCoordinator(httpclient.NewAuthCoordinator()) to isolate a
// client from the shared recovery.
//
// # Deduplication
//
// Concurrent requests with the same method, URL, body and raw flag share
// one execution, retries and recovery included. Nothing is cached: once
// the execution settles, the next identical request runs again. Headers
// are not part of the fingerprint.
//
// # Cancellation
//
// The orchestrator never times out a request. Cancelling the context
// passed to Do returns early to that caller only; the shared execution
// runs to completion for any other caller waiting on it.
//
// # Testing
//
// MockFetch stands in for the network:
//
//	mock := httpclient.NewMockFetch().StubJSON(200, `{"ok":true}`)
//	client := httpclient.New("http://api.test", httpclient.WithFetch(mock.Fetch))
package httpclient
