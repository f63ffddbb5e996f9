package httpclient

import (
	"errors"
	"fmt"
)

// Sentinel errors returned (wrapped) by the client.
var (
	// ErrAuthRecovery wraps the error returned by an AuthFailureHandler.
	// Every request waiting on the failed recovery receives it.
	ErrAuthRecovery = errors.New("httpclient: auth recovery failed")

	// ErrDecodeResponse wraps response body read or parse failures.
	ErrDecodeResponse = errors.New("httpclient: decode response")

	// ErrEncodeBody wraps request body encoding failures. No fetch is
	// issued when the body cannot be encoded.
	ErrEncodeBody = errors.New("httpclient: encode body")

	// ErrNilResponse is returned when a fetch returns neither a response
	// nor an error.
	ErrNilResponse = errors.New("httpclient: fetch returned nil response")
)

// StatusCoder is implemented by errors that carry an HTTP status code.
//
// A fetch or hook error implementing StatusCoder is retried when its
// status is in the client's retry set, the same way a response with that
// status would be.
type StatusCoder interface {
	StatusCode() int
}

// StatusError is returned for a non-2xx response.
//
// Value holds what a successful call would have returned: the parsed
// JSON body (map[string]any, []any, ...), the body text, or the raw
// *Response when raw mode was requested.
//
// Example:
//
//	_, err := client.Get(ctx, "/users/1", nil)
//	var se *httpclient.StatusError
//	if errors.As(err, &se) && se.Status == http.StatusNotFound {
//	    // se.Value is the decoded error payload
//	}
type StatusError struct {
	Status   int
	Value    any
	Response *Response
}

// Error implements error.
func (e *StatusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch v := e.Value.(type) {
	case nil:
		return fmt.Sprintf("httpclient: status %d", e.Status)
	case *Response:
		return fmt.Sprintf("httpclient: status %d", e.Status)
	case string:
		return fmt.Sprintf("httpclient: status %d: %s", e.Status, truncate(v, 200))
	default:
		return fmt.Sprintf("httpclient: status %d: %v", e.Status, v)
	}
}

// StatusCode implements StatusCoder.
func (e *StatusError) StatusCode() int {
	return e.Status
}

// statusOf returns the status carried by err, if any.
func statusOf(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
