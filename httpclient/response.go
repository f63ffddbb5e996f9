package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"regexp"

	json "github.com/goccy/go-json"
)

// jsonContentType matches application/json and application/*+json,
// parameters allowed.
var jsonContentType = regexp.MustCompile(`(?i)^\s*application/(?:[a-z0-9!#$&^_.-]+\+)?json\s*(?:;.*)?$`)

// Response wraps http.Response with its body already read.
//
// Raw-mode calls return a *Response. Because one response may be handed to
// several deduplicated callers, the body is buffered up front: read it with
// Bytes, String or JSON. The embedded http.Response Body is http.NoBody.
//
// Example:
//
//	v, err := client.Get(ctx, "/report", &httpclient.Request{RawResponse: true})
//	resp := v.(*httpclient.Response)
//	fmt.Println(resp.StatusCode, resp.Header.Get("ETag"), resp.String())
type Response struct {
	*http.Response

	body []byte
}

// Bytes returns the response body.
func (r *Response) Bytes() []byte {
	return r.body
}

// String returns the response body as a string.
func (r *Response) String() string {
	return string(r.body)
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.body, v)
}

// IsSuccess returns true if the response status code is 2xx.
func (r *Response) IsSuccess() bool {
	return isOK(r.StatusCode)
}

// IsError returns true if the response status code is 4xx or 5xx.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// outcome is the settled result of one logical request. It is shared by
// every deduplicated caller and must not be mutated once built.
type outcome struct {
	value  any
	body   []byte
	status int
}

func isOK(status int) bool {
	return status >= 200 && status < 300
}

// hasNoBody reports whether a response is never read.
func hasNoBody(method string, status int) bool {
	return method == http.MethodHead ||
		status == http.StatusNoContent ||
		status == http.StatusResetContent
}

// normalize turns a final response into the caller-facing value.
//
// 204, 205 and HEAD responses yield nil without reading the body. Raw mode
// yields the *Response. Otherwise the body is parsed as JSON when the
// content type says so, else returned as text. Non-2xx statuses come back
// as a *StatusError carrying that same value.
func normalize(method string, resp *http.Response, raw bool) (*outcome, error) {
	if hasNoBody(method, resp.StatusCode) {
		closeBody(resp)
		return &outcome{status: resp.StatusCode}, nil
	}

	body, err := readBody(resp)
	if err != nil {
		return &outcome{status: resp.StatusCode}, fmt.Errorf("%w: %w", ErrDecodeResponse, err)
	}

	wrapped := &Response{Response: resp, body: body}
	out := &outcome{body: body, status: resp.StatusCode}

	if raw {
		out.value = wrapped
	} else {
		out.value, err = parseBody(body, resp.Header.Get(headerContentType))
		if err != nil {
			return out, fmt.Errorf("%w: %w", ErrDecodeResponse, err)
		}
	}

	if !isOK(resp.StatusCode) {
		return out, &StatusError{Status: resp.StatusCode, Value: out.value, Response: wrapped}
	}
	return out, nil
}

// parseBody decodes JSON bodies into any and returns the rest as text.
// An empty JSON body yields nil.
func parseBody(body []byte, contentType string) (any, error) {
	if !jsonContentType.MatchString(contentType) {
		return string(body), nil
	}
	if len(body) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	if resp.Body == nil {
		return nil, nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	resp.Body = http.NoBody
	return body, err
}

// closeBody releases a response that will not be read.
func closeBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	resp.Body.Close()
	resp.Body = http.NoBody
}

// drainBody reads the rest of a discarded response so the connection can
// be reused.
func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	closeBody(resp)
}
