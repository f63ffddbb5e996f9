package httpclient

import (
	"net/http"
)

const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json"
)

// composeHeaders merges the header sources of a request into one set.
//
// Later sources win: client fetch options, request fetch options, request
// headers, then the derived Authorization and Content-Type headers. A JSON
// content type is forced for POST, PUT and PATCH unless the body is a
// multipart form, whose boundary the fetch supplies.
func composeHeaders(
	clientOpts, requestOpts *FetchOptions,
	headers map[string]string,
	method string,
	body any,
	bearerToken string,
) http.Header {
	out := make(http.Header)

	merge := func(h http.Header) {
		for k, v := range h {
			if len(v) == 0 {
				continue
			}
			out.Set(k, v[len(v)-1])
		}
	}
	if clientOpts != nil {
		merge(clientOpts.Header)
	}
	if requestOpts != nil {
		merge(requestOpts.Header)
	}
	for k, v := range headers {
		out.Set(k, v)
	}

	if bearerToken != "" {
		out.Set(headerAuthorization, "Bearer "+bearerToken)
	}

	if _, isForm := body.(*Form); hasJSONBody(method) && !isForm {
		out.Set(headerContentType, contentTypeJSON)
	}

	return out
}

// hasJSONBody reports whether method gets a JSON content type.
func hasJSONBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}
