package httpclient

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maskedValue replaces credentials in log output.
const maskedValue = "***"

// requestLogger returns a logger carrying the fields of one logical request.
func requestLogger(base zerolog.Logger, cl *call) zerolog.Logger {
	ctx := base.With().
		Str("request_id", uuid.NewString()).
		Str("method", cl.method).
		Str("url", cl.url)
	if cl.operation != "" {
		ctx = ctx.Str("operation", cl.operation)
	}
	return ctx.Logger()
}

// generateCurlCommand renders a wire request as a cURL command.
//
// The Authorization header is masked. Form files are shown by name only.
//
// Example output:
//
//	curl -X POST 'https://api.example.com/users' -H 'Authorization: Bearer ***' -H 'Content-Type: application/json' -d '{"name":"John"}'
func generateCurlCommand(url string, opts *WireOptions) string {
	parts := []string{"curl"}

	if opts.Method != "" && opts.Method != "GET" {
		parts = append(parts, "-X", opts.Method)
	}
	parts = append(parts, shellQuote(url))

	keys := make([]string, 0, len(opts.Header))
	for k := range opts.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range opts.Header[k] {
			if k == headerAuthorization {
				v = maskCredential(v)
			}
			parts = append(parts, "-H", shellQuote(k+": "+v))
		}
	}

	switch {
	case opts.Form != nil:
		for _, f := range opts.Form.fields {
			parts = append(parts, "-F", shellQuote(f.key+"="+f.value))
		}
		for _, f := range opts.Form.files {
			parts = append(parts, "-F", shellQuote(f.FieldName+"=@"+f.FileName))
		}
	case len(opts.Body) > 0:
		parts = append(parts, "-d", shellQuote(string(opts.Body)))
	}

	return strings.Join(parts, " ")
}

// maskCredential keeps the auth scheme and hides the credential.
func maskCredential(v string) string {
	if scheme, _, ok := strings.Cut(v, " "); ok {
		return scheme + " " + maskedValue
	}
	return maskedValue
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// logAttempt logs a wire request about to be fetched.
func logAttempt(logger zerolog.Logger, url string, opts *WireOptions) {
	logger.Debug().
		Str("curl", generateCurlCommand(url, opts)).
		Msg("HTTP request")
}

// logRetry logs a retry about to wait.
func logRetry(logger zerolog.Logger, err error, attempt int, wait time.Duration) {
	logger.Debug().
		Err(err).
		Int("attempt", attempt).
		Dur("backoff", wait).
		Msg("retrying request")
}

// logAuthRecovery logs a 401 recovery this request started or joined.
func logAuthRecovery(logger zerolog.Logger, started bool, err error) {
	event := logger.Debug()
	if err != nil {
		event = logger.Warn().Err(err)
	}
	event.Bool("started", started).Msg("auth recovery finished")
}

// logCoalesced logs a call served by an identical call in flight.
func logCoalesced(logger zerolog.Logger, key string) {
	logger.Debug().
		Str("coalesce_key", key).
		Msg("request coalesced")
}

// logOutcome logs how a logical request settled.
func logOutcome(logger zerolog.Logger, status, attempts int, duration time.Duration, err error) {
	event := logger.Info()
	msg := "HTTP request completed"
	if err != nil {
		event = logger.Warn().Err(err)
		msg = "HTTP request failed"
	}
	if status > 0 {
		event = event.Int("status", status)
	}
	event.
		Int("retries", attempts).
		Dur("duration", duration).
		Msg(msg)
}
