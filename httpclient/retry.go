package httpclient

import (
	"slices"
	"time"
)

// Default retry settings.
const (
	// DefaultRetryCount is the default number of retries after the first attempt.
	DefaultRetryCount = 2

	// DefaultRetryDelay is the default linear backoff step.
	DefaultRetryDelay = 500 * time.Millisecond
)

// RetryPolicy decides whether a finished attempt is retried.
//
// Retries are opt-in: with an empty On set nothing is retried, whatever
// Count says. The wait before the n-th retry is Delay × n.
//
// Example:
//
//	client := httpclient.New("https://api.example.com",
//	    httpclient.WithRetryOn(502, 503, 504),
//	    httpclient.WithRetryCount(3),
//	    httpclient.WithRetryDelay(200*time.Millisecond),
//	)
type RetryPolicy struct {
	// Count is the maximum number of retries. The first attempt is not
	// counted. Values below zero behave like zero.
	Count int

	// On lists the status codes eligible for retry.
	On []int

	// Delay is the linear backoff step.
	Delay time.Duration
}

// DefaultRetryPolicy returns the defaults: 2 retries, 500ms step, no
// retryable statuses.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Count: DefaultRetryCount,
		Delay: DefaultRetryDelay,
	}
}

// IsEnabled reports whether any retry can happen.
func (p RetryPolicy) IsEnabled() bool {
	return p.Count > 0 && len(p.On) > 0
}

// retryable reports whether status is in the retry set.
func (p RetryPolicy) retryable(status int) bool {
	return slices.Contains(p.On, status)
}

// retryState tracks the attempts of one logical request.
type retryState struct {
	policy   RetryPolicy
	attempts int
}

// onResponse is evaluated after an attempt that produced a response.
// It reports whether the response should be discarded and retried,
// consuming a retry slot when it does.
func (s *retryState) onResponse(status int) bool {
	if !s.policy.retryable(status) || s.attempts >= s.policy.Count {
		return false
	}
	s.attempts++
	return true
}

// onError is evaluated after an attempt that failed with err. It always
// consumes a slot and reports whether the attempt should be retried.
func (s *retryState) onError(err error) bool {
	s.attempts++
	if s.attempts > s.policy.Count {
		return false
	}
	status, ok := statusOf(err)
	return ok && s.policy.retryable(status)
}
